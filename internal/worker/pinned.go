package worker

import "github.com/samber/lo"

// WithConfigurations ограничивает прогрев указанными конфигурациями вместо
// всех активных. Пустые и повторяющиеся ID отбрасываются.
func (w *Preloader) WithConfigurations(ids ...string) *Preloader {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.configurationIDs = lo.Uniq(lo.Compact(ids))
	return w
}

func (w *Preloader) pinned() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return append([]string(nil), w.configurationIDs...)
}
