// Package purchaser holds the adapters that actually buy on each inventory
// source, resolved by source id.
package purchaser

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"

	"autobuy/internal/domain"
	"autobuy/internal/domain/entity"
	"autobuy/internal/domain/service/race"
	"autobuy/pkg/errcodes"
	"autobuy/pkg/logx"
)

// Warmup is what a source hands back when asked to prepare a purchase.
type Warmup struct {
	Session        string `json:"session_token"`
	CartToken      string `json:"cart_token"`
	BypassArtifact string `json:"bypass_artifact"`
	ShippingRef    string `json:"shipping_ref"`
}

// Warmer is implemented by adapters able to prepare state ahead of a race.
type Warmer interface {
	Warm(ctx context.Context, cfg entity.PurchaseConfiguration) (Warmup, error)
}

// Registry maps source ids to adapters. Build it once at startup; it is
// read-only afterwards and safe for concurrent use.
type Registry struct {
	adapters map[string]race.Adapter
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]race.Adapter),
		now:      time.Now,
	}
}

func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) Register(source string, adapter race.Adapter) *Registry {
	r.adapters[source] = adapter
	return r
}

func (r *Registry) Resolve(source string) (race.Adapter, bool) {
	adapter, ok := r.adapters[source]
	return adapter, ok
}

func (r *Registry) Sources() []string {
	sources := lo.Keys(r.adapters)
	slices.Sort(sources)
	return sources
}

// Preload builds a PreloadedContext by warming every source the
// configuration may buy on. A failing source only loses its own warm state;
// if none succeeds the preload fails.
func (r *Registry) Preload(ctx context.Context, cfg entity.PurchaseConfiguration) (*entity.PreloadedContext, error) {
	preloaded := &entity.PreloadedContext{
		ConfigurationID: cfg.ID,
		PaymentToken:    cfg.PaymentMethodRef,
		Sessions:        map[string]string{},
		CartTokens:      map[string]string{},
		BypassArtifacts: map[string]string{},
	}

	var warmed, failed int

	for _, source := range r.Sources() {
		if len(cfg.AllowedPlatforms) > 0 && !slices.Contains(cfg.AllowedPlatforms, source) {
			continue
		}

		warmer, ok := r.adapters[source].(Warmer)
		if !ok {
			continue
		}

		w, err := warmer.Warm(ctx, cfg)
		if err != nil {
			failed++
			logger(ctx).Warn("source warm-up failed",
				slog.String(logx.FieldSource, source),
				slog.String(logx.FieldConfigurationID, cfg.ID),
				logx.Error(err),
			)
			continue
		}

		warmed++
		preloaded.Sessions[source] = w.Session
		preloaded.CartTokens[source] = w.CartToken
		if w.BypassArtifact != "" {
			preloaded.BypassArtifacts[source] = w.BypassArtifact
		}
		if preloaded.ShippingRef == "" {
			preloaded.ShippingRef = w.ShippingRef
		}
	}

	if warmed == 0 && failed > 0 {
		return nil, domain.NewError(errcodes.PreloadFailed, fmt.Sprintf("no source could be warmed for %s", cfg.ID))
	}

	preloaded.PreloadedAt = r.now()

	return preloaded, nil
}
