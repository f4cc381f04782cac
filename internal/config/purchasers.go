package config

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

// Purchasers maps every supported source to its purchase endpoint, e.g.
// PURCHASER_ENDPOINTS="stubhub=http://stubhub-adapter:8080,vivid=http://vivid-adapter:8080".
type Purchasers struct {
	Endpoints   map[string]string `env:"PURCHASER_ENDPOINTS,notEmpty" envKeyValSeparator:"=" validate:"min=1,dive,keys,required,endkeys,url"`
	Token       string            `env:"PURCHASER_TOKEN" json:"-"`
	WarmTimeout time.Duration     `env:"PURCHASER_WARM_TIMEOUT" envDefault:"10s" validate:"gt=0"`
}

// Sources returns the configured source names in a stable order.
func (p Purchasers) Sources() []string {
	sources := lo.Keys(p.Endpoints)
	sort.Strings(sources)
	return sources
}
