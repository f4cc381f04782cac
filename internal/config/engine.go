package config

import (
	"time"

	"github.com/shopspring/decimal"

	"autobuy/internal/domain/service/fallback"
	"autobuy/internal/domain/service/scoring"
)

type Engine struct {
	RaceDeadline       time.Duration `env:"ENGINE_RACE_DEADLINE" envDefault:"5s" validate:"gt=0"`
	TopCandidates      int           `env:"ENGINE_TOP_CANDIDATES" envDefault:"3" validate:"gte=1,lte=3"`
	RelaxFactor        float64       `env:"ENGINE_RELAX_FACTOR" envDefault:"1.1" validate:"gte=1"`
	RetryDelay         time.Duration `env:"ENGINE_RETRY_DELAY" envDefault:"2m" validate:"gt=0"`
	PreloadTTL         time.Duration `env:"ENGINE_PRELOAD_TTL" envDefault:"1h" validate:"gt=0"`
	PreloadInterval    time.Duration `env:"ENGINE_PRELOAD_INTERVAL" envDefault:"10m" validate:"gt=0"`
	PreloadRate        time.Duration `env:"ENGINE_PRELOAD_RATE" envDefault:"500ms"`
	DailyLimit         int           `env:"ENGINE_DAILY_PURCHASE_LIMIT" envDefault:"5" validate:"gte=0"`
	MaxConcurrentRaces int           `env:"ENGINE_MAX_CONCURRENT_RACES" envDefault:"16" validate:"gte=1"`

	// PreloadConfigurations pins warming to these IDs. Empty warms every active configuration.
	PreloadConfigurations []string `env:"ENGINE_PRELOAD_CONFIGURATIONS" envSeparator:","`
}

// Weights returns the scoring table with the configured fan-out.
func (e Engine) Weights() scoring.Weights {
	weights := scoring.DefaultWeights()
	weights.Limit = e.TopCandidates
	return weights
}

// Plan returns the fallback strategy table.
func (e Engine) Plan() fallback.Plan {
	return fallback.Plan{
		RelaxFactor: decimal.NewFromFloat(e.RelaxFactor),
		RetryDelay:  e.RetryDelay,
	}
}
