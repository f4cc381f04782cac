// Package scoring ranks inventory candidates against a configuration.
package scoring

import (
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"autobuy/internal/domain/entity"
)

// Weights is the immutable scoring table. Build it once at startup.
type Weights struct {
	Price             decimal.Decimal
	PlatformMatch     decimal.Decimal
	SectionMatch      decimal.Decimal
	Abundance         decimal.Decimal
	AbundanceMultiple int
	// Limit bounds how many candidates a race fans out to.
	Limit int
}

func DefaultWeights() Weights {
	return Weights{
		Price:             decimal.RequireFromString("0.4"),
		PlatformMatch:     decimal.RequireFromString("0.3"),
		SectionMatch:      decimal.RequireFromString("0.2"),
		Abundance:         decimal.RequireFromString("0.1"),
		AbundanceMultiple: 2,
		Limit:             3,
	}
}

type Scorer struct {
	weights Weights
}

func NewScorer(weights Weights) Scorer {
	return Scorer{weights: weights}
}

func (s Scorer) Limit() int {
	return s.weights.Limit
}

type ranked struct {
	candidate entity.InventoryCandidate
	score     decimal.Decimal
}

// Select filters out candidates violating hard constraints and returns the
// best ones in descending score order. Ties go to the lower price, then to
// the lexically smaller source and listing id. An empty result is valid.
func (s Scorer) Select(cfg entity.PurchaseConfiguration, candidates []entity.InventoryCandidate) []entity.ScoredCandidate {
	eligible := lo.Filter(candidates, func(c entity.InventoryCandidate, _ int) bool {
		return Eligible(cfg, c)
	})

	scored := lo.Map(eligible, func(c entity.InventoryCandidate, _ int) ranked {
		return ranked{candidate: c, score: s.score(cfg, c)}
	})

	slices.SortStableFunc(scored, func(a, b ranked) int {
		if c := b.score.Cmp(a.score); c != 0 {
			return c
		}
		if c := a.candidate.Price.Cmp(b.candidate.Price); c != 0 {
			return c
		}
		if c := strings.Compare(a.candidate.Source, b.candidate.Source); c != 0 {
			return c
		}
		return strings.Compare(a.candidate.ListingID, b.candidate.ListingID)
	})

	if s.weights.Limit > 0 && len(scored) > s.weights.Limit {
		scored = scored[:s.weights.Limit]
	}

	return lo.Map(scored, func(r ranked, _ int) entity.ScoredCandidate {
		return entity.ScoredCandidate{Candidate: r.candidate, Score: r.score.InexactFloat64()}
	})
}

// Score returns the composite score of a single candidate.
func (s Scorer) Score(cfg entity.PurchaseConfiguration, c entity.InventoryCandidate) float64 {
	return s.score(cfg, c).InexactFloat64()
}

func (s Scorer) score(cfg entity.PurchaseConfiguration, c entity.InventoryCandidate) decimal.Decimal {
	score := decimal.Zero

	if cfg.MaxPrice.IsPositive() {
		headroom := decimal.NewFromInt(1).Sub(c.Price.Div(cfg.MaxPrice))
		score = score.Add(headroom.Mul(s.weights.Price))
	}

	if slices.Contains(cfg.PreferredPlatforms, c.Source) {
		score = score.Add(s.weights.PlatformMatch)
	}

	if sectionMatches(cfg.PreferredSections, c.Section) {
		score = score.Add(s.weights.SectionMatch)
	}

	if c.Quantity >= cfg.DesiredQuantity*s.weights.AbundanceMultiple {
		score = score.Add(s.weights.Abundance)
	}

	return score
}

// Eligible applies the hard constraints: price ceiling, quantity and the
// optional platform and section allow-lists.
func Eligible(cfg entity.PurchaseConfiguration, c entity.InventoryCandidate) bool {
	if c.Price.GreaterThan(cfg.MaxPrice) {
		return false
	}
	if c.Quantity < cfg.DesiredQuantity {
		return false
	}
	if len(cfg.AllowedPlatforms) > 0 && !slices.Contains(cfg.AllowedPlatforms, c.Source) {
		return false
	}
	if len(cfg.AllowedSections) > 0 && !sectionMatches(cfg.AllowedSections, c.Section) {
		return false
	}
	return true
}

// sectionMatches is a case-insensitive substring match against any wanted label.
func sectionMatches(wanted []string, section string) bool {
	section = strings.ToLower(section)
	return lo.SomeBy(wanted, func(w string) bool {
		return strings.Contains(section, strings.ToLower(w))
	})
}
