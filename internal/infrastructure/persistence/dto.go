package persistence

import (
	"database/sql"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"autobuy/internal/domain/entity"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

// configurationSchema описывает строку таблицы purchase_configurations.
type configurationSchema struct {
	ID                     string          `db:"id"`
	OwnerID                int64           `db:"owner_id"`
	EventID                string          `db:"event_id"`
	Active                 bool            `db:"active"`
	MaxPrice               decimal.Decimal `db:"max_price"`
	DesiredQuantity        int             `db:"desired_quantity"`
	PreferredPlatforms     []byte          `db:"preferred_platforms"`
	PreferredSections      []byte          `db:"preferred_sections"`
	AllowedPlatforms       []byte          `db:"allowed_platforms"`
	AllowedSections        []byte          `db:"allowed_sections"`
	WindowStart            sql.NullTime    `db:"window_start"`
	WindowEnd              sql.NullTime    `db:"window_end"`
	PaymentMethodRef       string          `db:"payment_method_ref"`
	PaymentMethodExpiresAt sql.NullTime    `db:"payment_method_expires_at"`
	DailyLimit             int             `db:"daily_limit"`
	UpdatedAt              time.Time       `db:"updated_at"`
}

func (s *configurationSchema) toDomain() (entity.PurchaseConfiguration, error) {
	cfg := entity.PurchaseConfiguration{
		ID:                     s.ID,
		OwnerID:                s.OwnerID,
		EventID:                s.EventID,
		Active:                 s.Active,
		MaxPrice:               s.MaxPrice,
		DesiredQuantity:        s.DesiredQuantity,
		WindowStart:            nullTime(s.WindowStart),
		WindowEnd:              nullTime(s.WindowEnd),
		PaymentMethodRef:       s.PaymentMethodRef,
		PaymentMethodExpiresAt: nullTime(s.PaymentMethodExpiresAt),
		DailyLimit:             s.DailyLimit,
	}

	lists := []struct {
		raw []byte
		dst *[]string
	}{
		{s.PreferredPlatforms, &cfg.PreferredPlatforms},
		{s.PreferredSections, &cfg.PreferredSections},
		{s.AllowedPlatforms, &cfg.AllowedPlatforms},
		{s.AllowedSections, &cfg.AllowedSections},
	}

	for _, l := range lists {
		if len(l.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(l.raw, l.dst); err != nil {
			return entity.PurchaseConfiguration{}, err
		}
	}

	return cfg, nil
}

func fromConfiguration(cfg entity.PurchaseConfiguration) (map[string]any, error) {
	params := map[string]any{
		"id":                        cfg.ID,
		"owner_id":                  cfg.OwnerID,
		"event_id":                  cfg.EventID,
		"active":                    cfg.Active,
		"max_price":                 cfg.MaxPrice,
		"desired_quantity":          cfg.DesiredQuantity,
		"window_start":              cfg.WindowStart,
		"window_end":                cfg.WindowEnd,
		"payment_method_ref":        cfg.PaymentMethodRef,
		"payment_method_expires_at": cfg.PaymentMethodExpiresAt,
		"daily_limit":               cfg.DailyLimit,
		"updated_at":                time.Now(),
	}

	lists := map[string][]string{
		"preferred_platforms": cfg.PreferredPlatforms,
		"preferred_sections":  cfg.PreferredSections,
		"allowed_platforms":   cfg.AllowedPlatforms,
		"allowed_sections":    cfg.AllowedSections,
	}

	for column, list := range lists {
		if list == nil {
			list = []string{}
		}
		raw, err := json.Marshal(list)
		if err != nil {
			return nil, err
		}
		params[column] = string(raw)
	}

	return params, nil
}

// attemptSchema описывает строку таблицы purchase_attempts.
type attemptSchema struct {
	ID              string          `db:"id"`
	RaceID          string          `db:"race_id"`
	ConfigurationID string          `db:"configuration_id"`
	OwnerID         int64           `db:"owner_id"`
	Kind            string          `db:"kind"`
	Status          string          `db:"status"`
	Source          string          `db:"source"`
	ListingID       string          `db:"listing_id"`
	UnitPrice       decimal.Decimal `db:"unit_price"`
	Section         string          `db:"section"`
	Quantity        int             `db:"quantity"`
	Result          []byte          `db:"result"`
	FailureReason   string          `db:"failure_reason"`
	StartedAt       time.Time       `db:"started_at"`
	CompletedAt     time.Time       `db:"completed_at"`
}

func fromAttempt(a *entity.PurchaseAttempt) (map[string]any, error) {
	var result any
	if a.Result != nil {
		raw, err := json.Marshal(a.Result)
		if err != nil {
			return nil, err
		}
		result = string(raw)
	}

	return map[string]any{
		"id":               a.ID,
		"race_id":          a.RaceID,
		"configuration_id": a.ConfigurationID,
		"owner_id":         a.OwnerID,
		"kind":             string(a.Kind),
		"status":           string(a.Status),
		"source":           a.Candidate.Source,
		"listing_id":       a.Candidate.ListingID,
		"unit_price":       a.Candidate.Price,
		"section":          a.Candidate.Section,
		"quantity":         a.Quantity,
		"result":           result,
		"failure_reason":   a.FailureReason,
		"started_at":       a.StartedAt,
		"completed_at":     a.CompletedAt,
	}, nil
}

func (s *attemptSchema) toDomain() (*entity.PurchaseAttempt, error) {
	attempt := &entity.PurchaseAttempt{
		ID:              s.ID,
		RaceID:          s.RaceID,
		ConfigurationID: s.ConfigurationID,
		OwnerID:         s.OwnerID,
		Kind:            entity.AttemptKind(s.Kind),
		Status:          entity.AttemptStatus(s.Status),
		Candidate: entity.InventoryCandidate{
			Source:    s.Source,
			ListingID: s.ListingID,
			Price:     s.UnitPrice,
			Section:   s.Section,
		},
		Quantity:      s.Quantity,
		FailureReason: s.FailureReason,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
	}

	if len(s.Result) > 0 {
		var result entity.PurchaseResult
		if err := json.Unmarshal(s.Result, &result); err != nil {
			return nil, err
		}
		attempt.Result = &result
	}

	return attempt, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
