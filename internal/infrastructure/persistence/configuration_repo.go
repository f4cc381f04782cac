package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"autobuy/internal/domain"
	"autobuy/internal/domain/entity"
	"autobuy/pkg/errcodes"
	"autobuy/pkg/logx"
)

const configurationColumns = `id, owner_id, event_id, active, max_price, desired_quantity,
		preferred_platforms, preferred_sections, allowed_platforms, allowed_sections,
		window_start, window_end, payment_method_ref, payment_method_expires_at, daily_limit, updated_at`

// ConfigurationRepository читает конфигурации автопокупки. Движок их не меняет;
// Save нужен для заведения данных и тестов.
type ConfigurationRepository struct {
	db *sqlx.DB
}

func NewConfigurationRepository(db *sqlx.DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

// Get возвращает конфигурацию по идентификатору.
func (r *ConfigurationRepository) Get(ctx context.Context, id string) (entity.PurchaseConfiguration, error) {
	query := `SELECT ` + configurationColumns + `
		FROM purchase_configurations
		WHERE id = $1`

	var schema configurationSchema
	if err := r.db.GetContext(ctx, &schema, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.PurchaseConfiguration{}, domain.NewError(errcodes.ConfigurationNotFound,
				fmt.Sprintf("configuration %s not found", id))
		}
		return entity.PurchaseConfiguration{}, domain.WrapError(err, errcodes.InternalServerError, "failed to get configuration")
	}

	cfg, err := schema.toDomain()
	if err != nil {
		return entity.PurchaseConfiguration{}, domain.WrapError(err, errcodes.InvalidConfiguration, "failed to convert configuration")
	}

	return cfg, nil
}

// ListActive возвращает все активные конфигурации.
func (r *ConfigurationRepository) ListActive(ctx context.Context) ([]entity.PurchaseConfiguration, error) {
	query := `SELECT ` + configurationColumns + `
		FROM purchase_configurations
		WHERE active
		ORDER BY id`

	var schemas []configurationSchema
	if err := r.db.SelectContext(ctx, &schemas, query); err != nil {
		return nil, domain.WrapError(err, errcodes.InternalServerError, "failed to list configurations")
	}

	configs := make([]entity.PurchaseConfiguration, 0, len(schemas))
	for _, s := range schemas {
		cfg, err := s.toDomain()
		if err != nil {
			// Битая строка не должна останавливать остальных.
			logger(ctx).Error("skip malformed configuration", slog.String(logx.FieldConfigurationID, s.ID), logx.Error(err))
			continue
		}
		configs = append(configs, cfg)
	}

	return configs, nil
}

// Save создаёт или обновляет конфигурацию.
func (r *ConfigurationRepository) Save(ctx context.Context, cfg entity.PurchaseConfiguration) error {
	params, err := fromConfiguration(cfg)
	if err != nil {
		return domain.WrapError(err, errcodes.InternalServerError, "failed to marshal configuration")
	}

	query := `
		INSERT INTO purchase_configurations (` + configurationColumns + `)
		VALUES (:id, :owner_id, :event_id, :active, :max_price, :desired_quantity,
			:preferred_platforms, :preferred_sections, :allowed_platforms, :allowed_sections,
			:window_start, :window_end, :payment_method_ref, :payment_method_expires_at, :daily_limit, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			event_id = EXCLUDED.event_id,
			active = EXCLUDED.active,
			max_price = EXCLUDED.max_price,
			desired_quantity = EXCLUDED.desired_quantity,
			preferred_platforms = EXCLUDED.preferred_platforms,
			preferred_sections = EXCLUDED.preferred_sections,
			allowed_platforms = EXCLUDED.allowed_platforms,
			allowed_sections = EXCLUDED.allowed_sections,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			payment_method_ref = EXCLUDED.payment_method_ref,
			payment_method_expires_at = EXCLUDED.payment_method_expires_at,
			daily_limit = EXCLUDED.daily_limit,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, params); err != nil {
		return domain.WrapError(err, errcodes.InternalServerError, "failed to save configuration")
	}

	return nil
}
