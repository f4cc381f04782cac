package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"autobuy/internal/domain"
	"autobuy/internal/domain/entity"
	"autobuy/pkg/errcodes"
	"autobuy/pkg/lox"
)

const attemptColumns = `id, race_id, configuration_id, owner_id, kind, status, source, listing_id,
		unit_price, section, quantity, result, failure_reason, started_at, completed_at`

// AttemptRepository хранит журнал попыток покупки. Записи неизменяемы:
// повторная запись той же попытки игнорируется.
type AttemptRepository struct {
	db *sqlx.DB
}

// NewAttemptRepository создаёт новый экземпляр репозитория.
func NewAttemptRepository(db *sqlx.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Record атомарно сохраняет завершённые попытки одного прогона.
func (r *AttemptRepository) Record(ctx context.Context, attempts []*entity.PurchaseAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	for _, a := range attempts {
		if !a.Status.Terminal() {
			return domain.NewError(errcodes.AttemptNotTerminal, fmt.Sprintf("attempt %s is still %s", a.ID, a.Status))
		}
	}

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		for i, a := range attempts {
			if err := r.createTx(ctx, tx, a); err != nil {
				return domain.WrapError(err, errcodes.InternalServerError,
					fmt.Sprintf("failed at index %d", i))
			}
		}
		return nil
	})
}

// RecordDiscarded сохраняет успех, пришедший после закрытия гонки.
// Такие записи требуют ручной сверки.
func (r *AttemptRepository) RecordDiscarded(ctx context.Context, d entity.DiscardedSuccess) error {
	result, err := json.Marshal(d.Result)
	if err != nil {
		return domain.WrapError(err, errcodes.InternalServerError, "failed to marshal result")
	}

	query := `
		INSERT INTO discarded_successes
			(attempt_id, race_id, configuration_id, source, listing_id, transaction_id, result, reported_at)
		VALUES
			(:attempt_id, :race_id, :configuration_id, :source, :listing_id, :transaction_id, :result, :reported_at)
		ON CONFLICT (attempt_id) DO NOTHING`

	params := map[string]any{
		"attempt_id":       d.AttemptID,
		"race_id":          d.RaceID,
		"configuration_id": d.ConfigurationID,
		"source":           d.Source,
		"listing_id":       d.ListingID,
		"transaction_id":   d.Result.TransactionID,
		"result":           string(result),
		"reported_at":      d.At,
	}

	if _, err := r.db.NamedExecContext(ctx, query, params); err != nil {
		return domain.WrapError(err, errcodes.InternalServerError, "failed to insert discarded success")
	}

	return nil
}

// ListByRace возвращает все попытки гонки. Используется при сверке
// потерянных успехов с победителем той же гонки.
func (r *AttemptRepository) ListByRace(ctx context.Context, raceID string) ([]*entity.PurchaseAttempt, error) {
	query := `SELECT ` + attemptColumns + `
		FROM purchase_attempts
		WHERE race_id = $1
		ORDER BY started_at, id`

	return r.list(ctx, query, raceID)
}

// UnreconciledDiscarded возвращает число потерянных успехов, ещё не сверенных вручную.
func (r *AttemptRepository) UnreconciledDiscarded(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM discarded_successes WHERE NOT reconciled`); err != nil {
		return 0, domain.WrapError(err, errcodes.InternalServerError, "failed to count discarded successes")
	}
	return count, nil
}

// UnreconciledRaces возвращает гонки, у которых есть несверенные потерянные успехи.
func (r *AttemptRepository) UnreconciledRaces(ctx context.Context) ([]string, error) {
	var raceIDs []string
	query := `SELECT DISTINCT race_id FROM discarded_successes WHERE NOT reconciled ORDER BY race_id`
	if err := r.db.SelectContext(ctx, &raceIDs, query); err != nil {
		return nil, domain.WrapError(err, errcodes.InternalServerError, "failed to get unreconciled races")
	}
	return raceIDs, nil
}

func (r *AttemptRepository) list(ctx context.Context, query string, args ...any) ([]*entity.PurchaseAttempt, error) {
	var schemas []attemptSchema
	if err := r.db.SelectContext(ctx, &schemas, query, args...); err != nil {
		return nil, domain.WrapError(err, errcodes.InternalServerError, "failed to get attempts")
	}

	attempts, err := lox.MapErr(schemas, func(s attemptSchema) (*entity.PurchaseAttempt, error) {
		return s.toDomain()
	})
	if err != nil {
		return nil, domain.WrapError(err, errcodes.InternalServerError, "failed to convert attempt")
	}

	return attempts, nil
}

// createTx вставляет попытку в рамках транзакции.
func (r *AttemptRepository) createTx(ctx context.Context, tx *sqlx.Tx, a *entity.PurchaseAttempt) error {
	params, err := fromAttempt(a)
	if err != nil {
		return domain.WrapError(err, errcodes.InternalServerError, "failed to marshal result")
	}

	query := `
		INSERT INTO purchase_attempts (` + attemptColumns + `)
		VALUES (:id, :race_id, :configuration_id, :owner_id, :kind, :status, :source, :listing_id,
			:unit_price, :section, :quantity, :result, :failure_reason, :started_at, :completed_at)
		ON CONFLICT (id) DO NOTHING`

	if _, err := tx.NamedExecContext(ctx, query, params); err != nil {
		return domain.WrapError(err, errcodes.InternalServerError, "failed to insert attempt")
	}

	return nil
}
