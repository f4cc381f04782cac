package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"autobuy/internal/domain/entity"
	"autobuy/pkg/application/modules"
	"autobuy/pkg/contextx"
	"autobuy/pkg/logx"
)

const (
	TypeInventorySnapshot = "inventory:snapshot"
	QueueSnapshots        = "snapshots"
)

var errNoConfiguration = errors.New("snapshot without configuration id")

// SubmitFunc hands a snapshot over to the dispatcher.
type SubmitFunc func(ctx context.Context, snapshot entity.InventorySnapshot) error

// NewSnapshotTask is what the inventory feed enqueues for every fresh
// snapshot of a configuration.
func NewSnapshotTask(snapshot entity.InventorySnapshot) (*asynq.Task, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	return asynq.NewTask(TypeInventorySnapshot, payload, asynq.Queue(QueueSnapshots), asynq.MaxRetry(0)), nil
}

// SnapshotHandler is the asynq handler for TypeInventorySnapshot. Snapshots
// go stale quickly, so none of them is ever retried.
func SnapshotHandler(submit SubmitFunc) modules.AsynqHandler {
	return modules.AsynqHandler{
		Pattern: TypeInventorySnapshot,
		Handle: func(ctx context.Context, task *asynq.Task) error {
			var snapshot entity.InventorySnapshot
			if err := json.Unmarshal(task.Payload(), &snapshot); err != nil {
				return fmt.Errorf("json.Unmarshal: %w: %w", err, asynq.SkipRetry)
			}
			if snapshot.ConfigurationID == "" {
				return fmt.Errorf("%w: %w", errNoConfiguration, asynq.SkipRetry)
			}

			ctx = traced(ctx)
			ctx = contextx.WithLogger(ctx, logger(ctx).With(slog.String(logx.FieldConfigurationID, snapshot.ConfigurationID)))

			if err := submit(ctx, snapshot); err != nil {
				logger(ctx).Warn("snapshot not dispatched", logx.Error(err))
				return fmt.Errorf("submit: %w: %w", err, asynq.SkipRetry)
			}

			return nil
		},
	}
}
