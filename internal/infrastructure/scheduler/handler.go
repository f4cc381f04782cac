package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"autobuy/internal/domain"
	"autobuy/internal/domain/entity"
	"autobuy/pkg/application/modules"
	"autobuy/pkg/contextx"
	"autobuy/pkg/errcodes"
	"autobuy/pkg/logx"
)

// ReplayFunc re-runs the purchase flow for a due retry.
type ReplayFunc func(ctx context.Context, token entity.ReplayToken) error

// RetryHandler is the asynq handler for TypeDelayedRetry. Tasks that can
// never succeed are marked with asynq.SkipRetry.
func RetryHandler(replay ReplayFunc) modules.AsynqHandler {
	return modules.AsynqHandler{
		Pattern: TypeDelayedRetry,
		Handle: func(ctx context.Context, task *asynq.Task) error {
			var token entity.ReplayToken
			if err := json.Unmarshal(task.Payload(), &token); err != nil {
				return fmt.Errorf("json.Unmarshal: %w: %w", err, asynq.SkipRetry)
			}

			ctx = traced(ctx)
			ctx = contextx.WithLogger(ctx, logger(ctx).With(slog.String(logx.FieldConfigurationID, token.ConfigurationID)))

			logger(ctx).Info("delayed retry due", slog.Time("scheduled-at", token.ScheduledAt))

			if err := replay(ctx, token); err != nil {
				if permanent(err) {
					logger(ctx).Warn("delayed retry dropped", logx.Error(err))
					return fmt.Errorf("replay: %w: %w", err, asynq.SkipRetry)
				}
				return fmt.Errorf("replay: %w", err)
			}

			return nil
		},
	}
}

func permanent(err error) bool {
	return domain.HasCode(err, errcodes.ConfigurationNotFound) ||
		domain.HasCode(err, errcodes.InvalidConfiguration) ||
		domain.HasCode(err, errcodes.InvalidReplayToken)
}

// traced uses the asynq task id as trace id, so every log line and outgoing
// purchase request of one task can be matched up.
func traced(ctx context.Context) context.Context {
	taskID, ok := asynq.GetTaskID(ctx)
	if !ok {
		return ctx
	}

	ctx = contextx.WithTraceID(ctx, contextx.TraceID(taskID))
	return contextx.WithLogger(ctx, logger(ctx).With(slog.String(logx.FieldTraceID, taskID)))
}
