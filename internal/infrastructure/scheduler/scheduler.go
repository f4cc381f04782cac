// Package scheduler turns delayed retries into asynq tasks and runs them
// when they come due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	jsoniter "github.com/json-iterator/go"

	"autobuy/internal/domain/entity"
	"autobuy/pkg/logx"
)

const (
	TypeDelayedRetry = "purchase:delayed_retry"
	QueueRetries     = "retries"

	taskTimeout = time.Minute
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary //nolint:gochecknoglobals

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqScheduler keeps the timer in Redis, so a scheduled retry survives a
// restart of this process.
type AsynqScheduler struct {
	client Enqueuer
	queue  string
}

func NewAsynqScheduler(client Enqueuer, queue string) *AsynqScheduler {
	if queue == "" {
		queue = QueueRetries
	}
	return &AsynqScheduler{client: client, queue: queue}
}

func NewDelayedRetryTask(token entity.ReplayToken) (*asynq.Task, error) {
	payload, err := json.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	return asynq.NewTask(TypeDelayedRetry, payload), nil
}

func (s *AsynqScheduler) ScheduleAfter(ctx context.Context, delay time.Duration, token entity.ReplayToken) error {
	task, err := NewDelayedRetryTask(token)
	if err != nil {
		return err
	}

	// A replay that fails is final, asynq must not retry it on its own.
	info, err := s.client.EnqueueContext(ctx, task,
		asynq.ProcessIn(delay),
		asynq.Queue(s.queue),
		asynq.MaxRetry(0),
		asynq.Timeout(taskTimeout),
	)
	if err != nil {
		return fmt.Errorf("asynq.EnqueueContext: %w", err)
	}

	logger(ctx).Info("delayed retry enqueued",
		slog.String(logx.FieldConfigurationID, token.ConfigurationID),
		slog.String("task-id", info.ID),
		slog.Time("process-at", info.NextProcessAt),
	)

	return nil
}
