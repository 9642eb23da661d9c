package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// TaskTypeDispatch is the asynq task type carrying one Event.
const TaskTypeDispatch = "notify:dispatch"

// AsynqDispatcher enqueues events onto the worker queue instead of sending
// inline, so a slow mail or webhook target never blocks a request.
type AsynqDispatcher struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqDispatcher builds AsynqDispatcher.
func NewAsynqDispatcher(client *asynq.Client, logger *slog.Logger) *AsynqDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqDispatcher{client: client, logger: logger}
}

// Dispatch enqueues the event with a few retries left to the worker.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	task := asynq.NewTask(TaskTypeDispatch, payload, asynq.MaxRetry(3), asynq.Queue("notifications"))
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	d.logger.Debug("notification enqueued", slog.String("type", event.Type))
	return nil
}

// DecodeEvent unpacks a dispatch task payload on the worker side.
func DecodeEvent(task *asynq.Task) (Event, error) {
	var event Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return Event{}, fmt.Errorf("notify: decode event: %w", err)
	}
	return event, nil
}
