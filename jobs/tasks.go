package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pluma-erp/pluma-erp/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries outbound notification events.
	QueueNotifications = "notifications"
	// TaskPaymentReminders scans for sales with an outstanding balance.
	TaskPaymentReminders = "sales:payment_reminders"
	// TaskIdempotencyCleanup prunes idempotency keys past their retention.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// NewPaymentRemindersTask constructs the scheduled reminder task.
func NewPaymentRemindersTask() *asynq.Task {
	return asynq.NewTask(TaskPaymentReminders, nil)
}

// UnpaidReminder is the slice of the sales service the reminder job needs.
type UnpaidReminder interface {
	RemindUnpaid(ctx context.Context) (int, error)
}

// PaymentReminderJob walks unpaid sales and dispatches payment-due events.
type PaymentReminderJob struct {
	sales  UnpaidReminder
	logger *slog.Logger
}

// NewPaymentReminderJob constructs PaymentReminderJob.
func NewPaymentReminderJob(sales UnpaidReminder, logger *slog.Logger) *PaymentReminderJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentReminderJob{sales: sales, logger: logger}
}

// Handle processes TaskPaymentReminders tasks.
func (j *PaymentReminderJob) Handle(ctx context.Context, t *asynq.Task) error {
	count, err := j.sales.RemindUnpaid(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("payment reminders dispatched", slog.Int("count", count))
	return nil
}

// NewIdempotencyCleanupTask constructs the scheduled key-pruning task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// KeyPruner removes idempotency keys older than the retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob prunes expired idempotency keys on a schedule.
type IdempotencyCleanupJob struct {
	store     KeyPruner
	retention time.Duration
	logger    *slog.Logger
}

// NewIdempotencyCleanupJob constructs IdempotencyCleanupJob.
func NewIdempotencyCleanupJob(store KeyPruner, retention time.Duration, logger *slog.Logger) *IdempotencyCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupJob{store: store, retention: retention, logger: logger}
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if err := j.store.Cleanup(ctx, j.retention); err != nil {
		return err
	}
	j.logger.Info("idempotency keys pruned", slog.Duration("retention", j.retention))
	return nil
}

// NotificationJob delivers queued notification events. Delivery is a log
// line for now; mail and webhook targets plug in here.
type NotificationJob struct {
	logger *slog.Logger
}

// NewNotificationJob constructs NotificationJob.
func NewNotificationJob(logger *slog.Logger) *NotificationJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationJob{logger: logger}
}

// Handle processes notify dispatch tasks. Malformed payloads are dropped
// rather than retried.
func (j *NotificationJob) Handle(ctx context.Context, t *asynq.Task) error {
	event, err := notify.DecodeEvent(t)
	if err != nil {
		j.logger.Error("drop malformed notification", slog.Any("error", err))
		return asynq.SkipRetry
	}
	meta, _ := json.Marshal(event.Meta)
	j.logger.Info("notification delivered",
		slog.String("type", event.Type),
		slog.String("subject", event.Subject),
		slog.String("body", event.Body),
		slog.String("meta", string(meta)))
	return nil
}
