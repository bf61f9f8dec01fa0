package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"pullplatypus/internal"
	"pullplatypus/pkg/delivery"
	"pullplatypus/pkg/notify"
	"pullplatypus/pkg/slack"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// NotificationJobKind is the river job kind for queued notifications. The
// riverqueue.kind setting must match it.
const NotificationJobKind = "pullplatypus.notification"

// NotificationArgs is the job inserted by the riverqueue publisher driver.
// Its JSON form is the AddressedMessage itself.
type NotificationArgs struct {
	notify.AddressedMessage
}

func (NotificationArgs) Kind() string { return NotificationJobKind }

// NotificationWorker sends queued notifications. Slack rejections that a
// retry cannot fix cancel the job instead of burning attempts.
type NotificationWorker struct {
	river.WorkerDefaults[NotificationArgs]
	sender delivery.Sender
	logger Logger
}

func NewNotificationWorker(sender delivery.Sender, logger Logger) *NotificationWorker {
	if logger == nil {
		logger = stdLogger{}
	}
	return &NotificationWorker{sender: sender, logger: logger}
}

func (w *NotificationWorker) Work(ctx context.Context, job *river.Job[NotificationArgs]) error {
	if job.Args.Recipient == "" {
		return river.JobCancel(ErrEmptyRecipient)
	}
	internal.IncDelivery("riverqueue")
	err := w.sender.Send(ctx, job.Args.AddressedMessage)
	if err == nil {
		w.logger.Printf("job=%d attempt=%d delivered recipient=%s", job.ID, job.Attempt, job.Args.Recipient)
		return nil
	}
	internal.IncDeliveryError("riverqueue")
	w.logger.Printf("job=%d attempt=%d recipient=%s: %v", job.ID, job.Attempt, job.Args.Recipient, err)
	if slack.IsPermanent(err) {
		return river.JobCancel(err)
	}
	return err
}

// RiverRunner owns the river client and its connection pool.
type RiverRunner struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
}

// NewRiverRunner connects to cfg.DSN and registers a NotificationWorker for
// NotificationJobKind on cfg.Queue.
func NewRiverRunner(ctx context.Context, cfg internal.RiverQueueConfig, sender delivery.Sender, logger Logger) (*RiverRunner, error) {
	if cfg.DSN == "" {
		return nil, errors.New("riverqueue dsn is required")
	}
	if cfg.Kind != "" && cfg.Kind != NotificationJobKind {
		return nil, fmt.Errorf("riverqueue kind %q is not worked here, expected %q", cfg.Kind, NotificationJobKind)
	}
	queue := cfg.Queue
	if queue == "" {
		queue = river.QueueDefault
	}
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 5
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewNotificationWorker(sender, logger))

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})),
		Queues: map[string]river.QueueConfig{
			queue: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &RiverRunner{pool: pool, client: client}, nil
}

// Start begins working jobs. It returns once the client is running.
func (r *RiverRunner) Start(ctx context.Context) error {
	return r.client.Start(ctx)
}

// Stop waits for running jobs to finish, then closes the pool.
func (r *RiverRunner) Stop(ctx context.Context) error {
	err := r.client.Stop(ctx)
	r.pool.Close()
	return err
}
