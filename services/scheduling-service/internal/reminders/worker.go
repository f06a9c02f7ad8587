package reminders

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/clinichq/clinicbook/libs/db"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/model"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/outbox"
)

// Worker fires due reminder jobs as appointmentReminder events via the outbox.
type Worker struct {
	pool      *db.Pool
	repo      *Repository
	outbox    *outbox.Repository
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		outbox:    outboxRepo,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Commit(ctx)
	}

	var fired []int64
	var failed []Job
	for _, job := range jobs {
		payload, err := json.Marshal(model.DomainEvent{
			EventType:       model.EventAppointmentReminder,
			AppointmentID:   job.AppointmentID,
			PatientID:       job.PatientID,
			PatientEmail:    job.PatientEmail,
			AppointmentDate: job.Date,
			AppointmentTime: job.Time,
			ServiceType:     job.ServiceType,
			Notes:           job.Notes,
		})
		if err != nil {
			failed = append(failed, job)
			continue
		}
		if err := w.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   job.AppointmentID,
			EventType:     model.EventAppointmentReminder,
			Payload:       payload,
		}); err != nil {
			failed = append(failed, job)
			continue
		}
		fired = append(fired, job.ID)
	}

	if err := w.repo.MarkProcessed(ctx, tx, fired); err != nil {
		return err
	}
	for _, job := range failed {
		attempts := job.Attempts + 1
		nextRunAt := time.Now().UTC().Add(w.backoff)
		if err := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, nextRunAt, "outbox enqueue failed"); err != nil {
			return err
		}
		if attempts >= job.MaxAttempts {
			w.logger.Error("reminder job abandoned", "appointment_id", job.AppointmentID, "attempts", attempts)
		}
	}

	return tx.Commit(ctx)
}
