package reminders

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Job is a pending reminder for a booked appointment. The appointment fields
// are denormalized at booking time so firing a reminder needs no join; jobs
// for cancelled appointments are voided inside the cancellation transaction.
type Job struct {
	ID             int64
	IdempotencyKey string
	AppointmentID  string
	PatientID      string
	PatientEmail   string
	Date           string
	Time           string
	ServiceType    string
	Notes          string
	RemindAt       time.Time
	Attempts       int
	MaxAttempts    int
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, job Job) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reminder_jobs
			(idempotency_key, appointment_id, patient_id, patient_email, appointment_date, appointment_time, service_type, notes, remind_at, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, job.IdempotencyKey, job.AppointmentID, job.PatientID, job.PatientEmail, job.Date, job.Time, job.ServiceType, job.Notes, job.RemindAt)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, idempotency_key, appointment_id, patient_id, patient_email,
			appointment_date::text, to_char(appointment_time, 'HH24:MI'), service_type, COALESCE(notes, ''),
			remind_at, attempts, max_attempts
		FROM reminder_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.IdempotencyKey, &j.AppointmentID, &j.PatientID, &j.PatientEmail,
			&j.Date, &j.Time, &j.ServiceType, &j.Notes, &j.RemindAt, &j.Attempts, &j.MaxAttempts); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET attempts = $2,
			status = $3,
			next_run_at = $4,
			last_error = $5,
			updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}

// VoidByAppointment cancels pending reminders for an appointment. Called from
// the cancellation transaction so a cancelled visit never produces a reminder.
func (r *Repository) VoidByAppointment(ctx context.Context, tx pgx.Tx, appointmentID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE appointment_id = $1 AND status = 'pending'
	`, appointmentID)
	return err
}
