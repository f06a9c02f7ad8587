package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinichq/clinicbook/libs/db"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/model"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/outbox"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/reminders"
)

// Repository owns the appointments table and the transactional units around
// it. Mutations write their domain event to the outbox inside the same
// transaction, so a committed appointment change can never lose its event.
type Repository struct {
	pool      *db.Pool
	outbox    *outbox.Repository
	reminders *reminders.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository, remindersRepo *reminders.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo, reminders: remindersRepo}
}

// BookedTimes returns the HH:MM times holding a booked appointment on date.
func (r *Repository) BookedTimes(ctx context.Context, date string) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(appointment_time, 'HH24:MI')
		FROM appointments
		WHERE appointment_date = $1 AND status = 'booked'
	`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	taken := map[string]struct{}{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		taken[t] = struct{}{}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return taken, nil
}

// CreateIfFree inserts the appointment with status booked. The partial unique
// index on (appointment_date, appointment_time) WHERE status = 'booked' is
// what serializes concurrent bookings of the same slot: exactly one insert
// commits, the loser gets model.ErrSlotTaken. The booked event built by
// makeEvent and, when remindAt is in the future, a reminder job are written
// in the same transaction.
func (r *Repository) CreateIfFree(ctx context.Context, appt *model.Appointment, makeEvent func(model.Appointment) model.DomainEvent, remindAt time.Time) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created := *appt
	created.Status = model.StatusBooked
	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(patient_id, patient_email, appointment_date, appointment_time, service_type, notes, status)
		VALUES ($1, $2, $3::date, $4::time, $5, $6, 'booked')
		RETURNING id, created_at
	`, appt.PatientID, appt.PatientEmail, appt.Date, appt.Time, appt.ServiceType, appt.Notes).
		Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Appointment{}, model.ErrSlotTaken
		}
		return model.Appointment{}, err
	}

	evt := makeEvent(created)
	payload, err := json.Marshal(evt)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   created.ID,
		EventType:     evt.EventType,
		Payload:       payload,
	}); err != nil {
		return model.Appointment{}, err
	}

	if remindAt.After(time.Now()) {
		job := reminders.Job{
			IdempotencyKey: fmt.Sprintf("%s/%s", created.ID, remindAt.UTC().Format(time.RFC3339)),
			AppointmentID:  created.ID,
			PatientID:      created.PatientID,
			PatientEmail:   created.PatientEmail,
			Date:           created.Date,
			Time:           created.Time,
			ServiceType:    created.ServiceType,
			Notes:          created.Notes,
			RemindAt:       remindAt,
		}
		if err := r.reminders.Insert(ctx, tx, job); err != nil {
			return model.Appointment{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return created, nil
}

// CancelOwned transitions a matching booked row to cancelled and returns the
// pre-update snapshot. The row lock plus the status predicate serialize
// concurrent cancels: one wins, repeats see model.ErrNotFound. Unknown id,
// wrong owner and already-cancelled are deliberately indistinguishable.
func (r *Repository) CancelOwned(ctx context.Context, appointmentID, patientID string, makeEvent func(model.Appointment) model.DomainEvent) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var snap model.Appointment
	err = tx.QueryRow(ctx, `
		SELECT id, patient_id, patient_email, appointment_date::text,
			to_char(appointment_time, 'HH24:MI'), service_type, COALESCE(notes, ''), status, created_at
		FROM appointments
		WHERE id = $1 AND patient_id = $2 AND status = 'booked'
		FOR UPDATE
	`, appointmentID, patientID).Scan(
		&snap.ID,
		&snap.PatientID,
		&snap.PatientEmail,
		&snap.Date,
		&snap.Time,
		&snap.ServiceType,
		&snap.Notes,
		&snap.Status,
		&snap.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return model.Appointment{}, model.ErrNotFound
		}
		return model.Appointment{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = 'cancelled', cancelled_at = now()
		WHERE id = $1
	`, snap.ID); err != nil {
		return model.Appointment{}, err
	}

	evt := makeEvent(snap)
	payload, err := json.Marshal(evt)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   snap.ID,
		EventType:     evt.EventType,
		Payload:       payload,
	}); err != nil {
		return model.Appointment{}, err
	}

	if err := r.reminders.VoidByAppointment(ctx, tx, snap.ID); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return snap, nil
}

// ListByPatient returns the patient's appointments, all statuses, newest
// slot first.
func (r *Repository) ListByPatient(ctx context.Context, patientID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, patient_email, appointment_date::text,
			to_char(appointment_time, 'HH24:MI'), service_type, COALESCE(notes, ''), status, created_at, cancelled_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC, appointment_time DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		var cancelledAt *time.Time
		if err := rows.Scan(
			&appt.ID,
			&appt.PatientID,
			&appt.PatientEmail,
			&appt.Date,
			&appt.Time,
			&appt.ServiceType,
			&appt.Notes,
			&appt.Status,
			&appt.CreatedAt,
			&cancelledAt,
		); err != nil {
			return nil, err
		}
		appt.CancelledAt = cancelledAt
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isInvalidUUID treats a malformed appointment id the same as an unknown one.
func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
