package storage

import (
	"context"

	"github.com/clinichq/clinicbook/libs/db"
)

// Delivery is one notification attempt on one channel, kept for support
// queries and failure audits.
type Delivery struct {
	AppointmentID string
	PatientID     string
	EventType     string
	Channel       string
	Recipient     string
	Status        string
	Detail        string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, d Delivery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_deliveries (appointment_id, patient_id, event_type, channel, recipient, status, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, d.AppointmentID, d.PatientID, d.EventType, d.Channel, d.Recipient, d.Status, d.Detail)
	return err
}
