package model

import (
	"errors"
	"time"
)

const (
	StatusBooked    = "booked"
	StatusCancelled = "cancelled"
)

// Sentinel errors shared between the storage layer and the services above it.
var (
	// ErrSlotTaken: another booked appointment already holds the (date, time) slot.
	ErrSlotTaken = errors.New("slot already booked")
	// ErrNotFound: no active appointment matches (id, patient). Covers unknown id,
	// wrong owner and already-cancelled alike; callers must not distinguish them.
	ErrNotFound = errors.New("appointment not found")
)

// Appointment is a single reservation of one clinic slot. Date and Time are
// clinic-local calendar strings (YYYY-MM-DD, HH:MM); the clinic runs in one
// fixed timezone so no offset is stored.
type Appointment struct {
	ID           string
	PatientID    string
	PatientEmail string
	Date         string
	Time         string
	ServiceType  string
	Notes        string
	Status       string
	CreatedAt    time.Time
	CancelledAt  *time.Time
}

const (
	EventAppointmentBooked    = "appointmentBooked"
	EventAppointmentCancelled = "appointmentCancelled"
	EventAppointmentReminder  = "appointmentReminder"
)

// DomainEvent is the wire shape published on the appointment events topic.
type DomainEvent struct {
	EventType       string `json:"eventType"`
	AppointmentID   string `json:"appointmentId"`
	PatientID       string `json:"patientId"`
	PatientEmail    string `json:"patientEmail,omitempty"`
	PatientPhone    string `json:"patientPhone,omitempty"`
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
	ServiceType     string `json:"serviceType"`
	Notes           string `json:"notes,omitempty"`
}
