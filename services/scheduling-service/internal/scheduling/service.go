package scheduling

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/clinichq/clinicbook/services/scheduling-service/internal/identity"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/model"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/slots"
)

// Store is the persistence surface the service drives. Implementations run
// each mutation in a single transaction and write the event built by
// makeEvent alongside the row change.
type Store interface {
	BookedTimes(ctx context.Context, date string) (map[string]struct{}, error)
	CreateIfFree(ctx context.Context, appt *model.Appointment, makeEvent func(model.Appointment) model.DomainEvent, remindAt time.Time) (model.Appointment, error)
	CancelOwned(ctx context.Context, appointmentID, patientID string, makeEvent func(model.Appointment) model.DomainEvent) (model.Appointment, error)
	ListByPatient(ctx context.Context, patientID string) ([]model.Appointment, error)
}

type Config struct {
	// Slots is the bookable time grid for a day. Defaults to the standard
	// clinic grid.
	Slots []string
	// Location is the clinic's timezone, used to anchor reminder times.
	Location *time.Location
	// ReminderLead is how long before the appointment the reminder fires.
	ReminderLead time.Duration
}

type Service struct {
	store        Store
	logger       *slog.Logger
	slots        []string
	location     *time.Location
	reminderLead time.Duration
}

func NewService(store Store, logger *slog.Logger, cfg Config) *Service {
	if len(cfg.Slots) == 0 {
		cfg.Slots = slots.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = 24 * time.Hour
	}
	return &Service{
		store:        store,
		logger:       logger,
		slots:        cfg.Slots,
		location:     cfg.Location,
		reminderLead: cfg.ReminderLead,
	}
}

type BookRequest struct {
	PatientID    string
	PatientEmail string
	PatientPhone string
	Date         string
	Time         string
	ServiceType  string
	Notes        string
}

// Book reserves a slot for the authenticated patient. The patientId field is
// optional and, when present, must match the principal. Phone travels only on
// the event; it is never stored.
func (s *Service) Book(ctx context.Context, p identity.Principal, req BookRequest) (model.Appointment, error) {
	fields := fieldErrors{}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		fields.add("appointmentDate", "must be a valid YYYY-MM-DD date")
	}
	if !slots.Aligned(s.slots, req.Time) {
		fields.add("appointmentTime", "must be one of the offered slots")
	}
	if strings.TrimSpace(req.ServiceType) == "" {
		fields.add("serviceType", "is required")
	}
	email := strings.TrimSpace(req.PatientEmail)
	if email == "" {
		email = p.Email
	}
	if email == "" || !strings.Contains(email, "@") {
		fields.add("patientEmail", "must be a valid email address")
	}
	if err := fields.err(); err != nil {
		return model.Appointment{}, err
	}

	if err := identity.AssertOwnership(p, req.PatientID); err != nil {
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		PatientID:    p.Subject,
		PatientEmail: email,
		Date:         req.Date,
		Time:         req.Time,
		ServiceType:  strings.TrimSpace(req.ServiceType),
		Notes:        strings.TrimSpace(req.Notes),
	}
	phone := strings.TrimSpace(req.PatientPhone)

	created, err := s.store.CreateIfFree(ctx, &appt, func(a model.Appointment) model.DomainEvent {
		evt := eventFrom(model.EventAppointmentBooked, a)
		evt.PatientPhone = phone
		return evt
	}, s.remindAt(req.Date, req.Time))
	if err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", created.ID,
		"date", created.Date,
		"time", created.Time,
		"service_type", created.ServiceType)
	return created, nil
}

type CancelRequest struct {
	AppointmentID string
	PatientID     string
}

// Cancel moves a booked appointment to cancelled. Both ids are required so a
// client cannot cancel by appointment id alone; ownership is still enforced
// against the principal, and the store refuses anything not booked and owned.
func (s *Service) Cancel(ctx context.Context, p identity.Principal, req CancelRequest) (model.Appointment, error) {
	fields := fieldErrors{}
	if strings.TrimSpace(req.AppointmentID) == "" {
		fields.add("appointmentId", "is required")
	}
	if strings.TrimSpace(req.PatientID) == "" {
		fields.add("patientId", "is required")
	}
	if err := fields.err(); err != nil {
		return model.Appointment{}, err
	}

	if err := identity.AssertOwnership(p, req.PatientID); err != nil {
		return model.Appointment{}, err
	}

	cancelled, err := s.store.CancelOwned(ctx, req.AppointmentID, p.Subject, func(a model.Appointment) model.DomainEvent {
		return eventFrom(model.EventAppointmentCancelled, a)
	})
	if err != nil {
		return model.Appointment{}, err
	}

	s.logger.Info("appointment cancelled",
		"appointment_id", cancelled.ID,
		"date", cancelled.Date,
		"time", cancelled.Time)
	return cancelled, nil
}

// AvailableSlots returns the free times for a date in grid order. A fully
// booked day yields an empty list, not an error.
func (s *Service) AvailableSlots(ctx context.Context, date string) ([]string, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, &ValidationError{Fields: map[string]string{"date": "must be a valid YYYY-MM-DD date"}}
	}
	taken, err := s.store.BookedTimes(ctx, date)
	if err != nil {
		return nil, err
	}
	return slots.Available(s.slots, taken), nil
}

// ListAppointments returns the principal's own appointment history, newest
// slot first.
func (s *Service) ListAppointments(ctx context.Context, p identity.Principal) ([]model.Appointment, error) {
	return s.store.ListByPatient(ctx, p.Subject)
}

func (s *Service) remindAt(date, hhmm string) time.Time {
	start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+hhmm, s.location)
	if err != nil {
		return time.Time{}
	}
	return start.Add(-s.reminderLead)
}

func eventFrom(eventType string, a model.Appointment) model.DomainEvent {
	return model.DomainEvent{
		EventType:       eventType,
		AppointmentID:   a.ID,
		PatientID:       a.PatientID,
		PatientEmail:    a.PatientEmail,
		AppointmentDate: a.Date,
		AppointmentTime: a.Time,
		ServiceType:     a.ServiceType,
		Notes:           a.Notes,
	}
}
