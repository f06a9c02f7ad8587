package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/clinichq/clinicbook/services/notification-service/internal/email"
	"github.com/clinichq/clinicbook/services/notification-service/internal/push"
	"github.com/clinichq/clinicbook/services/notification-service/internal/storage"
)

const (
	EventAppointmentBooked    = "appointmentBooked"
	EventAppointmentCancelled = "appointmentCancelled"
	EventAppointmentReminder  = "appointmentReminder"
)

// Event is the wire shape published by the scheduling service.
type Event struct {
	EventType       string `json:"eventType"`
	AppointmentID   string `json:"appointmentId"`
	PatientID       string `json:"patientId"`
	PatientEmail    string `json:"patientEmail"`
	PatientPhone    string `json:"patientPhone"`
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
	ServiceType     string `json:"serviceType"`
	Notes           string `json:"notes"`
}

// DeliveryLog records each send attempt.
type DeliveryLog interface {
	Insert(ctx context.Context, d storage.Delivery) error
}

// Dispatcher fans one appointment event out to the patient's channels. Email
// goes to patientEmail, push to the patient's device topic when a phone is
// present. The channels are independent: one failing does not stop the other,
// and the combined error is what the caller retries on.
type Dispatcher struct {
	email  email.Sender
	push   push.Sender
	log    DeliveryLog
	logger *slog.Logger
}

func NewDispatcher(emailSender email.Sender, pushSender push.Sender, log DeliveryLog, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		email:  emailSender,
		push:   pushSender,
		log:    log,
		logger: logger,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) error {
	msg, ok := Render(evt)
	if !ok {
		d.logger.Info("unhandled event type, skipping", "event_type", evt.EventType, "appointment_id", evt.AppointmentID)
		return nil
	}

	var errs []error

	if evt.PatientEmail != "" {
		status := "sent"
		detail := ""
		if err := d.email.Send(evt.PatientEmail, msg.Subject, msg.BodyHTML); err != nil {
			status = "failed"
			detail = err.Error()
			errs = append(errs, err)
			d.logger.Error("email send failed", "err", err, "appointment_id", evt.AppointmentID)
		}
		d.record(ctx, evt, "email", evt.PatientEmail, status, detail)
	} else {
		d.logger.Info("skipping email, no recipient", "appointment_id", evt.AppointmentID)
	}

	if evt.PatientPhone != "" {
		target := "general_topic"
		if evt.PatientID != "" {
			target = "user_" + evt.PatientID
		}
		status := "sent"
		detail := ""
		if err := d.push.Send(ctx, target, msg.PushTitle, msg.PushBody); err != nil {
			status = "failed"
			detail = err.Error()
			errs = append(errs, err)
			d.logger.Error("push send failed", "err", err, "appointment_id", evt.AppointmentID)
		}
		d.record(ctx, evt, "push", target, status, detail)
	} else {
		d.logger.Info("skipping push, no phone on event", "appointment_id", evt.AppointmentID)
	}

	return errors.Join(errs...)
}

// record persists the delivery attempt for audit. The row is best effort: an
// insert failure must not fail the dispatch, or the consumer would redeliver
// and re-send a notification that already went out.
func (d *Dispatcher) record(ctx context.Context, evt Event, channel, recipient, status, detail string) {
	if d.log == nil {
		return
	}
	err := d.log.Insert(ctx, storage.Delivery{
		AppointmentID: evt.AppointmentID,
		PatientID:     evt.PatientID,
		EventType:     evt.EventType,
		Channel:       channel,
		Recipient:     recipient,
		Status:        status,
		Detail:        detail,
	})
	if err != nil {
		d.logger.Error("failed to persist delivery record", "err", err, "channel", channel)
	}
}
