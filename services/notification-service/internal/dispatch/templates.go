package dispatch

import "fmt"

// Message holds the rendered content for both channels of one event.
type Message struct {
	Subject   string
	BodyHTML  string
	PushTitle string
	PushBody  string
}

// Render builds the patient-facing message for a known event type. The second
// return is false for event types this service does not notify on.
func Render(evt Event) (Message, bool) {
	switch evt.EventType {
	case EventAppointmentBooked:
		return Message{
			Subject: fmt.Sprintf("Appointment Confirmed: %s on %s at %s", evt.ServiceType, evt.AppointmentDate, evt.AppointmentTime),
			BodyHTML: fmt.Sprintf(
				"Dear Patient,<br><br>"+
					"Your appointment for <b>%s</b> is confirmed.<br>"+
					"<b>Date:</b> %s<br>"+
					"<b>Time:</b> %s<br>"+
					"<b>Appointment ID:</b> %s<br>"+
					"<b>Notes:</b> %s<br><br>"+
					"Thank you for choosing our clinic!",
				evt.ServiceType, evt.AppointmentDate, evt.AppointmentTime, evt.AppointmentID, evt.Notes),
			PushTitle: "Appointment Confirmed!",
			PushBody: fmt.Sprintf("Your %s appt is confirmed for %s at %s. ID: %s.",
				evt.ServiceType, evt.AppointmentDate, evt.AppointmentTime, evt.AppointmentID),
		}, true
	case EventAppointmentCancelled:
		return Message{
			Subject: fmt.Sprintf("Appointment Cancelled: %s on %s at %s", evt.ServiceType, evt.AppointmentDate, evt.AppointmentTime),
			BodyHTML: fmt.Sprintf(
				"Dear Patient,<br><br>"+
					"Your appointment for <b>%s</b> on %s at %s has been successfully cancelled.<br>"+
					"<b>Appointment ID:</b> %s<br><br>"+
					"If you wish to reschedule, please visit our booking page.",
				evt.ServiceType, evt.AppointmentDate, evt.AppointmentTime, evt.AppointmentID),
			PushTitle: "Appointment Cancelled",
			PushBody: fmt.Sprintf("Your %s appt on %s at %s has been cancelled. ID: %s.",
				evt.ServiceType, evt.AppointmentDate, evt.AppointmentTime, evt.AppointmentID),
		}, true
	case EventAppointmentReminder:
		return Message{
			Subject: fmt.Sprintf("Reminder: Your Upcoming Appointment for %s", evt.ServiceType),
			BodyHTML: fmt.Sprintf(
				"Dear Patient,<br><br>"+
					"This is a friendly reminder for your upcoming appointment:<br>"+
					"<b>Service:</b> %s<br>"+
					"<b>Date:</b> %s<br>"+
					"<b>Time:</b> %s<br>"+
					"<b>Appointment ID:</b> %s<br><br>"+
					"Please arrive on time. If you need to reschedule, please do so via the portal.",
				evt.ServiceType, evt.AppointmentDate, evt.AppointmentTime, evt.AppointmentID),
			PushTitle: "Appointment Reminder!",
			PushBody: fmt.Sprintf("Reminder: Your %s appt is on %s at %s. ID: %s.",
				evt.ServiceType, evt.AppointmentDate, evt.AppointmentTime, evt.AppointmentID),
		}, true
	}
	return Message{}, false
}
