package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clinichq/clinicbook/services/scheduling-service/internal/identity"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/model"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/scheduling"
)

// Scheduler is the slice of the scheduling service the HTTP layer uses.
type Scheduler interface {
	Book(ctx context.Context, p identity.Principal, req scheduling.BookRequest) (model.Appointment, error)
	Cancel(ctx context.Context, p identity.Principal, req scheduling.CancelRequest) (model.Appointment, error)
	AvailableSlots(ctx context.Context, date string) ([]string, error)
	ListAppointments(ctx context.Context, p identity.Principal) ([]model.Appointment, error)
}

type SchedulingHandler struct {
	svc    Scheduler
	gate   *identity.Gate
	logger *slog.Logger
}

func NewSchedulingHandler(svc Scheduler, gate *identity.Gate, logger *slog.Logger) *SchedulingHandler {
	return &SchedulingHandler{svc: svc, gate: gate, logger: logger}
}

// Register mounts the scheduling routes on mux. Every route requires a valid
// bearer token.
func (h *SchedulingHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/book", h.Book)
	mux.HandleFunc("/cancel", h.Cancel)
	mux.HandleFunc("/availability", h.Availability)
	mux.HandleFunc("/appointments", h.List)
}

type bookRequest struct {
	PatientID    string `json:"patientId"`
	PatientEmail string `json:"patientEmail"`
	PatientPhone string `json:"patientPhone"`
	Date         string `json:"appointmentDate"`
	Time         string `json:"appointmentTime"`
	ServiceType  string `json:"serviceType"`
	Notes        string `json:"notes"`
}

type bookResponse struct {
	Message       string `json:"message"`
	AppointmentID string `json:"appointmentId"`
}

type cancelRequest struct {
	AppointmentID string `json:"appointmentId"`
	PatientID     string `json:"patientId"`
}

type cancelResponse struct {
	Message string `json:"message"`
}

type availabilityRequest struct {
	Date string `json:"date"`
}

type availabilityResponse struct {
	Date  string   `json:"date"`
	Slots []string `json:"slots"`
}

type appointmentItem struct {
	ID          string `json:"id"`
	PatientID   string `json:"patientId"`
	Date        string `json:"appointmentDate"`
	Time        string `json:"appointmentTime"`
	ServiceType string `json:"serviceType"`
	Notes       string `json:"notes,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
	CancelledAt string `json:"cancelledAt,omitempty"`
}

type listResponse struct {
	Appointments []appointmentItem `json:"appointments"`
}

func (h *SchedulingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, err := h.gate.Verify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	created, err := h.svc.Book(r.Context(), p, scheduling.BookRequest{
		PatientID:    strings.TrimSpace(req.PatientID),
		PatientEmail: req.PatientEmail,
		PatientPhone: req.PatientPhone,
		Date:         strings.TrimSpace(req.Date),
		Time:         strings.TrimSpace(req.Time),
		ServiceType:  req.ServiceType,
		Notes:        req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, bookResponse{
		Message:       "Appointment booked successfully",
		AppointmentID: created.ID,
	})
}

func (h *SchedulingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, err := h.gate.Verify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if _, err := h.svc.Cancel(r.Context(), p, scheduling.CancelRequest{
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		PatientID:     strings.TrimSpace(req.PatientID),
	}); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, cancelResponse{Message: "Appointment cancelled successfully."})
}

func (h *SchedulingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, err := h.gate.Verify(r); err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	date := strings.TrimSpace(req.Date)
	if date == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: date (YYYY-MM-DD).")
		return
	}

	free, err := h.svc.AvailableSlots(r.Context(), date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if free == nil {
		free = []string{}
	}
	writeJSON(w, http.StatusOK, availabilityResponse{Date: date, Slots: free})
}

// List accepts GET and POST; older clients post a patientId body, which is
// advisory only since history is always scoped to the authenticated subject.
func (h *SchedulingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	p, err := h.gate.Verify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	appts, err := h.svc.ListAppointments(r.Context(), p)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		item := appointmentItem{
			ID:          appt.ID,
			PatientID:   appt.PatientID,
			Date:        appt.Date,
			Time:        appt.Time,
			ServiceType: appt.ServiceType,
			Notes:       appt.Notes,
			Status:      appt.Status,
			CreatedAt:   appt.CreatedAt.UTC().Format(time.RFC3339),
		}
		if appt.CancelledAt != nil {
			item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, listResponse{Appointments: items})
}

// writeDomainError maps service errors to status codes. Anything unmapped is
// a dependency failure and stays opaque to the client.
func (h *SchedulingHandler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *scheduling.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, identity.ErrForbidden):
		writeError(w, http.StatusForbidden, "not allowed for this patient")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
	case errors.Is(err, model.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot already booked")
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
