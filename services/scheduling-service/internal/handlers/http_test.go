package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clinichq/clinicbook/libs/auth"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/identity"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/model"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/scheduling"
)

const testSecret = "handler-test-secret"

type fakeScheduler struct {
	bookErr   error
	cancelErr error
	slots     []string
	slotsErr  error
	appts     []model.Appointment
	listErr   error

	gotBook   *scheduling.BookRequest
	gotCancel *scheduling.CancelRequest
}

func (f *fakeScheduler) Book(ctx context.Context, p identity.Principal, req scheduling.BookRequest) (model.Appointment, error) {
	f.gotBook = &req
	if f.bookErr != nil {
		return model.Appointment{}, f.bookErr
	}
	return model.Appointment{
		ID:        "11111111-1111-1111-1111-111111111111",
		PatientID: p.Subject,
		Date:      req.Date,
		Time:      req.Time,
		Status:    model.StatusBooked,
	}, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, p identity.Principal, req scheduling.CancelRequest) (model.Appointment, error) {
	f.gotCancel = &req
	if f.cancelErr != nil {
		return model.Appointment{}, f.cancelErr
	}
	return model.Appointment{ID: req.AppointmentID, Status: model.StatusBooked}, nil
}

func (f *fakeScheduler) AvailableSlots(ctx context.Context, date string) ([]string, error) {
	if f.slotsErr != nil {
		return nil, f.slotsErr
	}
	return f.slots, nil
}

func (f *fakeScheduler) ListAppointments(ctx context.Context, p identity.Principal) ([]model.Appointment, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.appts, nil
}

func newTestMux(t *testing.T, svc Scheduler) *http.ServeMux {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gate := identity.NewGate(testSecret, nil)
	mux := http.NewServeMux()
	NewSchedulingHandler(svc, gate, logger).Register(mux)
	return mux
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	token, err := auth.SignHS256(auth.Claims{
		Sub:   sub,
		Email: sub + "@example.com",
		Iat:   time.Now().Unix(),
		Exp:   time.Now().Add(time.Hour).Unix(),
	}, testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + token
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestBookCreated(t *testing.T) {
	svc := &fakeScheduler{}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/book", strings.NewReader(`{
		"appointmentDate": "2026-10-01",
		"appointmentTime": "09:30",
		"serviceType": "checkup",
		"patientPhone": "+15550100"
	}`))
	req.Header.Set("Authorization", bearer(t, "patient-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["appointmentId"] != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("appointmentId = %v", body["appointmentId"])
	}
	if body["message"] == "" {
		t.Error("missing message")
	}
	if svc.gotBook == nil || svc.gotBook.PatientPhone != "+15550100" {
		t.Errorf("phone not forwarded: %+v", svc.gotBook)
	}
}

func TestBookRequiresAuth(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage token", header: "Bearer not.a.token"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeScheduler{}
			mux := newTestMux(t, svc)

			req := httptest.NewRequest(http.MethodPost, "/book", strings.NewReader(`{}`))
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if svc.gotBook != nil {
				t.Error("scheduler called without authentication")
			}
			if _, ok := decodeBody(t, rec)["error"]; !ok {
				t.Error("missing error field")
			}
		})
	}
}

func TestBookErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{
			name:   "validation",
			err:    &scheduling.ValidationError{Fields: map[string]string{"appointmentTime": "must be one of the offered slots"}},
			status: http.StatusBadRequest,
		},
		{name: "forbidden", err: identity.ErrForbidden, status: http.StatusForbidden},
		{name: "conflict", err: model.ErrSlotTaken, status: http.StatusConflict},
		{name: "dependency", err: context.DeadlineExceeded, status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mux := newTestMux(t, &fakeScheduler{bookErr: tc.err})

			req := httptest.NewRequest(http.MethodPost, "/book", strings.NewReader(`{"appointmentDate":"2026-10-01","appointmentTime":"09:00","serviceType":"checkup"}`))
			req.Header.Set("Authorization", bearer(t, "patient-1"))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if _, ok := decodeBody(t, rec)["error"]; !ok {
				t.Error("missing error field")
			}
		})
	}
}

func TestBookInvalidJSON(t *testing.T) {
	mux := newTestMux(t, &fakeScheduler{})

	req := httptest.NewRequest(http.MethodPost, "/book", strings.NewReader(`{not json`))
	req.Header.Set("Authorization", bearer(t, "patient-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCancelOK(t *testing.T) {
	svc := &fakeScheduler{}
	mux := newTestMux(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/cancel", strings.NewReader(`{
		"appointmentId": "22222222-2222-2222-2222-222222222222",
		"patientId": "patient-1"
	}`))
	req.Header.Set("Authorization", bearer(t, "patient-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["message"] == "" {
		t.Error("missing message")
	}
	if svc.gotCancel == nil || svc.gotCancel.AppointmentID != "22222222-2222-2222-2222-222222222222" {
		t.Errorf("cancel request not forwarded: %+v", svc.gotCancel)
	}
}

func TestCancelNotFound(t *testing.T) {
	mux := newTestMux(t, &fakeScheduler{cancelErr: model.ErrNotFound})

	req := httptest.NewRequest(http.MethodPost, "/cancel", strings.NewReader(`{"appointmentId":"abc","patientId":"patient-1"}`))
	req.Header.Set("Authorization", bearer(t, "patient-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAvailability(t *testing.T) {
	mux := newTestMux(t, &fakeScheduler{slots: []string{"09:00", "09:30"}})

	req := httptest.NewRequest(http.MethodPost, "/availability", strings.NewReader(`{"date":"2026-10-01"}`))
	req.Header.Set("Authorization", bearer(t, "patient-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp availabilityResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Date != "2026-10-01" {
		t.Errorf("date = %q", resp.Date)
	}
	if len(resp.Slots) != 2 || resp.Slots[0] != "09:00" {
		t.Errorf("slots = %v", resp.Slots)
	}
}

func TestAvailabilityFullyBookedDay(t *testing.T) {
	mux := newTestMux(t, &fakeScheduler{slots: nil})

	req := httptest.NewRequest(http.MethodPost, "/availability", strings.NewReader(`{"date":"2026-10-01"}`))
	req.Header.Set("Authorization", bearer(t, "patient-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"slots":[]`) {
		t.Errorf("empty day must serialize as []: %s", rec.Body.String())
	}
}

func TestAvailabilityMissingDate(t *testing.T) {
	mux := newTestMux(t, &fakeScheduler{})

	req := httptest.NewRequest(http.MethodPost, "/availability", strings.NewReader(`{}`))
	req.Header.Set("Authorization", bearer(t, "patient-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListAppointments(t *testing.T) {
	cancelled := time.Date(2026, 9, 20, 11, 0, 0, 0, time.UTC)
	mux := newTestMux(t, &fakeScheduler{appts: []model.Appointment{
		{
			ID:          "a1",
			Date:        "2026-10-02",
			Time:        "10:00",
			ServiceType: "checkup",
			Status:      model.StatusBooked,
			CreatedAt:   time.Date(2026, 9, 25, 8, 0, 0, 0, time.UTC),
		},
		{
			ID:          "a2",
			Date:        "2026-10-01",
			Time:        "09:00",
			ServiceType: "followup",
			Status:      model.StatusCancelled,
			CreatedAt:   time.Date(2026, 9, 18, 8, 0, 0, 0, time.UTC),
			CancelledAt: &cancelled,
		},
	}})

	req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
	req.Header.Set("Authorization", bearer(t, "patient-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp listResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Appointments) != 2 {
		t.Fatalf("len = %d, want 2", len(resp.Appointments))
	}
	if resp.Appointments[0].ID != "a1" {
		t.Errorf("order changed: %+v", resp.Appointments)
	}
	if resp.Appointments[1].CancelledAt == "" {
		t.Error("cancelledAt missing for cancelled appointment")
	}
	if resp.Appointments[0].CancelledAt != "" {
		t.Error("cancelledAt set for booked appointment")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newTestMux(t, &fakeScheduler{})

	req := httptest.NewRequest(http.MethodGet, "/book", nil)
	req.Header.Set("Authorization", bearer(t, "patient-1"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
