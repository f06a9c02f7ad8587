package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
)

type fakeInbox struct {
	seen       map[string]bool
	existsErr  error
	recordErr  error
	recorded   []string
	recordedTy []string
}

func (f *fakeInbox) Exists(ctx context.Context, eventID string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.seen[eventID], nil
}

func (f *fakeInbox) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	if f.recordErr != nil {
		return false, f.recordErr
	}
	f.recorded = append(f.recorded, eventID)
	f.recordedTy = append(f.recordedTy, eventType)
	return true, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noopSpan() trace.Span {
	return trace.SpanFromContext(context.Background())
}

func TestDedupIdentity(t *testing.T) {
	cases := []struct {
		name      string
		msg       kafka.Message
		wantKey   string
		wantEvent string
	}{
		{
			name: "event id header wins",
			msg: kafka.Message{
				Headers: []kafka.Header{
					{Key: "event_id", Value: []byte("evt-123")},
					{Key: "event_type", Value: []byte("appointmentBooked")},
				},
				Value: []byte(`{"eventType":"appointmentCancelled","appointmentId":"appt-9"}`),
			},
			wantKey:   "evt-123",
			wantEvent: "appointmentBooked",
		},
		{
			name: "no header falls back to appointment id plus type",
			msg: kafka.Message{
				Value: []byte(`{"eventType":"appointmentCancelled","appointmentId":"appt-9"}`),
			},
			wantKey:   "appt-9/appointmentCancelled",
			wantEvent: "appointmentCancelled",
		},
		{
			name: "payload without event type uses header meta type",
			msg: kafka.Message{
				Topic:   "appointment.events.v1",
				Headers: []kafka.Header{{Key: "event_type", Value: []byte("appointmentReminder")}},
				Value:   []byte(`{"appointmentId":"appt-4"}`),
			},
			wantKey:   "appt-4/appointmentReminder",
			wantEvent: "appointmentReminder",
		},
		{
			name: "unparseable payload uses message key and topic",
			msg: kafka.Message{
				Topic: "appointment.events.v1",
				Key:   []byte("appt-7"),
				Value: []byte("not json"),
			},
			wantKey:   "appt-7",
			wantEvent: "appointment.events.v1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, eventType := dedupIdentity(tc.msg)
			if key != tc.wantKey {
				t.Errorf("dedup key = %q, want %q", key, tc.wantKey)
			}
			if eventType != tc.wantEvent {
				t.Errorf("event type = %q, want %q", eventType, tc.wantEvent)
			}
		})
	}
}

func TestProcessSkipsDuplicate(t *testing.T) {
	inb := &fakeInbox{seen: map[string]bool{"evt-1": true}}
	calls := 0
	c := &Consumer{
		logger: testLogger(),
		inbox:  inb,
		handler: func(ctx context.Context, msg kafka.Message) error {
			calls++
			return nil
		},
		maxAttempts: 3,
		backoff:     time.Millisecond,
	}

	msg := kafka.Message{
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte("evt-1")},
			{Key: "event_type", Value: []byte("appointmentBooked")},
		},
		Value: []byte(`{"eventType":"appointmentBooked","appointmentId":"appt-1"}`),
	}
	if err := c.process(context.Background(), msg, noopSpan()); err != nil {
		t.Fatalf("process returned %v, want nil so the offset commits", err)
	}
	if calls != 0 {
		t.Errorf("handler invoked %d times for an already recorded event, want 0", calls)
	}
	if len(inb.recorded) != 0 {
		t.Errorf("inbox re-recorded a duplicate: %v", inb.recorded)
	}
}

func TestProcessRecordsAfterSuccess(t *testing.T) {
	inb := &fakeInbox{seen: map[string]bool{}}
	calls := 0
	c := &Consumer{
		logger: testLogger(),
		inbox:  inb,
		handler: func(ctx context.Context, msg kafka.Message) error {
			calls++
			return nil
		},
		maxAttempts: 3,
		backoff:     time.Millisecond,
	}

	msg := kafka.Message{
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte("evt-2")},
			{Key: "event_type", Value: []byte("appointmentCancelled")},
		},
	}
	if err := c.process(context.Background(), msg, noopSpan()); err != nil {
		t.Fatalf("process returned %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("handler invoked %d times, want 1", calls)
	}
	if len(inb.recorded) != 1 || inb.recorded[0] != "evt-2" {
		t.Errorf("inbox recorded %v, want [evt-2]", inb.recorded)
	}
	if inb.recordedTy[0] != "appointmentCancelled" {
		t.Errorf("inbox recorded type %q, want appointmentCancelled", inb.recordedTy[0])
	}
}

func TestProcessRetriesThenParks(t *testing.T) {
	inb := &fakeInbox{seen: map[string]bool{}}
	calls := 0
	c := &Consumer{
		logger: testLogger(),
		inbox:  inb,
		handler: func(ctx context.Context, msg kafka.Message) error {
			calls++
			return errors.New("smtp down")
		},
		maxAttempts: 3,
		backoff:     time.Millisecond,
	}

	msg := kafka.Message{
		Headers: []kafka.Header{{Key: "event_id", Value: []byte("evt-3")}},
	}
	if err := c.process(context.Background(), msg, noopSpan()); err != nil {
		t.Fatalf("process returned %v after parking, want nil", err)
	}
	if calls != 3 {
		t.Errorf("handler invoked %d times, want 3", calls)
	}
	if len(inb.recorded) != 0 {
		t.Errorf("inbox recorded a failed event: %v", inb.recorded)
	}
}

func TestProcessInboxLookupFailureBlocksCommit(t *testing.T) {
	inb := &fakeInbox{existsErr: errors.New("pool closed")}
	c := &Consumer{
		logger: testLogger(),
		inbox:  inb,
		handler: func(ctx context.Context, msg kafka.Message) error {
			t.Fatal("handler must not run when the inbox lookup fails")
			return nil
		},
		maxAttempts: 3,
		backoff:     time.Millisecond,
	}

	msg := kafka.Message{
		Headers: []kafka.Header{{Key: "event_id", Value: []byte("evt-4")}},
	}
	if err := c.process(context.Background(), msg, noopSpan()); err == nil {
		t.Fatal("process returned nil, want an error so the message is redelivered")
	}
}
