package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinichq/clinicbook/libs/kafkax"
)

type Handler func(ctx context.Context, msg kafka.Message) error

// Inbox is the processed-event ledger the consumer dedups against.
type Inbox interface {
	Exists(ctx context.Context, eventID string) (bool, error)
	Record(ctx context.Context, eventID string, eventType string) (bool, error)
}

// Consumer reads appointment events with at-least-once semantics. Offsets
// are committed only after the message is handled, deduplicated or parked on
// the DLQ; the inbox row is what keeps redelivered events from notifying a
// patient twice.
type Consumer struct {
	reader      *kafka.Reader
	dlq         *kafka.Writer
	logger      *slog.Logger
	inbox       Inbox
	handler     Handler
	maxAttempts int
	backoff     time.Duration
}

type Config struct {
	Brokers     string
	GroupID     string
	Topic       string
	DLQTopic    string
	MaxAttempts int
	Backoff     time.Duration
}

func New(logger *slog.Logger, inboxRepo Inbox, cfg Config, handler Handler) *Consumer {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	var dlq *kafka.Writer
	if cfg.DLQTopic != "" {
		dlq = kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Topic:    cfg.DLQTopic,
			Balancer: &kafka.Hash{},
		})
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	return &Consumer{
		reader:      reader,
		dlq:         dlq,
		logger:      logger,
		inbox:       inboxRepo,
		handler:     handler,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()
	if c.dlq != nil {
		defer c.dlq.Close()
	}

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		if err := c.process(ctxSpan, msg, span); err != nil {
			// Neither handled nor parked; leave the offset uncommitted so
			// the message is redelivered.
			span.RecordError(err)
			span.End()
			continue
		}
		span.End()

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("offset commit failed", "err", err)
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message, span trace.Span) error {
	dedupKey, eventType := dedupIdentity(msg)

	seen, err := c.inbox.Exists(ctx, dedupKey)
	if err != nil {
		c.logger.Error("inbox lookup failed", "err", err)
		return err
	}
	if seen {
		c.logger.Info("duplicate event ignored", "event_id", dedupKey, "event_type", eventType)
		return nil
	}

	var handleErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		handleErr = c.handler(ctx, msg)
		if handleErr == nil {
			break
		}
		c.logger.Error("handler error", "err", handleErr, "event_id", dedupKey, "attempt", attempt)
		if attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
	}
	if handleErr != nil {
		span.RecordError(handleErr)
		if err := c.park(ctx, msg, dedupKey, handleErr); err != nil {
			c.logger.Error("dlq write failed", "err", err, "event_id", dedupKey)
			return err
		}
		c.logger.Error("event parked on dlq", "event_id", dedupKey, "event_type", eventType)
		return nil
	}

	if _, err := c.inbox.Record(ctx, dedupKey, eventType); err != nil {
		c.logger.Error("inbox record failed", "err", err)
		return err
	}
	return nil
}

func (c *Consumer) park(ctx context.Context, msg kafka.Message, dedupKey string, cause error) error {
	if c.dlq == nil {
		return nil
	}
	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq_reason", Value: []byte(cause.Error())},
		kafka.Header{Key: "dlq_source_topic", Value: []byte(msg.Topic)},
	)
	return c.dlq.WriteMessages(ctx, kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
}

// dedupIdentity derives the dedup key for a message. The event_id header is
// authoritative; for messages from older producers that lack it, the payload's
// appointmentId plus the event type serves, since one appointment emits each
// event type at most once per occurrence.
func dedupIdentity(msg kafka.Message) (string, string) {
	meta := kafkax.ExtractEventMeta(msg)
	if kafkax.HeaderValue(msg.Headers, "event_id") != "" {
		return meta.EventID, meta.EventType
	}

	var payload struct {
		EventType     string `json:"eventType"`
		AppointmentID string `json:"appointmentId"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err == nil && payload.AppointmentID != "" {
		eventType := payload.EventType
		if eventType == "" {
			eventType = meta.EventType
		}
		return payload.AppointmentID + "/" + eventType, eventType
	}
	return meta.EventID, meta.EventType
}
