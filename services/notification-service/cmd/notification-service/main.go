package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinichq/clinicbook/libs/config"
	"github.com/clinichq/clinicbook/libs/db"
	"github.com/clinichq/clinicbook/libs/httpx"
	"github.com/clinichq/clinicbook/libs/kafkax"
	otelx "github.com/clinichq/clinicbook/libs/otel"
	"github.com/clinichq/clinicbook/libs/runtime"
	"github.com/clinichq/clinicbook/services/notification-service/internal/consumer"
	"github.com/clinichq/clinicbook/services/notification-service/internal/dispatch"
	"github.com/clinichq/clinicbook/services/notification-service/internal/email"
	"github.com/clinichq/clinicbook/services/notification-service/internal/inbox"
	"github.com/clinichq/clinicbook/services/notification-service/internal/push"
	"github.com/clinichq/clinicbook/services/notification-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	deliveriesRepo := storage.NewRepository(pool)

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@clinicbook.local"),
		config.String("SMTP_USERNAME", ""),
		config.String("SMTP_PASSWORD", ""),
	)

	var pushSender push.Sender
	switch strings.ToLower(config.String("PUSH_PROVIDER", "noop")) {
	case "webhook":
		pushSender = push.NewWebhookSender(
			config.String("PUSH_WEBHOOK_URL", ""),
			config.String("PUSH_WEBHOOK_TOKEN", ""),
		)
	default:
		pushSender = push.NewNoopSender()
	}

	dispatcher := dispatch.NewDispatcher(emailSender, pushSender, deliveriesRepo, logger)

	consumerCfg := consumer.Config{
		Brokers:  config.String("KAFKA_BROKERS", ""),
		GroupID:  config.String("KAFKA_GROUP_ID", "notification-service"),
		Topic:    config.String("KAFKA_CONSUME_TOPIC", "appointment.events.v1"),
		DLQTopic: config.String("KAFKA_DLQ_TOPIC", "appointment.events.dlq.v1"),
	}
	eventConsumer := consumer.New(logger, inboxRepo, consumerCfg, func(ctx context.Context, msg kafka.Message) error {
		var evt dispatch.Event
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if evt.EventType == "" || evt.AppointmentID == "" {
			logger.Error("missing required event fields", "topic", msg.Topic)
			return nil
		}
		return dispatcher.Dispatch(ctx, evt)
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
