package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/clinichq/clinicbook/libs/auth"
	"github.com/clinichq/clinicbook/libs/config"
	"github.com/clinichq/clinicbook/libs/db"
	"github.com/clinichq/clinicbook/libs/httpx"
	"github.com/clinichq/clinicbook/libs/kafkax"
	otelx "github.com/clinichq/clinicbook/libs/otel"
	"github.com/clinichq/clinicbook/libs/runtime"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/handlers"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/identity"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/outbox"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/reminders"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/scheduling"
	"github.com/clinichq/clinicbook/services/scheduling-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8080")
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

	clinicTZ := time.UTC
	if name := config.String("CLINIC_TIMEZONE", ""); name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			logger.Error("invalid CLINIC_TIMEZONE; using UTC", "value", name, "err", err)
		} else {
			clinicTZ = loc
		}
	}

	outboxRepo := outbox.NewRepository(pool)
	reminderRepo := reminders.NewRepository()
	store := storage.NewRepository(pool, outboxRepo, reminderRepo)

	eventsTopic := config.String("KAFKA_EVENTS_TOPIC", "appointment.events.v1")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		Topic:     eventsTopic,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	reminderWorker := reminders.NewWorker(pool, reminderRepo, outboxRepo, logger, reminders.WorkerConfig{
		Interval: 15 * time.Second,
	})
	go reminderWorker.Run(ctx)

	svc := scheduling.NewService(store, logger, scheduling.Config{
		Location:     clinicTZ,
		ReminderLead: config.Minutes("REMINDER_LEAD_MINUTES", 24*time.Hour),
	})

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}
	var jwks *auth.JWKSClient
	if url := config.String("JWKS_URL", ""); url != "" {
		jwks = auth.NewJWKSClient(url, config.Minutes("JWKS_TTL_MINUTES", 10*time.Minute))
	}
	gate := identity.NewGate(jwtSecret, jwks)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handlers.NewSchedulingHandler(svc, gate, logger).Register(mux)

	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(15 * time.Second),
	}
	// Browser clients call this API cross-origin; default to the open policy
	// and let deployments restrict origins. An explicit empty value disables
	// the CORS layer entirely.
	if origins := config.String("CORS_ALLOWED_ORIGINS", "*"); origins != "" {
		middlewares = append(middlewares, httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(origins, ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}))
	}
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		limiter := httpx.NewRedisRateLimiter(rdb, limit, time.Minute, service)
		middlewares = append(middlewares, limiter.Middleware(logger, true))
	} else {
		middlewares = append(middlewares, httpx.NewRateLimiter(limit, time.Minute).Middleware())
	}

	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
