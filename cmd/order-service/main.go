package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
	"github.com/vasiliy-maslov/storefront/internal/config"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"github.com/vasiliy-maslov/storefront/internal/gateway"
	"github.com/vasiliy-maslov/storefront/internal/handler"
	"github.com/vasiliy-maslov/storefront/internal/identifier"
	"github.com/vasiliy-maslov/storefront/internal/notification"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"github.com/vasiliy-maslov/storefront/internal/transport"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg.App.Name, cfg.Log)

	log.Info().Msg("Order service starting...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dbConn, err := db.New(ctx, cfg.Postgres)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	if err := dbConn.ApplyMigrations(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	ids, err := identifier.NewGenerator(cfg.Identifier.TrackingSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create identifier generator")
	}

	dispatcher, closeDispatcher := newDispatcher(cfg.Notification)
	defer closeDispatcher()
	notifier := notification.NewNotifier(dispatcher, cfg.Notification.Timeout)

	policy := order.PermissivePolicy
	if cfg.Orders.StrictTransitions {
		policy = order.StrictPolicy
	}

	orderRepo := order.NewRepository(dbConn.Pool, dbConn.Reader, catalog.NewResolver(), ids)
	orderService := order.NewService(orderRepo,
		order.WithPolicy(policy),
		order.WithNotifier(notifier),
		order.WithAuditSink(order.NewLogAuditSink(log.Logger)),
		order.WithCheckoutAttempts(cfg.Orders.CheckoutAttempts),
	)

	router := transport.NewRouter(transport.Handlers{
		Health:    handler.NewHealthHandler(dbConn),
		Orders:    handler.NewOrderHandler(orderService, gateway.NewClient(cfg.Gateway)),
		Callbacks: handler.NewCallbackHandler(gateway.NewProcessor(cfg.Gateway, orderService)),
		Admin:     handler.NewAdminHandler(orderService),
		Operators: cfg.Admin.Operators,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
	notifier.Wait()
	log.Info().Msg("Server stopped")
}

func setupLogger(service string, cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	log.Logger = log.With().Str("service", service).Logger()
}

// newDispatcher falls back to log-only delivery when the broker is not
// configured or unreachable at startup.
func newDispatcher(cfg config.NotificationConfig) (notification.Dispatcher, func()) {
	if cfg.AMQPURL == "" {
		log.Warn().Msg("No AMQP URL configured, notifications will only be logged")
		return notification.LogDispatcher{}, func() {}
	}

	amqpDispatcher, err := notification.DialAMQP(cfg.AMQPURL, cfg.Exchange)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to AMQP broker, notifications will only be logged")
		return notification.LogDispatcher{}, func() {}
	}
	log.Info().Str("exchange", cfg.Exchange).Msg("Publishing notifications to AMQP")
	return amqpDispatcher, amqpDispatcher.Close
}
