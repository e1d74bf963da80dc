package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"

	"github.com/lumina-health/portalsync/internal/auth"
	"github.com/lumina-health/portalsync/internal/config"
	"github.com/lumina-health/portalsync/internal/messaging"
	"github.com/lumina-health/portalsync/internal/notification"
	"github.com/lumina-health/portalsync/internal/portal"
	"github.com/lumina-health/portalsync/internal/realtime"
	"github.com/lumina-health/portalsync/internal/repository"
	"github.com/lumina-health/portalsync/internal/session"
	"github.com/lumina-health/portalsync/pkg/logger"
)

func main() {
	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		ServiceName: "portalsync",
	})

	// Get configuration from environment
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize database connection
	log.Info().Str("database", cfg.DatabaseURL).Msg("Connecting to database")
	dbPool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Connect to the realtime channel
	nc, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("Failed to connect to NATS")
	}
	defer nc.Drain()
	log.Info().Str("url", cfg.NATSURL).Msg("Realtime channel connected")

	channel := realtime.NewNATSChannel(nc, log)

	// Initialize repositories
	profileRepo := repository.NewProfileRepository(dbPool, log)
	notificationRepo := repository.NewNotificationRepository(dbPool, channel, log)
	messageRepo := repository.NewMessageRepository(dbPool, log)
	appointmentRepo := repository.NewAppointmentRepository(dbPool, log)
	healthRepo := repository.NewHealthRecordRepository(dbPool, log)

	messagingService := messaging.NewService(messageRepo, channel, log)

	// Initialize the auth provider client
	provider := auth.NewClient(auth.ClientConfig{
		BaseURL: cfg.AuthURL,
		APIKey:  cfg.AuthAPIKey,
	}, log)
	defer provider.Close()

	// Initialize the session manager and resolve any existing session
	manager := session.NewManager(provider, profileRepo, log,
		session.WithInitTimeout(cfg.InitTimeout))
	defer manager.Close()

	manager.Initialize(context.Background())

	// Tie the per-user synchronizers to the session identity
	alerter := notification.NewPermissionGate(notification.LogAlerter{Log: log})
	runtime := portal.NewRuntime(manager, log,
		func() portal.Syncer {
			return notification.NewSynchronizer(notificationRepo, channel, log,
				notification.WithAlerter(alerter))
		},
		func() portal.Syncer {
			return messaging.NewInbox(messagingService, channel, log)
		},
		func() portal.Syncer {
			return portal.NewDashboard(appointmentRepo, healthRepo, log)
		},
	)
	defer runtime.Close()

	runtime.Start(context.Background())
	log.Info().Msg("Portal sync running")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down gracefully...")
}
