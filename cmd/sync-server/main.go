package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"therapy-chat-sync/internal/api"
	"therapy-chat-sync/internal/api/router"
	"therapy-chat-sync/internal/config"
	"therapy-chat-sync/internal/database"
	"therapy-chat-sync/internal/feed"
	"therapy-chat-sync/internal/jwt"
	"therapy-chat-sync/internal/observability"
	"therapy-chat-sync/internal/queue"
	"therapy-chat-sync/internal/service/appointment"
	"therapy-chat-sync/internal/service/conversation"
	"therapy-chat-sync/internal/service/message"
	"therapy-chat-sync/internal/service/sweep"
	"therapy-chat-sync/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.GetLogger().Fatal().Err(err).Msg("config load failed")
	}
	if err := run(cfg); err != nil {
		observability.GetLogger().Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config) error {
	observability.InitLogger(cfg.Telemetry.ServiceName, cfg.Environment, cfg.Logging.Level, cfg.Logging.File)
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Environment != "production",
	})
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	client, err := database.NewDynamoDBClient(ctx, cfg.Dynamo)
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}

	redisClient := feed.NewRedisClient(cfg.Feed)
	defer redisClient.Close()
	notifier := feed.NewRedis(redisClient)
	if err := notifier.Ping(ctx); err != nil {
		logger.Warn().Err(err).Msg("change feed unreachable, subscriptions fall back to resync")
	}

	store := database.NewStore(client,
		database.WithTablePrefix(cfg.Dynamo.TablePrefix),
		database.WithNotifier(notifier),
		database.WithResync(cfg.Feed.Resync),
	)

	conversations := conversation.New(store)
	runner := sweep.NewRunner(
		sweep.NewJob(conversations,
			sweep.WithConcurrency(cfg.Sweep.Concurrency),
			sweep.WithCacheRepair(cfg.Sweep.CacheRepair),
		),
		cfg.Sweep.Interval,
	)
	appointments := appointment.New(store, conversations,
		appointment.WithDuration(cfg.Booking.Duration),
		appointment.WithSweepTrigger(runner),
	)
	messages := message.New(store, message.WithMaxLength(cfg.Messaging.MaxLength))

	hub := websocket.NewHub()
	handler := websocket.NewHandler(hub, messages,
		websocket.WithPublisher(websocket.NewPublisher(redisClient)),
		websocket.WithAllowedOrigins(cfg.Auth.AllowedOrigins),
	)

	signer, err := jwt.NewSigner(cfg.Auth.UserSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("token signer init: %w", err)
	}

	queueManager := queue.NewRequestQueueManager(cfg.Queue.Size, cfg.Queue.Workers)
	defer queueManager.Shutdown()

	server := api.NewAPIServer(
		api.Options{
			ListenAddr:     cfg.ListenAddr,
			AllowedOrigins: cfg.Auth.AllowedOrigins,
			Auth:           signer,
		},
		queueManager,
		api.Services{
			Conversations: conversations,
			Appointments:  appointments,
			Messages:      messages,
			Sweep:         runner,
		},
		handler,
		router.UtilsRoutes("/api/v1"),
		router.AppointmentRoutes("/api/v1"),
		router.ConversationRoutes("/api/v1"),
		router.ConversationWebsocketRoutes("/api/ws/v1"),
		router.WebsocketRoomsRoutes("/api/ws/v1"),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := handler.ListenForNotices(gctx); err != nil {
			// Room notices still reach local clients without Redis.
			logger.Warn().Err(err).Msg("room notice listener stopped")
		}
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	return g.Wait()
}
