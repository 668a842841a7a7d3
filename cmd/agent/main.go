package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/family-sync/internal/api"
	"github.com/example/family-sync/internal/chat"
	"github.com/example/family-sync/internal/config"
	"github.com/example/family-sync/internal/netmon"
	"github.com/example/family-sync/internal/observability"
	"github.com/example/family-sync/internal/oplog"
	"github.com/example/family-sync/internal/realtime"
	"github.com/example/family-sync/internal/reconcile"
	"github.com/example/family-sync/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	st, err := store.OpenBolt(cfg.StorePath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.StorePath).Msg("failed to open local store")
	}
	defer st.Close()

	tokens := api.LoadTokens(ctx, st)
	client, err := api.NewClient(cfg.ServerURL, tokens, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("url", cfg.ServerURL).Msg("invalid server url")
	}

	monitor := netmon.New(cfg.ServerURL, cfg.ProbeInterval, logger)
	go monitor.Run(ctx)

	queue := oplog.Open(ctx, st, logger)
	engine := reconcile.New(st, queue, client, client, monitor, logger)

	chatSvc, err := chat.New(ctx, st, client, nil, chat.User{ID: cfg.UserID, Name: cfg.UserName}, logger, chat.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize chat")
	}

	transport := realtime.New(client.WebsocketURL(), chatSvc, logger, realtime.Options{
		HeartbeatInterval:    cfg.HeartbeatInterval,
		WatchdogTimeout:      cfg.WatchdogTimeout,
		ReconnectBase:        cfg.ReconnectBase,
		ReconnectCap:         cfg.ReconnectCap,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Header: func() http.Header {
			h := http.Header{}
			if access := tokens.Access(); access != "" {
				h.Set("Authorization", "Bearer "+access)
			}
			return h
		},
	})
	chatSvc.SetSender(transport)
	transport.Connect(ctx)

	// Coming back online is the moment queued work becomes pushable.
	monitor.SetOnChange(func(online bool) {
		if !online {
			return
		}
		go func() {
			if err := engine.Sync(context.Background()); err != nil {
				logger.Warn().Err(err).Msg("sync after reconnect failed")
			}
		}()
	})

	go syncLoop(ctx, engine, logger, cfg.SyncInterval)

	if err := chatSvc.LoadHistory(ctx, 50, 0); err != nil {
		logger.Warn().Err(err).Msg("initial chat history load failed")
	}

	logger.Info().Msg("agent started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	transport.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		st.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Error().Err(shutdownCtx.Err()).Msg("forced shutdown")
	}
}

func syncLoop(ctx context.Context, engine *reconcile.Engine, logger zerolog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := engine.Sync(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial sync failed")
	}
	for {
		select {
		case <-ticker.C:
			if err := engine.Sync(ctx); err != nil {
				logger.Warn().Err(err).Msg("periodic sync failed")
			} else {
				logger.Debug().Msg("sync pass complete")
			}
		case <-ctx.Done():
			return
		}
	}
}
