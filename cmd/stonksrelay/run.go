package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stonksrelay/internal/audit"
	"stonksrelay/internal/bus"
	"stonksrelay/internal/channel"
	"stonksrelay/internal/config"
	"stonksrelay/internal/domain"
	"stonksrelay/internal/journal"
	"stonksrelay/internal/metrics"
	"stonksrelay/internal/relay"
	"stonksrelay/internal/webhook"

	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and start relaying messages",
		Long:  "Connects to the Discord gateway and forwards triggered messages to the configured webhook. Press Ctrl+C to stop.",
		RunE:  runRelay,
	}
}

// loadRuntimeConfig reads the config file (or defaults), overlays the
// environment and checks everything the relay needs to start.
func loadRuntimeConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, found, err := config.LoadOrDefaults(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if !found {
		logger.Info("config file not found, using defaults and environment", "path", cfgPath)
	}
	config.ApplyEnv(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if err := config.RequireCredentials(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadRuntimeConfig()
	if err != nil {
		return err
	}

	log, logCloser, err := newLogger(cfg.General)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := bus.NewEventBus(logger)

	if cfg.Journal.Enabled {
		store, err := journal.Open(cfg.Journal.DBPath, logger)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}

		retention := time.Duration(cfg.Journal.RetentionDays) * 24 * time.Hour
		if n, err := store.Prune(ctx, retention); err != nil {
			logger.Warn("journal prune failed", "err", err)
		} else if n > 0 {
			logger.Info("journal pruned", "rows", n, "retention_days", cfg.Journal.RetentionDays)
		}
		// Deliveries still running after a shutdown timeout must not reach a closed store.
		id := events.On("*", store.Handler())
		defer func() {
			events.Off("*", id)
			store.Close()
		}()
		logger.Info("delivery journal enabled", "path", cfg.Journal.DBPath)
	}

	if cfg.Metrics.Enabled {
		relayMetrics := metrics.NewRelayMetrics(metrics.NewCollector(metrics.Namespace))
		events.On("*", relayMetrics.Handler())
		srv := metrics.NewServer(metrics.ServerConfig{
			Host:   cfg.Metrics.Host,
			Port:   cfg.Metrics.Port,
			Path:   cfg.Metrics.Path,
			Logger: logger,
		}, relayMetrics.Collector())
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	if cfg.Audit.Enabled {
		pub, err := audit.Dial(audit.Config{
			URL:      cfg.Audit.URL,
			Exchange: cfg.Audit.Exchange,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		id := events.On("*", pub.Handler())
		defer func() {
			events.Off("*", id)
			pub.Close()
		}()
	}
	logger.Debug("event bus ready", "subscribers", events.HandlerCount("*"))

	forwarder := webhook.NewForwarder(webhook.Config{
		URL:     cfg.Webhook.URL,
		Secret:  cfg.Webhook.Secret,
		Headers: cfg.Webhook.Headers,
		Timeout: time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	discord, err := channel.NewDiscord(channel.DiscordConfig{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	r := relay.New(relay.Config{
		Rules: relay.Rules{
			DirectMessage: cfg.Discord.Triggers.DirectMessage,
			Prefix:        cfg.Discord.Prefix,
			Mention:       cfg.Discord.Triggers.Mention,
			Reply:         cfg.Discord.Triggers.Reply,
		},
		Reactions: relay.Reactions{
			Success: cfg.Discord.Reactions.Success,
			Failure: cfg.Discord.Reactions.Failure,
		},
		FailureReply:  cfg.Discord.FailureReply,
		LookupTimeout: time.Duration(cfg.Discord.LookupTimeoutSeconds) * time.Second,
		Forwarder:     forwarder,
		Reactor:       discord,
		Lookup:        discord,
		Events:        events,
		Logger:        logger,
	})

	onMessage := func(ctx context.Context, msg domain.IncomingMessage) {
		r.Handle(ctx, msg)
	}
	onReady := func(userID, username string) {
		r.SetIdentity(relay.Identity{UserID: userID, Username: username})
	}
	if err := discord.Open(ctx, onMessage, onReady); err != nil {
		return err
	}

	logger.Info("relay started. Press Ctrl+C to stop.",
		"version", version,
		"prefix", cfg.Discord.Prefix,
		"guild_filter", cfg.Discord.GuildID,
	)

	<-ctx.Done()
	logger.Info("shutting down relay...")

	shutdownTimeout := time.Duration(cfg.General.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := r.Close(shutdownCtx); err != nil {
		logger.Warn("shutdown timed out with deliveries in flight", "err", err)
		shutdownErr = fmt.Errorf("shutdown timed out")
	}
	if err := discord.Close(); err != nil {
		logger.Warn("discord close failed", "err", err)
	}
	if shutdownErr == nil {
		logger.Info("shutdown complete")
	}
	return shutdownErr
}
