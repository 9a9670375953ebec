package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/NgigiN/qris-gateway/internal/allocator"
	"github.com/NgigiN/qris-gateway/internal/config"
	"github.com/NgigiN/qris-gateway/internal/discord"
	"github.com/NgigiN/qris-gateway/internal/feed"
	"github.com/NgigiN/qris-gateway/internal/lifecycle"
	"github.com/NgigiN/qris-gateway/internal/logging"
	"github.com/NgigiN/qris-gateway/internal/payment"
	"github.com/NgigiN/qris-gateway/internal/qrimage"
	"github.com/NgigiN/qris-gateway/internal/server"
	"github.com/NgigiN/qris-gateway/internal/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the lifecycle controller",
		RunE:  runServe,
	}
}

// loadEnv reads .env when present; the process environment always wins.
func loadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error loading .env file: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadEnv(); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.RequireGateway(); err != nil {
		logger.Warn("gateway not fully configured; create requests will fail", "error", err)
	}

	store := storage.NewStore()

	var archive *storage.Archive
	if cfg.Archive.Path != "" {
		archive, err = storage.OpenArchive(cfg.Archive.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := archive.Close(); err != nil {
				logger.Warn("failed to close archive", "error", err)
			}
		}()
		logger.Info("archiving removed transactions", "path", cfg.Archive.Path)
	}

	var feedClient feed.Client
	if cfg.Feed.Configured() {
		feedClient = feed.NewHTTPClient(logger, feed.Options{
			BaseURL:    cfg.Feed.BaseURL,
			MerchantID: cfg.Feed.MerchantID,
			APIKey:     cfg.Feed.APIKey,
			Timeout:    cfg.Feed.Timeout,
		})
	}

	ctrlOpts := []lifecycle.Option{}
	payOpts := []payment.Option{}
	if archive != nil {
		ctrlOpts = append(ctrlOpts, lifecycle.WithArchive(archive))
	}
	if feedClient != nil {
		ctrlOpts = append(ctrlOpts, lifecycle.WithFeed(feedClient, cfg.Gateway.ConfirmInterval))
	}

	var bot *discord.Bot
	if cfg.Discord.Enabled() {
		bot, err = discord.NewBot(cfg.Discord.BotToken, cfg.Discord.ChannelID, store, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize the discord bot: %w", err)
		}
		if err := bot.Start(); err != nil {
			return err
		}
		defer bot.Stop()
		ctrlOpts = append(ctrlOpts, lifecycle.WithNotifier(bot))
		payOpts = append(payOpts, payment.WithNotifier(bot))
		logger.Info("discord notifications enabled", "channel", cfg.Discord.ChannelID)
	}

	alloc := allocator.New(feedClient, store, logger)
	payments := payment.NewService(cfg, alloc, store, qrimage.New(), logger, payOpts...)
	ctrl := lifecycle.New(store, logger, ctrlOpts...)

	api := server.NewAPIHandlers(logger, server.HandlerDependencies{
		Payments:  payments,
		Lifecycle: ctrl,
		Records:   store,
		Archive:   archiveCounter(archive),
	})
	router := server.NewRouter(logger, server.RouterDependencies{
		Health:         server.GatewayHealth{Config: cfg, Store: store},
		API:            api,
		AllowedOrigins: splitOrigins(cfg.HTTP.AllowedOriginsCSV),
	})
	httpServer := server.New(logger, cfg.HTTP, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		_ = ctrl.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server error", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	<-ctrlDone

	logger.Info("server stopped")
	return nil
}

// archiveCounter keeps a nil *storage.Archive from becoming a non-nil interface.
func archiveCounter(a *storage.Archive) server.ArchiveCounter {
	if a == nil {
		return nil
	}
	return a
}

func splitOrigins(csv string) []string {
	var origins []string
	for _, o := range strings.Split(csv, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
