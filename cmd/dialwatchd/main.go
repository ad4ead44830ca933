package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dialwatch/internal/calls"
	"dialwatch/internal/config"
	"dialwatch/internal/daemon"
	"dialwatch/internal/engine"
	"dialwatch/internal/logging"
	"dialwatch/internal/notifications"
	"dialwatch/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	archive, err := store.Open(cfg.Paths.StateDir)
	if err != nil {
		logger.Error("open snapshot archive", logging.Error(err))
		os.Exit(1)
	}

	vendor, err := calls.New(cfg.Vendor.BaseURL, cfg.Vendor.APIKey,
		time.Duration(cfg.Vendor.RequestTimeout)*time.Second)
	if err != nil {
		logger.Error("create vendor client", logging.Error(err))
		os.Exit(1)
	}
	notifier := notifications.NewService(cfg)
	eng := engine.New(engine.OptionsFromConfig(cfg), vendor, archive, notifier, logger)

	d, err := daemon.New(cfg, eng, archive, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("dialwatchd shutting down")
}
