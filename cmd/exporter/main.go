package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/and161185/racknerd-exporter/internal/buildinfo"
	"github.com/and161185/racknerd-exporter/internal/collector"
	"github.com/and161185/racknerd-exporter/internal/config"
	"github.com/and161185/racknerd-exporter/internal/exporter"
	"github.com/and161185/racknerd-exporter/internal/panel"
	"github.com/and161185/racknerd-exporter/internal/server"
	"github.com/and161185/racknerd-exporter/model"
	"github.com/and161185/racknerd-exporter/storage/inmemory"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("racknerd-exporter: %v", err)
	}
}

func run(args []string) error {
	buildinfo.Print(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewConfig(args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	logger := cfg.Logger
	defer func() { _ = logger.Sync() }()

	logger.Infow("starting racknerd exporter", buildinfo.Fields()...)
	logger.Infow("config",
		"panel_url", cfg.PanelURL,
		"username", cfg.Username,
		"addr", cfg.Addr,
		"cache_ttl", cfg.CacheTTL,
		"collect_timeout", cfg.CollectTimeout,
		"scrape_timeout", cfg.ScrapeTimeout,
		"request_timeout", cfg.RequestTimeout,
		"retry_delays", cfg.RetryDelays,
		"concurrency", cfg.Concurrency,
		"trusted_subnet", cfg.TrustedSubnet,
	)

	session, err := panel.NewSession(panel.Config{
		Credentials: model.Credentials{
			BaseURL:  cfg.PanelURL,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		RequestTimeout: cfg.RequestTimeout,
		RetryDelays:    cfg.RetryDelays,
		SessionTTL:     cfg.SessionTTL,
		UserAgent:      buildinfo.UserAgent(),
	}, &http.Client{}, logger)
	if err != nil {
		return err
	}

	// The panel may be down at startup; the first scrape logs in again.
	if err := session.Login(ctx); err != nil {
		logger.Warnw("initial login failed", "error", err)
	}

	store := inmemory.NewMemStorage(ctx)
	builder := collector.NewBuilder(panel.NewClient(session, logger), cfg.Concurrency, logger)
	exp := exporter.New(builder, store, exporter.Config{
		CacheTTL:       cfg.CacheTTL,
		CollectTimeout: cfg.CollectTimeout,
		ScrapeTimeout:  cfg.ScrapeTimeout,
		Logins:         session.Logins,
	}, logger)

	srv, err := server.NewServer(store, exp, cfg)
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Infow("exporter stopped")
	return nil
}
