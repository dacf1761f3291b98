package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	lbconfig "liquiditybook/config"
	"liquiditybook/integrations/webhooks"
	"liquiditybook/observability/logging"
	telemetry "liquiditybook/observability/otel"
	"liquiditybook/services/lbpaird/config"
	"liquiditybook/services/lbpaird/events"
	"liquiditybook/services/lbpaird/history"
	"liquiditybook/services/lbpaird/ledger"
	"liquiditybook/services/lbpaird/manager"
	"liquiditybook/services/lbpaird/middleware"
	"liquiditybook/services/lbpaird/server"
	"liquiditybook/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lbpaird/config.yaml", "path to lbpaird configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("lbpaird: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("LB_ENV"))
	logger := logging.Setup("lbpaird", env, logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	logger.Info("lbpaird starting",
		"listen", cfg.ListenAddress,
		"pairs", len(cfg.Pairs),
		"history_driver", cfg.History.Driver,
		"redacted_keys", logging.SensitiveKeys())

	if !cfg.Telemetry.Disabled {
		shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
			ServiceName: "lbpaird",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.MergeHeaders(telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")), cfg.Telemetry.Headers),
			Metrics:     true,
			Traces:      true,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			log.Fatalf("lbpaird: init telemetry: %v", err)
		}
		defer func() { _ = shutdownTelemetry(context.Background()) }()
	}

	presets, err := lbconfig.Load(cfg.PresetsPath)
	if err != nil {
		log.Fatalf("lbpaird: load presets: %v", err)
	}

	snapshots, err := storage.NewLevelDB(cfg.SnapshotPath)
	if err != nil {
		log.Fatalf("lbpaird: open snapshot store: %v", err)
	}
	defer snapshots.Close()

	shares, err := ledger.Open(cfg.LedgerPath, nil)
	if err != nil {
		log.Fatalf("lbpaird: open share ledger: %v", err)
	}
	defer shares.Close()

	dsn := cfg.History.DSN
	if dsn == "" {
		if dsn, err = history.FileDSN(cfg.History.Path); err != nil {
			log.Fatalf("lbpaird: resolve history DSN: %v", err)
		}
	}
	hist, err := history.Open(cfg.History.Driver, dsn)
	if err != nil {
		log.Fatalf("lbpaird: open history: %v", err)
	}
	defer hist.Close()

	var notifier manager.Notifier
	if cfg.Webhook.Endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.Endpoint, []byte(cfg.Webhook.Secret), webhooks.WithLogger(logger))
		if err != nil {
			log.Fatalf("lbpaird: webhook dispatcher: %v", err)
		}
		defer dispatcher.Close()
		notifier = dispatcher
	}

	specs := make([]manager.PairSpec, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		activeID, err := p.InitialActiveID()
		if err != nil {
			log.Fatalf("lbpaird: pair %s: %v", p.Name, err)
		}
		specs = append(specs, manager.PairSpec{
			Name:     p.Name,
			TokenX:   common.HexToAddress(p.TokenX),
			TokenY:   common.HexToAddress(p.TokenY),
			BinStep:  p.BinStep,
			ActiveID: activeID,
		})
	}

	hub := events.NewHub()
	mgr, err := manager.New(manager.Options{
		Snapshots:     snapshots,
		Ledger:        shares,
		Presets:       presets,
		History:       hist,
		Hub:           hub,
		Notifier:      notifier,
		Logger:        logger,
		ExportBaseURL: cfg.Rewards.ExportBaseURL,
	}, specs)
	if err != nil {
		log.Fatalf("lbpaird: %v", err)
	}

	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{
		HMACSecret: cfg.Auth.JWTSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}, logger)
	if err != nil {
		log.Fatalf("lbpaird: configure admin auth: %v", err)
	}

	srv, err := server.New(server.Config{
		ListenAddress: cfg.ListenAddress,
		AdminScope:    cfg.Auth.AdminScope,
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, mgr, hub, auth, logger)
	if err != nil {
		log.Fatalf("lbpaird: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if interval := cfg.Rewards.EpochInterval.Duration; interval > 0 {
		go func() {
			if err := mgr.Run(rootCtx, interval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("epoch scheduler exited", "error", err)
				stop()
			}
		}()
	}

	if err := srv.Run(rootCtx); err != nil {
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}
}
