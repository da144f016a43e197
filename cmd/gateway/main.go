package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mateusicomp/aqua-monitor/internal/config"
	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/internal/infra/crypto"
	"github.com/mateusicomp/aqua-monitor/internal/infra/db"
	"github.com/mateusicomp/aqua-monitor/internal/infra/forward"
	httpinfra "github.com/mateusicomp/aqua-monitor/internal/infra/http"
	"github.com/mateusicomp/aqua-monitor/internal/infra/keys/soft"
	"github.com/mateusicomp/aqua-monitor/internal/infra/metrics"
	"github.com/mateusicomp/aqua-monitor/internal/infra/mqtt"
	"github.com/mateusicomp/aqua-monitor/internal/infra/outbox"
	"github.com/mateusicomp/aqua-monitor/internal/infra/policyopa"
	"github.com/mateusicomp/aqua-monitor/internal/infra/ratelimit"
	"github.com/mateusicomp/aqua-monitor/internal/logging"
	"github.com/mateusicomp/aqua-monitor/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	logging.Install(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	key, err := soft.NewStoreFromConfig(cfg).Initialize(ctx)
	if err != nil {
		var loadErr *domain.KeyLoadError
		if errors.As(err, &loadErr) {
			logger.Error("signing_key_unusable", slog.String("path", loadErr.Path), slog.Any("err", loadErr.Err))
		} else {
			logger.Error("signing_key_failed", slog.Any("err", err))
		}
		return 1
	}
	logger.Info("signing_key_ready", slog.String("kid", key.KID), slog.String("source", string(key.Source)))

	store, err := db.NewStore(cfg, logger)
	if err != nil {
		logger.Error("store_init_failed", slog.Any("err", err))
		return 1
	}
	defer store.Close()

	collectors := metrics.New(prometheus.DefaultRegisterer)
	svc := crypto.NewService()

	fwd, err := forward.FromConfig(cfg)
	if err != nil {
		logger.Error("forwarder_init_failed", slog.Any("err", err))
		return 1
	}
	defer fwd.Close()

	ingest := &usecase.IngestTelemetry{
		Signer:    svc,
		Key:       key,
		Forwarder: fwd,
		AckMode:   usecase.AckMode(cfg.AckMode),
		Metrics:   collectors,
		Logger:    logger,
	}

	limiter, err := ratelimit.FromConfig(cfg)
	if err != nil {
		logger.Error("rate_limiter_init_failed", slog.Any("err", err))
		return 1
	}
	if limiter != nil {
		defer limiter.Close()
		ingest.Limiter = limiter
		ingest.RateLimit = usecase.RateLimitPolicy{
			Requests:   cfg.RateLimitRequests,
			Window:     cfg.RateLimitWindow(),
			FailClosed: cfg.RateLimitFailClosed,
		}
	}

	if cfg.IngestPolicyPath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(ctx, cfg.IngestPolicyPath)
		if err != nil {
			logger.Error("policy_init_failed", slog.String("path", cfg.IngestPolicyPath), slog.Any("err", err))
			return 1
		}
		logger.Info("policy_loaded", slog.String("bundle_hash", engine.BundleHash()))
		ingest.Policy = engine
	}

	var receipts httpinfra.ReceiptReader
	if store.Enabled() {
		ledger := db.NewDeliveryReceiptRepository(store.DB)
		ingest.Ledger = ledger
		receipts = ledger
		publish := &usecase.PublishSigningKey{Publisher: db.NewSigningKeyRepository(store.DB)}
		if _, err := publish.Execute(ctx, key); err != nil {
			logger.Warn("signing_key_publish_failed", slog.Any("err", err))
		}
	}

	var wg sync.WaitGroup
	if cfg.OutboxDir != "" {
		box, err := outbox.Open(outbox.Options{Dir: cfg.OutboxDir, MaxAttempts: cfg.OutboxMaxAttempts})
		if err != nil {
			logger.Error("outbox_init_failed", slog.String("dir", cfg.OutboxDir), slog.Any("err", err))
			return 1
		}
		defer box.Close()
		ingest.Outbox = box
		redeliver := &usecase.RedeliverOutbox{
			Outbox:    box,
			Forwarder: fwd,
			Ledger:    ingest.Ledger,
			Metrics:   collectors,
			Logger:    logger,
			Interval:  cfg.OutboxInterval(),
			BatchSize: cfg.OutboxBatchSize,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = redeliver.Run(ctx)
		}()
	}

	if cfg.MQTTBrokerURL != "" {
		attempts := cfg.ForwardRetryAttempts
		if attempts < 1 {
			attempts = 1
		}
		sub, err := mqtt.NewSubscriber(mqtt.Config{
			BrokerURL:     cfg.MQTTBrokerURL,
			Topic:         cfg.MQTTTopic,
			ClientID:      cfg.MQTTClientID,
			Username:      cfg.MQTTUsername,
			Password:      cfg.MQTTPassword,
			HandleTimeout: cfg.ForwardTimeout() * time.Duration(attempts),
		}, ingest, logger)
		if err != nil {
			logger.Error("mqtt_init_failed", slog.Any("err", err))
			return 1
		}
		if err := sub.Start(ctx); err != nil {
			logger.Error("mqtt_start_failed", slog.Any("err", err))
			return 1
		}
		defer sub.Stop()
	}

	srv := httpinfra.NewServerWithDeps(cfg, httpinfra.ServerDeps{
		Ingest:    ingest,
		Verify:    &usecase.VerifyEnvelope{Verifier: svc, Key: key},
		Receipts:  receipts,
		Key:       key,
		Metrics:   collectors,
		Gatherer:  prometheus.DefaultGatherer,
		DBEnabled: store.Enabled(),
		Logger:    logger,
	})
	err = srv.Run(ctx, shutdownTimeout)
	stop()
	wg.Wait()
	if err != nil {
		logger.Error("server_exited", slog.Any("err", err))
		return 1
	}
	logger.Info("shutdown_complete")
	return 0
}
