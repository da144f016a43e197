package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/internal/logging"
)

const (
	defaultRedeliverInterval  = 30 * time.Second
	defaultRedeliverBatchSize = 100
)

// RedeliverOutbox drains queued envelopes in FIFO order. Entries that exhaust
// their attempts are moved aside by the outbox and reported as dead.
type RedeliverOutbox struct {
	Outbox    Outbox
	Forwarder Forwarder
	Ledger    DeliveryLedger
	Metrics   Metrics
	Logger    *slog.Logger
	Interval  time.Duration
	BatchSize int
}

type RedeliverStats struct {
	Delivered int
	Failed    int
	Dead      int
}

func (uc *RedeliverOutbox) Run(ctx context.Context) error {
	interval := uc.Interval
	if interval <= 0 {
		interval = defaultRedeliverInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := uc.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				uc.logger().Error("outbox_redeliver_failed", slog.Any("err", err))
			}
		}
	}
}

// RunOnce makes a single pass over at most BatchSize pending entries. It
// stops at the first failed delivery so later entries keep their order.
func (uc *RedeliverOutbox) RunOnce(ctx context.Context) (RedeliverStats, error) {
	var stats RedeliverStats
	if uc.Outbox == nil || uc.Forwarder == nil {
		return stats, errors.New("outbox redelivery is not configured")
	}
	limit := uc.BatchSize
	if limit <= 0 {
		limit = defaultRedeliverBatchSize
	}
	pending, err := uc.Outbox.Pending(ctx, limit)
	if err != nil {
		return stats, err
	}
	log := uc.logger()
	metrics := uc.metrics()
	for _, entry := range pending {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		start := time.Now()
		ferr := uc.Forwarder.Forward(ctx, entry.Envelope)
		elapsed := time.Since(start)
		if ferr == nil {
			metrics.ForwardResult(ForwardDelivered, elapsed)
			if err := uc.Outbox.Ack(ctx, entry.ID); err != nil {
				return stats, err
			}
			stats.Delivered++
			uc.updateLedger(ctx, entry.ID, domain.DeliveryStatusDelivered, entry.Attempts+1, "")
			log.Info("outbox_delivered", slog.String("envelope_id", entry.ID), slog.Int("attempts", entry.Attempts+1))
			continue
		}

		if ctx.Err() != nil {
			metrics.ForwardResult(ForwardCancelled, elapsed)
			return stats, ctx.Err()
		}
		metrics.ForwardResult(ForwardFailed, elapsed)
		dead, err := uc.Outbox.MarkAttempt(ctx, entry.ID, ferr)
		if err != nil {
			return stats, err
		}
		if dead {
			stats.Dead++
			uc.updateLedger(ctx, entry.ID, domain.DeliveryStatusDead, entry.Attempts+1, ferr.Error())
			log.Error("outbox_dead_letter", slog.String("envelope_id", entry.ID), slog.Any("err", ferr))
			continue
		}
		stats.Failed++
		uc.updateLedger(ctx, entry.ID, domain.DeliveryStatusQueued, entry.Attempts+1, ferr.Error())
		log.Warn("outbox_redeliver_deferred", slog.String("envelope_id", entry.ID), slog.Any("err", ferr))
		break
	}
	if n, err := uc.Outbox.Len(ctx); err == nil {
		metrics.OutboxPending(n)
	}
	return stats, nil
}

func (uc *RedeliverOutbox) updateLedger(ctx context.Context, id string, status domain.DeliveryStatus, attempts int, lastError string) {
	if uc.Ledger == nil {
		return
	}
	if err := uc.Ledger.UpdateStatus(context.WithoutCancel(ctx), id, status, attempts, lastError); err != nil {
		uc.logger().Error("ledger_update_failed", slog.String("envelope_id", id), slog.Any("err", err))
	}
}

func (uc *RedeliverOutbox) logger() *slog.Logger {
	if uc.Logger == nil {
		return logging.Discard()
	}
	return uc.Logger
}

func (uc *RedeliverOutbox) metrics() Metrics {
	if uc.Metrics == nil {
		return noopMetrics{}
	}
	return uc.Metrics
}
