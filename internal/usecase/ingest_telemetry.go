package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/internal/infra/crypto"
	"github.com/mateusicomp/aqua-monitor/internal/logging"
)

type AckMode string

const (
	AckModeSigned    AckMode = "signed"
	AckModeDelivered AckMode = "delivered"
)

type AckCode int

const (
	AckOK AckCode = iota
	AckAccepted
	AckFailed
)

// Ack is the single reply owed to the submitter of an accepted record.
type Ack struct {
	Code    AckCode
	Message string
}

const (
	ackMessageOK       = "OK"
	ackMessageAccepted = "Aceito, entrega pendente"
	ackMessageFailed   = "Falha ao encaminhar"
)

const ingestRoute = "ingest"

type RateLimitPolicy struct {
	Requests   int
	Window     time.Duration
	FailClosed bool
}

type IngestRequest struct {
	Record    domain.TelemetryRecord
	Source    string
	RequestID string
}

type IngestResult struct {
	EnvelopeID string
	KID        string
	Delivery   domain.DeliveryStatus
	ForwardErr error
	RateLimit  *domain.RateLimitDecision
	Ack        Ack
}

// IngestTelemetry validates, signs and forwards one record. Rejections are
// returned as errors (*domain.ValidationError, *domain.RateLimitedError,
// *domain.PolicyDeniedError); a signing failure wraps domain.ErrSigning.
// Forwarding failures never produce an error, only a delivery status.
type IngestTelemetry struct {
	Signer    Signer
	Key       *domain.SigningKey
	Forwarder Forwarder

	Outbox  Outbox
	Ledger  DeliveryLedger
	Policy  IngestPolicy
	Limiter domain.RateLimiter

	RateLimit RateLimitPolicy
	AckMode   AckMode
	Metrics   Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

func (uc *IngestTelemetry) Execute(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	log := uc.logger().With(slog.String("device_id", req.Record.DeviceID), slog.Uint64("seq", req.Record.Seq))
	if req.RequestID != "" {
		log = log.With(slog.String("request_id", req.RequestID))
	}
	metrics := uc.metrics()

	if err := ValidateRecord(req.Record); err != nil {
		metrics.IngestOutcome(OutcomeRejected)
		log.Info("ingest_rejected", slog.Any("err", err))
		return nil, err
	}

	result := &IngestResult{}
	decision, err := uc.checkRateLimit(ctx, req.Record.DeviceID)
	if err != nil {
		metrics.IngestOutcome(OutcomeRateLimited)
		log.Warn("ingest_rate_limited", slog.Any("err", err))
		return nil, err
	}
	result.RateLimit = decision

	if uc.Policy != nil {
		eval, err := uc.Policy.Evaluate(ctx, domain.PolicyInput{Record: req.Record, Source: req.Source})
		if err != nil {
			metrics.IngestOutcome(OutcomeError)
			log.Error("ingest_policy_failed", slog.Any("err", err))
			return nil, err
		}
		if !eval.Result.Allow {
			metrics.IngestOutcome(OutcomeDenied)
			log.Info("ingest_policy_denied", slog.String("bundle_hash", eval.BundleHash), slog.Any("deny", eval.Result.Deny))
			return nil, &domain.PolicyDeniedError{Evaluation: eval}
		}
	}

	if uc.Signer == nil || uc.Key == nil {
		metrics.IngestOutcome(OutcomeError)
		return nil, errors.Join(domain.ErrSigning, errors.New("signer is not configured"))
	}
	env, err := uc.Signer.SignRecord(req.Record, uc.Key)
	if err != nil {
		metrics.IngestOutcome(OutcomeError)
		log.Error("sign_failed", slog.Any("err", err))
		if !errors.Is(err, domain.ErrSigning) {
			err = errors.Join(domain.ErrSigning, err)
		}
		return nil, err
	}
	metrics.SignatureCreated()
	result.EnvelopeID = env.ID()
	result.KID = env.KeyID()
	log = log.With(slog.String("envelope_id", env.ID()), slog.String("kid", env.KeyID()))

	result.Delivery, result.ForwardErr = uc.deliver(ctx, env, log)
	uc.recordReceipt(ctx, env, result, log)

	result.Ack = uc.ack(result.Delivery)
	metrics.IngestOutcome(OutcomeAccepted)
	return result, nil
}

func (uc *IngestTelemetry) checkRateLimit(ctx context.Context, deviceID string) (*domain.RateLimitDecision, error) {
	if uc.Limiter == nil || uc.RateLimit.Requests <= 0 {
		return nil, nil
	}
	decision, err := uc.Limiter.Allow(ctx, domain.DeviceRateLimitKey(deviceID, ingestRoute), uc.RateLimit.Requests, uc.RateLimit.Window)
	if err != nil {
		if uc.RateLimit.FailClosed {
			return nil, &domain.RateLimitedError{Unavailable: true, Err: err}
		}
		uc.logger().Warn("rate_limiter_unavailable", slog.Any("err", err))
		return nil, nil
	}
	if !decision.Allowed {
		return nil, &domain.RateLimitedError{Decision: decision}
	}
	return &decision, nil
}

// deliver makes one forwarding call. On failure the envelope goes to the
// outbox when one is configured; a cancelled caller still leaves it there.
func (uc *IngestTelemetry) deliver(ctx context.Context, env domain.SignedEnvelope, log *slog.Logger) (domain.DeliveryStatus, error) {
	metrics := uc.metrics()
	if uc.Forwarder == nil {
		return domain.DeliveryStatusFailed, errors.New("forwarder is not configured")
	}

	start := uc.now()
	err := uc.Forwarder.Forward(ctx, env)
	elapsed := uc.now().Sub(start)
	if err == nil {
		metrics.ForwardResult(ForwardDelivered, elapsed)
		log.Info("forward_delivered", slog.String("target", uc.Forwarder.Target()), slog.Duration("elapsed", elapsed))
		return domain.DeliveryStatusDelivered, nil
	}

	if ctx.Err() != nil {
		metrics.ForwardResult(ForwardCancelled, elapsed)
		log.Warn("forward_cancelled", slog.String("target", uc.Forwarder.Target()), slog.Any("err", err))
	} else {
		metrics.ForwardResult(ForwardFailed, elapsed)
		log.Error("forward_failed", slog.String("target", uc.Forwarder.Target()), slog.Any("err", err))
	}

	if uc.Outbox == nil {
		return domain.DeliveryStatusFailed, err
	}
	if qerr := uc.Outbox.Enqueue(context.WithoutCancel(ctx), env, err); qerr != nil {
		log.Error("outbox_enqueue_failed", slog.Any("err", qerr))
		return domain.DeliveryStatusFailed, err
	}
	log.Info("outbox_enqueued")
	if n, lerr := uc.Outbox.Len(context.WithoutCancel(ctx)); lerr == nil {
		metrics.OutboxPending(n)
	}
	return domain.DeliveryStatusQueued, err
}

func (uc *IngestTelemetry) recordReceipt(ctx context.Context, env domain.SignedEnvelope, result *IngestResult, log *slog.Logger) {
	if uc.Ledger == nil {
		return
	}
	record := env.Payload()
	now := uc.now().UTC()
	receipt := domain.DeliveryReceipt{
		EnvelopeID:  env.ID(),
		DeviceID:    record.DeviceID,
		SiteID:      record.SiteID,
		Seq:         record.Seq,
		KID:         env.KeyID(),
		PayloadHash: crypto.PayloadHash(env.CanonicalPayload()),
		Signature:   env.Signature(),
		Status:      result.Delivery,
		Attempts:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if result.ForwardErr != nil {
		receipt.LastError = result.ForwardErr.Error()
	}
	if err := uc.Ledger.Record(context.WithoutCancel(ctx), receipt); err != nil {
		log.Error("ledger_record_failed", slog.Any("err", err))
	}
}

func (uc *IngestTelemetry) ack(status domain.DeliveryStatus) Ack {
	if uc.AckMode != AckModeDelivered {
		return Ack{Code: AckOK, Message: ackMessageOK}
	}
	switch status {
	case domain.DeliveryStatusDelivered:
		return Ack{Code: AckOK, Message: ackMessageOK}
	case domain.DeliveryStatusQueued:
		return Ack{Code: AckAccepted, Message: ackMessageAccepted}
	default:
		return Ack{Code: AckFailed, Message: ackMessageFailed}
	}
}

func (uc *IngestTelemetry) logger() *slog.Logger {
	if uc.Logger == nil {
		return logging.Discard()
	}
	return uc.Logger
}

func (uc *IngestTelemetry) metrics() Metrics {
	if uc.Metrics == nil {
		return noopMetrics{}
	}
	return uc.Metrics
}

func (uc *IngestTelemetry) now() time.Time {
	if uc.Now == nil {
		return time.Now()
	}
	return uc.Now()
}
