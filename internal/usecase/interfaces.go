package usecase

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

type Signer interface {
	SignRecord(record domain.TelemetryRecord, key *domain.SigningKey) (domain.SignedEnvelope, error)
}

type EnvelopeVerifier interface {
	DecodeEnvelope(body []byte) (domain.RawEnvelope, error)
	VerifyEnvelope(env domain.RawEnvelope, pubKey ed25519.PublicKey) (domain.TelemetryRecord, error)
}

type Forwarder interface {
	Forward(ctx context.Context, env domain.SignedEnvelope) error
	Target() string
}

type Outbox interface {
	Enqueue(ctx context.Context, env domain.SignedEnvelope, cause error) error
	Pending(ctx context.Context, limit int) ([]domain.PendingDelivery, error)
	Ack(ctx context.Context, id string) error
	MarkAttempt(ctx context.Context, id string, cause error) (dead bool, err error)
	Len(ctx context.Context) (int, error)
}

type DeliveryLedger interface {
	Record(ctx context.Context, receipt domain.DeliveryReceipt) error
	UpdateStatus(ctx context.Context, envelopeID string, status domain.DeliveryStatus, attempts int, lastError string) error
}

type IngestPolicy interface {
	Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyEvaluation, error)
}

type KeyPublisher interface {
	Publish(ctx context.Context, key domain.PublishedKey) error
	GetByKID(ctx context.Context, kid string) (*domain.PublishedKey, error)
}

type Metrics interface {
	IngestOutcome(outcome string)
	SignatureCreated()
	ForwardResult(result string, elapsed time.Duration)
	OutboxPending(n int)
}

const (
	OutcomeAccepted    = "accepted"
	OutcomeRejected    = "rejected"
	OutcomeInvalidJSON = "invalid_json"
	OutcomeRateLimited = "rate_limited"
	OutcomeDenied      = "policy_denied"
	OutcomeError       = "error"

	ForwardDelivered = "delivered"
	ForwardFailed    = "failed"
	ForwardCancelled = "cancelled"
)

type noopMetrics struct{}

func (noopMetrics) IngestOutcome(string)                {}
func (noopMetrics) SignatureCreated()                   {}
func (noopMetrics) ForwardResult(string, time.Duration) {}
func (noopMetrics) OutboxPending(int)                   {}
