package usecase

import (
	"context"
	"crypto/ed25519"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/internal/infra/crypto"
)

type fakeForwarder struct {
	err   error
	calls []domain.SignedEnvelope
	hook  func(ctx context.Context) error
}

func (f *fakeForwarder) Forward(ctx context.Context, env domain.SignedEnvelope) error {
	f.calls = append(f.calls, env)
	if f.hook != nil {
		return f.hook(ctx)
	}
	return f.err
}

func (f *fakeForwarder) Target() string { return "fake://backend" }

type fakeOutbox struct {
	entries  []domain.PendingDelivery
	acked    []string
	attempts map[string]int
	maxTries int
	err      error
	ctxErr   error
}

func (o *fakeOutbox) Enqueue(ctx context.Context, env domain.SignedEnvelope, cause error) error {
	o.ctxErr = ctx.Err()
	if o.err != nil {
		return o.err
	}
	o.entries = append(o.entries, domain.PendingDelivery{ID: env.ID(), Envelope: env, Attempts: 1, LastError: cause.Error()})
	return nil
}

func (o *fakeOutbox) Pending(_ context.Context, limit int) ([]domain.PendingDelivery, error) {
	if limit < len(o.entries) {
		return append([]domain.PendingDelivery(nil), o.entries[:limit]...), nil
	}
	return append([]domain.PendingDelivery(nil), o.entries...), nil
}

func (o *fakeOutbox) Ack(_ context.Context, id string) error {
	for i, e := range o.entries {
		if e.ID == id {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			o.acked = append(o.acked, id)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (o *fakeOutbox) MarkAttempt(_ context.Context, id string, _ error) (bool, error) {
	if o.attempts == nil {
		o.attempts = map[string]int{}
	}
	for i, e := range o.entries {
		if e.ID != id {
			continue
		}
		o.attempts[id] = e.Attempts + 1
		o.entries[i].Attempts++
		if o.maxTries > 0 && o.entries[i].Attempts >= o.maxTries {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			return true, nil
		}
		return false, nil
	}
	return false, domain.ErrNotFound
}

func (o *fakeOutbox) Len(context.Context) (int, error) { return len(o.entries), nil }

type fakeLedger struct {
	receipts []domain.DeliveryReceipt
	updates  map[string]domain.DeliveryStatus
	err      error
}

func (l *fakeLedger) Record(_ context.Context, receipt domain.DeliveryReceipt) error {
	l.receipts = append(l.receipts, receipt)
	return l.err
}

func (l *fakeLedger) UpdateStatus(_ context.Context, id string, status domain.DeliveryStatus, _ int, _ string) error {
	if l.updates == nil {
		l.updates = map[string]domain.DeliveryStatus{}
	}
	l.updates[id] = status
	return l.err
}

type fakePolicy struct {
	eval domain.PolicyEvaluation
	err  error
}

func (p fakePolicy) Evaluate(context.Context, domain.PolicyInput) (domain.PolicyEvaluation, error) {
	return p.eval, p.err
}

type fakeLimiter struct {
	decision domain.RateLimitDecision
	err      error
	keys     []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (domain.RateLimitDecision, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return domain.RateLimitDecision{}, l.err
	}
	d := l.decision
	d.Limit = limit
	return d, nil
}

type failingSigner struct{ err error }

func (s failingSigner) SignRecord(domain.TelemetryRecord, *domain.SigningKey) (domain.SignedEnvelope, error) {
	return domain.SignedEnvelope{}, s.err
}

type countingMetrics struct {
	outcomes map[string]int
	signed   int
	forwards map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: map[string]int{}, forwards: map[string]int{}}
}

func (m *countingMetrics) IngestOutcome(o string)                  { m.outcomes[o]++ }
func (m *countingMetrics) SignatureCreated()                       { m.signed++ }
func (m *countingMetrics) ForwardResult(r string, _ time.Duration) { m.forwards[r]++ }
func (m *countingMetrics) OutboxPending(int)                       {}

func testKey(t *testing.T) *domain.SigningKey {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	key, err := domain.NewSigningKey(crypto.KeyIDFromPublicKey(priv.Public().(ed25519.PublicKey)), priv, domain.KeySourceInjected, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("new signing key: %v", err)
	}
	return key
}

func sampleRecord() domain.TelemetryRecord {
	return domain.TelemetryRecord{
		Version:  "1.0",
		MsgType:  "telemetry",
		DeviceID: "sonda-01",
		SiteID:   "tank-a",
		SentAt:   "2024-05-01T12:00:00Z",
		Seq:      42,
		Measurements: []domain.Measurement{
			{Parameter: "temperature", Value: 24.5, Unit: "C"},
			{Parameter: "ph", Value: 7.1, Unit: "pH"},
		},
	}
}

func newIngest(t *testing.T, fwd *fakeForwarder) *IngestTelemetry {
	return &IngestTelemetry{
		Signer:    crypto.NewService(),
		Key:       testKey(t),
		Forwarder: fwd,
	}
}

func TestIngestSignsAndForwards(t *testing.T) {
	fwd := &fakeForwarder{}
	ledger := &fakeLedger{}
	metrics := newCountingMetrics()
	uc := newIngest(t, fwd)
	uc.Ledger = ledger
	uc.Metrics = metrics

	res, err := uc.Execute(context.Background(), IngestRequest{Record: sampleRecord()})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Ack.Code != AckOK || res.Ack.Message != "OK" {
		t.Fatalf("unexpected ack: %+v", res.Ack)
	}
	if res.Delivery != domain.DeliveryStatusDelivered {
		t.Fatalf("unexpected delivery: %s", res.Delivery)
	}
	if len(fwd.calls) != 1 {
		t.Fatalf("expected one forward call, got %d", len(fwd.calls))
	}

	env := fwd.calls[0]
	raw := domain.RawEnvelope{Payload: env.CanonicalPayload(), Signature: env.Signature()}
	record, err := crypto.NewService().VerifyEnvelope(raw, uc.Key.PublicKey)
	if err != nil {
		t.Fatalf("forwarded envelope does not verify: %v", err)
	}
	if record.DeviceID != "sonda-01" || record.Seq != 42 {
		t.Fatalf("unexpected verified record: %+v", record)
	}
	if len(ledger.receipts) != 1 || ledger.receipts[0].PayloadHash != crypto.PayloadHash(env.CanonicalPayload()) {
		t.Fatalf("unexpected ledger receipts: %+v", ledger.receipts)
	}
	if metrics.signed != 1 || metrics.outcomes[OutcomeAccepted] != 1 || metrics.forwards[ForwardDelivered] != 1 {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
}

func TestIngestRejectsEmptyMeasurementsBeforeSigning(t *testing.T) {
	fwd := &fakeForwarder{}
	uc := newIngest(t, fwd)
	uc.Signer = failingSigner{err: errors.New("must not be called")}

	record := sampleRecord()
	record.Measurements = nil
	record.DeviceID = ""
	_, err := uc.Execute(context.Background(), IngestRequest{Record: record})

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Kind != domain.ValidationEmptyMeasurements {
		t.Fatalf("empty measurements must win over missing fields, got %+v", verr)
	}
	if verr.RejectionMessage() != "Nenhuma medição encontrada" {
		t.Fatalf("unexpected message: %s", verr.RejectionMessage())
	}
	if len(fwd.calls) != 0 {
		t.Fatal("rejected record must not be forwarded")
	}
}

func TestValidateRecordFieldOrder(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.TelemetryRecord)
		field  string
	}{
		{"device", func(r *domain.TelemetryRecord) { r.DeviceID = ""; r.SiteID = "" }, "device_id"},
		{"site", func(r *domain.TelemetryRecord) { r.SiteID = ""; r.Version = "" }, "site_id"},
		{"version", func(r *domain.TelemetryRecord) { r.Version = ""; r.MsgType = "" }, "version"},
		{"msg_type", func(r *domain.TelemetryRecord) { r.MsgType = "" }, "msg_type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			record := sampleRecord()
			tc.mutate(&record)
			var verr *domain.ValidationError
			if err := ValidateRecord(record); !errors.As(err, &verr) || verr.Field != tc.field {
				t.Fatalf("expected missing %s, got %v", tc.field, err)
			}
		})
	}
	if err := ValidateRecord(sampleRecord()); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}
}

func TestIngestSignedModeAcksDespiteForwardFailure(t *testing.T) {
	fwd := &fakeForwarder{err: &domain.ForwardError{StatusCode: 503}}
	uc := newIngest(t, fwd)
	uc.AckMode = AckModeSigned

	res, err := uc.Execute(context.Background(), IngestRequest{Record: sampleRecord()})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Ack.Code != AckOK {
		t.Fatalf("signed mode must ack OK, got %+v", res.Ack)
	}
	if res.Delivery != domain.DeliveryStatusFailed || res.ForwardErr == nil {
		t.Fatalf("forward failure should be reported, got %s %v", res.Delivery, res.ForwardErr)
	}
}

func TestIngestDeliveredModeAcks(t *testing.T) {
	fwd := &fakeForwarder{}
	uc := newIngest(t, fwd)
	uc.AckMode = AckModeDelivered

	res, err := uc.Execute(context.Background(), IngestRequest{Record: sampleRecord()})
	if err != nil || res.Ack.Code != AckOK {
		t.Fatalf("expected OK ack on delivery, got %+v %v", res, err)
	}

	fwd.err = errors.New("connection refused")
	res, err = uc.Execute(context.Background(), IngestRequest{Record: sampleRecord()})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Ack.Code != AckFailed || res.Ack.Message != "Falha ao encaminhar" {
		t.Fatalf("expected failed ack without outbox, got %+v", res.Ack)
	}

	outbox := &fakeOutbox{}
	uc.Outbox = outbox
	res, err = uc.Execute(context.Background(), IngestRequest{Record: sampleRecord()})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Ack.Code != AckAccepted || res.Delivery != domain.DeliveryStatusQueued {
		t.Fatalf("expected accepted ack with outbox, got %+v %s", res.Ack, res.Delivery)
	}
	if len(outbox.entries) != 1 || outbox.entries[0].ID != res.EnvelopeID {
		t.Fatalf("unexpected outbox entries: %+v", outbox.entries)
	}
}

func TestIngestCancelledCallerStillQueues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fwd := &fakeForwarder{hook: func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	}}
	outbox := &fakeOutbox{}
	metrics := newCountingMetrics()
	uc := newIngest(t, fwd)
	uc.Outbox = outbox
	uc.Metrics = metrics

	res, err := uc.Execute(ctx, IngestRequest{Record: sampleRecord()})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Delivery != domain.DeliveryStatusQueued {
		t.Fatalf("expected queued delivery, got %s", res.Delivery)
	}
	if outbox.ctxErr != nil {
		t.Fatalf("outbox must not see the cancelled context, got %v", outbox.ctxErr)
	}
	if metrics.forwards[ForwardCancelled] != 1 {
		t.Fatalf("expected cancelled forward metric, got %+v", metrics.forwards)
	}
}

func TestIngestSigningFailure(t *testing.T) {
	fwd := &fakeForwarder{}
	uc := newIngest(t, fwd)

	record := sampleRecord()
	record.Measurements[0].Value = math.Inf(1)
	_, err := uc.Execute(context.Background(), IngestRequest{Record: record})
	if !errors.Is(err, domain.ErrSigning) {
		t.Fatalf("expected ErrSigning, got %v", err)
	}

	uc.Signer = failingSigner{err: errors.New("hsm offline")}
	_, err = uc.Execute(context.Background(), IngestRequest{Record: sampleRecord()})
	if !errors.Is(err, domain.ErrSigning) {
		t.Fatalf("expected wrapped ErrSigning, got %v", err)
	}
	if len(fwd.calls) != 0 {
		t.Fatal("nothing should be forwarded when signing fails")
	}
}

func TestIngestRateLimited(t *testing.T) {
	limiter := &fakeLimiter{decision: domain.RateLimitDecision{Allowed: false}}
	fwd := &fakeForwarder{}
	uc := newIngest(t, fwd)
	uc.Limiter = limiter
	uc.RateLimit = RateLimitPolicy{Requests: 5, Window: time.Minute}

	_, err := uc.Execute(context.Background(), IngestRequest{Record: sampleRecord()})
	var rlErr *domain.RateLimitedError
	if !errors.As(err, &rlErr) || !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rlErr.Decision.Limit != 5 {
		t.Fatalf("expected decision to carry the limit, got %+v", rlErr.Decision)
	}
	if limiter.keys[0] != "device:sonda-01:endpoint:ingest" {
		t.Fatalf("unexpected limiter key: %s", limiter.keys[0])
	}
	if len(fwd.calls) != 0 {
		t.Fatal("rate limited record must not be forwarded")
	}
}

func TestIngestLimiterUnavailable(t *testing.T) {
	limiter := &fakeLimiter{err: errors.New("redis down")}
	uc := newIngest(t, &fakeForwarder{})
	uc.Limiter = limiter
	uc.RateLimit = RateLimitPolicy{Requests: 5, Window: time.Minute}

	if _, err := uc.Execute(context.Background(), IngestRequest{Record: sampleRecord()}); err != nil {
		t.Fatalf("fail-open limiter should admit, got %v", err)
	}

	uc.RateLimit.FailClosed = true
	_, err := uc.Execute(context.Background(), IngestRequest{Record: sampleRecord()})
	var rlErr *domain.RateLimitedError
	if !errors.As(err, &rlErr) || !rlErr.Unavailable {
		t.Fatalf("fail-closed limiter should reject, got %v", err)
	}
}

func TestIngestPolicyDenied(t *testing.T) {
	fwd := &fakeForwarder{}
	uc := newIngest(t, fwd)
	uc.Policy = fakePolicy{eval: domain.PolicyEvaluation{
		BundleHash: "abc",
		Result: domain.PolicyResult{Allow: false, Deny: []domain.PolicyDeny{
			{Code: "UNKNOWN_DEVICE", Message: "Dispositivo desconhecido"},
		}},
	}}

	_, err := uc.Execute(context.Background(), IngestRequest{Record: sampleRecord()})
	var denied *domain.PolicyDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected PolicyDeniedError, got %v", err)
	}
	if denied.RejectionMessage() != "Dispositivo desconhecido" {
		t.Fatalf("unexpected message: %s", denied.RejectionMessage())
	}
	if len(fwd.calls) != 0 {
		t.Fatal("denied record must not be forwarded")
	}

	uc.Policy = fakePolicy{err: errors.New("eval failed")}
	_, err = uc.Execute(context.Background(), IngestRequest{Record: sampleRecord()})
	if err == nil || errors.As(err, &denied) {
		t.Fatalf("evaluation failure must not look like a denial, got %v", err)
	}
}

func TestIngestLedgerFailureDoesNotFailRequest(t *testing.T) {
	uc := newIngest(t, &fakeForwarder{})
	uc.Ledger = &fakeLedger{err: errors.New("db down")}
	res, err := uc.Execute(context.Background(), IngestRequest{Record: sampleRecord()})
	if err != nil || res.Ack.Code != AckOK {
		t.Fatalf("ledger failure should be logged only, got %+v %v", res, err)
	}
}
