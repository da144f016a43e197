package usecase

import (
	"context"
	"crypto/ed25519"
	"errors"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

type VerifyEnvelopeResult struct {
	KID    string
	Record domain.TelemetryRecord
}

// VerifyEnvelope checks an envelope produced by this gateway against the
// active key. Failures wrap domain.ErrInvalidEnvelope or
// domain.ErrSignatureInvalid.
type VerifyEnvelope struct {
	Verifier EnvelopeVerifier
	Key      *domain.SigningKey
}

func (uc *VerifyEnvelope) Execute(_ context.Context, body []byte) (*VerifyEnvelopeResult, error) {
	if uc.Verifier == nil || uc.Key == nil {
		return nil, errors.New("verifier is not configured")
	}
	env, err := uc.Verifier.DecodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	record, err := uc.Verifier.VerifyEnvelope(env, ed25519.PublicKey(uc.Key.PublicKey))
	if err != nil {
		return nil, err
	}
	return &VerifyEnvelopeResult{KID: uc.Key.KID, Record: record}, nil
}
