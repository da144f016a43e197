package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

type Service struct {
	NewID func() string
}

func NewService() *Service {
	return &Service{NewID: uuid.NewString}
}

// SignRecord canonicalizes record, signs the canonical bytes with key and
// returns the envelope. An error here is an internal failure, never a
// rejection of the submitter's data.
func (s *Service) SignRecord(record domain.TelemetryRecord, key *domain.SigningKey) (domain.SignedEnvelope, error) {
	if key == nil {
		return domain.SignedEnvelope{}, fmt.Errorf("%w: signing key is required", domain.ErrSigning)
	}
	canonical, err := CanonicalRecord(record)
	if err != nil {
		return domain.SignedEnvelope{}, fmt.Errorf("%w: canonicalize: %v", domain.ErrSigning, err)
	}
	sig, err := key.Sign(canonical)
	if err != nil {
		return domain.SignedEnvelope{}, fmt.Errorf("%w: %v", domain.ErrSigning, err)
	}
	return domain.NewSignedEnvelope(s.newID(), record, canonical, base64.StdEncoding.EncodeToString(sig), key.KID), nil
}

// VerifyEnvelope checks a received envelope against pubKey. The payload must be
// the exact canonical bytes that were signed; re-serialized payloads fail.
func (s *Service) VerifyEnvelope(env domain.RawEnvelope, pubKey ed25519.PublicKey) (domain.TelemetryRecord, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return domain.TelemetryRecord{}, fmt.Errorf("invalid ed25519 public key length: %d", len(pubKey))
	}
	if env.Signature == "" {
		return domain.TelemetryRecord{}, errors.New("signature value is required")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return domain.TelemetryRecord{}, fmt.Errorf("%w: invalid signature encoding: %v", domain.ErrSignatureInvalid, err)
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return domain.TelemetryRecord{}, fmt.Errorf("%w: invalid ed25519 signature length: %d", domain.ErrSignatureInvalid, len(sigBytes))
	}
	if !ed25519.Verify(pubKey, env.Payload, sigBytes) {
		return domain.TelemetryRecord{}, domain.ErrSignatureInvalid
	}

	record, err := DecodeRecord(env.Payload)
	if err != nil {
		return domain.TelemetryRecord{}, errors.Join(domain.ErrInvalidEnvelope, err)
	}
	canonical, err := CanonicalRecord(record)
	if err != nil {
		return domain.TelemetryRecord{}, errors.Join(domain.ErrInvalidEnvelope, err)
	}
	if !bytes.Equal(canonical, env.Payload) {
		return domain.TelemetryRecord{}, fmt.Errorf("%w: payload is not in canonical form", domain.ErrInvalidEnvelope)
	}
	return record, nil
}

// DecodeEnvelope parses {"payload":...,"signature":"..."} strictly.
func (s *Service) DecodeEnvelope(body []byte) (domain.RawEnvelope, error) {
	return domain.ParseRawEnvelope(body)
}

// RestoreEnvelope rebuilds an envelope from stored canonical bytes. Bytes that
// are not in canonical form are refused, since the stored signature covers
// them verbatim.
func RestoreEnvelope(id string, canonical []byte, signature, kid string) (domain.SignedEnvelope, error) {
	record, err := DecodeRecord(canonical)
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	again, err := CanonicalRecord(record)
	if err != nil {
		return domain.SignedEnvelope{}, err
	}
	if !bytes.Equal(again, canonical) {
		return domain.SignedEnvelope{}, fmt.Errorf("%w: stored payload is not in canonical form", domain.ErrInvalidEnvelope)
	}
	return domain.NewSignedEnvelope(id, record, canonical, signature, kid), nil
}

func (s *Service) newID() string {
	if s == nil || s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

func KeyIDFromPublicKey(pubKey ed25519.PublicKey) string {
	sum := sha256.Sum256(pubKey)
	return hex.EncodeToString(sum[:])
}

func PayloadHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
