package domain

import (
	"crypto/ed25519"
	"errors"
	"time"
)

type KeyStatus string

const KeyStatusActive KeyStatus = "active"

type KeySource string

const (
	KeySourceFile      KeySource = "file"
	KeySourceGenerated KeySource = "generated"
	KeySourceInjected  KeySource = "injected"
)

// SigningKey is the gateway's Ed25519 key pair. It is created once at startup
// and shared read-only by every request; nothing mutates it afterwards.
type SigningKey struct {
	KID       string
	Alg       string
	PublicKey ed25519.PublicKey
	Source    KeySource
	CreatedAt time.Time

	private ed25519.PrivateKey
}

func NewSigningKey(kid string, private ed25519.PrivateKey, source KeySource, createdAt time.Time) (*SigningKey, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 private key length")
	}
	if kid == "" {
		return nil, errors.New("kid is required")
	}
	priv := append(ed25519.PrivateKey(nil), private...)
	return &SigningKey{
		KID:       kid,
		Alg:       SignatureAlgEd25519,
		PublicKey: append(ed25519.PublicKey(nil), priv.Public().(ed25519.PublicKey)...),
		Source:    source,
		CreatedAt: createdAt.UTC(),
		private:   priv,
	}, nil
}

func (k *SigningKey) Sign(message []byte) ([]byte, error) {
	if k == nil || len(k.private) != ed25519.PrivateKeySize {
		return nil, errors.New("signing key not initialized")
	}
	return ed25519.Sign(k.private, message), nil
}

// Seed returns a copy of the private seed, used only when persisting the key.
func (k *SigningKey) Seed() []byte {
	if k == nil || len(k.private) != ed25519.PrivateKeySize {
		return nil
	}
	return append([]byte(nil), k.private.Seed()...)
}

// PublishedKey is the verification material other services may fetch.
type PublishedKey struct {
	ID        string
	KID       string
	Alg       string
	PublicKey []byte
	Status    KeyStatus
	CreatedAt time.Time
}

func (k *SigningKey) Published() PublishedKey {
	return PublishedKey{
		KID:       k.KID,
		Alg:       k.Alg,
		PublicKey: append([]byte(nil), k.PublicKey...),
		Status:    KeyStatusActive,
		CreatedAt: k.CreatedAt,
	}
}
