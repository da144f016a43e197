package soft

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/mateusicomp/aqua-monitor/internal/config"
	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/internal/infra/crypto"
)

// Store resolves the gateway signing key once at startup. Injected key
// material wins over the key file; a missing key file is generated and
// persisted.
type Store struct {
	path         string
	masterSecret string

	privateKeyBase64  string
	privateKeySeedHex string

	now  func() time.Time
	rand io.Reader
}

type Options struct {
	Path              string
	MasterSecret      string
	PrivateKeyBase64  string
	PrivateKeySeedHex string
	Now               func() time.Time
	Rand              io.Reader
}

func NewStore(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	reader := opts.Rand
	if reader == nil {
		reader = rand.Reader
	}
	return &Store{
		path:              strings.TrimSpace(opts.Path),
		masterSecret:      opts.MasterSecret,
		privateKeyBase64:  strings.TrimSpace(opts.PrivateKeyBase64),
		privateKeySeedHex: strings.TrimSpace(opts.PrivateKeySeedHex),
		now:               now,
		rand:              reader,
	}
}

func NewStoreFromConfig(cfg config.Config) *Store {
	return NewStore(Options{
		Path:              cfg.SigningKeyPath,
		MasterSecret:      cfg.SigningKeyMasterSecret,
		PrivateKeyBase64:  cfg.SigningPrivateKeyBase64,
		PrivateKeySeedHex: cfg.SigningPrivateKeySeedHex,
	})
}

// Initialize returns the signing key for the lifetime of the process. Every
// failure to use existing key material is a *domain.KeyLoadError.
func (s *Store) Initialize(ctx context.Context) (*domain.SigningKey, error) {
	if s == nil {
		return nil, &domain.KeyLoadError{Err: errors.New("key store is required")}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.privateKeyBase64 != "" || s.privateKeySeedHex != "" {
		priv, err := s.injectedKey()
		if err != nil {
			return nil, &domain.KeyLoadError{Err: err}
		}
		return newSigningKey(priv, domain.KeySourceInjected, s.now())
	}

	if s.path == "" {
		return nil, &domain.KeyLoadError{Err: errors.New("signing key path is required")}
	}

	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		key, err := s.decodeKeyFile(data)
		if err != nil {
			return nil, &domain.KeyLoadError{Path: s.path, Err: err}
		}
		return key, nil
	case errors.Is(err, fs.ErrNotExist):
		return s.generate()
	default:
		return nil, &domain.KeyLoadError{Path: s.path, Err: err}
	}
}

func (s *Store) injectedKey() (ed25519.PrivateKey, error) {
	if s.privateKeyBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(s.privateKeyBase64)
		if err != nil {
			return nil, fmt.Errorf("decode private key base64: %w", err)
		}
		return parsePrivateKey(raw)
	}
	raw, err := hex.DecodeString(s.privateKeySeedHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key seed hex: %w", err)
	}
	return parsePrivateKey(raw)
}

func (s *Store) generate() (*domain.SigningKey, error) {
	_, priv, err := ed25519.GenerateKey(s.rand)
	if err != nil {
		return nil, &domain.KeyLoadError{Path: s.path, Err: fmt.Errorf("generate key: %w", err)}
	}
	key, err := newSigningKey(priv, domain.KeySourceGenerated, s.now())
	if err != nil {
		return nil, err
	}
	data, err := s.encodeKeyFile(key)
	if err != nil {
		return nil, &domain.KeyLoadError{Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return nil, &domain.KeyLoadError{Path: s.path, Err: fmt.Errorf("persist key: %w", err)}
	}
	return key, nil
}

func newSigningKey(priv ed25519.PrivateKey, source domain.KeySource, createdAt time.Time) (*domain.SigningKey, error) {
	kid := crypto.KeyIDFromPublicKey(priv.Public().(ed25519.PublicKey))
	key, err := domain.NewSigningKey(kid, priv, source, createdAt)
	if err != nil {
		return nil, &domain.KeyLoadError{Err: err}
	}
	return key, nil
}

func parsePrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !derived.Equal(ed25519.PrivateKey(raw)) {
			return nil, errors.New("ed25519 private key does not match its seed")
		}
		return derived, nil
	default:
		return nil, errors.New("invalid ed25519 private key length")
	}
}
