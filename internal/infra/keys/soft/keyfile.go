package soft

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
	"github.com/mateusicomp/aqua-monitor/internal/infra/crypto"
)

const keyFileVersion = 1

type keyFile struct {
	Version          int           `json:"version"`
	Alg              string        `json:"alg"`
	KID              string        `json:"kid"`
	PublicKey        string        `json:"public_key"`
	PrivateKey       string        `json:"private_key,omitempty"`
	SealedPrivateKey *sealedSecret `json:"sealed_private_key,omitempty"`
	CreatedAt        string        `json:"created_at"`
}

func (s *Store) encodeKeyFile(key *domain.SigningKey) ([]byte, error) {
	record := keyFile{
		Version:   keyFileVersion,
		Alg:       domain.SignatureAlgEd25519,
		KID:       key.KID,
		PublicKey: base64.StdEncoding.EncodeToString(key.PublicKey),
		CreatedAt: key.CreatedAt.UTC().Format(time.RFC3339),
	}
	seed := key.Seed()
	if s.masterSecret != "" {
		sealed, err := sealSeed(s.masterSecret, key.KID, seed, s.rand)
		if err != nil {
			return nil, fmt.Errorf("seal private key: %w", err)
		}
		record.SealedPrivateKey = &sealed
	} else {
		record.PrivateKey = base64.StdEncoding.EncodeToString(seed)
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (s *Store) decodeKeyFile(data []byte) (*domain.SigningKey, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var record keyFile
	if err := dec.Decode(&record); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	if record.Version != keyFileVersion {
		return nil, fmt.Errorf("unsupported key file version: %d", record.Version)
	}
	if record.Alg != domain.SignatureAlgEd25519 {
		return nil, fmt.Errorf("unsupported key algorithm: %q", record.Alg)
	}
	pub, err := base64.StdEncoding.DecodeString(record.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: %d", len(pub))
	}
	if record.KID != crypto.KeyIDFromPublicKey(pub) {
		return nil, errors.New("kid does not match public key")
	}

	var seed []byte
	switch {
	case record.SealedPrivateKey != nil && record.PrivateKey != "":
		return nil, errors.New("key file has both sealed and plain private key")
	case record.SealedPrivateKey != nil:
		if s.masterSecret == "" {
			return nil, errors.New("key file is sealed but no master secret is configured")
		}
		seed, err = openSeed(s.masterSecret, record.KID, *record.SealedPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("unseal private key: %w", err)
		}
	case record.PrivateKey != "":
		seed, err = base64.StdEncoding.DecodeString(record.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("decode private key: %w", err)
		}
	default:
		return nil, errors.New("key file has no private key")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid private key seed length: %d", len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	if !bytes.Equal(priv.Public().(ed25519.PublicKey), pub) {
		return nil, errors.New("private key does not match public key")
	}

	createdAt, err := time.Parse(time.RFC3339, record.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return domain.NewSigningKey(record.KID, priv, domain.KeySourceFile, createdAt)
}

// writeFileAtomic writes data next to path and renames it into place so a
// crash never leaves a truncated key file behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".signing-key-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
