package soft

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

type sealedSecret struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

func newAEAD(masterSecret string) (cipher.AEAD, error) {
	if masterSecret == "" {
		return nil, errors.New("master secret is required")
	}
	sum := sha256.Sum256([]byte(masterSecret))
	return chacha20poly1305.NewX(sum[:])
}

func sealAAD(kid string) []byte {
	return []byte("signing-key:" + kid)
}

func sealSeed(masterSecret, kid string, seed []byte, reader io.Reader) (sealedSecret, error) {
	aead, err := newAEAD(masterSecret)
	if err != nil {
		return sealedSecret{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(reader, nonce); err != nil {
		return sealedSecret{}, err
	}
	ciphertext := aead.Seal(nil, nonce, seed, sealAAD(kid))
	return sealedSecret{
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	}, nil
}

func openSeed(masterSecret, kid string, blob sealedSecret) ([]byte, error) {
	aead, err := newAEAD(masterSecret)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.RawStdEncoding.DecodeString(blob.Nonce)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, errors.New("invalid nonce length")
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, sealAAD(kid))
}
