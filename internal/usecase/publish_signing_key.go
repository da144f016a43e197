package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

// PublishSigningKey records the public half of the active key so that
// downstream services can verify envelopes without calling the gateway.
// The stored row is returned, so a key published by an earlier run keeps its
// original id and creation time.
type PublishSigningKey struct {
	Publisher KeyPublisher
}

func (uc *PublishSigningKey) Execute(ctx context.Context, key *domain.SigningKey) (domain.PublishedKey, error) {
	if key == nil {
		return domain.PublishedKey{}, errors.New("signing key is required")
	}
	published := key.Published()
	if uc.Publisher == nil {
		return published, nil
	}
	if err := uc.Publisher.Publish(ctx, published); err != nil {
		return domain.PublishedKey{}, err
	}
	stored, err := uc.Publisher.GetByKID(ctx, published.KID)
	if err != nil {
		return domain.PublishedKey{}, fmt.Errorf("read back published key: %w", err)
	}
	if !bytes.Equal(stored.PublicKey, published.PublicKey) {
		return domain.PublishedKey{}, fmt.Errorf("kid %s is already published with a different public key", published.KID)
	}
	return *stored, nil
}
