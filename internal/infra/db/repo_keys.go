package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

type SigningKeyRepository struct {
	db *gorm.DB
}

func NewSigningKeyRepository(db *gorm.DB) *SigningKeyRepository {
	return &SigningKeyRepository{db: db}
}

// Publish stores the public half of a signing key. Publishing the same kid
// twice is a no-op.
func (r *SigningKeyRepository) Publish(ctx context.Context, key domain.PublishedKey) error {
	if r.db == nil {
		return errDBUnavailable
	}
	keyID := key.ID
	if keyID == "" {
		id, err := newUUID()
		if err != nil {
			return err
		}
		keyID = id
	}
	status := key.Status
	if status == "" {
		status = domain.KeyStatusActive
	}
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	model := SigningKeyModel{
		ID:        keyID,
		KID:       key.KID,
		Alg:       key.Alg,
		PublicKey: copyBytes(key.PublicKey),
		Status:    string(status),
		CreatedAt: createdAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "kid"}}, DoNothing: true}).
		Create(&model).Error
}

func (r *SigningKeyRepository) GetByKID(ctx context.Context, kid string) (*domain.PublishedKey, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SigningKeyModel
	err := r.db.WithContext(ctx).
		Where("kid = ?", kid).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return publishedKeyFromModel(model), nil
}

func publishedKeyFromModel(model SigningKeyModel) *domain.PublishedKey {
	return &domain.PublishedKey{
		ID:        model.ID,
		KID:       model.KID,
		Alg:       model.Alg,
		PublicKey: copyBytes(model.PublicKey),
		Status:    domain.KeyStatus(model.Status),
		CreatedAt: model.CreatedAt,
	}
}
