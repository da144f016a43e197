package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mateusicomp/aqua-monitor/internal/domain"
)

type DeliveryReceiptRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDeliveryReceiptRepository(db *gorm.DB) *DeliveryReceiptRepository {
	return &DeliveryReceiptRepository{db: db, now: time.Now}
}

// Record inserts the receipt for a freshly signed envelope. A receipt that
// already exists keeps its original row.
func (r *DeliveryReceiptRepository) Record(ctx context.Context, receipt domain.DeliveryReceipt) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if receipt.EnvelopeID == "" {
		return errors.New("envelope id is required")
	}
	now := r.now().UTC()
	createdAt := receipt.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := receipt.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	model := DeliveryReceiptModel{
		EnvelopeID:  receipt.EnvelopeID,
		DeviceID:    receipt.DeviceID,
		SiteID:      receipt.SiteID,
		Seq:         SeqNumber(receipt.Seq),
		KID:         receipt.KID,
		PayloadHash: receipt.PayloadHash,
		Signature:   receipt.Signature,
		Status:      string(receipt.Status),
		Attempts:    receipt.Attempts,
		LastError:   truncateError(receipt.LastError),
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "envelope_id"}}, DoNothing: true}).
		Create(&model).Error
}

func (r *DeliveryReceiptRepository) UpdateStatus(ctx context.Context, envelopeID string, status domain.DeliveryStatus, attempts int, lastError string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&DeliveryReceiptModel{}).
		Where("envelope_id = ?", envelopeID).
		Updates(map[string]any{
			"status":     string(status),
			"attempts":   attempts,
			"last_error": truncateError(lastError),
			"updated_at": r.now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *DeliveryReceiptRepository) Get(ctx context.Context, envelopeID string) (*domain.DeliveryReceipt, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model DeliveryReceiptModel
	err := r.db.WithContext(ctx).
		Where("envelope_id = ?", envelopeID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return receiptFromModel(model), nil
}

func receiptFromModel(model DeliveryReceiptModel) *domain.DeliveryReceipt {
	return &domain.DeliveryReceipt{
		EnvelopeID:  model.EnvelopeID,
		DeviceID:    model.DeviceID,
		SiteID:      model.SiteID,
		Seq:         uint64(model.Seq),
		KID:         model.KID,
		PayloadHash: model.PayloadHash,
		Signature:   model.Signature,
		Status:      domain.DeliveryStatus(model.Status),
		Attempts:    model.Attempts,
		LastError:   model.LastError,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}
