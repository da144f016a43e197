package db

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"time"
)

// DeliveryReceiptModel is keyed by the envelope id. Measurements are never
// stored; the payload hash and signature are enough to audit a delivery.
type DeliveryReceiptModel struct {
	EnvelopeID  string    `gorm:"primaryKey;type:text"`
	DeviceID    string    `gorm:"index;not null"`
	SiteID      string    `gorm:"index;not null"`
	Seq         SeqNumber `gorm:"type:numeric(20,0);not null"`
	KID         string    `gorm:"not null"`
	PayloadHash string    `gorm:"not null"`
	Signature   string    `gorm:"not null"`
	Status      string    `gorm:"index;not null"`
	Attempts    int       `gorm:"not null"`
	LastError   string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (DeliveryReceiptModel) TableName() string { return "delivery_receipts" }

type SigningKeyModel struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	KID       string    `gorm:"uniqueIndex;not null"`
	Alg       string    `gorm:"not null"`
	PublicKey []byte    `gorm:"type:bytea;not null"`
	Status    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (SigningKeyModel) TableName() string { return "signing_keys" }

// SeqNumber stores a device sequence number as decimal text in a
// numeric(20,0) column. Both bigint and database/sql uint64 arguments stop at
// 2^63-1.
type SeqNumber uint64

func (n SeqNumber) Value() (driver.Value, error) {
	return strconv.FormatUint(uint64(n), 10), nil
}

func (n *SeqNumber) Scan(src any) error {
	var text string
	switch v := src.(type) {
	case []byte:
		text = string(v)
	case string:
		text = v
	case int64:
		if v < 0 {
			return fmt.Errorf("negative seq %d", v)
		}
		*n = SeqNumber(v)
		return nil
	default:
		return fmt.Errorf("unsupported seq column type %T", src)
	}
	parsed, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return fmt.Errorf("parse seq %q: %w", text, err)
	}
	*n = SeqNumber(parsed)
	return nil
}
