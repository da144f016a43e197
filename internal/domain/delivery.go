package domain

import "time"

type DeliveryStatus string

const (
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusQueued    DeliveryStatus = "queued"
	DeliveryStatusDead      DeliveryStatus = "dead"
)

// DeliveryReceipt is the ledger entry for one signed envelope. It never
// carries measurements, only what is needed to audit the attestation.
type DeliveryReceipt struct {
	EnvelopeID  string
	DeviceID    string
	SiteID      string
	Seq         uint64
	KID         string
	PayloadHash string
	Signature   string
	Status      DeliveryStatus
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PendingDelivery is an outbox entry waiting to be redelivered.
type PendingDelivery struct {
	ID         string
	Envelope   SignedEnvelope
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
}
