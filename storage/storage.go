// Package storage persists verified payments keyed by their transaction hash.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Transaction statuses.
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusRefunded  = "refunded"
)

// Transaction kinds.
const (
	KindTip     = "tip"
	KindPayment = "x402_payment"
)

var ErrNotFound = errors.New("transaction not found")

// Transaction is one ledger row. TransactionHash is unique; recording the
// same hash twice leaves the first row untouched.
type Transaction struct {
	ID              string    `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionHash string    `gorm:"uniqueIndex;size:66;not null" json:"transactionHash"`
	Kind            string    `gorm:"size:32;not null" json:"kind"`
	Amount          string    `gorm:"not null" json:"amount"`
	Currency        string    `gorm:"size:16;not null" json:"currency"`
	Status          string    `gorm:"size:32;not null" json:"status"`
	Network         string    `gorm:"size:32" json:"network"`
	OrderID         string    `gorm:"size:128;index" json:"orderId,omitempty"`
	Metadata        string    `gorm:"type:jsonb" json:"metadata"`
	CreatedAt       time.Time `json:"createdAt"`
}

// TableName pins the table name.
func (Transaction) TableName() string {
	return "crypto_transactions"
}

// SetMetadata encodes m into the Metadata column.
func (t *Transaction) SetMetadata(m map[string]any) error {
	if len(m) == 0 {
		t.Metadata = "{}"
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	t.Metadata = string(data)
	return nil
}

// MetadataMap decodes the Metadata column. Empty or invalid JSON yields an
// empty map.
func (t *Transaction) MetadataMap() map[string]any {
	out := map[string]any{}
	if t.Metadata == "" {
		return out
	}
	_ = json.Unmarshal([]byte(t.Metadata), &out)
	return out
}

// Ledger records transactions idempotently.
type Ledger interface {
	// RecordTransaction inserts tx unless its hash is already present.
	// created reports whether a new row was written.
	RecordTransaction(ctx context.Context, tx *Transaction) (created bool, err error)

	// FindByHash returns ErrNotFound when no row matches.
	FindByHash(ctx context.Context, hash string) (*Transaction, error)
}

// hashKey normalizes a transaction hash for uniqueness.
func hashKey(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// createdAt stamps a row time at the precision Postgres timestamptz keeps,
// so a row reads back exactly as it was written.
func createdAt(t time.Time, now func() time.Time) time.Time {
	if t.IsZero() {
		t = now()
	}
	return t.UTC().Truncate(time.Microsecond)
}
