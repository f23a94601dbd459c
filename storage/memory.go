package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLedger is a Ledger for tests and single-process deployments without
// a database.
type MemoryLedger struct {
	mu   sync.Mutex
	rows map[string]Transaction
	now  func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		rows: make(map[string]Transaction),
		now:  time.Now,
	}
}

func (l *MemoryLedger) RecordTransaction(_ context.Context, tx *Transaction) (bool, error) {
	key := hashKey(tx.TransactionHash)

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.rows[key]; ok {
		*tx = existing
		return false, nil
	}

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = createdAt(tx.CreatedAt, l.now)
	tx.TransactionHash = key
	l.rows[key] = *tx
	return true, nil
}

func (l *MemoryLedger) FindByHash(_ context.Context, hash string) (*Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	row, ok := l.rows[hashKey(hash)]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

// Len returns the number of recorded rows.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}
