package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLedger stores transactions through gorm. Uniqueness of the hash is
// enforced by the database index, not by this process.
type GormLedger struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the ledger table.
func OpenPostgres(dsn string) (*GormLedger, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewGormLedger(db)
}

// NewGormLedger wraps db and migrates the ledger table.
func NewGormLedger(db *gorm.DB) (*GormLedger, error) {
	if err := db.AutoMigrate(&Transaction{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}
	return &GormLedger{db: db}, nil
}

func (l *GormLedger) RecordTransaction(ctx context.Context, tx *Transaction) (bool, error) {
	tx.TransactionHash = hashKey(tx.TransactionHash)
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = createdAt(tx.CreatedAt, time.Now)
	if tx.Metadata == "" {
		tx.Metadata = "{}"
	}

	res := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_hash"}},
			DoNothing: true,
		}).
		Create(tx)
	if res.Error != nil {
		return false, fmt.Errorf("failed to record transaction: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	existing, err := l.FindByHash(ctx, tx.TransactionHash)
	if err != nil {
		return false, err
	}
	*tx = *existing
	return false, nil
}

func (l *GormLedger) FindByHash(ctx context.Context, hash string) (*Transaction, error) {
	var row Transaction
	err := l.db.WithContext(ctx).
		Where("transaction_hash = ?", hashKey(hash)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	row.CreatedAt = row.CreatedAt.UTC()
	return &row, nil
}
