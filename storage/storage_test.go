package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testHash = "0xAbC0000000000000000000000000000000000000000000000000000000000001"

func newSQLiteLedger(t *testing.T) *GormLedger {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	l, err := NewGormLedger(db)
	require.NoError(t, err)
	return l
}

func ledgers(t *testing.T) map[string]Ledger {
	return map[string]Ledger{
		"memory": NewMemoryLedger(),
		"gorm":   newSQLiteLedger(t),
	}
}

func TestRecordTransactionIdempotent(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := &Transaction{
				TransactionHash: testHash,
				Kind:            KindTip,
				Amount:          "0.01",
				Currency:        "ETH",
				Status:          StatusCompleted,
				Network:         "base-sepolia",
			}
			require.NoError(t, first.SetMetadata(map[string]any{"priceUsdPerEth": "3000"}))

			created, err := l.RecordTransaction(ctx, first)
			require.NoError(t, err)
			require.True(t, created)
			require.NotEmpty(t, first.ID)

			second := &Transaction{
				TransactionHash: testHash,
				Kind:            KindTip,
				Amount:          "99",
				Currency:        "ETH",
				Status:          StatusCompleted,
			}
			created, err = l.RecordTransaction(ctx, second)
			require.NoError(t, err)
			require.False(t, created)
			require.Equal(t, first.ID, second.ID)
			require.Equal(t, "0.01", second.Amount)

			got, err := l.FindByHash(ctx, testHash)
			require.NoError(t, err)
			require.Equal(t, "0.01", got.Amount)
			require.Equal(t, "3000", got.MetadataMap()["priceUsdPerEth"])
		})
	}
}

func TestCreatedAtReadsBackExactly(t *testing.T) {
	stamped := time.Date(2026, 4, 2, 12, 0, 0, 123456789, time.FixedZone("CEST", 2*60*60))

	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tx := &Transaction{
				TransactionHash: testHash, Kind: KindTip, Amount: "1", Currency: "USD",
				Status: StatusCompleted, CreatedAt: stamped,
			}
			_, err := l.RecordTransaction(ctx, tx)
			require.NoError(t, err)
			require.Equal(t, time.UTC, tx.CreatedAt.Location())
			require.Equal(t, 123456000, tx.CreatedAt.Nanosecond())

			got, err := l.FindByHash(ctx, testHash)
			require.NoError(t, err)
			require.True(t, tx.CreatedAt.Equal(got.CreatedAt))
			require.Equal(t, tx.CreatedAt.Format(time.RFC3339Nano), got.CreatedAt.Format(time.RFC3339Nano))
		})
	}
}

func TestFindByHashNotFound(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := l.FindByHash(context.Background(), testHash)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestHashCaseInsensitive(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.RecordTransaction(ctx, &Transaction{
				TransactionHash: testHash, Kind: KindPayment, Amount: "1", Currency: "USDC", Status: StatusCompleted,
			})
			require.NoError(t, err)

			created, err := l.RecordTransaction(ctx, &Transaction{
				TransactionHash: "0xabc0000000000000000000000000000000000000000000000000000000000001",
				Kind:            KindPayment, Amount: "1", Currency: "USDC", Status: StatusCompleted,
			})
			require.NoError(t, err)
			require.False(t, created)
		})
	}
}

func TestMemoryLedgerConcurrentDuplicates(t *testing.T) {
	l := NewMemoryLedger()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	var errs []error
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := l.RecordTransaction(context.Background(), &Transaction{
				TransactionHash: testHash,
				Amount:          fmt.Sprint(i),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if created {
				createdCount++
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Equal(t, 1, createdCount)
	require.Equal(t, 1, l.Len())
}

func TestMetadataMap(t *testing.T) {
	tx := &Transaction{}
	require.Empty(t, tx.MetadataMap())

	tx.Metadata = "not json"
	require.Empty(t, tx.MetadataMap())

	require.NoError(t, tx.SetMetadata(nil))
	require.Equal(t, "{}", tx.Metadata)
}
