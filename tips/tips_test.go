package tips

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basehealth/x402/clients"
	"github.com/basehealth/x402/clients/clientstest"
	"github.com/basehealth/x402/storage"
	"github.com/basehealth/x402/types"
)

var recipient = common.HexToAddress("0x4838B106FCe9647Bdf1E7877BF73cE8B0BAD5f97")

type staticSource struct{ reader clients.ChainReader }

func (s staticSource) Client(context.Context, types.Network) (clients.ChainReader, error) {
	return s.reader, nil
}

type fixedPrice struct {
	calls atomic.Int32
	price decimal.Decimal
	err   error
}

func (f *fixedPrice) USDPerETH(context.Context) (decimal.Decimal, error) {
	f.calls.Add(1)
	return f.price, f.err
}

type fixture struct {
	reader *clientstest.Reader
	prices *fixedPrice
	ledger *storage.MemoryLedger
	v      *Verifier
	from   common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reader: clientstest.NewReader(types.NetworkBaseSepolia.ChainID()),
		prices: &fixedPrice{price: decimal.NewFromInt(3000)},
		ledger: storage.NewMemoryLedger(),
	}
	v, err := NewVerifier(staticSource{f.reader}, types.NetworkBaseSepolia, recipient.Hex(), f.prices, f.ledger,
		WithWaitTimeout(60*time.Millisecond),
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	f.v = v
	return f
}

// send records a confirmed transfer of wei to to and returns its hash.
func (f *fixture) send(t *testing.T, to common.Address, wei *big.Int, status uint64) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	f.from = crypto.PubkeyToAddress(key.PublicKey)

	tx, err := clientstest.SignedTransfer(key, types.NetworkBaseSepolia.ChainID(), 0, to, wei)
	require.NoError(t, err)
	f.reader.AddTransaction(tx)

	rc := clientstest.SuccessReceipt(tx.Hash())
	rc.Status = status
	f.reader.AddReceipt(rc, uint64(time.Now().Unix()))
	return tx.Hash().Hex()
}

func TestVerifyTipSuccess(t *testing.T) {
	f := newFixture(t)
	hash := f.send(t, recipient, big.NewInt(10_000_000_000_000_000), ethtypes.ReceiptStatusSuccessful)

	res := f.v.Verify(context.Background(), Request{TxHash: hash, OrderID: "order-7"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "ETH", res.PaidAsset)
	assert.Equal(t, "0.01", res.ETHAmount)
	assert.Equal(t, "3000", res.PriceUSDPerETH)
	assert.Equal(t, "30.00", res.USDCEquivalent)
	assert.Equal(t, "https://sepolia.basescan.org/tx/"+strings.ToLower(hash), res.ExplorerURL)
	assert.False(t, res.AlreadyRecorded)
	require.NotNil(t, res.Receipt)
	assert.Equal(t, "30.00", res.Receipt.Amount)
	assert.Equal(t, "order-7", res.Receipt.BookingID)

	row, err := f.ledger.FindByHash(context.Background(), hash)
	require.NoError(t, err)
	meta := row.MetadataMap()
	assert.Equal(t, f.from.Hex(), meta["from"])
	assert.Equal(t, recipient.Hex(), meta["to"])
	assert.Equal(t, "10000000000000000", meta["valueWei"])
	assert.Equal(t, "3000", meta["priceUsdPerEth"])
	assert.Equal(t, "30.00", meta["usdAmount"])
}

func TestVerifyTipRejectsHashRecordedAsPayment(t *testing.T) {
	f := newFixture(t)
	hash := f.send(t, recipient, big.NewInt(10_000_000_000_000_000), ethtypes.ReceiptStatusSuccessful)

	_, err := f.ledger.RecordTransaction(context.Background(), &storage.Transaction{
		TransactionHash: hash,
		Kind:            storage.KindPayment,
		Amount:          "0.01",
		Currency:        "ETH",
		Status:          storage.StatusCompleted,
	})
	require.NoError(t, err)

	res := f.v.Verify(context.Background(), Request{TxHash: hash})
	assert.False(t, res.Success)
	assert.Equal(t, CodeAlreadyUsed, res.Code)
	assert.Nil(t, res.Receipt)
	assert.Zero(t, f.prices.calls.Load())
	assert.Equal(t, 1, f.ledger.Len())
}

func TestVerifyTipIdempotent(t *testing.T) {
	f := newFixture(t)
	hash := f.send(t, recipient, big.NewInt(5_000_000_000_000_000), ethtypes.ReceiptStatusSuccessful)

	first := f.v.Verify(context.Background(), Request{TxHash: hash})
	require.True(t, first.Success)

	f.prices.price = decimal.NewFromInt(9999)
	second := f.v.Verify(context.Background(), Request{TxHash: hash})
	require.True(t, second.Success)
	assert.True(t, second.AlreadyRecorded)

	assert.Equal(t, 1, f.ledger.Len())
	assert.Equal(t, first.Receipt.ReceiptID, second.Receipt.ReceiptID)
	assert.Equal(t, first.USDCEquivalent, second.USDCEquivalent)
	assert.Equal(t, int32(1), f.prices.calls.Load())
}

func TestVerifyTipRecipientMismatch(t *testing.T) {
	f := newFixture(t)
	other := common.HexToAddress("0x1111111111111111111111111111111111111111")
	hash := f.send(t, other, big.NewInt(1e18), ethtypes.ReceiptStatusSuccessful)

	res := f.v.Verify(context.Background(), Request{TxHash: hash})
	require.False(t, res.Success)
	assert.Equal(t, CodeRecipientMismatch, res.Code)
	assert.Contains(t, res.Error, recipient.Hex())
	assert.Contains(t, res.Error, other.Hex())
	assert.Zero(t, f.ledger.Len())
}

func TestVerifyTipPending(t *testing.T) {
	f := newFixture(t)
	hash := "0x" + strings.Repeat("ab", 32)

	res := f.v.Verify(context.Background(), Request{TxHash: hash})
	require.False(t, res.Success)
	assert.True(t, res.Pending)
	assert.Equal(t, CodePending, res.Code)
	assert.Equal(t, hash, res.TxHash)
	assert.Greater(t, f.reader.Receipts(), 1)
}

func TestVerifyTipFailedTransaction(t *testing.T) {
	f := newFixture(t)
	hash := f.send(t, recipient, big.NewInt(1e18), ethtypes.ReceiptStatusFailed)

	res := f.v.Verify(context.Background(), Request{TxHash: hash})
	assert.Equal(t, CodeTxFailed, res.Code)
	assert.False(t, res.Pending)
}

func TestVerifyTipInvalidHash(t *testing.T) {
	f := newFixture(t)

	res := f.v.Verify(context.Background(), Request{TxHash: "0xnothex"})
	assert.Equal(t, CodeInvalidHash, res.Code)
	assert.Zero(t, f.reader.Receipts())
}

func TestVerifyTipPriceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.prices.err = errors.New("feed down")
	hash := f.send(t, recipient, big.NewInt(1e18), ethtypes.ReceiptStatusSuccessful)

	res := f.v.Verify(context.Background(), Request{TxHash: hash})
	require.False(t, res.Success)
	assert.Equal(t, CodePriceUnavailable, res.Code)
	assert.Zero(t, f.ledger.Len())
}

func TestVerifyTipUpstreamError(t *testing.T) {
	f := newFixture(t)
	f.reader.Err = errors.New("503 from rpc")

	res := f.v.Verify(context.Background(), Request{TxHash: "0x" + strings.Repeat("cd", 32)})
	assert.Equal(t, CodeUpstream, res.Code)
	assert.False(t, res.Pending)
}

func TestUSDEquivalent(t *testing.T) {
	cases := []struct {
		eth, price, want string
	}{
		{"0.01", "3000", "30.00"},
		{"0.0012345", "2500.5", "3.09"},
		{"0.000001", "3000", "0.00"},
		{"-1", "3000", "0.00"},
	}
	for _, c := range cases {
		got := USDEquivalent(decimal.RequireFromString(c.eth), decimal.RequireFromString(c.price))
		assert.Equal(t, c.want, got.StringFixed(2))
	}
}

func TestNewVerifierValidation(t *testing.T) {
	_, err := NewVerifier(staticSource{}, types.NetworkBase, "not-an-address", &fixedPrice{}, storage.NewMemoryLedger())
	require.Error(t, err)

	_, err = NewVerifier(staticSource{}, "polygon", recipient.Hex(), &fixedPrice{}, storage.NewMemoryLedger())
	require.Error(t, err)
}
