// Package receipt projects stored payment records into displayable receipts.
// Building a receipt makes no network calls and never fails.
package receipt

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/basehealth/x402/storage"
	"github.com/basehealth/x402/types"
	"github.com/basehealth/x402/utils"
)

const idPrefix = "RCPT-"

// Metadata keys read from a record.
const (
	MetaTxHash  = "txHash"
	MetaFrom    = "from"
	MetaTo      = "to"
	MetaNetwork = "network"
	MetaRefund  = "refund"
)

// Record is the subset of a stored booking or transaction a receipt needs.
type Record struct {
	BookingID string
	CreatedAt time.Time
	Amount    string
	Currency  string
	Status    string
	Network   string
	TxHash    string
	Metadata  map[string]any
}

type Payment struct {
	TxHash      string `json:"txHash"`
	Network     string `json:"network,omitempty"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
}

type Refund struct {
	Amount     string `json:"amount"`
	Reason     string `json:"reason,omitempty"`
	RefundedAt string `json:"refundedAt,omitempty"`
	TxHash     string `json:"txHash,omitempty"`
}

type Receipt struct {
	ReceiptID string    `json:"receiptId"`
	BookingID string    `json:"bookingId,omitempty"`
	IssuedAt  time.Time `json:"issuedAt"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	Status    string    `json:"status"`
	Payment   *Payment  `json:"payment,omitempty"`
	Refund    *Refund   `json:"refund,omitempty"`
}

// Builder renders receipts. Network is used when a record does not name one.
type Builder struct {
	Network types.Network
}

// Build is deterministic: the same record always yields the same receipt.
func (b Builder) Build(rec Record) Receipt {
	txHash := rec.TxHash
	if txHash == "" {
		txHash = stringField(rec.Metadata, MetaTxHash)
	}

	r := Receipt{
		ReceiptID: ID(rec.BookingID, rec.CreatedAt, txHash),
		BookingID: rec.BookingID,
		IssuedAt:  rec.CreatedAt.UTC(),
		Amount:    FormatAmount(rec.Amount),
		Currency:  strings.ToUpper(rec.Currency),
		Status:    rec.Status,
	}

	if txHash != "" {
		network := b.network(rec)
		p := &Payment{
			TxHash:  txHash,
			Network: string(network),
			From:    stringField(rec.Metadata, MetaFrom),
			To:      stringField(rec.Metadata, MetaTo),
		}
		if utils.IsTransactionHash(txHash) && network != "" {
			p.ExplorerURL = network.TxURL(txHash)
		}
		r.Payment = p
	}

	r.Refund = refundFrom(rec.Metadata)
	return r
}

func (b Builder) network(rec Record) types.Network {
	for _, candidate := range []string{rec.Network, stringField(rec.Metadata, MetaNetwork), string(b.Network)} {
		if n, err := types.ParseNetwork(candidate); err == nil {
			return n
		}
	}
	return ""
}

// FromTransaction adapts a ledger row.
func FromTransaction(tx *storage.Transaction) Record {
	meta := tx.MetadataMap()
	booking := tx.OrderID
	if booking == "" {
		booking = tx.ID
	}
	return Record{
		BookingID: booking,
		CreatedAt: tx.CreatedAt,
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		Status:    tx.Status,
		Network:   tx.Network,
		TxHash:    tx.TransactionHash,
		Metadata:  meta,
	}
}

// ID derives the receipt identifier from the booking, its creation time and
// the payment hash.
func ID(bookingID string, createdAt time.Time, txHash string) string {
	seed := strings.Join([]string{
		bookingID,
		createdAt.UTC().Format(time.RFC3339Nano),
		strings.ToLower(txHash),
	}, "|")
	sum := crypto.Keccak256([]byte(seed))
	return idPrefix + strings.ToUpper(hexutil.Encode(sum[:8])[2:])
}

// FormatAmount renders v with exactly two decimals. Anything that is not a
// number renders as "0.00".
func FormatAmount(v any) string {
	d, ok := toDecimal(v)
	if !ok {
		return "0.00"
	}
	return d.StringFixed(2)
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	default:
		return decimal.Zero, false
	}
}

func refundFrom(meta map[string]any) *Refund {
	raw, ok := meta[MetaRefund].(map[string]any)
	if !ok {
		return nil
	}
	return &Refund{
		Amount:     FormatAmount(raw["amount"]),
		Reason:     stringField(raw, "reason"),
		RefundedAt: stringField(raw, "refundedAt"),
		TxHash:     stringField(raw, "txHash"),
	}
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
