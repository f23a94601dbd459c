// Package tips verifies native-asset tips sent to the platform's single tip
// address and records them in the ledger.
package tips

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/basehealth/x402/clients"
	"github.com/basehealth/x402/logger"
	"github.com/basehealth/x402/metrics"
	"github.com/basehealth/x402/price"
	"github.com/basehealth/x402/receipt"
	"github.com/basehealth/x402/storage"
	"github.com/basehealth/x402/types"
	"github.com/basehealth/x402/utils"
)

const (
	DefaultWaitTimeout  = 30 * time.Second
	DefaultPollInterval = 2 * time.Second

	PaidAsset = "ETH"

	weiDecimals = 18
)

// Failure codes.
const (
	CodeInvalidHash       = "invalid_tx_hash"
	CodePending           = "pending"
	CodeTxFailed          = "tx_failed"
	CodeTxNotFound        = "tx_not_found"
	CodeRecipientMismatch = "recipient_mismatch"
	CodePriceUnavailable  = "price_unavailable"
	CodeUpstream          = "upstream_error"
	CodeStorage           = "storage_error"
	CodeAlreadyUsed       = "tx_already_used"
)

// Metadata keys written to the ledger.
const (
	metaFrom     = "from"
	metaTo       = "to"
	metaValueWei = "valueWei"
	metaETH      = "ethAmount"
	metaPrice    = "priceUsdPerEth"
	metaUSD      = "usdAmount"
	metaNetwork  = "network"
	metaTxHash   = "txHash"
	metaBlock    = "blockNumber"
)

var errPending = errors.New("transaction not confirmed yet")

type Request struct {
	TxHash  string `json:"txHash" binding:"required"`
	OrderID string `json:"orderId,omitempty"`
}

// Result is either a confirmed tip (Success) or a failure. Pending is a
// failure the caller should retry later.
type Result struct {
	Success         bool             `json:"success"`
	TxHash          string           `json:"txHash,omitempty"`
	ExplorerURL     string           `json:"explorerUrl,omitempty"`
	PaidAsset       string           `json:"paidAsset,omitempty"`
	ETHAmount       string           `json:"ethAmount,omitempty"`
	PriceUSDPerETH  string           `json:"priceUsdPerEth,omitempty"`
	USDCEquivalent  string           `json:"usdcEquivalent,omitempty"`
	Receipt         *receipt.Receipt `json:"receipt,omitempty"`
	AlreadyRecorded bool             `json:"alreadyRecorded,omitempty"`

	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	Pending bool   `json:"pending,omitempty"`
}

func failure(code, txHash, format string, args ...any) *Result {
	return &Result{
		Code:    code,
		TxHash:  txHash,
		Error:   fmt.Sprintf(format, args...),
		Pending: code == CodePending,
	}
}

// Verifier checks tips on one network against one recipient.
type Verifier struct {
	clients   clients.Source
	network   types.Network
	recipient common.Address
	prices    price.Source
	ledger    storage.Ledger
	receipts  receipt.Builder

	wait   time.Duration
	poll   time.Duration
	logger logger.Logger
	rec    metrics.Recorder
}

type Option func(*Verifier)

func WithWaitTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.wait = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.poll = d
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) {
		v.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(v *Verifier) {
		v.rec = r
	}
}

// NewVerifier returns an error when recipient is not an address.
func NewVerifier(
	source clients.Source,
	network types.Network,
	recipient string,
	prices price.Source,
	ledger storage.Ledger,
	opts ...Option,
) (*Verifier, error) {
	if _, err := types.ParseNetwork(string(network)); err != nil {
		return nil, err
	}
	if !utils.IsAddress(recipient) {
		return nil, &types.X402Error{
			Code:    types.ErrConfigError,
			Message: fmt.Sprintf("invalid tip recipient address %q", recipient),
		}
	}

	v := &Verifier{
		clients:   source,
		network:   network,
		recipient: common.HexToAddress(recipient),
		prices:    prices,
		ledger:    ledger,
		receipts:  receipt.Builder{Network: network},
		wait:      DefaultWaitTimeout,
		poll:      DefaultPollInterval,
		logger:    logger.NoopLogger{},
		rec:       metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Recipient returns the configured tip address.
func (v *Verifier) Recipient() string {
	return v.recipient.Hex()
}

// Verify confirms the tip in req. It never returns an error; failures are
// results with Success false.
func (v *Verifier) Verify(ctx context.Context, req Request) *Result {
	start := time.Now()
	res := v.verify(ctx, req)

	labels := map[string]string{"network": string(v.network)}
	v.rec.ObserveLatency("tip_verify", time.Since(start), labels)
	switch {
	case res.Success:
		v.rec.IncCounter(metrics.EventTipRecorded, labels)
	case res.Pending:
		v.rec.IncCounter(metrics.EventTipPending, labels)
	default:
		v.rec.IncCounter(metrics.EventTipRejected, labels)
		v.logger.Info("tip rejected", map[string]any{
			"txHash": req.TxHash,
			"code":   res.Code,
			"reason": res.Error,
		})
	}
	return res
}

func (v *Verifier) verify(ctx context.Context, req Request) *Result {
	txHash := strings.TrimSpace(req.TxHash)
	if !utils.IsTransactionHash(txHash) {
		return failure(CodeInvalidHash, "", "%s", clients.ReasonInvalidTxHash)
	}
	hash := common.HexToHash(txHash)

	reader, err := v.clients.Client(ctx, v.network)
	if err != nil {
		return failure(CodeUpstream, txHash, "%s: %v", clients.ReasonNetworkUnavailable, err)
	}

	rc, err := v.waitForReceipt(ctx, reader, hash)
	if errors.Is(err, errPending) {
		return failure(CodePending, txHash, "Transaction not confirmed within %s, retry later", v.wait)
	}
	if err != nil {
		return failure(CodeUpstream, txHash, "failed to fetch receipt: %v", err)
	}
	if rc.Status != ethtypes.ReceiptStatusSuccessful {
		return failure(CodeTxFailed, txHash, "%s", clients.ReasonTxFailed)
	}

	tx, _, err := reader.TransactionByHash(ctx, hash)
	if err != nil || tx == nil {
		return failure(CodeTxNotFound, txHash, "%s", clients.ReasonNativeTxNotFound)
	}
	if tx.To() == nil || *tx.To() != v.recipient {
		got := "contract creation"
		if tx.To() != nil {
			got = tx.To().Hex()
		}
		return failure(CodeRecipientMismatch, txHash, "%s: expected %s got %s",
			clients.ReasonRecipientMismatch, v.recipient.Hex(), got)
	}

	if existing, err := v.ledger.FindByHash(ctx, txHash); err == nil {
		if existing.Kind != storage.KindTip {
			return alreadyUsed(txHash, existing)
		}
		return v.fromRecord(existing, true)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return failure(CodeStorage, txHash, "failed to read ledger: %v", err)
	}

	from, err := clients.TransactionSender(v.network, tx)
	if err != nil {
		return failure(CodeTxNotFound, txHash, "%v", err)
	}

	usdPerETH, err := v.prices.USDPerETH(ctx)
	if err != nil {
		return failure(CodePriceUnavailable, txHash, "price lookup failed: %v", err)
	}

	ethAmount := utils.AmountFromBigInt(tx.Value(), weiDecimals)
	usd := USDEquivalent(ethAmount, usdPerETH)

	row := &storage.Transaction{
		TransactionHash: txHash,
		Kind:            storage.KindTip,
		Amount:          usd.StringFixed(2),
		Currency:        "USD",
		Status:          storage.StatusCompleted,
		Network:         string(v.network),
		OrderID:         req.OrderID,
	}
	meta := map[string]any{
		metaFrom:     from,
		metaTo:       tx.To().Hex(),
		metaValueWei: tx.Value().String(),
		metaETH:      ethAmount.String(),
		metaPrice:    usdPerETH.String(),
		metaUSD:      usd.StringFixed(2),
		metaNetwork:  string(v.network),
		metaTxHash:   txHash,
	}
	if rc.BlockNumber != nil {
		meta[metaBlock] = rc.BlockNumber.String()
	}
	if err := row.SetMetadata(meta); err != nil {
		return failure(CodeStorage, txHash, "failed to encode metadata: %v", err)
	}

	created, err := v.ledger.RecordTransaction(ctx, row)
	if err != nil {
		v.logger.Error("failed to record tip", map[string]any{"txHash": txHash, "error": err.Error()})
		return failure(CodeStorage, txHash, "failed to record tip: %v", err)
	}
	if !created && row.Kind != storage.KindTip {
		return alreadyUsed(txHash, row)
	}

	v.logger.Info("tip verified", map[string]any{
		"txHash":  txHash,
		"from":    from,
		"eth":     ethAmount.String(),
		"usd":     usd.StringFixed(2),
		"created": created,
	})
	return v.fromRecord(row, !created)
}

// alreadyUsed rejects a hash the ledger holds under another kind, such as an
// x402 payment that happened to go to the tip address.
func alreadyUsed(txHash string, row *storage.Transaction) *Result {
	return failure(CodeAlreadyUsed, txHash, "%s: recorded as %s", clients.ReasonPaymentAlreadyUsed, row.Kind)
}

// waitForReceipt polls until the receipt exists or the wait bound passes.
func (v *Verifier) waitForReceipt(ctx context.Context, reader clients.ChainReader, hash common.Hash) (*ethtypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, v.wait)
	defer cancel()

	ticker := time.NewTicker(v.poll)
	defer ticker.Stop()

	for {
		rc, err := reader.TransactionReceipt(waitCtx, hash)
		if err == nil && rc != nil {
			return rc, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if waitCtx.Err() != nil {
			return nil, errPending
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errPending
		case <-ticker.C:
		}
	}
}

func (v *Verifier) fromRecord(row *storage.Transaction, already bool) *Result {
	meta := row.MetadataMap()
	str := func(k string) string {
		s, _ := meta[k].(string)
		return s
	}

	r := v.receipts.Build(receipt.FromTransaction(row))
	return &Result{
		Success:         true,
		TxHash:          row.TransactionHash,
		ExplorerURL:     v.network.TxURL(row.TransactionHash),
		PaidAsset:       PaidAsset,
		ETHAmount:       str(metaETH),
		PriceUSDPerETH:  str(metaPrice),
		USDCEquivalent:  receipt.FormatAmount(row.Amount),
		Receipt:         &r,
		AlreadyRecorded: already,
	}
}

// USDEquivalent converts eth at usdPerETH, rounded to cents and floored at
// zero.
func USDEquivalent(eth, usdPerETH decimal.Decimal) decimal.Decimal {
	usd := eth.Mul(usdPerETH).Round(2)
	if usd.IsNegative() {
		return decimal.Zero
	}
	return usd
}
