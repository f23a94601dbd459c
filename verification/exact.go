package verification

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/basehealth/x402/clients"
	"github.com/basehealth/x402/logger"
	"github.com/basehealth/x402/types"
	"github.com/basehealth/x402/utils"
)

// ExactVerifier checks an exact-scheme payment against the chain.
type ExactVerifier struct {
	now    func() time.Time
	logger logger.Logger
}

func NewExactVerifier(now func() time.Time, log logger.Logger) *ExactVerifier {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &ExactVerifier{now: now, logger: log}
}

// Verify runs the cheap structural checks first and only then reads the
// chain. It never returns an error or panics; every failure, including RPC
// errors, is an invalid response with a distinct reason.
func (e *ExactVerifier) Verify(
	ctx context.Context,
	reader clients.ChainReader,
	network types.Network,
	payload *types.ExactPayload,
	req *types.PaymentRequirements,
) (resp *types.VerificationResponse) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("exact verification panicked", map[string]any{
				"network": string(network),
				"panic":   fmt.Sprint(r),
			})
			resp = types.Invalid(fmt.Sprintf("%s: %v", clients.ReasonUnexpectedVerifyErr, r))
		}
	}()

	if payload == nil || req == nil {
		return types.Invalid(clients.ReasonInvalidPaymentHeader)
	}

	required, fail := checkStatic(payload, req)
	if fail != nil {
		return fail
	}
	native := req.IsNative()

	if reader == nil {
		return types.Invalid(clients.ReasonNetworkUnavailable)
	}

	// 4. receipt
	txHash := common.HexToHash(payload.TxHash)
	receipt, err := reader.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return types.Invalid(clients.ReasonTxNotFound)
		}
		e.logger.Warn("failed to fetch receipt", map[string]any{
			"network": string(network),
			"txHash":  payload.TxHash,
			"error":   err.Error(),
		})
		return types.Invalid(fmt.Sprintf("%s: %v", clients.ReasonReceiptFetchFailed, err))
	}
	if receipt == nil {
		return types.Invalid(clients.ReasonTxNotFound)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return types.Invalid(clients.ReasonTxFailed)
	}

	// 5. freshness
	if req.MaxTimeoutSeconds > 0 {
		header, err := reader.HeaderByHash(ctx, receipt.BlockHash)
		if err != nil || header == nil {
			return types.Invalid(clients.ReasonBlockNotFound)
		}
		mined := time.Unix(int64(header.Time), 0)
		age := e.now().Sub(mined)
		limit := time.Duration(req.MaxTimeoutSeconds) * time.Second
		if age > limit {
			return types.Invalid(fmt.Sprintf("%s: mined %ds ago, limit %ds",
				clients.ReasonTxTooOld, int64(age/time.Second), req.MaxTimeoutSeconds))
		}
	}

	// 6. settlement proof
	if native {
		return e.verifyNative(ctx, reader, network, txHash, payload, req, required)
	}
	return e.verifyToken(receipt, payload, req, required)
}

func (e *ExactVerifier) verifyNative(
	ctx context.Context,
	reader clients.ChainReader,
	network types.Network,
	txHash common.Hash,
	payload *types.ExactPayload,
	req *types.PaymentRequirements,
	required *big.Int,
) *types.VerificationResponse {
	tx, _, err := reader.TransactionByHash(ctx, txHash)
	if err != nil || tx == nil {
		return types.Invalid(clients.ReasonNativeTxNotFound)
	}

	if tx.To() == nil || !utils.SameAddress(tx.To().Hex(), req.PayTo) {
		got := "contract creation"
		if tx.To() != nil {
			got = tx.To().Hex()
		}
		return types.Invalid(fmt.Sprintf("%s: expected %s got %s", clients.ReasonNativeRecipient, req.PayTo, got))
	}

	sender, err := clients.TransactionSender(network, tx)
	if err != nil {
		return types.Invalid(fmt.Sprintf("%s: %v", clients.ReasonNativeSender, err))
	}
	if !utils.SameAddress(sender, payload.From) {
		return types.Invalid(fmt.Sprintf("%s: expected %s got %s", clients.ReasonNativeSender, payload.From, sender))
	}

	if tx.Value().Cmp(required) < 0 {
		return types.Invalid(fmt.Sprintf("%s: required %s got %s", clients.ReasonNativeValue, required, tx.Value()))
	}

	return types.Valid(payload.From)
}

func (e *ExactVerifier) verifyToken(
	receipt *ethtypes.Receipt,
	payload *types.ExactPayload,
	req *types.PaymentRequirements,
	required *big.Int,
) *types.VerificationResponse {
	asset := common.HexToAddress(req.Asset)
	payTo := common.HexToAddress(req.PayTo)
	from := common.HexToAddress(payload.From)

	for _, ev := range clients.TransfersFrom(receipt, asset) {
		if ev.To != payTo || ev.From != from {
			continue
		}
		if ev.Value.Cmp(required) >= 0 {
			return types.Valid(payload.From)
		}
	}
	return types.Invalid(clients.ReasonNoMatchingTransfer)
}

// checkStatic runs every check that needs no chain access and returns the
// required amount on success.
func checkStatic(payload *types.ExactPayload, req *types.PaymentRequirements) (*big.Int, *types.VerificationResponse) {
	// 1. structure
	if !utils.IsTransactionHash(payload.TxHash) {
		return nil, types.Invalid(clients.ReasonInvalidTxHash)
	}
	if !utils.IsAddress(payload.From) {
		return nil, types.Invalid(clients.ReasonInvalidFrom)
	}
	if !utils.IsAddress(payload.To) {
		return nil, types.Invalid(clients.ReasonInvalidTo)
	}
	if !utils.IsAddress(req.PayTo) {
		return nil, types.Invalid(clients.ReasonInvalidPayTo)
	}
	if !req.IsNative() && !utils.IsAddress(req.Asset) {
		return nil, types.Invalid(clients.ReasonInvalidAsset)
	}

	// 2. recipient
	if !utils.SameAddress(payload.To, req.PayTo) {
		return nil, types.Invalid(fmt.Sprintf("%s: expected %s got %s", clients.ReasonRecipientMismatch, req.PayTo, payload.To))
	}

	// 3. claimed amount
	claimed, err := utils.ValidateBigInt(payload.Amount)
	if err != nil {
		return nil, types.Invalid(fmt.Sprintf("%s: %v", clients.ReasonInvalidAmount, err))
	}
	required, err := utils.ValidateBigInt(req.MaxAmountRequired)
	if err != nil {
		return nil, types.Invalid(fmt.Sprintf("%s: %v", clients.ReasonInvalidRequiredAmnt, err))
	}
	if claimed.Cmp(required) < 0 {
		return nil, types.Invalid(fmt.Sprintf("%s: required %s got %s", clients.ReasonInsufficientAmount, required, claimed))
	}

	return required, nil
}
