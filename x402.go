// Package x402 verifies on-chain payments and wallet sign-ins on Base.
//
// It implements the x402 "exact" scheme for native ETH and ERC-20 payments,
// a native-asset tip flow with an idempotent ledger, EIP-4361 style wallet
// sign-in for both EOAs and EIP-1271 contract wallets, and receipts derived
// from ledger records. The library only ever reads from the chain.
package x402

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basehealth/x402/clients"
	"github.com/basehealth/x402/logger"
	"github.com/basehealth/x402/metrics"
	"github.com/basehealth/x402/price"
	"github.com/basehealth/x402/receipt"
	"github.com/basehealth/x402/signature"
	"github.com/basehealth/x402/signin"
	"github.com/basehealth/x402/storage"
	"github.com/basehealth/x402/tips"
	"github.com/basehealth/x402/types"
	"github.com/basehealth/x402/utils"
	"github.com/basehealth/x402/verification"
)

const (
	nativeDecimals = 18
	usdcDecimals   = 6
)

// X402 is the main struct that provides all x402 functionality
type X402 struct {
	config *types.X402Config

	registry     *clients.Registry
	verification *verification.VerificationService
	signatures   *signature.Verifier
	signin       *signin.Verifier
	tips         *tips.Verifier
	receipts     receipt.Builder

	ledger  storage.Ledger
	prices  price.Source
	dial    clients.DialFunc
	now     func() time.Time
	logger  logger.Logger
	metrics metrics.Recorder
	timeout time.Duration
}

// New creates a new X402 instance with the given configuration. A nil config
// selects base-sepolia with public endpoints and no tip recipient.
func New(config *types.X402Config, opts ...Option) (*X402, error) {
	if config == nil {
		config = &types.X402Config{Network: types.NetworkBaseSepolia}
	}
	network, err := types.ParseNetwork(string(config.Network))
	if err != nil {
		return nil, err
	}

	x := &X402{
		config:  config,
		now:     time.Now,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		timeout: 30 * time.Second,
	}
	if config.DefaultTimeout > 0 {
		x.timeout = config.DefaultTimeout
	}
	for _, opt := range opts {
		opt(x)
	}

	if x.ledger == nil {
		x.ledger = storage.NewMemoryLedger()
	}
	if x.prices == nil {
		x.prices = price.NewCache(price.NewHTTPSource("", nil), price.WithLogger(x.logger))
	}

	x.registry = clients.NewRegistry(config.RPCURLs, x.dial)
	x.receipts = receipt.Builder{Network: network}

	x.verification = verification.NewVerificationService(x.registry,
		verification.WithTimeout(x.timeout),
		verification.WithLogger(x.logger),
		verification.WithMetrics(x.metrics),
		verification.WithClock(x.now),
	)

	x.signatures = signature.NewVerifier(x.registry.Reader(network), signature.WithLogger(x.logger))
	x.signin = signin.NewVerifier(x.signatures, network.ChainID().Int64(),
		signin.WithFreshness(config.SignInFreshness),
		signin.WithClock(x.now),
		signin.WithLogger(x.logger),
	)

	if config.TipRecipient != "" {
		x.tips, err = tips.NewVerifier(x.registry, network, config.TipRecipient, x.prices, x.ledger,
			tips.WithWaitTimeout(config.TipWaitTimeout),
			tips.WithLogger(x.logger),
			tips.WithMetrics(x.metrics),
		)
		if err != nil {
			return nil, err
		}
	}

	return x, nil
}

// Network returns the network sign-ins and tips are checked against.
func (x *X402) Network() types.Network {
	return x.config.Network
}

// Verify verifies a payment against requirements
func (x *X402) Verify(ctx context.Context, req *types.VerifyRequest) *types.VerificationResponse {
	return x.verification.Verify(ctx, req)
}

// VerifyPayment verifies an already decoded payment payload.
func (x *X402) VerifyPayment(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) *types.VerificationResponse {
	return x.verification.VerifyPayment(ctx, payload, requirements)
}

// QuickVerify performs basic validation without blockchain queries
func (x *X402) QuickVerify(req *types.VerifyRequest) *types.VerificationResponse {
	return x.verification.QuickVerify(req)
}

func (x *X402) Supported() *types.SupportedResponse {
	return x.verification.Supported()
}

// VerifySignature checks a wallet signature on the configured network.
func (x *X402) VerifySignature(ctx context.Context, req signature.Request) signature.Result {
	return x.signatures.VerifyWalletMessageSignature(ctx, req)
}

// Challenge builds a sign-in message for address bound to domain and nonce.
func (x *X402) Challenge(domain, address, nonce, statement, uri string) *signin.Message {
	return x.signin.Challenge(domain, address, nonce, statement, uri)
}

// Authenticate validates a signed sign-in message.
func (x *X402) Authenticate(ctx context.Context, a signin.Attempt) signin.Result {
	res := x.signin.Verify(ctx, a)
	labels := map[string]string{"network": string(x.config.Network)}
	if res.Valid {
		x.metrics.IncCounter(metrics.EventSignInAccepted, labels)
	} else {
		x.metrics.IncCounter(metrics.EventSignInRejected, labels)
	}
	return res
}

// VerifyTip confirms a native-asset tip. It fails when no tip recipient is
// configured.
func (x *X402) VerifyTip(ctx context.Context, req tips.Request) *tips.Result {
	if x.tips == nil {
		return &tips.Result{Code: tips.CodeUpstream, Error: "tips are not configured"}
	}
	return x.tips.Verify(ctx, req)
}

// TipsEnabled reports whether a tip recipient is configured.
func (x *X402) TipsEnabled() bool {
	return x.tips != nil
}

// RecordPayment stores a verified x402 payment. Recording the same
// transaction twice is not an error; created is false and the stored row is
// returned, so callers can refuse to credit a hash twice.
func (x *X402) RecordPayment(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (tx *storage.Transaction, created bool, err error) {
	if payload == nil || payload.Exact == nil || requirements == nil {
		return nil, false, &types.X402Error{Code: types.ErrInvalidPayload, Message: "payment payload is incomplete"}
	}
	if _, err := types.ParseNetwork(string(payload.Network)); err != nil {
		return nil, false, err
	}

	info := payload.Network.Info()
	currency, decimals := info.NativeAsset, nativeDecimals
	if !requirements.IsNative() {
		currency, decimals = requirements.Asset, 0
		if utils.SameAddress(requirements.Asset, info.USDC) {
			currency, decimals = "USDC", usdcDecimals
		}
	}
	atomic, err := utils.ValidateBigInt(requirements.MaxAmountRequired)
	if err != nil {
		return nil, false, &types.X402Error{Code: types.ErrInvalidRequirements, Message: err.Error()}
	}

	tx = &storage.Transaction{
		TransactionHash: payload.Exact.TxHash,
		Kind:            storage.KindPayment,
		Amount:          utils.AmountFromBigInt(atomic, decimals).String(),
		Currency:        currency,
		Status:          storage.StatusCompleted,
		Network:         string(payload.Network),
	}
	err = tx.SetMetadata(map[string]any{
		receipt.MetaFrom:    payload.Exact.From,
		receipt.MetaTo:      payload.Exact.To,
		receipt.MetaNetwork: string(payload.Network),
		receipt.MetaTxHash:  payload.Exact.TxHash,
		"asset":             requirements.Asset,
		"resource":          requirements.Resource,
		"atomicAmount":      payload.Exact.Amount,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode payment metadata: %w", err)
	}

	created, err = x.ledger.RecordTransaction(ctx, tx)
	if err != nil {
		return nil, false, err
	}
	return tx, created, nil
}

// Receipt builds the receipt for a recorded transaction.
func (x *X402) Receipt(ctx context.Context, txHash string) (*receipt.Receipt, error) {
	tx, err := x.ledger.FindByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load transaction: %w", err)
	}
	r := x.receipts.Build(receipt.FromTransaction(tx))
	return &r, nil
}

// Close closes all client connections
func (x *X402) Close() {
	x.registry.Close()
}

// Version information
const (
	Version         = "1.0.0"
	ProtocolVersion = 1
)

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	networks := make([]string, 0, len(types.Networks()))
	for _, n := range types.Networks() {
		networks = append(networks, string(n))
	}
	return map[string]interface{}{
		"library_version":     Version,
		"protocol_version":    ProtocolVersion,
		"supported_networks":  networks,
		"supported_schemes":   []string{string(types.SchemeExact)},
		"supported_standards": []string{"erc20", "native", "eip1271"},
	}
}
