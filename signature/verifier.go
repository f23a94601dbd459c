// Package signature verifies wallet message signatures for both externally
// owned accounts (ECDSA personal_sign) and contract wallets (EIP-1271).
package signature

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/basehealth/x402/clients"
	"github.com/basehealth/x402/logger"
	"github.com/basehealth/x402/utils"
)

// EIP1271MagicValue is returned by isValidSignature on success.
var EIP1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

const isValidSignatureHashABI = `[{
	"name": "isValidSignature",
	"type": "function",
	"stateMutability": "view",
	"inputs": [
		{"name": "hash", "type": "bytes32"},
		{"name": "signature", "type": "bytes"}
	],
	"outputs": [{"name": "magicValue", "type": "bytes4"}]
}]`

const isValidSignatureBytesABI = `[{
	"name": "isValidSignature",
	"type": "function",
	"stateMutability": "view",
	"inputs": [
		{"name": "data", "type": "bytes"},
		{"name": "signature", "type": "bytes"}
	],
	"outputs": [{"name": "magicValue", "type": "bytes4"}]
}]`

// Request is a signed wallet message.
type Request struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// Result is the outcome of a signature check. Error carries a diagnostic
// whenever Valid is false.
type Result struct {
	Valid            bool   `json:"valid"`
	IsContractWallet bool   `json:"isContractWallet"`
	Error            string `json:"error,omitempty"`
}

// Strategy is one EIP-1271 calling convention.
type Strategy struct {
	Name string
	abi  abi.ABI
	args func(message string) (any, error)
}

// DefaultStrategies tries the bytes32 digest convention first and falls back
// to passing the raw message bytes.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name: "bytes32",
			abi:  mustParseABI(isValidSignatureHashABI),
			args: func(message string) (any, error) {
				return [32]byte(common.BytesToHash(utils.PersonalMessageHash(message))), nil
			},
		},
		{
			Name: "bytes",
			abi:  mustParseABI(isValidSignatureBytesABI),
			args: func(message string) (any, error) {
				return []byte(message), nil
			},
		},
	}
}

// Verifier checks wallet message signatures against a chain.
type Verifier struct {
	reader     clients.ChainReader
	strategies []Strategy
	logger     logger.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) {
		v.logger = l
	}
}

func WithStrategies(s []Strategy) Option {
	return func(v *Verifier) {
		v.strategies = s
	}
}

// NewVerifier creates a Verifier reading contract code through reader.
func NewVerifier(reader clients.ChainReader, opts ...Option) *Verifier {
	v := &Verifier{
		reader:     reader,
		strategies: DefaultStrategies(),
		logger:     logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyWalletMessageSignature checks req. It never panics or returns an
// error; every failure is a Result with Valid false.
func (v *Verifier) VerifyWalletMessageSignature(ctx context.Context, req Request) Result {
	if err := utils.ValidateAddress(req.Address); err != nil {
		return Result{Error: fmt.Sprintf("invalid address: %v", err)}
	}
	if !utils.IsHexSignature(req.Signature) {
		return Result{Error: "invalid signature: must be 0x-prefixed hex"}
	}
	sig, err := utils.DecodeSignature(req.Signature)
	if err != nil {
		return Result{Error: fmt.Sprintf("invalid signature: %v", err)}
	}

	address := common.HexToAddress(req.Address)

	code, err := v.reader.CodeAt(ctx, address, nil)
	if err != nil {
		v.logger.Warn("failed to fetch account code", map[string]any{
			"address": address.Hex(),
			"error":   err.Error(),
		})
		return Result{Error: fmt.Sprintf("failed to fetch account code: %v", err)}
	}

	if len(code) > 0 {
		return v.verifyContractWallet(ctx, address, req.Message, sig)
	}

	ok, err := utils.VerifyPersonalMessage(req.Message, sig, address)
	if err != nil {
		return Result{Error: fmt.Sprintf("signature recovery failed: %v", err)}
	}
	if !ok {
		return Result{Error: "signature does not match address"}
	}
	return Result{Valid: true}
}

func (v *Verifier) verifyContractWallet(ctx context.Context, wallet common.Address, message string, sig []byte) Result {
	var failures []string
	for _, s := range v.strategies {
		err := v.tryStrategy(ctx, s, wallet, message, sig)
		if err == nil {
			return Result{Valid: true, IsContractWallet: true}
		}
		failures = append(failures, fmt.Sprintf("%s: %v", s.Name, err))
	}

	v.logger.Info("contract wallet rejected signature", map[string]any{
		"address":  wallet.Hex(),
		"attempts": failures,
	})
	return Result{
		IsContractWallet: true,
		Error:            "EIP-1271 verification failed (" + strings.Join(failures, "; ") + ")",
	}
}

func (v *Verifier) tryStrategy(ctx context.Context, s Strategy, wallet common.Address, message string, sig []byte) error {
	first, err := s.args(message)
	if err != nil {
		return err
	}

	data, err := s.abi.Pack("isValidSignature", first, sig)
	if err != nil {
		return fmt.Errorf("failed to pack call: %w", err)
	}

	out, err := v.reader.CallContract(ctx, ethereum.CallMsg{To: &wallet, Data: data}, nil)
	if err != nil {
		return fmt.Errorf("call failed: %w", err)
	}

	values, err := s.abi.Unpack("isValidSignature", out)
	if err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	if len(values) != 1 {
		return fmt.Errorf("unexpected result length %d", len(values))
	}
	magic, ok := values[0].([4]byte)
	if !ok {
		return fmt.Errorf("unexpected result type %T", values[0])
	}
	if !bytes.Equal(magic[:], EIP1271MagicValue[:]) {
		return fmt.Errorf("magic value mismatch: 0x%x", magic)
	}
	return nil
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("signature: invalid ABI: %v", err))
	}
	return parsed
}
