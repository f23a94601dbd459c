package signin

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/basehealth/x402/logger"
	"github.com/basehealth/x402/signature"
)

// DefaultFreshness bounds the age of an accepted sign-in message.
const DefaultFreshness = 10 * time.Minute

// maxClockSkew tolerates wallets whose clocks run slightly ahead.
const maxClockSkew = 30 * time.Second

// Rejection codes, one per validation step.
const (
	CodeMalformed          = "malformed_message"
	CodeUnsupportedVersion = "unsupported_version"
	CodeNonceMismatch      = "nonce_mismatch"
	CodeDomainMismatch     = "domain_mismatch"
	CodeChainMismatch      = "chain_mismatch"
	CodeStale              = "stale_message"
	CodeAddressMismatch    = "address_mismatch"
	CodeInvalidSignature   = "invalid_signature"
)

// SignatureChecker is satisfied by *signature.Verifier.
type SignatureChecker interface {
	VerifyWalletMessageSignature(ctx context.Context, req signature.Request) signature.Result
}

// Attempt is one inbound sign-in request plus the server-held state it is
// checked against.
type Attempt struct {
	Address   string
	Message   string
	Signature string

	// ExpectedNonce is the value from the single-use nonce cookie.
	ExpectedNonce string

	// Host is the host the request was served on.
	Host string
}

// Result is the outcome of Verify. Code and Reason are set when Valid is false.
type Result struct {
	Valid            bool
	Address          string
	IsContractWallet bool
	Code             string
	Reason           string
	Message          *Message
}

func reject(code, format string, args ...any) Result {
	return Result{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Verifier validates sign-in attempts.
type Verifier struct {
	signatures SignatureChecker
	chainID    int64
	freshness  time.Duration
	now        func() time.Time
	logger     logger.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithFreshness(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.freshness = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		v.now = now
	}
}

func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) {
		v.logger = l
	}
}

// NewVerifier creates a Verifier for a deployment configured for chainID.
func NewVerifier(signatures SignatureChecker, chainID int64, opts ...Option) *Verifier {
	v := &Verifier{
		signatures: signatures,
		chainID:    chainID,
		freshness:  DefaultFreshness,
		now:        time.Now,
		logger:     logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Challenge builds the message a client should sign for address.
func (v *Verifier) Challenge(domain, address, nonce, statement, uri string) *Message {
	return &Message{
		Domain:    domain,
		Address:   address,
		Statement: statement,
		URI:       uri,
		Version:   Version,
		ChainID:   v.chainID,
		Nonce:     nonce,
		IssuedAt:  v.now().UTC().Truncate(time.Second),
	}
}

// Verify runs the checks in order and stops at the first violation. The
// signature is only checked once every cheaper check has passed.
func (v *Verifier) Verify(ctx context.Context, a Attempt) Result {
	res := v.verify(ctx, a)
	if !res.Valid {
		v.logger.Info("sign-in rejected", map[string]any{
			"code":    res.Code,
			"reason":  res.Reason,
			"address": a.Address,
		})
	}
	return res
}

func (v *Verifier) verify(ctx context.Context, a Attempt) Result {
	msg, err := ParseMessage(a.Message)
	if err != nil {
		return reject(CodeMalformed, "%v", err)
	}
	if msg.Version != Version {
		return reject(CodeUnsupportedVersion, "unsupported message version %q", msg.Version)
	}

	if a.ExpectedNonce == "" ||
		subtle.ConstantTimeCompare([]byte(msg.Nonce), []byte(a.ExpectedNonce)) != 1 {
		return reject(CodeNonceMismatch, "nonce does not match the issued nonce")
	}

	if a.Host == "" || !strings.EqualFold(msg.Domain, a.Host) {
		return reject(CodeDomainMismatch, "domain mismatch: expected %s got %s", a.Host, msg.Domain)
	}

	if msg.ChainID != v.chainID {
		return reject(CodeChainMismatch, "chain mismatch: expected %d got %d", v.chainID, msg.ChainID)
	}

	age := v.now().Sub(msg.IssuedAt)
	if age > v.freshness {
		return reject(CodeStale, "message issued %s ago, limit is %s", age.Round(time.Second), v.freshness)
	}
	if age < -maxClockSkew {
		return reject(CodeStale, "message issued in the future")
	}

	if !strings.EqualFold(msg.Address, a.Address) {
		return reject(CodeAddressMismatch, "address mismatch: message is for %s, signer claimed %s", msg.Address, a.Address)
	}

	sig := v.signatures.VerifyWalletMessageSignature(ctx, signature.Request{
		Address:   a.Address,
		Message:   a.Message,
		Signature: a.Signature,
	})
	if !sig.Valid {
		res := reject(CodeInvalidSignature, "%s", sig.Error)
		res.IsContractWallet = sig.IsContractWallet
		return res
	}

	return Result{
		Valid:            true,
		Address:          a.Address,
		IsContractWallet: sig.IsContractWallet,
		Message:          msg,
	}
}
