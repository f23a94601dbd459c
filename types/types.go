package types

import (
	"fmt"
	"time"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
)

// Scheme is the closed set of payment schemes this library verifies.
type Scheme string

const (
	SchemeExact Scheme = "exact"
)

// ParseScheme maps a wire value onto a supported Scheme. Unknown schemes are
// rejected rather than defaulted.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(s) {
	case SchemeExact:
		return SchemeExact, nil
	default:
		return "", &X402Error{
			Code:    ErrUnsupportedScheme,
			Message: fmt.Sprintf("unsupported scheme: %q", s),
		}
	}
}

func (s Scheme) String() string {
	return string(s)
}

type SupportedItem struct {
	X402Version int    `json:"x402Version"`
	Scheme      string `json:"scheme"`
	Network     string `json:"network"`
}

type SupportedResponse struct {
	Kinds []SupportedItem `json:"kinds"`
}

// PaymentRequirements defines what a resource owner accepts as payment.
// It is produced by the server, never by the client.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use. Only "exact" is supported.
	Scheme string `json:"scheme" validate:"required"`

	// Network the payment must be made on (e.g. "base-sepolia").
	Network string `json:"network" validate:"required"`

	// Address to which the payment must be sent.
	PayTo string `json:"payTo" validate:"required,eth_addr"`

	// Token contract address. Empty or the zero address means the native asset.
	Asset string `json:"asset,omitempty" validate:"omitempty,eth_addr"`

	// Amount required in atomic units of the asset. Represented as a string
	// because Go does not support uint256.
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required,number"`

	// Maximum age in seconds of the settling transaction. Zero or negative
	// disables the check.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// URL of the resource to pay for.
	Resource string `json:"resource,omitempty"`

	// Description of the resource being purchased.
	Description string `json:"description,omitempty"`

	// MIME type of the resource response (e.g., "application/json").
	MimeType string `json:"mimeType,omitempty"`

	// Extra information about payment details specific to the scheme.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// IsNative reports whether the requirement is for the chain's native asset.
func (pr *PaymentRequirements) IsNative() bool {
	return pr.Asset == "" || pr.Asset == NativeAssetMarker
}

// X402Response is the body of a 402 Payment Required response.
type X402Response struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	// List of payment requirements that the resource server accepts.
	Accepts []PaymentRequirements `json:"accepts"`

	// Message from the resource server indicating any processing error.
	Error string `json:"error,omitempty"`
}

// PaymentPayload is the decoded X-PAYMENT envelope.
type PaymentPayload struct {
	X402Version int
	Scheme      Scheme
	Network     Network

	// Exact is set when Scheme is SchemeExact.
	Exact *ExactPayload
}

// VerifyRequest is the body accepted by the verification endpoint.
type VerifyRequest struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version" validate:"required,gt=0"`

	// Encoded payment header from the client.
	PaymentHeader string `json:"paymentHeader" validate:"required"`

	// Payment requirements being verified against.
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// VerificationResponse is the sole contract between a verifier and its caller.
// InvalidReason is null when the payment is valid.
type VerificationResponse struct {
	IsValid       bool    `json:"isValid"`
	InvalidReason *string `json:"invalidReason"`
	Payer         string  `json:"payer,omitempty"`
}

// Valid returns a successful VerificationResponse.
func Valid(payer string) *VerificationResponse {
	return &VerificationResponse{IsValid: true, Payer: payer}
}

// Invalid returns a failed VerificationResponse carrying reason.
func Invalid(reason string) *VerificationResponse {
	return &VerificationResponse{IsValid: false, InvalidReason: &reason}
}

// Reason returns the invalid reason or the empty string.
func (r *VerificationResponse) Reason() string {
	if r == nil || r.InvalidReason == nil {
		return ""
	}
	return *r.InvalidReason
}

// ClientConfig contains configuration for a chain client
type ClientConfig struct {
	Network Network       `json:"network" validate:"required"`
	RPCUrl  string        `json:"rpcUrl" validate:"required,url"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// X402Config contains global configuration for the library
type X402Config struct {
	// Network the deployment is configured for. Sign-in chain ids are checked against it.
	Network Network `json:"network" validate:"required"`

	// RPC overrides per network. Networks without an entry use their public endpoint.
	RPCURLs map[Network]string `json:"rpcUrls,omitempty"`

	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty"`

	// SignInFreshness bounds how old a sign-in message may be.
	SignInFreshness time.Duration `json:"signInFreshness,omitempty"`

	// TipRecipient is the single destination for native-asset tips.
	TipRecipient string `json:"tipRecipient" validate:"omitempty,eth_addr"`

	// TipWaitTimeout bounds how long tip verification waits for confirmation.
	TipWaitTimeout time.Duration `json:"tipWaitTimeout,omitempty"`

	LogLevel      string `json:"logLevel,omitempty"`
	EnableMetrics bool   `json:"enableMetrics,omitempty"`
}

// Error types
type X402Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e X402Error) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrInvalidPayload      = "INVALID_PAYLOAD"
	ErrInvalidRequirements = "INVALID_REQUIREMENTS"
	ErrUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
	ErrUnsupportedScheme   = "UNSUPPORTED_SCHEME"
	ErrNetworkError        = "NETWORK_ERROR"
	ErrConfigError         = "CONFIG_ERROR"
	ErrPriceUnavailable    = "PRICE_UNAVAILABLE"
)

// Validate checks that the requirement is internally consistent.
func (pr *PaymentRequirements) Validate() error {
	if _, err := ParseScheme(pr.Scheme); err != nil {
		return err
	}

	if _, err := ParseNetwork(pr.Network); err != nil {
		return err
	}

	if pr.MaxAmountRequired == "" {
		return fmt.Errorf("paymentRequirements.maxAmountRequired is required")
	}

	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}

	return nil
}
