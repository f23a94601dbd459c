package utils

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/basehealth/x402/types"
)

var validate = validator.New()

// Validator returns the shared struct validator.
func Validator() *validator.Validate {
	return validate
}

// paymentEnvelope is the JSON shape carried, base64 encoded, in X-PAYMENT.
type paymentEnvelope struct {
	X402Version int             `json:"x402Version" validate:"required,gt=0"`
	Scheme      string          `json:"scheme" validate:"required"`
	Network     string          `json:"network" validate:"required"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
}

// EncodePaymentHeader serializes a PaymentPayload into a header value.
func EncodePaymentHeader(p *types.PaymentPayload) (string, error) {
	if p == nil {
		return "", invalidPayload("payment payload is nil")
	}

	var inner any
	switch p.Scheme {
	case types.SchemeExact:
		if p.Exact == nil {
			return "", invalidPayload("exact scheme requires an exact payload")
		}
		inner = p.Exact
	default:
		return "", &types.X402Error{
			Code:    types.ErrUnsupportedScheme,
			Message: fmt.Sprintf("unsupported scheme: %q", p.Scheme),
		}
	}

	raw, err := json.Marshal(inner)
	if err != nil {
		return "", invalidPayload(fmt.Sprintf("failed to marshal payload: %v", err))
	}

	data, err := json.Marshal(paymentEnvelope{
		X402Version: p.X402Version,
		Scheme:      string(p.Scheme),
		Network:     string(p.Network),
		Payload:     raw,
	})
	if err != nil {
		return "", invalidPayload(fmt.Sprintf("failed to marshal envelope: %v", err))
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader parses a header value produced by EncodePaymentHeader.
// Malformed, truncated or unsupported input yields an *types.X402Error; it
// never falls back to a default scheme.
func DecodePaymentHeader(header string) (*types.PaymentPayload, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, invalidPayload("payment header is empty")
	}

	data, err := decodeBase64(header)
	if err != nil {
		return nil, invalidPayload(fmt.Sprintf("payment header is not valid base64: %v", err))
	}

	var env paymentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, invalidPayload(fmt.Sprintf("payment header is not valid JSON: %v", err))
	}
	if err := validate.Struct(&env); err != nil {
		return nil, invalidPayload(fmt.Sprintf("validation failed: %v", err))
	}

	scheme, err := types.ParseScheme(env.Scheme)
	if err != nil {
		return nil, err
	}
	network, err := types.ParseNetwork(env.Network)
	if err != nil {
		return nil, err
	}

	out := &types.PaymentPayload{
		X402Version: env.X402Version,
		Scheme:      scheme,
		Network:     network,
	}

	switch scheme {
	case types.SchemeExact:
		exact, err := decodeExact(env.Payload)
		if err != nil {
			return nil, err
		}
		out.Exact = exact
	default:
		return nil, &types.X402Error{
			Code:    types.ErrUnsupportedScheme,
			Message: fmt.Sprintf("unsupported scheme: %q", scheme),
		}
	}

	return out, nil
}

func decodeExact(raw json.RawMessage) (*types.ExactPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var p types.ExactPayload
	if err := dec.Decode(&p); err != nil {
		return nil, invalidPayload(fmt.Sprintf("invalid exact payload: %v", err))
	}
	if err := validate.Struct(&p); err != nil {
		return nil, invalidPayload(fmt.Sprintf("validation failed: %v", err))
	}
	return &p, nil
}

// ParsePaymentRequirements parses and validates PaymentRequirements from JSON
func ParsePaymentRequirements(data []byte) (*types.PaymentRequirements, error) {
	var req types.PaymentRequirements

	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("failed to parse payment requirements: %v", err),
		}
	}

	if err := ValidatePaymentRequirements(&req); err != nil {
		return nil, err
	}

	return &req, nil
}

// ValidatePaymentRequirements runs tag and semantic validation on req.
func ValidatePaymentRequirements(req *types.PaymentRequirements) error {
	if err := validate.Struct(req); err != nil {
		return &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: fmt.Sprintf("validation failed: %v", err),
		}
	}

	if err := req.Validate(); err != nil {
		return &types.X402Error{
			Code:    types.ErrInvalidRequirements,
			Message: err.Error(),
		}
	}

	return nil
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.URLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func invalidPayload(msg string) *types.X402Error {
	return &types.X402Error{Code: types.ErrInvalidPayload, Message: msg}
}
