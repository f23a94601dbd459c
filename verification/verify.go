// Package verification checks x402 payment proofs against their requirements.
package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/basehealth/x402/clients"
	"github.com/basehealth/x402/logger"
	"github.com/basehealth/x402/metrics"
	"github.com/basehealth/x402/types"
	"github.com/basehealth/x402/utils"
)

// VerificationService routes payment proofs to the verifier for their scheme.
type VerificationService struct {
	clients clients.Source
	exact   *ExactVerifier
	timeout time.Duration
	logger  logger.Logger
	metrics metrics.Recorder
}

type Option func(*VerificationService)

func WithTimeout(t time.Duration) Option {
	return func(s *VerificationService) {
		if t > 0 {
			s.timeout = t
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *VerificationService) {
		s.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *VerificationService) {
		s.metrics = r
	}
}

// WithClock sets the time source used for transaction freshness.
func WithClock(now func() time.Time) Option {
	return func(s *VerificationService) {
		s.exact.now = now
	}
}

// NewVerificationService creates a new verification service
func NewVerificationService(source clients.Source, opts ...Option) *VerificationService {
	s := &VerificationService{
		clients: source,
		exact:   NewExactVerifier(time.Now, nil),
		timeout: 30 * time.Second,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.exact.logger = s.logger
	return s
}

// Verify decodes the payment header in req and verifies it against the
// requirements. Protocol mismatches are rejected before any chain call.
func (s *VerificationService) Verify(ctx context.Context, req *types.VerifyRequest) *types.VerificationResponse {
	if req == nil {
		return types.Invalid(clients.ReasonInvalidPaymentHeader)
	}

	payload, err := utils.DecodePaymentHeader(req.PaymentHeader)
	if err != nil {
		return s.reject(types.Network(req.PaymentRequirements.Network), "", fmt.Sprintf("%s: %v", clients.ReasonInvalidPaymentHeader, err))
	}
	if payload.X402Version != req.X402Version {
		return s.reject(payload.Network, "", fmt.Sprintf("%s: expected %d got %d", clients.ReasonVersionMismatch, req.X402Version, payload.X402Version))
	}

	return s.VerifyPayment(ctx, payload, &req.PaymentRequirements)
}

// VerifyPayment verifies an already decoded payload.
func (s *VerificationService) VerifyPayment(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) *types.VerificationResponse {
	start := time.Now()

	if resp := s.checkProtocol(payload, requirements); resp != nil {
		var network types.Network
		if payload != nil {
			network = payload.Network
		}
		return s.reject(network, "", resp.Reason())
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reader, err := s.clients.Client(verifyCtx, payload.Network)
	if err != nil {
		s.logger.Error("no client for network", map[string]any{
			"network": string(payload.Network),
			"error":   err.Error(),
		})
		return s.reject(payload.Network, payload.Exact.TxHash, clients.ReasonNetworkUnavailable)
	}

	var resp *types.VerificationResponse
	switch payload.Scheme {
	case types.SchemeExact:
		resp = s.exact.Verify(verifyCtx, reader, payload.Network, payload.Exact, requirements)
	default:
		resp = types.Invalid(clients.ReasonSchemeMismatch)
	}

	s.metrics.ObserveLatency("verify", time.Since(start), map[string]string{"network": networkLabel(payload.Network)})
	if !resp.IsValid {
		return s.reject(payload.Network, payload.Exact.TxHash, resp.Reason())
	}

	s.metrics.IncCounter(metrics.EventPaymentVerified, map[string]string{"network": networkLabel(payload.Network)})
	s.logger.Info("payment verified", map[string]any{
		"network": string(payload.Network),
		"txHash":  payload.Exact.TxHash,
		"payer":   resp.Payer,
	})
	return resp
}

// QuickVerify performs every check that needs no blockchain query. A valid
// result here is not proof of payment.
func (s *VerificationService) QuickVerify(req *types.VerifyRequest) *types.VerificationResponse {
	if req == nil {
		return types.Invalid(clients.ReasonInvalidPaymentHeader)
	}

	payload, err := utils.DecodePaymentHeader(req.PaymentHeader)
	if err != nil {
		return types.Invalid(fmt.Sprintf("%s: %v", clients.ReasonInvalidPaymentHeader, err))
	}
	if payload.X402Version != req.X402Version {
		return types.Invalid(fmt.Sprintf("%s: expected %d got %d", clients.ReasonVersionMismatch, req.X402Version, payload.X402Version))
	}
	if resp := s.checkProtocol(payload, &req.PaymentRequirements); resp != nil {
		return resp
	}
	if _, resp := checkStatic(payload.Exact, &req.PaymentRequirements); resp != nil {
		return resp
	}
	return types.Valid(payload.Exact.From)
}

// checkProtocol compares the envelope with the requirements.
func (s *VerificationService) checkProtocol(payload *types.PaymentPayload, req *types.PaymentRequirements) *types.VerificationResponse {
	if payload == nil || payload.Exact == nil {
		return types.Invalid(clients.ReasonInvalidPaymentHeader)
	}
	if req == nil {
		return types.Invalid(clients.ReasonInvalidRequirements)
	}
	if payload.X402Version != int(types.X402Version1) {
		return types.Invalid(fmt.Sprintf("%s: expected %d got %d", clients.ReasonVersionMismatch, types.X402Version1, payload.X402Version))
	}
	if err := utils.ValidatePaymentRequirements(req); err != nil {
		return types.Invalid(fmt.Sprintf("%s: %v", clients.ReasonInvalidRequirements, err))
	}
	if string(payload.Scheme) != req.Scheme {
		return types.Invalid(fmt.Sprintf("%s: expected %s got %s", clients.ReasonSchemeMismatch, req.Scheme, payload.Scheme))
	}
	if string(payload.Network) != req.Network {
		return types.Invalid(fmt.Sprintf("%s: expected %s got %s", clients.ReasonNetworkMismatch, req.Network, payload.Network))
	}
	return nil
}

func (s *VerificationService) reject(network types.Network, txHash, reason string) *types.VerificationResponse {
	s.metrics.IncCounter(metrics.EventPaymentRejected, map[string]string{"network": networkLabel(network)})
	s.logger.Info("payment rejected", map[string]any{
		"network": string(network),
		"txHash":  txHash,
		"reason":  reason,
	})
	return types.Invalid(reason)
}

// networkLabel keeps metric label values within the known networks; the
// network on a rejected request is client input.
func networkLabel(n types.Network) string {
	if _, err := types.ParseNetwork(string(n)); err != nil {
		return "unknown"
	}
	return string(n)
}

// Supported lists the scheme and network pairs this service verifies.
func (s *VerificationService) Supported() *types.SupportedResponse {
	kinds := make([]types.SupportedItem, 0, len(types.Networks()))
	for _, n := range types.Networks() {
		kinds = append(kinds, types.SupportedItem{
			X402Version: int(types.X402Version1),
			Scheme:      string(types.SchemeExact),
			Network:     string(n),
		})
	}
	return &types.SupportedResponse{Kinds: kinds}
}
