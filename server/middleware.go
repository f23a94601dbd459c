package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/basehealth/x402"
	"github.com/basehealth/x402/clients"
	"github.com/basehealth/x402/logger"
	"github.com/basehealth/x402/types"
	"github.com/basehealth/x402/utils"
)

const (
	// PaymentHeader carries the client's encoded payment.
	PaymentHeader = "X-PAYMENT"

	// PaymentResponseHeader carries the encoded settlement summary.
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"

	// PaymentContextKey holds the verified *types.PaymentPayload.
	PaymentContextKey = "x402_payment"
)

type paywallConfig struct {
	description string
	mimeType    string
	resource    string
	timeout     int
	logger      logger.Logger
}

// PaywallOption customizes the advertised requirements.
type PaywallOption func(*paywallConfig)

func WithDescription(description string) PaywallOption {
	return func(c *paywallConfig) {
		c.description = description
	}
}

func WithMimeType(mimeType string) PaywallOption {
	return func(c *paywallConfig) {
		c.mimeType = mimeType
	}
}

// WithResource fixes the advertised resource URL; by default the request URL is used.
func WithResource(resource string) PaywallOption {
	return func(c *paywallConfig) {
		c.resource = resource
	}
}

// WithMaxTimeoutSeconds bounds the age of the paying transaction.
func WithMaxTimeoutSeconds(seconds int) PaywallOption {
	return func(c *paywallConfig) {
		c.timeout = seconds
	}
}

func WithPaywallLogger(l logger.Logger) PaywallOption {
	return func(c *paywallConfig) {
		c.logger = l
	}
}

type paymentResponse struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// Paywall returns middleware that admits a request only when it carries a
// valid exact-scheme payment of amount (atomic units of asset) to payTo on
// the instance's network. An empty asset means the native coin.
func Paywall(x *x402.X402, payTo, asset, amount string, opts ...PaywallOption) gin.HandlerFunc {
	cfg := &paywallConfig{
		mimeType: "application/json",
		timeout:  600,
		logger:   logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(c *gin.Context) {
		resource := cfg.resource
		if resource == "" {
			resource = requestURL(c.Request)
		}
		req := types.PaymentRequirements{
			Scheme:            string(types.SchemeExact),
			Network:           string(x.Network()),
			PayTo:             payTo,
			Asset:             asset,
			MaxAmountRequired: amount,
			MaxTimeoutSeconds: cfg.timeout,
			Resource:          resource,
			Description:       cfg.description,
			MimeType:          cfg.mimeType,
		}

		header := c.GetHeader(PaymentHeader)
		if header == "" {
			abortPaymentRequired(c, req, "X-PAYMENT header is required")
			return
		}

		payload, err := utils.DecodePaymentHeader(header)
		if err != nil {
			cfg.logger.Info("rejected payment header", map[string]any{"error": err.Error()})
			abortPaymentRequired(c, req, err.Error())
			return
		}
		if payload.X402Version != x402.ProtocolVersion {
			abortPaymentRequired(c, req, "unsupported x402Version")
			return
		}

		resp := x.VerifyPayment(c.Request.Context(), payload, &req)
		if !resp.IsValid {
			abortPaymentRequired(c, req, resp.Reason())
			return
		}

		_, created, err := x.RecordPayment(c.Request.Context(), payload, &req)
		if err != nil {
			// single use cannot be enforced without the ledger
			cfg.logger.Error("failed to record payment", map[string]any{
				"txHash": payload.Exact.TxHash,
				"error":  err.Error(),
			})
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "payment could not be recorded"})
			return
		}
		if !created {
			cfg.logger.Info("rejected reused payment", map[string]any{"txHash": payload.Exact.TxHash})
			abortPaymentRequired(c, req, clients.ReasonPaymentAlreadyUsed)
			return
		}

		summary, err := json.Marshal(paymentResponse{
			Success:     true,
			Transaction: payload.Exact.TxHash,
			Network:     string(payload.Network),
			Payer:       resp.Payer,
		})
		if err == nil {
			c.Header(PaymentResponseHeader, base64.StdEncoding.EncodeToString(summary))
		}

		c.Set(PaymentContextKey, payload)
		c.Next()
	}
}

// PaymentFrom returns the payment verified by Paywall for this request.
func PaymentFrom(c *gin.Context) (*types.PaymentPayload, bool) {
	v, ok := c.Get(PaymentContextKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*types.PaymentPayload)
	return p, ok
}

func abortPaymentRequired(c *gin.Context, req types.PaymentRequirements, reason string) {
	c.AbortWithStatusJSON(http.StatusPaymentRequired, types.X402Response{
		X402Version: x402.ProtocolVersion,
		Accepts:     []types.PaymentRequirements{req},
		Error:       reason,
	})
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
