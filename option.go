package x402

import (
	"time"

	"github.com/basehealth/x402/clients"
	"github.com/basehealth/x402/logger"
	"github.com/basehealth/x402/metrics"
	"github.com/basehealth/x402/price"
	"github.com/basehealth/x402/storage"
)

type Option func(*X402)

func WithLogger(l logger.Logger) Option {
	return func(x *X402) {
		x.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402) {
		x.metrics = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(x *X402) {
		x.timeout = t
	}
}

// WithLedger sets where verified tips and payments are recorded. The default
// is an in-memory ledger.
func WithLedger(l storage.Ledger) Option {
	return func(x *X402) {
		x.ledger = l
	}
}

// WithPriceSource sets the ETH/USD source used by tip verification.
func WithPriceSource(p price.Source) Option {
	return func(x *X402) {
		x.prices = p
	}
}

// WithDialer replaces the RPC dialer, mainly for tests.
func WithDialer(d clients.DialFunc) Option {
	return func(x *X402) {
		x.dial = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(x *X402) {
		x.now = now
	}
}
