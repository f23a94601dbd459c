// Package metrics records verification outcomes and latencies.
package metrics

import "time"

// Event names.
const (
	EventPaymentVerified = "payment_verified"
	EventPaymentRejected = "payment_rejected"
	EventTipRecorded     = "tip_recorded"
	EventTipPending      = "tip_pending"
	EventTipRejected     = "tip_rejected"
	EventSignInAccepted  = "signin_accepted"
	EventSignInRejected  = "signin_rejected"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
