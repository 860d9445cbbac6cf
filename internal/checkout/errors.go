package checkout

import (
	"errors"
	"fmt"
)

// Reason classifies a failed attempt.
type Reason string

const (
	ReasonConfig  Reason = "config"
	ReasonLoading Reason = "loading"
	ReasonOpen    Reason = "open"
	ReasonVerify  Reason = "verify"
	ReasonTimeout Reason = "timeout"
)

// Shopper facing messages.
const (
	MsgLoading = "Payment system is loading. Please try again."
	MsgConfig  = "Payment configuration error. Please contact support."
	MsgOpen    = "Failed to open payment checkout. Please try again."
	MsgVerify  = "Payment verification failed. Please contact support."
	MsgTimeout = "Payment confirmation timed out. Please check your order status before retrying."
)

var (
	// ErrConfig marks a session without a gateway key.
	ErrConfig = errors.New("checkout: gateway key missing")
	// ErrLoad marks a checkout script that could not be loaded.
	ErrLoad = errors.New("checkout: widget script unavailable")
	// ErrOpen marks a widget that could not be opened.
	ErrOpen = errors.New("checkout: widget open failed")

	// ErrAttemptInProgress is returned by Pay while another attempt is active.
	ErrAttemptInProgress = errors.New("checkout: attempt in progress")
	// ErrAlreadyCompleted is returned by Pay after the order was placed.
	ErrAlreadyCompleted = errors.New("checkout: order already placed")
	// ErrNotReady is returned by Pay while the caller holds the flow back.
	ErrNotReady = errors.New("checkout: not ready")
)

// Failure is the recorded outcome of a failed attempt. Message is safe to
// show to the shopper.
type Failure struct {
	Reason  Reason
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("checkout %s: %s: %v", f.Reason, f.Message, f.Err)
	}
	return fmt.Sprintf("checkout %s: %s", f.Reason, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether paying again can succeed without reconfiguration.
func (f *Failure) Retryable() bool {
	return f.Reason != ReasonConfig
}
