package notify

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// TaskOrderPlaced is enqueued after a checkout produced an order.
	TaskOrderPlaced = "checkout:order_placed"
	// TaskPaymentUnreconciled is enqueued when the widget reported a payment
	// but no order came out of it.
	TaskPaymentUnreconciled = "checkout:payment_unreconciled"
)

// OrderPlacedPayload describes a completed checkout.
type OrderPlacedPayload struct {
	AttemptID      string `json:"attempt_id"`
	CartID         string `json:"cart_id"`
	OrderID        string `json:"order_id"`
	DisplayID      int64  `json:"display_id,omitempty"`
	Email          string `json:"email,omitempty"`
	Total          string `json:"total,omitempty"`
	CurrencyCode   string `json:"currency_code,omitempty"`
	PaymentID      string `json:"payment_id"`
	GatewayOrderID string `json:"gateway_order_id"`
}

// UnreconciledPayload describes a payment that may be captured upstream
// without a matching order.
type UnreconciledPayload struct {
	AttemptID      string `json:"attempt_id"`
	CartID         string `json:"cart_id"`
	SessionID      string `json:"session_id"`
	PaymentID      string `json:"payment_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	Reason         string `json:"reason"`
	Message        string `json:"message"`
}

// NewOrderPlacedTask encodes p into an asynq task.
func NewOrderPlacedTask(p OrderPlacedPayload, opts ...asynq.Option) (*asynq.Task, error) {
	return newTask(TaskOrderPlaced, p, opts...)
}

// NewUnreconciledTask encodes p into an asynq task.
func NewUnreconciledTask(p UnreconciledPayload, opts ...asynq.Option) (*asynq.Task, error) {
	return newTask(TaskPaymentUnreconciled, p, opts...)
}

func newTask(kind string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}
	return asynq.NewTask(kind, body, opts...), nil
}
