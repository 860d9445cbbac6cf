package widget

import (
	"context"

	"github.com/noah-isme/toko-checkout/internal/payment"
)

// Prefill carries customer details shown in the widget form.
type Prefill struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

// Notes is attached to the gateway order for reconciliation.
type Notes struct {
	CartID string `json:"cart_id"`
}

// Theme controls widget styling.
type Theme struct {
	Color string `json:"color"`
}

// Options are the parameters the hosted checkout is opened with. Amount is in
// minor currency units and passed through untouched.
type Options struct {
	Key         string  `json:"key" validate:"required"`
	Amount      int64   `json:"amount" validate:"gt=0"`
	Currency    string  `json:"currency" validate:"required,len=3"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	OrderID     string  `json:"order_id" validate:"required"`
	Prefill     Prefill `json:"prefill"`
	Notes       Notes   `json:"notes"`
	Theme       Theme   `json:"theme"`
}

// Invocation binds one widget opening to its two resolution callbacks.
type Invocation struct {
	ID        string
	Options   Options
	OnSuccess func(payment.WidgetResult)
	OnDismiss func()
}

// Widget opens the external checkout. Open returns once the widget is shown;
// the outcome arrives later through exactly one of the invocation callbacks.
type Widget interface {
	Open(ctx context.Context, inv Invocation) error
}
