package payment

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ProviderData is the gateway specific payload attached to a payment session.
// Only a handful of keys are understood here; everything else passes through.
type ProviderData map[string]any

// KeyID returns the public gateway key identifier used to initialise the widget.
func (d ProviderData) KeyID() string {
	return d.str("key_id")
}

// Currency returns the ISO currency code of the session.
func (d ProviderData) Currency() string {
	return d.str("currency")
}

// GatewayOrderID returns the order identifier assigned by the gateway. The
// backend stores it under "id"; "order_id" is accepted as a fallback.
func (d ProviderData) GatewayOrderID() string {
	if id := d.str("id"); id != "" {
		return id
	}
	return d.str("order_id")
}

// Amount returns the amount in minor currency units. The second value reports
// whether the stored value was an integral number.
func (d ProviderData) Amount() (int64, bool) {
	if d == nil {
		return 0, false
	}
	switch v := d["amount"].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Keys lists the keys present in the payload, useful when reporting a
// misconfigured session without dumping its values.
func (d ProviderData) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	return keys
}

func (d ProviderData) str(key string) string {
	if d == nil {
		return ""
	}
	switch v := d[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// Session identifies a pending payment attempt owned by the backend.
type Session struct {
	ID         string       `json:"id"`
	ProviderID string       `json:"provider_id"`
	Status     string       `json:"status"`
	Data       ProviderData `json:"data"`
}

// Address is the subset of the billing address used to prefill the widget.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// Cart is the purchasable basket as seen by the storefront.
type Cart struct {
	ID                  string   `json:"id"`
	Email               string   `json:"email"`
	BillingAddress      *Address `json:"billing_address"`
	PaymentCollectionID string   `json:"-"`
}

// WidgetResult is what the hosted checkout returns after a successful payment.
// It is forwarded to the backend as is and never stored.
type WidgetResult struct {
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// Order is the order created when the cart is completed.
type Order struct {
	ID           string `json:"id"`
	DisplayID    int64  `json:"display_id,omitempty"`
	Email        string `json:"email,omitempty"`
	CurrencyCode string `json:"currency_code,omitempty"`
	// Total is in the currency's major unit; the backend may send fractions.
	Total decimal.Decimal `json:"total"`
}
