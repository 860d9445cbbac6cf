package checkout

import (
	"fmt"
	"strings"

	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/widget"
)

// BuildOptions derives the widget parameters from the session and cart.
// Gateway values are copied verbatim from the session data.
func BuildOptions(sess payment.Session, cart payment.Cart, storeName, themeColor string) widget.Options {
	amount, _ := sess.Data.Amount()
	opts := widget.Options{
		Key:         sess.Data.KeyID(),
		Amount:      amount,
		Currency:    sess.Data.Currency(),
		Name:        storeName,
		Description: fmt.Sprintf("Order for Cart %s", cart.ID),
		OrderID:     sess.Data.GatewayOrderID(),
		Prefill: widget.Prefill{
			Email: cart.Email,
		},
		Notes: widget.Notes{CartID: cart.ID},
		Theme: widget.Theme{Color: themeColor},
	}
	if addr := cart.BillingAddress; addr != nil {
		if addr.FirstName != "" {
			opts.Prefill.Name = strings.TrimSpace(addr.FirstName + " " + addr.LastName)
		}
		opts.Prefill.Contact = addr.Phone
	}
	return opts
}
