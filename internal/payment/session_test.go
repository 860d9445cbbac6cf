package payment_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/payment"
)

func TestProviderDataAccessors(t *testing.T) {
	var data payment.ProviderData
	dec := json.NewDecoder(strings.NewReader(`{"key_id":" rzp_test_1 ","amount":150000,"currency":"INR","id":"order_abc","extra":true}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&data))

	require.Equal(t, "rzp_test_1", data.KeyID())
	require.Equal(t, "INR", data.Currency())
	require.Equal(t, "order_abc", data.GatewayOrderID())
	amount, ok := data.Amount()
	require.True(t, ok)
	require.Equal(t, int64(150000), amount)
	require.ElementsMatch(t, []string{"key_id", "amount", "currency", "id", "extra"}, data.Keys())
}

func TestProviderDataAmountRejectsFractions(t *testing.T) {
	_, ok := payment.ProviderData{"amount": 10.5}.Amount()
	require.False(t, ok)

	amount, ok := payment.ProviderData{"amount": float64(2500)}.Amount()
	require.True(t, ok)
	require.Equal(t, int64(2500), amount)

	amount, ok = payment.ProviderData{"amount": "990"}.Amount()
	require.True(t, ok)
	require.Equal(t, int64(990), amount)

	_, ok = payment.ProviderData(nil).Amount()
	require.False(t, ok)
}

func TestProviderDataOrderIDFallback(t *testing.T) {
	data := payment.ProviderData{"order_id": "order_xyz"}
	require.Equal(t, "order_xyz", data.GatewayOrderID())
	require.Equal(t, "", data.KeyID())
}
