package checkout_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/widget"
)

func TestViewWhileScriptLoads(t *testing.T) {
	release := make(chan struct{})
	loader := widget.NewLoader(widget.ScriptFunc(func(context.Context) error {
		<-release
		return nil
	}))
	ctrl := checkout.NewController(testCart(), testSession(), loader, &captureWidget{}, &fakeSessions{}, nil, defaultConfig())

	view := ctrl.View()
	require.Equal(t, checkout.StageLoading, view.Stage)
	require.Equal(t, "Loading...", view.Label)
	require.True(t, view.Disabled)
	require.Equal(t, "1500.00", view.Amount)
	require.Equal(t, "INR", view.Currency)

	ctrl.Preload()
	require.True(t, ctrl.View().Disabled)
	close(release)
	require.Eventually(t, func() bool { return !ctrl.View().Disabled }, time.Second, 5*time.Millisecond)

	view = ctrl.View()
	require.Equal(t, checkout.StageIdle, view.Stage)
	require.Equal(t, "Place order", view.Label)
	require.Equal(t, checkout.StateIdle, view.State)
}

func TestViewNotReady(t *testing.T) {
	loader := readyLoader()
	require.True(t, loader.EnsureReady(context.Background()))
	ctrl := checkout.NewController(testCart(), testSession(), loader, &captureWidget{}, &fakeSessions{}, nil, defaultConfig())
	ctrl.SetNotReady(true)

	view := ctrl.View()
	require.Equal(t, checkout.StageDisabled, view.Stage)
	require.Equal(t, "Place order", view.Label)
	require.True(t, view.Disabled)
}

func TestViewAfterSuccessCarriesRedirect(t *testing.T) {
	w := &captureWidget{}
	ctrl := checkout.NewController(testCart(), testSession(), readyLoader(), w, &fakeSessions{}, nil, defaultConfig())

	att, err := ctrl.Pay(context.Background())
	require.NoError(t, err)
	require.Equal(t, att.InvocationID, ctrl.View().InvocationID)

	w.last().OnSuccess(payment.WidgetResult{PaymentID: "pay_1", OrderID: "order_abc", Signature: "sig_1"})
	waitDone(t, att)

	view := ctrl.View()
	require.Equal(t, checkout.StateSucceeded, view.State)
	require.Equal(t, "/order/confirmed/order_1", view.RedirectURL)
	require.True(t, view.Disabled)
	require.Empty(t, view.Error)
}

func TestViewAmountOmittedWhenInvalid(t *testing.T) {
	sess := testSession()
	sess.Data["amount"] = 12.5
	ctrl := checkout.NewController(testCart(), sess, readyLoader(), &captureWidget{}, &fakeSessions{}, nil, defaultConfig())
	require.Empty(t, ctrl.View().Amount)
}

func TestBuildOptionsPrefill(t *testing.T) {
	cart := testCart()
	cart.BillingAddress = &payment.Address{FirstName: "Asha", Phone: "+911234"}
	opts := checkout.BuildOptions(testSession(), cart, "Toko", "#000000")
	require.Equal(t, "Asha", opts.Prefill.Name)
	require.Equal(t, "+911234", opts.Prefill.Contact)
	require.Equal(t, "Toko", opts.Name)

	cart.BillingAddress = &payment.Address{FirstName: "Asha", LastName: "Rao"}
	require.Equal(t, "Asha Rao", checkout.BuildOptions(testSession(), cart, "Toko", "").Prefill.Name)

	cart.BillingAddress = &payment.Address{LastName: "Rao"}
	require.Empty(t, checkout.BuildOptions(testSession(), cart, "Toko", "").Prefill.Name)

	sess := testSession()
	delete(sess.Data, "id")
	sess.Data["order_id"] = "order_fallback"
	require.Equal(t, "order_fallback", checkout.BuildOptions(sess, cart, "Toko", "").OrderID)
}
