package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/widget"
)

func testSession() payment.Session {
	return payment.Session{
		ID:         "ps_1",
		ProviderID: "pp_razorpay_razorpay",
		Status:     "pending",
		Data: payment.ProviderData{
			"key_id":   "rzp_test_1",
			"amount":   float64(150000),
			"currency": "INR",
			"id":       "order_abc",
		},
	}
}

func testCart() payment.Cart {
	return payment.Cart{ID: "cart_1", Email: "a@b.com", PaymentCollectionID: "pc_1"}
}

func readyLoader() *widget.Loader {
	return widget.NewLoader(widget.ScriptFunc(func(context.Context) error { return nil }))
}

func failingLoader() *widget.Loader {
	return widget.NewLoader(widget.ScriptFunc(func(context.Context) error { return errors.New("network error") }))
}

type recordCall struct {
	SessionID    string
	CollectionID string
	Result       payment.WidgetResult
}

type fakeSessions struct {
	mu          sync.Mutex
	records     []recordCall
	completes   []string
	recordErr   error
	completeErr error
	order       payment.Order
	block       bool
}

func (f *fakeSessions) RecordWidgetResult(ctx context.Context, sessionID, collectionID string, result payment.WidgetResult) error {
	f.mu.Lock()
	f.records = append(f.records, recordCall{SessionID: sessionID, CollectionID: collectionID, Result: result})
	block, err := f.block, f.recordErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeSessions) CompleteOrder(_ context.Context, cartID string) (payment.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, cartID)
	if f.completeErr != nil {
		return payment.Order{}, f.completeErr
	}
	order := f.order
	if order.ID == "" {
		order.ID = "order_1"
	}
	return order, nil
}

func (f *fakeSessions) calls() ([]recordCall, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordCall(nil), f.records...), append([]string(nil), f.completes...)
}

// captureWidget records invocations and lets the test fire callbacks.
type captureWidget struct {
	mu      sync.Mutex
	opened  []widget.Invocation
	openErr error
	onOpen  func(widget.Invocation)
}

func (w *captureWidget) Open(_ context.Context, inv widget.Invocation) error {
	if w.openErr != nil {
		return w.openErr
	}
	w.mu.Lock()
	w.opened = append(w.opened, inv)
	w.mu.Unlock()
	if w.onOpen != nil {
		w.onOpen(inv)
	}
	return nil
}

func (w *captureWidget) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.opened)
}

func (w *captureWidget) last() widget.Invocation {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opened[len(w.opened)-1]
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []checkout.Outcome
}

func (o *recordingObserver) AttemptFinished(_ context.Context, out checkout.Outcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, out)
	o.mu.Unlock()
}

func (o *recordingObserver) all() []checkout.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]checkout.Outcome(nil), o.outcomes...)
}

func waitDone(t *testing.T, att *checkout.Attempt) checkout.Outcome {
	t.Helper()
	select {
	case <-att.Done():
		return att.Outcome()
	case <-time.After(2 * time.Second):
		t.Fatal("attempt did not finish")
		return checkout.Outcome{}
	}
}

func defaultConfig() checkout.Config {
	return checkout.Config{
		StoreName:        "Your Store",
		ThemeColor:       "#3399cc",
		ConfirmationPath: "/order/confirmed",
	}
}

func requireFailure(t *testing.T, err error, reason checkout.Reason) *checkout.Failure {
	t.Helper()
	var failure *checkout.Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, reason, failure.Reason)
	return failure
}

const (
	testWait = 2 * time.Second
	testTick = 10 * time.Millisecond
)
