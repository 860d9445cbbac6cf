package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-checkout/internal/notify"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

func newAlerter(srv *httptest.Server) *notify.Alerter {
	return &notify.Alerter{
		URL:    srv.URL + "/alerts",
		Secret: "s3cret",
		HTTP:   resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1, Timeout: time.Second},
		Now:    func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func TestAlerterSignsUnreconciledPayment(t *testing.T) {
	type received struct {
		header http.Header
		body   []byte
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := notify.Worker{Logger: zerolog.Nop(), Alerts: newAlerter(srv)}
	task, err := notify.NewUnreconciledTask(notify.UnreconciledPayload{
		AttemptID: "att_9",
		CartID:    "cart_1",
		PaymentID: "pay_1",
		Reason:    "verify",
	})
	require.NoError(t, err)
	require.NoError(t, w.HandleUnreconciled(context.Background(), task))

	rec := <-got
	require.Equal(t, "att_9", rec.header.Get("X-Event-ID"))
	require.Equal(t, "att_9", rec.header.Get("X-Idempotency-Key"))
	require.Equal(t, "1700000000", rec.header.Get("X-Timestamp"))
	require.Equal(t, notify.ComputeSignature("s3cret", 1700000000, "att_9", rec.body), rec.header.Get("X-Signature"))

	var payload struct {
		Topic string                     `json:"topic"`
		Data  notify.UnreconciledPayload `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.body, &payload))
	require.Equal(t, notify.TaskPaymentUnreconciled, payload.Topic)
	require.Equal(t, "pay_1", payload.Data.PaymentID)
	require.NotContains(t, string(rec.body), "signature")
}

func TestAlerterStatusHandling(t *testing.T) {
	var status atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	w := notify.Worker{Logger: zerolog.Nop(), Alerts: newAlerter(srv)}
	task, err := notify.NewUnreconciledTask(notify.UnreconciledPayload{AttemptID: "att_1", PaymentID: "pay_1"})
	require.NoError(t, err)

	status.Store(http.StatusBadRequest)
	err = w.HandleUnreconciled(context.Background(), task)
	require.ErrorIs(t, err, notify.ErrAlertRejected)
	require.ErrorIs(t, err, asynq.SkipRetry)

	status.Store(http.StatusBadGateway)
	err = w.HandleUnreconciled(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
	require.Contains(t, err.Error(), strconv.Itoa(http.StatusBadGateway))
}

func TestAlerterRejectsPlainHTTPToRemoteHosts(t *testing.T) {
	a := &notify.Alerter{URL: "http://alerts.example.com/hook", HTTP: resilience.HTTPClient{Client: http.DefaultClient}}
	require.True(t, a.Enabled())
	err := a.Send(context.Background(), "att_1", notify.TaskPaymentUnreconciled, nil)
	require.ErrorIs(t, err, notify.ErrAlertRejected)

	var disabled *notify.Alerter
	require.False(t, disabled.Enabled())
}
