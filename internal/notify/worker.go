package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/obs"
)

// Worker processes checkout outcome tasks.
type Worker struct {
	Logger zerolog.Logger
	// Alerts, when enabled, receives every unreconciled payment.
	Alerts *Alerter
}

// Register binds the task handlers to mux.
func (w Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskOrderPlaced, w.HandleOrderPlaced)
	mux.HandleFunc(TaskPaymentUnreconciled, w.HandleUnreconciled)
}

// HandleOrderPlaced records a completed checkout.
func (w Worker) HandleOrderPlaced(ctx context.Context, t *asynq.Task) error {
	var p OrderPlacedPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	w.logger(ctx).Info().
		Str("task", t.Type()).
		Str("cart_id", p.CartID).
		Str("order_id", p.OrderID).
		Int64("display_id", p.DisplayID).
		Str("payment_id", p.PaymentID).
		Msg("checkout_order_placed")
	obs.CheckoutTasks.WithLabelValues(TaskOrderPlaced, "processed").Inc()
	return nil
}

// HandleUnreconciled flags a payment that needs manual reconciliation.
func (w Worker) HandleUnreconciled(ctx context.Context, t *asynq.Task) error {
	var p UnreconciledPayload
	if err := decode(t, &p); err != nil {
		return err
	}
	w.logger(ctx).Warn().
		Str("task", t.Type()).
		Str("cart_id", p.CartID).
		Str("session_id", p.SessionID).
		Str("payment_id", p.PaymentID).
		Str("gateway_order_id", p.GatewayOrderID).
		Str("reason", p.Reason).
		Str("message", p.Message).
		Msg("checkout_payment_unreconciled")

	if w.Alerts.Enabled() {
		eventID := p.AttemptID
		if eventID == "" {
			eventID, _ = asynq.GetTaskID(ctx)
		}
		if err := w.Alerts.Send(ctx, eventID, TaskPaymentUnreconciled, p); err != nil {
			if errors.Is(err, ErrAlertRejected) {
				obs.CheckoutTasks.WithLabelValues(TaskPaymentUnreconciled, "alert_rejected").Inc()
				return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
			}
			obs.CheckoutTasks.WithLabelValues(TaskPaymentUnreconciled, "alert_failed").Inc()
			return err
		}
		obs.CheckoutTasks.WithLabelValues(TaskPaymentUnreconciled, "alerted").Inc()
		return nil
	}
	obs.CheckoutTasks.WithLabelValues(TaskPaymentUnreconciled, "processed").Inc()
	return nil
}

func decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		obs.CheckoutTasks.WithLabelValues(t.Type(), "invalid").Inc()
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func (w Worker) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &w.Logger
}
