package notify

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/obs"
)

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Publisher turns finished checkout attempts into background tasks. It
// implements checkout.Observer.
type Publisher struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
	Logger   zerolog.Logger
}

var _ checkout.Observer = Publisher{}

// AttemptFinished implements checkout.Observer. Enqueue failures are logged
// and never affect the attempt.
func (p Publisher) AttemptFinished(ctx context.Context, out checkout.Outcome) {
	if p.Client == nil {
		return
	}
	kind, payload := classify(out)
	if kind == "" {
		return
	}
	task, err := newTask(kind, payload, p.options(out)...)
	if err == nil {
		_, err = p.Client.EnqueueContext(ctx, task)
	}
	if err != nil {
		obs.CheckoutTasks.WithLabelValues(kind, "enqueue_failed").Inc()
		p.Logger.Error().Err(err).Str("task", kind).Str("cart_id", out.CartID).Msg("checkout_task_enqueue_failed")
		return
	}
	obs.CheckoutTasks.WithLabelValues(kind, "enqueued").Inc()
}

func (p Publisher) options(out checkout.Outcome) []asynq.Option {
	opts := []asynq.Option{asynq.TaskID(out.AttemptID)}
	if p.Queue != "" {
		opts = append(opts, asynq.Queue(p.Queue))
	}
	if p.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(p.MaxRetry))
	}
	return opts
}

// classify picks the task for an outcome. Cancelled attempts and failures
// before the widget reported a payment produce nothing.
func classify(out checkout.Outcome) (string, any) {
	switch {
	case out.State == checkout.StateSucceeded && out.Order != nil:
		return TaskOrderPlaced, OrderPlacedPayload{
			AttemptID:      out.AttemptID,
			CartID:         out.CartID,
			OrderID:        out.Order.ID,
			DisplayID:      out.Order.DisplayID,
			Email:          out.Order.Email,
			Total:          out.Order.Total.String(),
			CurrencyCode:   out.Order.CurrencyCode,
			PaymentID:      out.PaymentID,
			GatewayOrderID: out.GatewayOrderID,
		}
	case out.State == checkout.StateFailed && out.PaymentID != "" && out.Failure != nil:
		return TaskPaymentUnreconciled, UnreconciledPayload{
			AttemptID:      out.AttemptID,
			CartID:         out.CartID,
			SessionID:      out.SessionID,
			PaymentID:      out.PaymentID,
			GatewayOrderID: out.GatewayOrderID,
			Reason:         string(out.Failure.Reason),
			Message:        out.Failure.Message,
		}
	default:
		return "", nil
	}
}
