package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-checkout/internal/lock"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/session"
	"github.com/noah-isme/toko-checkout/internal/widget"
)

// Loader is the part of widget.Loader the controller relies on.
type Loader interface {
	EnsureReady(ctx context.Context) bool
	Preload()
	Status() widget.Status
}

// Sessions persists widget results and completes carts.
type Sessions interface {
	RecordWidgetResult(ctx context.Context, sessionID, collectionID string, result payment.WidgetResult) error
	CompleteOrder(ctx context.Context, cartID string) (payment.Order, error)
}

// Leaser provides cross-process exclusion for a cart and session pair.
type Leaser interface {
	TryAcquire(ctx context.Context, key string) (lock.ReleaseFunc, bool, error)
}

// Observer is notified once per finished attempt.
type Observer interface {
	AttemptFinished(ctx context.Context, out Outcome)
}

// Outcome summarises a finished attempt. The widget signature is never
// carried here.
type Outcome struct {
	AttemptID      string
	InvocationID   string
	CartID         string
	SessionID      string
	GatewayOrderID string
	State          State
	Failure        *Failure
	Order          *payment.Order
	// PaymentID is set once the widget reported a successful payment.
	PaymentID string
}

// Config holds the per-store knobs of the flow.
type Config struct {
	StoreName        string
	ThemeColor       string
	ConfirmationPath string
	// SubmitTimeout bounds recording and completion together; zero means no
	// limit beyond the HTTP client's own.
	SubmitTimeout time.Duration
	// OnSuccess replaces the default redirect to the confirmation page.
	OnSuccess func(ctx context.Context, order payment.Order)
	Observers []Observer
	Logger    zerolog.Logger
}

// Attempt is an attempt that reached the widget.
type Attempt struct {
	ID           string
	InvocationID string
	Options      widget.Options

	done    chan struct{}
	outcome Outcome
}

// Done is closed when the attempt reached a terminal state.
func (a *Attempt) Done() <-chan struct{} { return a.done }

// Outcome returns the final outcome. It is only meaningful after Done.
func (a *Attempt) Outcome() Outcome { return a.outcome }

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	State        State
	Failure      *Failure
	Order        *payment.Order
	RedirectURL  string
	InvocationID string
	NotReady     bool
	Starting     bool
	Cart         payment.Cart
	Session      payment.Session
}

// Controller drives one cart and payment session pair through the checkout
// flow. Callbacks may arrive on any goroutine; every state change happens
// under mu.
type Controller struct {
	cart     payment.Cart
	session  payment.Session
	loader   Loader
	widget   widget.Widget
	sessions Sessions
	leaser   Leaser
	cfg      Config

	mu       sync.Mutex
	state    State
	starting bool
	// active counts attempts between Pay and the end of finish. cart and
	// session are only replaced while it is zero.
	active       int
	failure      *Failure
	notReady     bool
	order        *payment.Order
	redirectURL  string
	invocationID string
}

// NewController builds a controller in the idle state. leaser may be nil.
func NewController(cart payment.Cart, sess payment.Session, loader Loader, w widget.Widget, sessions Sessions, leaser Leaser, cfg Config) *Controller {
	if cfg.StoreName == "" {
		cfg.StoreName = "Your Store"
	}
	if cfg.ThemeColor == "" {
		cfg.ThemeColor = "#3399cc"
	}
	return &Controller{
		cart:     cart,
		session:  sess,
		loader:   loader,
		widget:   w,
		sessions: sessions,
		leaser:   leaser,
		cfg:      cfg,
		state:    StateIdle,
	}
}

// Preload starts loading the checkout script in the background.
func (c *Controller) Preload() {
	c.loader.Preload()
}

// SetNotReady holds the flow back, for example while the cart is still being
// edited. It has no effect on an attempt already in flight.
func (c *Controller) SetNotReady(notReady bool) {
	c.mu.Lock()
	c.notReady = notReady
	c.mu.Unlock()
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:        c.state,
		Failure:      c.failure,
		Order:        c.order,
		RedirectURL:  c.redirectURL,
		InvocationID: c.invocationID,
		NotReady:     c.notReady,
		Starting:     c.starting,
		Cart:         c.cart,
		Session:      c.session,
	}
}

// Rebind replaces the cart and payment session with a fresh read from the
// backend. It refuses, returning false, while an attempt owns the controller
// or once the order was placed.
func (c *Controller) Rebind(cart payment.Cart, sess payment.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.atRestLocked() {
		return false
	}
	c.cart = cart
	c.session = sess
	return true
}

// AtRest reports whether no attempt owns the controller and no order was
// placed yet.
func (c *Controller) AtRest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atRestLocked()
}

func (c *Controller) atRestLocked() bool {
	return c.active == 0 && !c.starting && !c.state.InFlight() && c.state != StateSucceeded
}

// Pay starts an attempt. It returns the opened attempt, a *Failure when the
// attempt failed before the widget was shown, or one of ErrAttemptInProgress,
// ErrAlreadyCompleted and ErrNotReady when nothing was started.
func (c *Controller) Pay(ctx context.Context) (*Attempt, error) {
	c.mu.Lock()
	switch {
	case c.starting || c.state.InFlight():
		c.mu.Unlock()
		return nil, ErrAttemptInProgress
	case c.state == StateSucceeded:
		c.mu.Unlock()
		return nil, ErrAlreadyCompleted
	case c.notReady:
		c.mu.Unlock()
		return nil, ErrNotReady
	}
	c.starting = true
	c.active++
	c.mu.Unlock()

	release, ok := c.acquire(ctx)
	if !ok {
		c.mu.Lock()
		c.starting = false
		c.active--
		c.mu.Unlock()
		return nil, ErrAttemptInProgress
	}

	att := &Attempt{ID: uuid.NewString(), done: make(chan struct{})}
	c.mu.Lock()
	c.starting = false
	c.failure = nil
	c.invocationID = ""
	c.transitionLocked(ctx, StateLoading)
	c.mu.Unlock()

	if !c.loader.EnsureReady(ctx) {
		return nil, c.abort(ctx, att, release, &Failure{Reason: ReasonLoading, Message: MsgLoading, Err: ErrLoad})
	}
	if c.session.Data.KeyID() == "" {
		c.logger(ctx).Error().
			Str("cart_id", c.cart.ID).
			Strs("available_keys", c.session.Data.Keys()).
			Msg("checkout_gateway_key_missing")
		return nil, c.abort(ctx, att, release, &Failure{Reason: ReasonConfig, Message: MsgConfig, Err: ErrConfig})
	}

	att.InvocationID = uuid.NewString()
	att.Options = BuildOptions(c.session, c.cart, c.cfg.StoreName, c.cfg.ThemeColor)
	res := newResolution()

	c.mu.Lock()
	c.invocationID = att.InvocationID
	c.transitionLocked(ctx, StateAwaitingWidget)
	c.mu.Unlock()

	err := c.widget.Open(ctx, widget.Invocation{
		ID:      att.InvocationID,
		Options: att.Options,
		OnSuccess: func(result payment.WidgetResult) {
			res.resolve(widgetOutcome{result: &result})
		},
		OnDismiss: func() {
			res.resolve(widgetOutcome{})
		},
	})
	if err != nil {
		c.logger(ctx).Warn().Err(err).Str("cart_id", c.cart.ID).Msg("checkout_widget_open_failed")
		return nil, c.abort(ctx, att, release, &Failure{Reason: ReasonOpen, Message: MsgOpen, Err: errors.Join(ErrOpen, err)})
	}

	go c.await(context.WithoutCancel(ctx), att, res, release)
	return att, nil
}

func (c *Controller) acquire(ctx context.Context) (lock.ReleaseFunc, bool) {
	if c.leaser == nil {
		return func(context.Context) {}, true
	}
	release, ok, err := c.leaser.TryAcquire(ctx, c.cart.ID+":"+c.session.ID)
	if err != nil {
		c.logger(ctx).Warn().Err(err).Str("cart_id", c.cart.ID).Msg("checkout_lease_unavailable")
		return func(context.Context) {}, true
	}
	if !ok {
		return nil, false
	}
	return release, true
}

func (c *Controller) await(ctx context.Context, att *Attempt, res *resolution, release lock.ReleaseFunc) {
	out := <-res.ch
	if out.result == nil {
		c.mu.Lock()
		c.transitionLocked(ctx, StateCancelled)
		c.transitionLocked(ctx, StateIdle)
		c.mu.Unlock()
		c.finish(ctx, att, release, StateCancelled, nil, nil, "")
		return
	}

	c.mu.Lock()
	c.transitionLocked(ctx, StateSubmitting)
	c.mu.Unlock()

	order, failure := c.submit(ctx, *out.result)
	if failure != nil {
		c.mu.Lock()
		c.failure = failure
		c.transitionLocked(ctx, StateFailed)
		c.mu.Unlock()
		c.finish(ctx, att, release, StateFailed, failure, nil, out.result.PaymentID)
		return
	}

	c.mu.Lock()
	c.order = &order
	if c.cfg.OnSuccess == nil {
		c.redirectURL = strings.TrimRight(c.cfg.ConfirmationPath, "/") + "/" + order.ID
	}
	c.transitionLocked(ctx, StateSucceeded)
	c.mu.Unlock()

	if c.cfg.OnSuccess != nil {
		c.cfg.OnSuccess(ctx, order)
	}
	c.finish(ctx, att, release, StateSucceeded, nil, &order, out.result.PaymentID)
}

// submit records the widget result and completes the cart. Completion is
// never attempted after a failed record.
func (c *Controller) submit(ctx context.Context, result payment.WidgetResult) (payment.Order, *Failure) {
	ctx, span := otel.Tracer("checkout.Controller").Start(ctx, "Controller.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("cart.id", c.cart.ID),
		attribute.String("payment_session.id", c.session.ID),
	)
	if c.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SubmitTimeout)
		defer cancel()
	}

	if err := c.sessions.RecordWidgetResult(ctx, c.session.ID, c.cart.PaymentCollectionID, result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record widget result")
		return payment.Order{}, submissionFailure(err)
	}
	order, err := c.sessions.CompleteOrder(ctx, c.cart.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "complete order")
		return payment.Order{}, submissionFailure(err)
	}
	span.SetAttributes(attribute.String("order.id", order.ID))
	return order, nil
}

func submissionFailure(err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Reason: ReasonTimeout, Message: MsgTimeout, Err: err}
	}
	msg := ""
	var updErr *session.SessionUpdateError
	var compErr *session.OrderCompletionError
	switch {
	case errors.As(err, &updErr):
		msg = updErr.Message
	case errors.As(err, &compErr):
		msg = compErr.Message
	}
	if msg == "" {
		msg = MsgVerify
	}
	return &Failure{Reason: ReasonVerify, Message: msg, Err: err}
}

// abort records a failure that happened before the widget was shown.
func (c *Controller) abort(ctx context.Context, att *Attempt, release lock.ReleaseFunc, failure *Failure) *Failure {
	ctx = context.WithoutCancel(ctx)
	c.mu.Lock()
	c.failure = failure
	c.invocationID = ""
	c.transitionLocked(ctx, StateFailed)
	c.mu.Unlock()
	c.finish(ctx, att, release, StateFailed, failure, nil, "")
	return failure
}

func (c *Controller) finish(ctx context.Context, att *Attempt, release lock.ReleaseFunc, final State, failure *Failure, order *payment.Order, paymentID string) {
	release(ctx)

	att.outcome = Outcome{
		AttemptID:      att.ID,
		InvocationID:   att.InvocationID,
		CartID:         c.cart.ID,
		SessionID:      c.session.ID,
		GatewayOrderID: c.session.Data.GatewayOrderID(),
		State:          final,
		Failure:        failure,
		Order:          order,
		PaymentID:      paymentID,
	}
	reason := ""
	if failure != nil {
		reason = string(failure.Reason)
	}
	obs.CheckoutAttempts.WithLabelValues(string(final), reason).Inc()

	var evt *zerolog.Event
	if failure != nil {
		evt = c.logger(ctx).Warn().Str("reason", reason).Err(failure.Err)
	} else {
		evt = c.logger(ctx).Info()
	}
	evt.Str("attempt_id", att.ID).
		Str("cart_id", c.cart.ID).
		Str("state", string(final)).
		Msg("checkout_attempt_finished")

	for _, o := range c.cfg.Observers {
		o.AttemptFinished(ctx, att.outcome)
	}
	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	close(att.done)
}

// transitionLocked must be called with c.mu held.
func (c *Controller) transitionLocked(ctx context.Context, to State) {
	from := c.state
	c.state = to
	obs.CheckoutTransitions.WithLabelValues(string(from), string(to)).Inc()
	c.logger(ctx).Debug().
		Str("cart_id", c.cart.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("checkout_transition")
}

func (c *Controller) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &c.cfg.Logger
}

type widgetOutcome struct {
	result *payment.WidgetResult
}

// resolution is resolved by whichever widget callback fires first.
type resolution struct {
	once sync.Once
	ch   chan widgetOutcome
}

func newResolution() *resolution {
	return &resolution{ch: make(chan widgetOutcome, 1)}
}

func (r *resolution) resolve(out widgetOutcome) {
	r.once.Do(func() { r.ch <- out })
}
