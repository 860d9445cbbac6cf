package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/toko-checkout/internal/payment"
)

// ErrUnknownInvocation is returned for ids that were never opened or have
// already been resolved.
var ErrUnknownInvocation = errors.New("widget: unknown invocation")

// ErrInvalidOptions wraps option validation failures.
var ErrInvalidOptions = errors.New("widget: invalid options")

// Hosted implements Widget for a checkout rendered by the browser. Open
// registers the invocation so the page can fetch its options; the browser
// reports the outcome back through Succeed or Dismiss. Invocations the
// browser abandons are dismissed once they outlive the TTL.
type Hosted struct {
	validate *validator.Validate
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]hostedEntry
}

type hostedEntry struct {
	inv      Invocation
	openedAt time.Time
}

// HostedOption customises a Hosted registry.
type HostedOption func(*Hosted)

// WithInvocationTTL bounds how long an invocation waits for the browser.
// Zero keeps invocations until they are resolved.
func WithInvocationTTL(d time.Duration) HostedOption {
	return func(h *Hosted) { h.ttl = d }
}

// NewHosted constructs an empty registry.
func NewHosted(opts ...HostedOption) *Hosted {
	h := &Hosted{
		validate: validator.New(),
		now:      time.Now,
		pending:  make(map[string]hostedEntry),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Open implements Widget.
func (h *Hosted) Open(_ context.Context, inv Invocation) error {
	if err := h.validate.Struct(inv.Options); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if inv.OnSuccess == nil || inv.OnDismiss == nil {
		return fmt.Errorf("%w: callbacks required", ErrInvalidOptions)
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.pending[inv.ID]; exists {
		return fmt.Errorf("widget: invocation %s already open", inv.ID)
	}
	h.pending[inv.ID] = hostedEntry{inv: inv, openedAt: h.now()}
	return nil
}

// Pending returns the options of an open invocation.
func (h *Hosted) Pending(id string) (Options, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.pending[id]
	if !ok || h.expiredLocked(e) {
		return Options{}, false
	}
	return e.inv.Options, true
}

// Succeed resolves the invocation with the widget result.
func (h *Hosted) Succeed(id string, result payment.WidgetResult) error {
	if err := h.validate.Struct(result); err != nil {
		return fmt.Errorf("widget: invalid result: %w", err)
	}
	inv, ok := h.take(id)
	if !ok {
		return ErrUnknownInvocation
	}
	inv.OnSuccess(result)
	return nil
}

// Dismiss resolves the invocation as closed by the user.
func (h *Hosted) Dismiss(id string) error {
	inv, ok := h.take(id)
	if !ok {
		return ErrUnknownInvocation
	}
	inv.OnDismiss()
	return nil
}

// Len reports how many invocations are awaiting an outcome.
func (h *Hosted) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// Expire dismisses every invocation older than the TTL and returns how many
// it dropped. Callbacks run outside the registry lock.
func (h *Hosted) Expire() int {
	if h.ttl <= 0 {
		return 0
	}
	h.mu.Lock()
	var expired []Invocation
	for id, e := range h.pending {
		if h.expiredLocked(e) {
			expired = append(expired, e.inv)
			delete(h.pending, id)
		}
	}
	h.mu.Unlock()
	for _, inv := range expired {
		inv.OnDismiss()
	}
	return len(expired)
}

// Run expires abandoned invocations every interval until ctx is done.
func (h *Hosted) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Expire()
		}
	}
}

func (h *Hosted) expiredLocked(e hostedEntry) bool {
	return h.ttl > 0 && h.now().Sub(e.openedAt) >= h.ttl
}

func (h *Hosted) take(id string) (Invocation, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.pending[id]
	if !ok || h.expiredLocked(e) {
		return Invocation{}, false
	}
	delete(h.pending, id)
	return e.inv, true
}
