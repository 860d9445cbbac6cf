package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/noah-isme/toko-checkout/internal/session"
	"github.com/noah-isme/toko-checkout/internal/widget"
)

// Retriever loads a cart with its gateway payment session.
type Retriever interface {
	RetrieveCheckout(ctx context.Context, cartID string) (session.Checkout, error)
}

// ManagerDeps are the collaborators shared by every controller.
type ManagerDeps struct {
	Retriever Retriever
	Loader    Loader
	Widget    widget.Widget
	Sessions  Sessions
	Leaser    Leaser
	Config    Config
	// Retain keeps a succeeded controller around so the shopper can still
	// read the redirect. Defaults to ten minutes.
	Retain time.Duration
	// IdleTTL drops a controller nobody asked for in that long, unless an
	// attempt is in flight. Defaults to thirty minutes.
	IdleTTL time.Duration
}

type managed struct {
	ctrl        *Controller
	lastSeen    time.Time
	succeededAt time.Time
}

// Manager owns one controller per cart.
type Manager struct {
	deps ManagerDeps
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*managed
}

// NewManager constructs a manager.
func NewManager(deps ManagerDeps) *Manager {
	if deps.Retain <= 0 {
		deps.Retain = 10 * time.Minute
	}
	if deps.IdleTTL <= 0 {
		deps.IdleTTL = 30 * time.Minute
	}
	return &Manager{deps: deps, now: time.Now, entries: make(map[string]*managed)}
}

// Get returns the controller for cartID, creating it from the backend cart on
// first use. New controllers start preloading the checkout script. A cached
// controller with no attempt in flight is rebound to a fresh read of the cart,
// so an edited cart never pays against an outdated gateway order.
func (m *Manager) Get(ctx context.Context, cartID string) (*Controller, error) {
	m.mu.Lock()
	m.sweepLocked()
	e, ok := m.entries[cartID]
	if ok {
		e.lastSeen = m.now()
	}
	m.mu.Unlock()
	if ok {
		return m.refresh(ctx, cartID, e.ctrl)
	}

	co, err := m.deps.Retriever.RetrieveCheckout(ctx, cartID)
	if err != nil {
		return nil, err
	}

	cfg := m.deps.Config
	cfg.Observers = append(append([]Observer(nil), cfg.Observers...), managerObserver{m: m})
	ctrl := NewController(co.Cart, co.Session, m.deps.Loader, m.deps.Widget, m.deps.Sessions, m.deps.Leaser, cfg)

	m.mu.Lock()
	if e, ok := m.entries[cartID]; ok {
		m.mu.Unlock()
		return e.ctrl, nil
	}
	m.entries[cartID] = &managed{ctrl: ctrl, lastSeen: m.now()}
	m.mu.Unlock()

	ctrl.Preload()
	return ctrl, nil
}

func (m *Manager) refresh(ctx context.Context, cartID string, ctrl *Controller) (*Controller, error) {
	if !ctrl.AtRest() {
		return ctrl, nil
	}
	co, err := m.deps.Retriever.RetrieveCheckout(ctx, cartID)
	if err != nil {
		if errors.Is(err, session.ErrNoPaymentSession) {
			m.forgetIf(cartID, ctrl)
		}
		return nil, err
	}
	// An attempt that started during the read keeps the session it began with.
	ctrl.Rebind(co.Cart, co.Session)
	return ctrl, nil
}

// Sweep drops expired controllers. Get sweeps as well; Run calls it on a
// timer so a quiet process still releases memory.
func (m *Manager) Sweep() {
	m.mu.Lock()
	m.sweepLocked()
	m.mu.Unlock()
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, every time.Duration) {
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
			m.Sweep()
		}
	}
}

// Lookup returns an existing controller without contacting the backend.
func (m *Manager) Lookup(cartID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[cartID]
	if !ok {
		return nil, false
	}
	return e.ctrl, true
}

// Forget drops the controller for cartID.
func (m *Manager) Forget(cartID string) {
	m.mu.Lock()
	delete(m.entries, cartID)
	m.mu.Unlock()
}

// Len reports how many carts are tracked.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) forgetIf(cartID string, ctrl *Controller) {
	m.mu.Lock()
	if e, ok := m.entries[cartID]; ok && e.ctrl == ctrl {
		delete(m.entries, cartID)
	}
	m.mu.Unlock()
}

func (m *Manager) markSucceeded(cartID string) {
	m.mu.Lock()
	if e, ok := m.entries[cartID]; ok {
		e.succeededAt = m.now()
	}
	m.mu.Unlock()
}

// sweepLocked takes ctrl.mu under m.mu; the controller never calls back into
// the manager while holding its own lock.
func (m *Manager) sweepLocked() {
	now := m.now()
	for id, e := range m.entries {
		switch {
		case !e.succeededAt.IsZero():
			if now.Sub(e.succeededAt) >= m.deps.Retain {
				delete(m.entries, id)
			}
		case now.Sub(e.lastSeen) >= m.deps.IdleTTL && e.ctrl.AtRest():
			delete(m.entries, id)
		}
	}
}

type managerObserver struct {
	m *Manager
}

func (o managerObserver) AttemptFinished(_ context.Context, out Outcome) {
	if out.State == StateSucceeded {
		o.m.markSucceeded(out.CartID)
	}
}
