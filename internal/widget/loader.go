package widget

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/obs"
)

// Status reports where the loader is in its lifecycle.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusLoading    Status = "loading"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Pending reports whether the script has not yet produced an outcome.
func (s Status) Pending() bool {
	return s == StatusNotStarted || s == StatusLoading
}

// Loader makes the checkout script available once per process. Concurrent
// callers share a single in-flight load and success is kept for the life of
// the loader. A failed load stays failed until somebody calls EnsureReady
// again.
type Loader struct {
	script  Script
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	status Status
	done   chan struct{}
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoadTimeout bounds a single load attempt.
func WithLoadTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) { l.timeout = d }
}

// WithLoaderLogger sets the logger used for load outcomes.
func WithLoaderLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader constructs a loader around the given script.
func NewLoader(script Script, opts ...LoaderOption) *Loader {
	l := &Loader{
		script:  script,
		timeout: 10 * time.Second,
		logger:  zerolog.Nop(),
		status:  StatusNotStarted,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// EnsureReady starts the load if needed and waits for its outcome. It returns
// false when the load failed or ctx ended first; the load itself keeps running
// for other callers when ctx is cancelled.
func (l *Loader) EnsureReady(ctx context.Context) bool {
	l.mu.Lock()
	if l.status == StatusReady {
		l.mu.Unlock()
		return true
	}
	if l.done == nil {
		l.start()
	}
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return false
	}
	return l.Ready()
}

// Preload kicks off the load without waiting.
func (l *Loader) Preload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status == StatusReady || l.done != nil {
		return
	}
	l.start()
}

// Ready reports whether the script is available.
func (l *Loader) Ready() bool {
	return l.Status() == StatusReady
}

// Status returns the current loader status without blocking.
func (l *Loader) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// start must be called with l.mu held.
func (l *Loader) start() {
	done := make(chan struct{})
	l.done = done
	l.status = StatusLoading
	go l.run(done)
}

func (l *Loader) run(done chan struct{}) {
	ctx := context.Background()
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	start := time.Now()
	err := l.script.Load(ctx)

	l.mu.Lock()
	if err != nil {
		l.status = StatusFailed
	} else {
		l.status = StatusReady
	}
	// a failed load is not cached; the next EnsureReady starts over
	l.done = nil
	l.mu.Unlock()
	close(done)

	if err != nil {
		obs.WidgetScriptLoads.WithLabelValues("failed").Inc()
		l.logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("widget_script_load")
		return
	}
	obs.WidgetScriptLoads.WithLabelValues("ready").Inc()
	l.logger.Info().Dur("duration", time.Since(start)).Msg("widget_script_load")
}
