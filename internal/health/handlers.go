package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-checkout/internal/common"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips readiness, used to drain traffic before shutdown.
func SetReady(v bool) { ready.Store(v) }

// Checker represents dependencies that can be checked for readiness.
type Checker interface {
	PingBackend(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Pinger is satisfied by the commerce backend client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies implements Checker over the live dependencies.
type Dependencies struct {
	Backend Pinger
	Redis   *redis.Client
}

// PingBackend checks the commerce backend health endpoint.
func (p Dependencies) PingBackend(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Backend.Ping(ctx)
}

// PingRedis issues a PING against Redis.
func (p Dependencies) PingRedis(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Redis.Ping(ctx).Err()
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker        Checker
	BackendTimeout time.Duration
	RedisTimeout   time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency checks.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	ctx := r.Context()
	backendStatus := "ok"
	if err := h.Checker.PingBackend(ctx, h.backendTimeout()); err != nil {
		backendStatus = err.Error()
	}
	redisStatus := "ok"
	if err := h.Checker.PingRedis(ctx, h.redisTimeout()); err != nil {
		redisStatus = err.Error()
	}
	status := map[string]string{
		"backend": backendStatus,
		"redis":   redisStatus,
	}
	code := http.StatusOK
	if backendStatus != "ok" || redisStatus != "ok" {
		code = http.StatusServiceUnavailable
	}
	common.JSON(w, code, status)
}

func (h Handler) backendTimeout() time.Duration {
	if h.BackendTimeout <= 0 {
		return time.Second
	}
	return h.BackendTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
