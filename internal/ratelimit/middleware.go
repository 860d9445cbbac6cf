package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// Handler enforces rate limits before delegating to the next handler.
type Handler struct {
	Limiter *limiter.Limiter
	Key     func(*http.Request) string
	OnError func(error)
}

// New builds a Handler from a formatted rate such as "20-M".
func New(store limiter.Store, formatted string, key func(*http.Request) string) (Handler, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return Handler{}, err
	}
	return Handler{Limiter: limiter.New(store, rate), Key: key}, nil
}

// ClientIPKey keys requests by the caller address.
func ClientIPKey(r *http.Request) string {
	return common.ClientIP(r)
}

// Middleware implements the http.Handler middleware interface. Store errors
// let the request through.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Limiter == nil || h.Key == nil {
			next.ServeHTTP(w, r)
			return
		}
		lctx, err := h.Limiter.Get(r.Context(), h.Key(r))
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		headers.Set("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			retryAfter := int(time.Until(time.Unix(lctx.Reset, 0)).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			headers.Set("Retry-After", strconv.Itoa(retryAfter))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many payment attempts", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
