package security

import (
	"net/http"
	"strconv"
)

// Headers configures response headers for the checkout API.
type Headers struct {
	Enable     bool
	EnableHSTS bool
	HSTSMaxAge int
}

// Middleware attaches hardening headers. Checkout views carry order ids and
// redirect targets, so every response is marked uncacheable.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		headers.Set("Cache-Control", "no-store")
		if h.EnableHSTS && r.TLS != nil {
			maxAge := h.HSTSMaxAge
			if maxAge <= 0 {
				maxAge = 31536000
			}
			headers.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(maxAge))
		}
		next.ServeHTTP(w, r)
	})
}
