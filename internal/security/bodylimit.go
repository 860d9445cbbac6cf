package security

import (
	"errors"
	"net/http"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// BodyLimit caps request payloads. Widget callbacks and readiness updates are
// a few hundred bytes, so anything larger is rejected before decoding.
type BodyLimit struct {
	Max int64
}

// Middleware rejects oversized requests with 413. Bodies without a declared
// length are wrapped in http.MaxBytesReader so the decoder fails instead.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		next.ServeHTTP(w, r)
	})
}

// TooLarge reports whether err came from a body cut off by BodyLimit.
func TooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
