package widget

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// ErrEntryPointMissing is returned when the script body does not define the
// expected global entry point.
var ErrEntryPointMissing = errors.New("widget: entry point missing from script")

const maxScriptBytes = 4 << 20

// Script performs the one side effect that makes the widget available.
type Script interface {
	Load(ctx context.Context) error
}

// ScriptFunc adapts a function to Script.
type ScriptFunc func(ctx context.Context) error

// Load implements Script.
func (f ScriptFunc) Load(ctx context.Context) error { return f(ctx) }

// HTTPScript fetches the hosted checkout script and checks that it exposes
// the entry point symbol.
type HTTPScript struct {
	URL        string
	EntryPoint string
	HTTP       resilience.HTTPClient
}

// Load implements Script.
func (s HTTPScript) Load(ctx context.Context) error {
	if s.URL == "" {
		return errors.New("widget: script url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return fmt.Errorf("build script request: %w", err)
	}
	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("fetch script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("fetch script: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptBytes))
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	entry := s.EntryPoint
	if entry == "" {
		entry = "Razorpay"
	}
	if !bytes.Contains(body, []byte(entry)) {
		return ErrEntryPointMissing
	}
	return nil
}
