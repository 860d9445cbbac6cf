package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient wraps an http.Client with a per-attempt timeout, an optional
// retry budget and a circuit breaker. Callers that must not retry (payment
// confirmation) leave MaxAttempts at 1.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Target      string
	Logger      *zerolog.Logger
}

// Do executes the request. Responses with a 5xx status count as breaker
// failures and are retried while attempts remain; the last response is
// returned to the caller unread so it can surface the upstream message.
// The returned response body must be closed by the caller.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	maxAttempts := cl.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	baseBackoff := cl.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}

	body, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
			cl.count("rejected")
			return nil, ErrOpenCircuit
		}
		resp, err := cl.doOnce(ctx, cloneRequest(ctx, req, body))
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			cl.report(ctx, true)
			cl.count("ok")
			return resp, nil
		}
		cl.report(ctx, false)
		if err != nil {
			cl.count("error")
			lastErr = err
		} else {
			cl.count("server_error")
			if attempt == maxAttempts {
				return resp, nil
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("resilience: upstream status %s", resp.Status)
		}
		if attempt == maxAttempts {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		wait := Backoff(baseBackoff, attempt, cl.Jitter)
		cl.logger().Debug().Str("target", cl.Target).Int("attempt", attempt).Dur("backoff", wait).Err(lastErr).Msg("outbound_retry")
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (cl HTTPClient) doOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		return cl.Client.Do(req)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl HTTPClient) report(ctx context.Context, success bool) {
	if cl.Breaker != nil {
		cl.Breaker.Report(ctx, success)
	}
}

func (cl HTTPClient) count(outcome string) {
	target := cl.Target
	if target == "" {
		target = "default"
	}
	OutboundAttempts.WithLabelValues(target, outcome).Inc()
}

func (cl HTTPClient) logger() *zerolog.Logger {
	if cl.Logger == nil {
		return &breakerNopLogger
	}
	return cl.Logger
}

// cancelOnClose keeps the attempt context alive until the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func replayableBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		src = fresh
	}
	defer func() { _ = src.Close() }()
	return io.ReadAll(src)
}

func cloneRequest(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		clone.ContentLength = int64(len(body))
	}
	return clone
}
