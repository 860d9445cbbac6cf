package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// ErrAlertRejected marks a 4xx answer from the alert endpoint. Sending the
// same body again will not change it.
var ErrAlertRejected = errors.New("notify: alert rejected")

// Alerter posts signed alerts to an operator webhook.
type Alerter struct {
	URL    string
	Secret string
	HTTP   resilience.HTTPClient
	Now    func() time.Time
}

type alertBody struct {
	EventID    string    `json:"eventId"`
	Topic      string    `json:"topic"`
	Data       any       `json:"data"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Enabled reports whether an endpoint is configured.
func (a *Alerter) Enabled() bool {
	return a != nil && a.URL != ""
}

// Send delivers one alert. eventID is stable across retries so the receiver
// can deduplicate on X-Idempotency-Key.
func (a *Alerter) Send(ctx context.Context, eventID, topic string, data any) error {
	ctx, span := otel.Tracer("notify.Alerter").Start(ctx, "Alerter.Send")
	defer span.End()
	span.SetAttributes(
		attribute.String("alert.event_id", eventID),
		attribute.String("alert.topic", topic),
	)
	if err := validateURL(a.URL); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrAlertRejected, err)
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	occurred := now().UTC()
	body, err := json.Marshal(alertBody{EventID: eventID, Topic: topic, Data: data, OccurredAt: occurred})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return err
	}
	ts := occurred.Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "toko-checkout-alerts/1.0")
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Idempotency-Key", eventID)
	req.Header.Set("X-Signature", ComputeSignature(a.Secret, ts, eventID, body))

	resp, err := a.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests:
		span.SetStatus(codes.Error, "rejected")
		return fmt.Errorf("%w: status %d", ErrAlertRejected, code)
	default:
		span.SetStatus(codes.Error, "upstream")
		return fmt.Errorf("deliver alert: status %d", code)
	}
}

// ComputeSignature is HMAC-SHA256 over "<ts>.<eventID>.<body>" keyed with the
// endpoint secret, hex encoded.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid alert url: %w", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return errors.New("alert url must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("alert url must include host")
	}
	if parsed.Scheme == "http" {
		host := parsed.Hostname()
		if host != "localhost" && host != "127.0.0.1" {
			return errors.New("http alert url only allowed for localhost")
		}
	}
	return nil
}
