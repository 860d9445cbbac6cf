package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

const maxResponseBytes = 1 << 20

// ErrNoPaymentSession is returned when the cart has no gateway session yet.
var ErrNoPaymentSession = errors.New("session: cart has no razorpay payment session")

// Client talks to the commerce backend store API. It never retries on its own.
type Client struct {
	BaseURL        string
	PublishableKey string
	HTTP           resilience.HTTPClient
}

// Checkout is the cart together with its gateway payment session.
type Checkout struct {
	Cart    payment.Cart
	Session payment.Session
}

// RecordWidgetResult attaches the widget result to the pending payment session.
func (c Client) RecordWidgetResult(ctx context.Context, sessionID, collectionID string, result payment.WidgetResult) error {
	ctx, span := otel.Tracer("session.Client").Start(ctx, "SessionClient.RecordWidgetResult")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment_session.id", sessionID),
		attribute.String("payment_collection.id", collectionID),
	)

	payload, err := json.Marshal(struct {
		Data payment.WidgetResult `json:"data"`
	}{Data: result})
	if err != nil {
		return &SessionUpdateError{Err: err}
	}
	path := fmt.Sprintf("/store/payment-collections/%s/payment-sessions/%s", url.PathEscape(collectionID), url.PathEscape(sessionID))

	status, body, err := c.call(ctx, "record_widget_result", http.MethodPost, path, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return &SessionUpdateError{Status: status, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status < 200 || status > 299 {
		err := &SessionUpdateError{Status: status, Message: backendMessage(body)}
		span.SetStatus(codes.Error, "rejected")
		return err
	}
	return nil
}

// CompleteOrder finalises the cart. A business rule failure comes back as an
// *OrderCompletionError carrying the backend message verbatim.
func (c Client) CompleteOrder(ctx context.Context, cartID string) (payment.Order, error) {
	ctx, span := otel.Tracer("session.Client").Start(ctx, "SessionClient.CompleteOrder")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", cartID))

	path := fmt.Sprintf("/store/carts/%s/complete", url.PathEscape(cartID))
	status, body, err := c.call(ctx, "complete_order", http.MethodPost, path, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return payment.Order{}, &OrderCompletionError{Status: status, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status < 200 || status > 299 {
		span.SetStatus(codes.Error, "rejected")
		return payment.Order{}, &OrderCompletionError{Status: status, Message: backendMessage(body)}
	}

	var out struct {
		Type  string         `json:"type"`
		Order *payment.Order `json:"order"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return payment.Order{}, &OrderCompletionError{Status: status, Err: fmt.Errorf("decode completion: %w", err)}
	}
	if out.Type == "order" && out.Order != nil && out.Order.ID != "" {
		span.SetAttributes(attribute.String("order.id", out.Order.ID))
		return *out.Order, nil
	}
	msg := ""
	if out.Error != nil {
		msg = strings.TrimSpace(out.Error.Message)
	}
	span.SetStatus(codes.Error, "cart not completed")
	return payment.Order{}, &OrderCompletionError{Status: status, Message: msg}
}

// RetrieveCheckout loads the cart and picks its razorpay payment session.
func (c Client) RetrieveCheckout(ctx context.Context, cartID string) (Checkout, error) {
	ctx, span := otel.Tracer("session.Client").Start(ctx, "SessionClient.RetrieveCheckout")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", cartID))

	path := fmt.Sprintf("/store/carts/%s?fields=%s", url.PathEscape(cartID),
		url.QueryEscape("*payment_collection.payment_sessions,*billing_address"))
	status, body, err := c.call(ctx, "retrieve_checkout", http.MethodGet, path, nil)
	if err != nil {
		span.RecordError(err)
		return Checkout{}, fmt.Errorf("retrieve cart: %w", err)
	}
	if status < 200 || status > 299 {
		return Checkout{}, fmt.Errorf("retrieve cart: status %d: %s", status, backendMessage(body))
	}

	var out struct {
		Cart struct {
			payment.Cart
			PaymentCollection *struct {
				ID              string            `json:"id"`
				PaymentSessions []payment.Session `json:"payment_sessions"`
			} `json:"payment_collection"`
		} `json:"cart"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return Checkout{}, fmt.Errorf("decode cart: %w", err)
	}
	result := Checkout{Cart: out.Cart.Cart}
	if result.Cart.ID == "" {
		result.Cart.ID = cartID
	}
	pc := out.Cart.PaymentCollection
	if pc == nil {
		return result, ErrNoPaymentSession
	}
	result.Cart.PaymentCollectionID = pc.ID
	for _, s := range pc.PaymentSessions {
		if strings.Contains(s.ProviderID, "razorpay") {
			result.Session = s
			return result, nil
		}
	}
	return result, ErrNoPaymentSession
}

// Ping checks that the backend answers its health endpoint.
func (c Client) Ping(ctx context.Context) error {
	status, _, err := c.call(ctx, "ping", http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("backend health: status %d", status)
	}
	return nil
}

func (c Client) call(ctx context.Context, op, method, path string, payload []byte) (int, []byte, error) {
	start := time.Now()
	status, body, err := c.do(ctx, method, path, payload)
	obs.BackendCallLatency.WithLabelValues(op).Observe(obs.DurationMillis(time.Since(start)))

	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case status >= 500:
		result = "server_error"
	case status >= 400:
		result = "rejected"
	}
	obs.BackendCalls.WithLabelValues(op, result).Inc()
	return status, body, err
}

func (c Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.PublishableKey != "" {
		req.Header.Set("x-publishable-api-key", c.PublishableKey)
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// backendMessage extracts a human readable message from a store API error
// body. Both {"message":"..."} and {"error":{"message":"..."}} are understood.
func backendMessage(body []byte) string {
	var out struct {
		Message string `json:"message"`
		Error   *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(out.Message); msg != "" {
		return msg
	}
	if out.Error != nil {
		return strings.TrimSpace(out.Error.Message)
	}
	return ""
}
