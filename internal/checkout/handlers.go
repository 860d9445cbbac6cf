package checkout

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/security"
	"github.com/noah-isme/toko-checkout/internal/session"
	"github.com/noah-isme/toko-checkout/internal/widget"
)

// Invocations is the browser facing side of the hosted widget.
type Invocations interface {
	Pending(id string) (widget.Options, bool)
	Succeed(id string, result payment.WidgetResult) error
	Dismiss(id string) error
}

// Handler exposes the checkout flow over HTTP.
type Handler struct {
	Manager     *Manager
	Invocations Invocations
	Validate    *validator.Validate
	// PayMiddleware wraps POST /pay, typically idempotency and rate limiting.
	PayMiddleware []func(http.Handler) http.Handler
}

// Routes mounts the checkout endpoints under /{cartId}.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/{cartId}", func(r chi.Router) {
		r.Get("/", h.GetView)
		r.With(h.PayMiddleware...).Post("/pay", h.Pay)
		r.Put("/readiness", h.SetReadiness)
		r.Get("/widget/{invocationId}", h.WidgetOptions)
		r.Post("/widget/{invocationId}/success", h.WidgetSuccess)
		r.Post("/widget/{invocationId}/dismiss", h.WidgetDismiss)
	})
}

type payResponse struct {
	InvocationID string         `json:"invocationId"`
	Options      widget.Options `json:"options"`
	View         View           `json:"view"`
}

type invocationResponse struct {
	InvocationID string         `json:"invocationId"`
	Options      widget.Options `json:"options"`
}

type readinessRequest struct {
	NotReady bool `json:"notReady"`
}

// GetView returns the pay button presentation for the cart.
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": ctrl.View()})
}

// Pay starts an attempt and hands the widget options to the browser.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	att, err := ctrl.Pay(r.Context())
	var failure *Failure
	switch {
	case err == nil:
		common.JSON(w, http.StatusAccepted, map[string]any{"data": payResponse{
			InvocationID: att.InvocationID,
			Options:      att.Options,
			View:         ctrl.View(),
		}})
	case errors.As(err, &failure):
		common.JSON(w, http.StatusOK, map[string]any{"data": ctrl.View()})
	case errors.Is(err, ErrAttemptInProgress):
		common.JSONError(w, http.StatusConflict, "ATTEMPT_IN_PROGRESS", "a payment attempt is already in progress", nil)
	case errors.Is(err, ErrAlreadyCompleted):
		common.JSONError(w, http.StatusConflict, "ALREADY_COMPLETED", "order already placed", nil)
	case errors.Is(err, ErrNotReady):
		common.JSONError(w, http.StatusConflict, "NOT_READY", "checkout is not ready", nil)
	default:
		common.WriteError(w, err)
	}
}

// SetReadiness records the caller's not-ready signal.
func (h *Handler) SetReadiness(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var payload readinessRequest
	if !decodeBody(w, r, &payload) {
		return
	}
	ctrl.SetNotReady(payload.NotReady)
	common.JSON(w, http.StatusOK, map[string]any{"data": ctrl.View()})
}

// WidgetOptions returns the options of a pending invocation so a reloaded
// page can reopen the widget for the attempt already in flight.
func (h *Handler) WidgetOptions(w http.ResponseWriter, r *http.Request) {
	id, opts, ok := h.invocation(w, r)
	if !ok {
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": invocationResponse{InvocationID: id, Options: opts}})
}

// WidgetSuccess forwards the widget's success callback.
func (h *Handler) WidgetSuccess(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.invocation(w, r)
	if !ok {
		return
	}
	var result payment.WidgetResult
	if !decodeBody(w, r, &result) {
		return
	}
	if err := h.validator().Struct(result); err != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "razorpay_payment_id, razorpay_order_id and razorpay_signature are required", nil)
		return
	}
	if err := h.Invocations.Succeed(id, result); err != nil {
		h.writeInvocationError(w, r, err)
		return
	}
	common.JSON(w, http.StatusAccepted, map[string]any{"data": map[string]string{"invocationId": id}})
}

// WidgetDismiss forwards the widget's dismiss callback.
func (h *Handler) WidgetDismiss(w http.ResponseWriter, r *http.Request) {
	id, _, ok := h.invocation(w, r)
	if !ok {
		return
	}
	if err := h.Invocations.Dismiss(id); err != nil {
		h.writeInvocationError(w, r, err)
		return
	}
	common.JSON(w, http.StatusAccepted, map[string]any{"data": map[string]string{"invocationId": id}})
}

func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*Controller, bool) {
	if h.Manager == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout not configured", nil)
		return nil, false
	}
	cartID := chi.URLParam(r, "cartId")
	ctrl, err := h.Manager.Get(r.Context(), cartID)
	if err != nil {
		if errors.Is(err, session.ErrNoPaymentSession) {
			common.WriteError(w, common.NewAppError("PAYMENT_SESSION_NOT_FOUND", "cart has no razorpay payment session", http.StatusNotFound, err))
			return nil, false
		}
		zerolog.Ctx(r.Context()).Error().Err(err).Str("cart_id", cartID).Msg("checkout_retrieve_failed")
		common.WriteError(w, common.NewAppError("BACKEND_UNAVAILABLE", "could not load cart", http.StatusBadGateway, err))
		return nil, false
	}
	return ctrl, true
}

// invocation resolves the invocation id and checks it belongs to the cart in
// the path.
func (h *Handler) invocation(w http.ResponseWriter, r *http.Request) (string, widget.Options, bool) {
	if h.Invocations == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "widget bridge not configured", nil)
		return "", widget.Options{}, false
	}
	id := chi.URLParam(r, "invocationId")
	opts, ok := h.Invocations.Pending(id)
	if !ok || opts.Notes.CartID != chi.URLParam(r, "cartId") {
		common.JSONError(w, http.StatusNotFound, "INVOCATION_NOT_FOUND", "unknown or resolved invocation", nil)
		return "", widget.Options{}, false
	}
	return id, opts, true
}

func (h *Handler) writeInvocationError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, widget.ErrUnknownInvocation) {
		common.JSONError(w, http.StatusNotFound, "INVOCATION_NOT_FOUND", "unknown or resolved invocation", nil)
		return
	}
	zerolog.Ctx(r.Context()).Warn().Err(err).Msg("checkout_widget_callback_rejected")
	common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid widget callback", nil)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if security.TooLarge(err) {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return false
		}
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	return true
}

var defaultValidate = validator.New()

func (h *Handler) validator() *validator.Validate {
	if h.Validate == nil {
		return defaultValidate
	}
	return h.Validate
}
