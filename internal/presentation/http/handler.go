package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	appOrder "github.com/amiryogi/bivanhandicraft-sub000/internal/application/order"
	appPayment "github.com/amiryogi/bivanhandicraft-sub000/internal/application/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability/logctx"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/pkg/apperr"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"
	roleAdmin            = "admin"
	maxBodyBytes         = 1 << 20
)

// Services are the use cases the HTTP boundary drives.
type Services struct {
	PlaceOrder   *appOrder.PlaceOrderUseCase
	GetOrder     *appOrder.GetOrderUseCase
	CancelOrder  *appOrder.CancelOrderUseCase
	UpdateStatus *appOrder.UpdateStatusUseCase
	Payments     *appPayment.Orchestrator
}

type Handler struct {
	svc         Services
	frontendURL string

	log          observability.Logger
	tracer       observability.Tracer
	httpRequests observability.Counter
	httpDuration observability.Histogram
}

// NewHandler binds the use cases. frontendURL is where gateway callbacks send the
// customer back to; when empty, callbacks answer with JSON.
func NewHandler(svc Services, frontendURL string, tel observability.Observability) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Handler{
		svc:          svc,
		frontendURL:  strings.TrimRight(frontendURL, "/"),
		log:          tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tracer:       tel.Tracer(),
		httpRequests: tel.Metrics().Counter(observability.MHTTPRequests),
		httpDuration: tel.Metrics().Histogram(observability.MHTTPRequestDuration),
	}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Trace → ObservabilityMiddleware (request logger) → HTTP metrics → Access log → Handler
	h.handle(r, http.MethodGet, "/health", h.handleHealth)

	h.handle(r, http.MethodPost, "/orders", h.requireUser(h.handlePlaceOrder))
	h.handle(r, http.MethodGet, "/orders/{id}", h.requireUser(h.handleGetOrder))
	h.handle(r, http.MethodPost, "/orders/{id}/cancel", h.requireUser(h.handleCancelOrder))
	h.handle(r, http.MethodPatch, "/orders/{id}/status", h.requireAdmin(h.handleUpdateStatus))
	h.handle(r, http.MethodGet, "/orders/{id}/payments", h.requireUser(h.handleListPayments))

	h.handle(r, http.MethodPost, "/payments/initiate", h.requireUser(h.handleInitiatePayment))
	h.handle(r, http.MethodPost, "/payments/verify", h.requireUser(h.handleVerifyPayment))
	for _, gw := range []string{"esewa", "khalti"} {
		h.handle(r, http.MethodGet, "/payments/"+gw+"/callback", h.handleCallback(gw))
		h.handle(r, http.MethodPost, "/payments/"+gw+"/callback", h.handleCallback(gw))
	}
	h.handle(r, http.MethodPost, "/payments/cod/{orderId}/collected", h.requireAdmin(h.handleCODCollected))
	h.handle(r, http.MethodPost, "/payments/refund", h.requireAdmin(h.handleRefund))

	return r
}

func (h *Handler) handle(r chi.Router, method, pattern string, handler http.HandlerFunc) {
	route := method + " " + pattern
	wrapped := h.withTrace(
		ObservabilityMiddleware(h.log, func(r *http.Request) string {
			return r.Header.Get(headerRequestID)
		})(
			h.withHTTPMetrics(
				h.withAccessLog(handler),
			),
		),
	)
	r.Method(method, pattern, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// stable route template for low-cardinality labels
		wrapped.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), route)))
	}))
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type actorKey struct{}

func actorFrom(ctx context.Context) appOrder.Actor {
	a, _ := ctx.Value(actorKey{}).(appOrder.Actor)
	return a
}

// requireUser trusts the identity headers set by the upstream auth layer.
func (h *Handler) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get(headerUserID))
		if uid == "" {
			writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
			return
		}
		actor := appOrder.Actor{
			UserID: uid,
			Admin:  strings.EqualFold(strings.TrimSpace(r.Header.Get(headerUserRole)), roleAdmin),
		}
		next(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	}
}

func (h *Handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return h.requireUser(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r.Context()).Admin {
			writeError(w, http.StatusForbidden, errors.New("admin role required"))
			return
		}
		next(w, r)
	})
}

// decodeJSON rejects unknown fields. An empty body is accepted when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.BusinessRule:
		return http.StatusUnprocessableEntity
	case apperr.ExternalGateway:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeDomainError maps the error's kind to a status. Unclassified errors are
// logged and reported without their detail.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logctx.FromOr(r.Context(), h.log).Error("http_unhandled_error",
			observability.F("route", routeFromContext(r.Context())),
			observability.Err(err),
		)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: string(apperr.KindOf(err))})
}
