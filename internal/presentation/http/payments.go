package httppresentation

import (
	"net/http"
	"net/url"
	"strings"

	appOrder "github.com/amiryogi/bivanhandicraft-sub000/internal/application/order"
	appPayment "github.com/amiryogi/bivanhandicraft-sub000/internal/application/payment"
	domainPayment "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/observability/logctx"
	"github.com/go-chi/chi/v5"
)

type initiatePaymentRequest struct {
	OrderID string `json:"orderId"`
	Gateway string `json:"gateway"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

type initiatePaymentResponse struct {
	Success       bool                    `json:"success"`
	PaymentID     string                  `json:"paymentId"`
	OrderID       string                  `json:"orderId"`
	OrderNumber   string                  `json:"orderNumber"`
	Status        domainPayment.Status    `json:"status"`
	TransactionID string                  `json:"transactionId,omitempty"`
	Redirect      *domainPayment.Redirect `json:"redirect,omitempty"`
	Reason        string                  `json:"reason,omitempty"`
}

func (h *Handler) handleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiatePaymentRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	actor := actorFrom(r.Context())
	owner := actor.UserID
	if actor.Admin {
		owner = ""
	}
	out, err := h.svc.Payments.InitiatePayment(r.Context(), appPayment.InitiateInput{
		OrderRef: req.OrderID,
		Gateway:  domainPayment.Method(strings.ToLower(req.Gateway)),
		UserID:   owner,
		Customer: domainPayment.Customer{
			ID:    actor.UserID,
			Name:  req.Name,
			Email: req.Email,
			Phone: req.Phone,
		},
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	// a declined attempt is still a recorded attempt; the client reads success
	writeJSON(w, http.StatusOK, initiatePaymentResponse{
		Success:       out.Success,
		PaymentID:     out.PaymentID,
		OrderID:       out.OrderID,
		OrderNumber:   out.OrderNumber,
		Status:        out.Status,
		TransactionID: out.TransactionID,
		Redirect:      out.Redirect,
		Reason:        out.Reason,
	})
}

type verifyPaymentRequest struct {
	OrderID      string            `json:"orderId"`
	Gateway      string            `json:"gateway"`
	CallbackData map[string]string `json:"callbackData"`

	// Data is the older name for CallbackData.
	Data map[string]string `json:"data"`
}

func (req verifyPaymentRequest) callback() domainPayment.Callback {
	if req.CallbackData != nil {
		return domainPayment.Callback(req.CallbackData)
	}
	return domainPayment.Callback(req.Data)
}

type verifyPaymentResponse struct {
	Verified       bool                 `json:"verified"`
	AlreadySettled bool                 `json:"alreadySettled,omitempty"`
	PaymentID      string               `json:"paymentId,omitempty"`
	OrderID        string               `json:"orderId,omitempty"`
	OrderNumber    string               `json:"orderNumber,omitempty"`
	PaymentStatus  domainPayment.Status `json:"paymentStatus,omitempty"`
	OrderStatus    string               `json:"orderStatus,omitempty"`
	Reason         string               `json:"reason,omitempty"`
}

func toVerifyResponse(out *appPayment.VerifyOutput) verifyPaymentResponse {
	return verifyPaymentResponse{
		Verified:       out.Verified,
		AlreadySettled: out.AlreadySettled,
		PaymentID:      out.PaymentID,
		OrderID:        out.OrderID,
		OrderNumber:    out.OrderNumber,
		PaymentStatus:  out.PaymentStatus,
		OrderStatus:    string(out.OrderStatus),
		Reason:         out.Reason,
	}
}

func (h *Handler) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := h.svc.GetOrder.Execute(r.Context(), appOrder.GetOrderInput{
		Ref:   req.OrderID,
		Actor: actorFrom(r.Context()),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out, err := h.svc.Payments.VerifyPayment(r.Context(), appPayment.VerifyInput{
		OrderRef: o.ID,
		Gateway:  domainPayment.Method(strings.ToLower(req.Gateway)),
		Callback: req.callback(),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerifyResponse(out))
}

// handleCallback accepts the gateway's return leg. Query and form values are
// merged; the orchestrator re-verifies with the gateway before settling.
func (h *Handler) handleCallback(gateway string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		cb := make(domainPayment.Callback, len(r.Form))
		for k, v := range r.Form {
			if len(v) > 0 {
				cb[k] = v[0]
			}
		}

		out, err := h.svc.Payments.HandleCallback(r.Context(), appPayment.CallbackInput{
			Gateway:  domainPayment.Method(gateway),
			Callback: cb,
		})
		if h.frontendURL == "" || wantsJSON(r) {
			if err != nil {
				h.writeDomainError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toVerifyResponse(out))
			return
		}

		q := url.Values{}
		target := h.frontendURL + "/payment/failure"
		switch {
		case err != nil:
			logctx.FromOr(r.Context(), h.log).Warn("payment_callback_failed",
				observability.F("gateway", gateway),
				observability.Err(err),
			)
			q.Set("reason", "verification_failed")
		case out.Verified:
			target = h.frontendURL + "/payment/success"
			q.Set("order", out.OrderNumber)
		default:
			q.Set("order", out.OrderNumber)
			if out.Reason != "" {
				q.Set("reason", out.Reason)
			}
		}
		http.Redirect(w, r, target+"?"+q.Encode(), http.StatusSeeOther)
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func (h *Handler) handleCODCollected(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Payments.MarkCODCollected(r.Context(), appPayment.CODCollectedInput{
		OrderRef: chi.URLParam(r, "orderId"),
		ActorID:  actorFrom(r.Context()).UserID,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type refundRequest struct {
	OrderID string `json:"orderId"`
	Gateway string `json:"gateway"`
}

type refundResponse struct {
	Supported bool   `json:"supported"`
	Reason    string `json:"reason,omitempty"`
}

func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := h.svc.Payments.RefundPayment(r.Context(), appPayment.RefundInput{
		OrderRef: req.OrderID,
		Gateway:  domainPayment.Method(strings.ToLower(req.Gateway)),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refundResponse{Supported: res.Supported, Reason: res.Reason})
}
