package httppresentation

import (
	"net/http"
	"time"

	appOrder "github.com/amiryogi/bivanhandicraft-sub000/internal/application/order"
	domainOrder "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
	domainPayment "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/go-chi/chi/v5"
)

type orderResponse struct {
	ID                 string                    `json:"id"`
	OrderNumber        string                    `json:"orderNumber"`
	UserID             string                    `json:"userId"`
	Items              []domainOrder.Item        `json:"items"`
	ShippingAddress    domainOrder.Address       `json:"shippingAddress"`
	Payment            domainOrder.PaymentInfo   `json:"payment"`
	Pricing            domainOrder.Pricing       `json:"pricing"`
	Status             domainOrder.Status        `json:"status"`
	StatusHistory      []domainOrder.StatusEntry `json:"statusHistory"`
	Notes              string                    `json:"notes,omitempty"`
	DeliveredAt        *time.Time                `json:"deliveredAt,omitempty"`
	CancelledAt        *time.Time                `json:"cancelledAt,omitempty"`
	CancellationReason string                    `json:"cancellationReason,omitempty"`
	CreatedAt          time.Time                 `json:"createdAt"`
	UpdatedAt          time.Time                 `json:"updatedAt"`
}

func toOrderResponse(o *domainOrder.Order) orderResponse {
	return orderResponse{
		ID:                 o.ID,
		OrderNumber:        o.Number,
		UserID:             o.UserID,
		Items:              o.Items,
		ShippingAddress:    o.ShippingAddress,
		Payment:            o.Payment,
		Pricing:            o.Pricing,
		Status:             o.Status,
		StatusHistory:      o.StatusHistory,
		Notes:              o.Notes,
		DeliveredAt:        o.DeliveredAt,
		CancelledAt:        o.CancelledAt,
		CancellationReason: o.CancellationReason,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

type placeOrderRequest struct {
	ShippingAddress domainOrder.Address `json:"shippingAddress"`
	PaymentMethod   string              `json:"paymentMethod"`
	Notes           string              `json:"notes"`
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := h.svc.PlaceOrder.Execute(r.Context(), appOrder.PlaceOrderInput{
		UserID:          actorFrom(r.Context()).UserID,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   domainPayment.Method(req.PaymentMethod),
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder.Execute(r.Context(), appOrder.GetOrderInput{
		Ref:   chi.URLParam(r, "id"),
		Actor: actorFrom(r.Context()),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := h.svc.CancelOrder.Execute(r.Context(), appOrder.CancelOrderInput{
		OrderID: chi.URLParam(r, "id"),
		Actor:   actorFrom(r.Context()),
		Reason:  req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := h.svc.UpdateStatus.Execute(r.Context(), appOrder.UpdateStatusInput{
		OrderID: chi.URLParam(r, "id"),
		Status:  req.Status,
		ActorID: actorFrom(r.Context()).UserID,
		Note:    req.Note,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type paymentResponse struct {
	ID            string               `json:"id"`
	OrderID       string               `json:"orderId"`
	Gateway       domainPayment.Method `json:"gateway"`
	Amount        string               `json:"amount"`
	Currency      string               `json:"currency"`
	Status        domainPayment.Status `json:"status"`
	TransactionID string               `json:"transactionId,omitempty"`
	ReferenceID   string               `json:"referenceId,omitempty"`
	FailureReason string               `json:"failureReason,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
	CompletedAt   *time.Time           `json:"completedAt,omitempty"`
}

func toPaymentResponse(p *domainPayment.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		OrderID:       p.OrderID,
		Gateway:       p.Gateway,
		Amount:        p.Amount.StringFixed(2),
		Currency:      p.Currency,
		Status:        p.Status,
		TransactionID: p.Response.TransactionID,
		ReferenceID:   p.Response.ReferenceID,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		CompletedAt:   p.CompletedAt,
	}
}

// handleListPayments resolves the order through GetOrder first so customers
// only see attempts for their own orders.
func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder.Execute(r.Context(), appOrder.GetOrderInput{
		Ref:   chi.URLParam(r, "id"),
		Actor: actorFrom(r.Context()),
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	payments, err := h.svc.Payments.ListPayments(r.Context(), o.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}
