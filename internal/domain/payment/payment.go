package payment

import (
	"encoding/json"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/pkg/apperr"
	"github.com/shopspring/decimal"
)

// Method identifies a payment gateway.
type Method string

const (
	MethodCOD    Method = "cod"
	MethodESewa  Method = "esewa"
	MethodKhalti Method = "khalti"
)

// Valid reports whether m is a known gateway.
func (m Method) Valid() bool {
	switch m {
	case MethodCOD, MethodESewa, MethodKhalti:
		return true
	}
	return false
}

// Status is the lifecycle state of a single payment attempt.
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// CurrencyNPR is the only settlement currency.
const CurrencyNPR = "NPR"

var (
	ErrNotFound          = apperr.New(apperr.NotFound, "payment: record not found")
	ErrUnknownGateway    = apperr.New(apperr.Validation, "payment: unknown gateway")
	ErrRefundUnsupported = apperr.New(apperr.BusinessRule, "payment: refunds are handled manually through the merchant portal")
	ErrAlreadySettled    = apperr.New(apperr.BusinessRule, "payment: attempt already settled")
)

// GatewayResponse keeps what the gateway told us about the attempt.
type GatewayResponse struct {
	TransactionID string          `json:"transactionId,omitempty"`
	ReferenceID   string          `json:"referenceId,omitempty"`
	Raw           json.RawMessage `json:"rawResponse,omitempty"`
}

// Payment is one attempt to settle an order through a gateway. An order may have several.
type Payment struct {
	ID            string
	OrderID       string
	UserID        string
	Gateway       Method
	Amount        decimal.Decimal
	Currency      string
	Status        Status
	Response      GatewayResponse
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// New starts an attempt in the initiated state.
func New(id, orderID, userID string, gateway Method, amount decimal.Decimal, at time.Time) *Payment {
	return &Payment{
		ID:        id,
		OrderID:   orderID,
		UserID:    userID,
		Gateway:   gateway,
		Amount:    amount,
		Currency:  CurrencyNPR,
		Status:    StatusInitiated,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Settled reports whether no further gateway outcome may change the attempt.
func (p *Payment) Settled() bool {
	switch p.Status {
	case StatusCompleted, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// MarkPending records the gateway's handle for an attempt awaiting the customer.
func (p *Payment) MarkPending(transactionID string, raw json.RawMessage, at time.Time) {
	p.Status = StatusPending
	if transactionID != "" {
		p.Response.TransactionID = transactionID
	}
	if len(raw) > 0 {
		p.Response.Raw = raw
	}
	p.UpdatedAt = at
}

// MarkFailed closes the attempt with a reason.
func (p *Payment) MarkFailed(reason string, raw json.RawMessage, at time.Time) {
	p.Status = StatusFailed
	p.FailureReason = reason
	if len(raw) > 0 {
		p.Response.Raw = raw
	}
	p.UpdatedAt = at
}

// MarkCompleted records a verified settlement.
func (p *Payment) MarkCompleted(referenceID string, raw json.RawMessage, at time.Time) error {
	if p.Settled() {
		return ErrAlreadySettled
	}
	p.Status = StatusCompleted
	p.FailureReason = ""
	if referenceID != "" {
		p.Response.ReferenceID = referenceID
	}
	if len(raw) > 0 {
		p.Response.Raw = raw
	}
	p.CompletedAt = &at
	p.UpdatedAt = at
	return nil
}

// Clone returns a copy that shares no mutable state.
func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	c.Response.Raw = append(json.RawMessage(nil), p.Response.Raw...)
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
