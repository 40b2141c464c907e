package payment

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Gateway is the capability set every payment provider adapter implements.
// Verify must be safe to call repeatedly for the same transaction.
type Gateway interface {
	Method() Method
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error)
	HandleCallback(ctx context.Context, cb Callback) (*CallbackResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// Customer is the payer as the gateway sees them.
type Customer struct {
	ID    string
	Name  string
	Email string
	Phone string
}

type InitiateRequest struct {
	PaymentID   string
	OrderID     string
	OrderNumber string
	Amount      decimal.Decimal
	Customer    Customer
}

// Redirect tells the client where to send the customer next.
type Redirect struct {
	Method string            `json:"method"`
	URL    string            `json:"url"`
	Fields map[string]string `json:"fields,omitempty"`
}

type InitiateResult struct {
	Success       bool
	TransactionID string
	Status        Status
	Redirect      *Redirect
	Reason        string
	Raw           json.RawMessage
}

// Callback is the flattened query/form payload a gateway sends back.
type Callback map[string]string

type VerifyRequest struct {
	TransactionID string
	OrderNumber   string
	Amount        decimal.Decimal
	Callback      Callback
}

type VerifyResult struct {
	Verified    bool
	Status      Status
	Amount      decimal.NullDecimal
	ReferenceID string
	Reason      string
	Raw         json.RawMessage
}

// CallbackResult is what an adapter could read from a raw callback.
type CallbackResult struct {
	Success       bool
	OrderNumber   string
	TransactionID string
	Status        Status
}

type RefundRequest struct {
	TransactionID string
	ReferenceID   string
	Amount        decimal.Decimal
}

type RefundResult struct {
	Supported bool
	Reason    string
}
