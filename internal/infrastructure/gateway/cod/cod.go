// Package cod is the cash on delivery gateway. Nothing leaves the process:
// settlement happens when staff record the cash as collected.
package cod

import (
	"context"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
)

type Gateway struct{}

func New() *Gateway { return &Gateway{} }

func (*Gateway) Method() payment.Method { return payment.MethodCOD }

func (*Gateway) Initiate(_ context.Context, req payment.InitiateRequest) (*payment.InitiateResult, error) {
	return &payment.InitiateResult{
		Success:       true,
		TransactionID: "COD-" + req.OrderNumber,
		Status:        payment.StatusPending,
	}, nil
}

// Verify never confirms cash on delivery; collection is recorded separately.
func (*Gateway) Verify(_ context.Context, _ payment.VerifyRequest) (*payment.VerifyResult, error) {
	return &payment.VerifyResult{
		Verified: false,
		Status:   payment.StatusPending,
		Reason:   "cash on delivery is settled on collection",
	}, nil
}

func (*Gateway) HandleCallback(_ context.Context, cb payment.Callback) (*payment.CallbackResult, error) {
	return &payment.CallbackResult{Success: false, OrderNumber: cb["order"], Status: payment.StatusPending}, nil
}

func (*Gateway) Refund(context.Context, payment.RefundRequest) (*payment.RefundResult, error) {
	return &payment.RefundResult{Supported: false, Reason: "cash refunds are issued in person"}, nil
}
