// Package khalti adapts the Khalti ePayment (KPG-2) hosted checkout: initiate
// returns a payment_url and pidx, lookup by pidx reports the outcome.
package khalti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/pkg/apperr"
	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL = "https://dev.khalti.com/api/v2"
	defaultTimeout = 10 * time.Second
)

var paisaPerRupee = decimal.NewFromInt(100)

type Config struct {
	SecretKey  string
	BaseURL    string
	ReturnURL  string
	WebsiteURL string
	Timeout    time.Duration
	HTTP       *http.Client
}

type Gateway struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Gateway{cfg: cfg, http: hc}
}

func (*Gateway) Method() payment.Method { return payment.MethodKhalti }

type customerInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type initiateRequest struct {
	ReturnURL         string        `json:"return_url"`
	WebsiteURL        string        `json:"website_url"`
	Amount            int64         `json:"amount"`
	PurchaseOrderID   string        `json:"purchase_order_id"`
	PurchaseOrderName string        `json:"purchase_order_name"`
	CustomerInfo      *customerInfo `json:"customer_info,omitempty"`
}

type initiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at"`
	ExpiresIn  int    `json:"expires_in"`
}

func (g *Gateway) Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResult, error) {
	paisa, err := ToPaisa(req.Amount)
	if err != nil {
		return &payment.InitiateResult{Success: false, Status: payment.StatusFailed, Reason: err.Error()}, nil
	}
	body := initiateRequest{
		ReturnURL:         g.cfg.ReturnURL,
		WebsiteURL:        g.cfg.WebsiteURL,
		Amount:            paisa,
		PurchaseOrderID:   req.OrderNumber,
		PurchaseOrderName: "Order " + req.OrderNumber,
	}
	if c := req.Customer; c.Name != "" || c.Email != "" || c.Phone != "" {
		body.CustomerInfo = &customerInfo{Name: c.Name, Email: c.Email, Phone: c.Phone}
	}

	status, raw, err := g.post(ctx, "/epayment/initiate/", body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return &payment.InitiateResult{
			Success: false,
			Status:  payment.StatusFailed,
			Reason:  fmt.Sprintf("khalti initiate rejected: http %d: %s", status, strings.TrimSpace(string(raw))),
			Raw:     jsonOrNil(raw),
		}, nil
	}
	var out initiateResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.Pidx == "" || out.PaymentURL == "" {
		return nil, apperr.Errorf(apperr.ExternalGateway, "khalti initiate: unexpected response: %s", strings.TrimSpace(string(raw)))
	}
	return &payment.InitiateResult{
		Success:       true,
		TransactionID: out.Pidx,
		Status:        payment.StatusPending,
		Redirect:      &payment.Redirect{Method: http.MethodGet, URL: out.PaymentURL},
		Raw:           raw,
	}, nil
}

type lookupResponse struct {
	Pidx          string `json:"pidx"`
	TotalAmount   int64  `json:"total_amount"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Fee           int64  `json:"fee"`
	Refunded      bool   `json:"refunded"`
}

// Verify is a pure lookup by pidx and may be repeated.
func (g *Gateway) Verify(ctx context.Context, req payment.VerifyRequest) (*payment.VerifyResult, error) {
	pidx := req.TransactionID
	if pidx == "" {
		pidx = req.Callback["pidx"]
	}
	if pidx == "" {
		return &payment.VerifyResult{Verified: false, Status: payment.StatusFailed, Reason: "missing pidx"}, nil
	}

	status, raw, err := g.post(ctx, "/epayment/lookup/", map[string]string{"pidx": pidx})
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || status == http.StatusBadRequest {
		return &payment.VerifyResult{Verified: false, Status: payment.StatusFailed, Reason: "khalti lookup: " + strings.TrimSpace(string(raw)), Raw: jsonOrNil(raw)}, nil
	}
	if status < 200 || status >= 300 {
		return nil, apperr.Errorf(apperr.ExternalGateway, "khalti lookup: http %d: %s", status, strings.TrimSpace(string(raw)))
	}
	var out lookupResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Wrap(apperr.ExternalGateway, err, "khalti lookup: decode")
	}

	res := &payment.VerifyResult{
		Status:      MapStatus(out.Status),
		Amount:      decimal.NewNullDecimal(FromPaisa(out.TotalAmount)),
		ReferenceID: out.TransactionID,
		Raw:         raw,
	}
	res.Verified = res.Status == payment.StatusCompleted
	if !res.Verified {
		res.Reason = "khalti status " + out.Status
	}
	return res, nil
}

// HandleCallback reads the return_url query Khalti redirects the customer to.
func (g *Gateway) HandleCallback(_ context.Context, cb payment.Callback) (*payment.CallbackResult, error) {
	number := cb["purchase_order_id"]
	if number == "" {
		return nil, apperr.New(apperr.Validation, "khalti callback: missing purchase_order_id")
	}
	return &payment.CallbackResult{
		Success:       cb["status"] == "Completed",
		OrderNumber:   number,
		TransactionID: cb["pidx"],
		Status:        MapStatus(cb["status"]),
	}, nil
}

func (*Gateway) Refund(context.Context, payment.RefundRequest) (*payment.RefundResult, error) {
	return &payment.RefundResult{Supported: false, Reason: "khalti refunds are issued from the merchant dashboard"}, nil
}

// MapStatus folds Khalti lookup statuses into payment statuses.
func MapStatus(s string) payment.Status {
	switch s {
	case "Completed":
		return payment.StatusCompleted
	case "Pending", "Initiated":
		return payment.StatusPending
	case "Refunded", "Partially Refunded", "Partially refunded":
		return payment.StatusRefunded
	case "User canceled", "User cancelled":
		return payment.StatusCancelled
	default:
		return payment.StatusFailed
	}
}

// ToPaisa converts rupees to the integer minor units Khalti expects.
func ToPaisa(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive, got %s", amount)
	}
	p := amount.Mul(paisaPerRupee)
	if !p.Equal(p.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has sub-paisa precision", amount)
	}
	return p.IntPart(), nil
}

func FromPaisa(paisa int64) decimal.Decimal {
	return decimal.NewFromInt(paisa).Div(paisaPerRupee)
}

func (g *Gateway) post(ctx context.Context, path string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("khalti %s: encode: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("khalti %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+g.cfg.SecretKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return 0, nil, apperr.Wrap(apperr.ExternalGateway, err, "khalti "+path)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, apperr.Wrap(apperr.ExternalGateway, err, "khalti "+path+": read body")
	}
	return resp.StatusCode, raw, nil
}

func jsonOrNil(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	return nil
}
