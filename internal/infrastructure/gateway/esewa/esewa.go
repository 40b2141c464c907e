// Package esewa adapts the eSewa ePay v2 form flow: the browser posts an
// HMAC-signed form to eSewa, eSewa redirects back with a signed base64 payload,
// and the status endpoint confirms the outcome.
package esewa

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/pkg/apperr"
	"github.com/shopspring/decimal"
)

const (
	DefaultFormURL   = "https://rc-epay.esewa.com.np/api/epay/main/v2/form"
	DefaultStatusURL = "https://rc.esewa.com.np/api/epay/transaction/status/"
	defaultTimeout   = 10 * time.Second
)

var (
	initiateFields = []string{"total_amount", "transaction_uuid", "product_code"}
	callbackFields = []string{"transaction_code", "status", "total_amount", "transaction_uuid", "product_code", "signed_field_names"}
)

type Config struct {
	ProductCode string
	SecretKey   string
	FormURL     string
	StatusURL   string
	SuccessURL  string
	FailureURL  string
	Timeout     time.Duration
	HTTP        *http.Client
}

type Gateway struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func New(cfg Config) *Gateway {
	if cfg.FormURL == "" {
		cfg.FormURL = DefaultFormURL
	}
	if cfg.StatusURL == "" {
		cfg.StatusURL = DefaultStatusURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Gateway{cfg: cfg, http: hc, now: time.Now}
}

func (*Gateway) Method() payment.Method { return payment.MethodESewa }

// Initiate builds the signed form the browser must POST to eSewa.
func (g *Gateway) Initiate(_ context.Context, req payment.InitiateRequest) (*payment.InitiateResult, error) {
	if req.OrderNumber == "" || !req.Amount.IsPositive() {
		return &payment.InitiateResult{Success: false, Status: payment.StatusFailed, Reason: "order number and a positive amount are required"}, nil
	}
	txn := req.OrderNumber + "-" + strconv.FormatInt(g.now().UnixMilli(), 36)
	total := formatAmount(req.Amount)

	fields := map[string]string{
		"amount":                  total,
		"tax_amount":              "0",
		"product_service_charge":  "0",
		"product_delivery_charge": "0",
		"total_amount":            total,
		"transaction_uuid":        txn,
		"product_code":            g.cfg.ProductCode,
		"success_url":             g.cfg.SuccessURL,
		"failure_url":             withOrder(g.cfg.FailureURL, req.OrderNumber),
		"signed_field_names":      strings.Join(initiateFields, ","),
	}
	fields["signature"] = g.sign(fields, initiateFields)

	raw, _ := json.Marshal(fields)
	return &payment.InitiateResult{
		Success:       true,
		TransactionID: txn,
		Status:        payment.StatusPending,
		Redirect:      &payment.Redirect{Method: http.MethodPost, URL: g.cfg.FormURL, Fields: fields},
		Raw:           raw,
	}, nil
}

// Verify checks the callback signature first and fails closed on any mismatch,
// then confirms the outcome with the status endpoint. A failure redirect carries
// no signed data, so only the status endpoint may decide that attempt's outcome.
func (g *Gateway) Verify(ctx context.Context, req payment.VerifyRequest) (*payment.VerifyResult, error) {
	txn, code := req.TransactionID, ""
	if data, ok := req.Callback["data"]; ok || txn == "" {
		cb, err := decodeCallback(data)
		if err != nil {
			return &payment.VerifyResult{Verified: false, Status: payment.StatusFailed, Reason: err.Error()}, nil
		}
		if !hmac.Equal([]byte(g.sign(cb, callbackFields)), []byte(cb["signature"])) {
			return &payment.VerifyResult{Verified: false, Status: payment.StatusFailed, Reason: "signature mismatch"}, nil
		}
		if txn != "" && cb["transaction_uuid"] != txn {
			return &payment.VerifyResult{Verified: false, Status: payment.StatusFailed, Reason: "transaction does not belong to this payment"}, nil
		}
		txn, code = cb["transaction_uuid"], cb["transaction_code"]
	}

	st, err := g.status(ctx, txn, req.Amount)
	if err != nil {
		return nil, err
	}
	res := &payment.VerifyResult{
		Status:      mapStatus(st.Status),
		ReferenceID: st.RefID,
		Raw:         st.raw,
	}
	if res.ReferenceID == "" {
		res.ReferenceID = code
	}
	if amt, err := parseAmount(string(st.TotalAmount)); err == nil {
		res.Amount = decimal.NewNullDecimal(amt)
	}
	res.Verified = res.Status == payment.StatusCompleted
	if !res.Verified {
		res.Reason = "esewa status " + st.Status
	}
	return res, nil
}

// HandleCallback reads the order reference from a success redirect (signed data)
// or a failure redirect (order query parameter). It does not verify anything.
func (g *Gateway) HandleCallback(_ context.Context, cb payment.Callback) (*payment.CallbackResult, error) {
	if data := cb["data"]; data != "" {
		fields, err := decodeCallback(data)
		if err != nil {
			return nil, apperr.Wrap(apperr.Validation, err, "esewa callback")
		}
		txn := fields["transaction_uuid"]
		return &payment.CallbackResult{
			Success:       fields["status"] == "COMPLETE",
			OrderNumber:   orderNumberFrom(txn),
			TransactionID: txn,
			Status:        mapStatus(fields["status"]),
		}, nil
	}
	if n := cb["order"]; n != "" {
		return &payment.CallbackResult{Success: false, OrderNumber: n, Status: payment.StatusFailed}, nil
	}
	return nil, apperr.New(apperr.Validation, "esewa callback: no order reference")
}

func (*Gateway) Refund(context.Context, payment.RefundRequest) (*payment.RefundResult, error) {
	return &payment.RefundResult{Supported: false, Reason: "esewa refunds are issued from the merchant portal"}, nil
}

func (g *Gateway) sign(values map[string]string, names []string) string {
	var msg bytes.Buffer
	for i, name := range names {
		if i > 0 {
			msg.WriteByte(',')
		}
		msg.WriteString(name)
		msg.WriteByte('=')
		msg.WriteString(values[name])
	}
	mac := hmac.New(sha256.New, []byte(g.cfg.SecretKey))
	mac.Write(msg.Bytes())
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type statusResponse struct {
	ProductCode     string          `json:"product_code"`
	TransactionUUID string          `json:"transaction_uuid"`
	TotalAmount     json.RawMessage `json:"total_amount"`
	Status          string          `json:"status"`
	RefID           string          `json:"ref_id"`
	raw             json.RawMessage
}

func (g *Gateway) status(ctx context.Context, txn string, amount decimal.Decimal) (*statusResponse, error) {
	q := url.Values{}
	q.Set("product_code", g.cfg.ProductCode)
	q.Set("total_amount", formatAmount(amount))
	q.Set("transaction_uuid", txn)

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.StatusURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("esewa status: %w", err)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalGateway, err, "esewa status")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.ExternalGateway, err, "esewa status: read body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Errorf(apperr.ExternalGateway, "esewa status: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out statusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperr.Wrap(apperr.ExternalGateway, err, "esewa status: decode")
	}
	out.raw = body
	return &out, nil
}

func decodeCallback(data string) (map[string]string, error) {
	if data == "" {
		return nil, fmt.Errorf("missing callback data")
	}
	// strict decoding and no trailing bytes: any other encoding of the payload is a tampered one
	raw, err := base64.StdEncoding.Strict().DecodeString(data)
	if err != nil {
		if raw, err = base64.URLEncoding.Strict().DecodeString(data); err != nil {
			return nil, fmt.Errorf("callback data is not base64")
		}
	}
	var generic map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("callback data is not json")
	}
	if dec.InputOffset() != int64(len(raw)) {
		return nil, fmt.Errorf("callback data has trailing bytes")
	}
	out := make(map[string]string, len(generic))
	for k, v := range generic {
		switch t := v.(type) {
		case string:
			out[k] = t
		case json.Number:
			out[k] = t.String()
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out, nil
}

func mapStatus(s string) payment.Status {
	switch strings.ToUpper(s) {
	case "COMPLETE":
		return payment.StatusCompleted
	case "PENDING", "AMBIGUOUS":
		return payment.StatusPending
	case "FULL_REFUND", "PARTIAL_REFUND":
		return payment.StatusRefunded
	case "CANCELED":
		return payment.StatusCancelled
	default:
		return payment.StatusFailed
	}
}

func formatAmount(d decimal.Decimal) string {
	return d.Round(2).String()
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	return decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
}

func orderNumberFrom(txn string) string {
	if i := strings.LastIndexByte(txn, '-'); i > 0 {
		return txn[:i]
	}
	return txn
}

func withOrder(raw, number string) string {
	if raw == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + "order=" + url.QueryEscape(number)
}
