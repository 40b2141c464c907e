package esewa

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/pkg/apperr"
	"github.com/shopspring/decimal"
)

const testSecret = "8gBm/:&EnhH.1/q"

func hmacB64(msg string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedCallback(t *testing.T, txn, status, total string) string {
	t.Helper()
	fields := map[string]string{
		"transaction_code":   "000AWEO",
		"status":             status,
		"total_amount":       total,
		"transaction_uuid":   txn,
		"product_code":       "EPAYTEST",
		"signed_field_names": "transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names",
	}
	fields["signature"] = hmacB64("transaction_code=000AWEO,status=" + status + ",total_amount=" + total +
		",transaction_uuid=" + txn + ",product_code=EPAYTEST,signed_field_names=" + fields["signed_field_names"])
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

type statusServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newStatusServer(t *testing.T, status string, delay time.Duration) *statusServer {
	t.Helper()
	s := &statusServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"product_code":     q.Get("product_code"),
			"transaction_uuid": q.Get("transaction_uuid"),
			"total_amount":     2100.0,
			"status":           status,
			"ref_id":           "REF-77",
		})
	}))
	t.Cleanup(s.Close)
	return s
}

func newGateway(statusURL string, timeout time.Duration) *Gateway {
	return New(Config{
		ProductCode: "EPAYTEST",
		SecretKey:   testSecret,
		StatusURL:   statusURL,
		SuccessURL:  "https://shop.example/payment/esewa/success",
		FailureURL:  "https://shop.example/payment/esewa/failure",
		Timeout:     timeout,
	})
}

func TestInitiateSignsFixedFieldOrder(t *testing.T) {
	g := newGateway("", time.Second)
	g.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	res, err := g.Initiate(context.Background(), payment.InitiateRequest{
		OrderNumber: "ORD-20260314-AB12C",
		Amount:      decimal.NewFromInt(2100),
	})
	if err != nil || !res.Success {
		t.Fatalf("Initiate = %+v, %v", res, err)
	}
	f := res.Redirect.Fields
	if res.Redirect.Method != http.MethodPost || res.Redirect.URL != DefaultFormURL {
		t.Fatalf("redirect = %+v", res.Redirect)
	}
	if f["total_amount"] != "2100" || f["transaction_uuid"] != res.TransactionID {
		t.Fatalf("fields = %v", f)
	}
	if f["signed_field_names"] != "total_amount,transaction_uuid,product_code" {
		t.Fatalf("signed_field_names = %q", f["signed_field_names"])
	}
	want := hmacB64("total_amount=2100,transaction_uuid=" + res.TransactionID + ",product_code=EPAYTEST")
	if f["signature"] != want {
		t.Fatalf("signature = %q, want %q", f["signature"], want)
	}
	if f["failure_url"] != "https://shop.example/payment/esewa/failure?order=ORD-20260314-AB12C" {
		t.Fatalf("failure_url = %q", f["failure_url"])
	}
	if got := orderNumberFrom(res.TransactionID); got != "ORD-20260314-AB12C" {
		t.Fatalf("order number round trip = %q", got)
	}
}

func TestVerifyCompleted(t *testing.T) {
	srv := newStatusServer(t, "COMPLETE", 0)
	g := newGateway(srv.URL, time.Second)
	txn := "ORD-20260314-AB12C-lo4k2f"

	res, err := g.Verify(context.Background(), payment.VerifyRequest{
		TransactionID: txn,
		Amount:        decimal.NewFromInt(2100),
		Callback:      payment.Callback{"data": signedCallback(t, txn, "COMPLETE", "2,100.0")},
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Verified || res.Status != payment.StatusCompleted || res.ReferenceID != "REF-77" {
		t.Fatalf("result = %+v", res)
	}
	if !res.Amount.Valid || !res.Amount.Decimal.Equal(decimal.NewFromInt(2100)) {
		t.Fatalf("amount = %+v", res.Amount)
	}
	if srv.hits.Load() != 1 {
		t.Fatalf("status hits = %d", srv.hits.Load())
	}
}

func TestVerifyTamperedPayloadFailsClosedWithoutLookup(t *testing.T) {
	srv := newStatusServer(t, "COMPLETE", 0)
	g := newGateway(srv.URL, time.Second)
	txn := "ORD-20260314-AB12C-lo4k2f"
	signed := signedCallback(t, txn, "COMPLETE", "2100")
	alphabet := "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/-_="

	for i := 0; i < len(signed); i++ {
		for j := 0; j < len(alphabet); j++ {
			if alphabet[j] == signed[i] {
				continue
			}
			data := []byte(signed)
			data[i] = alphabet[j]

			res, err := g.Verify(context.Background(), payment.VerifyRequest{
				TransactionID: txn,
				Amount:        decimal.NewFromInt(2100),
				Callback:      payment.Callback{"data": string(data)},
			})
			if err != nil {
				t.Fatalf("pos %d %q->%q: Verify must not error on bad input: %v", i, signed[i], alphabet[j], err)
			}
			if res.Verified || srv.hits.Load() != 0 {
				t.Fatalf("pos %d %q->%q: verified = %v, status hits = %d", i, signed[i], alphabet[j], res.Verified, srv.hits.Load())
			}
		}
	}
}

func TestVerifyRejectsNonCanonicalEncodings(t *testing.T) {
	raw, err := base64.StdEncoding.DecodeString(signedCallback(t, "ORD-20260314-AB12C-x", "COMPLETE", "2100"))
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]string{
		"trailing newline": base64.StdEncoding.EncodeToString(append(raw, '\n')),
		"trailing value":   base64.StdEncoding.EncodeToString(append(raw, []byte(`{}`)...)),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := decodeCallback(data); err == nil {
				t.Fatalf("decoded %q", data)
			}
		})
	}
}

func TestVerifyFailureRedirectDefersToStatusEndpoint(t *testing.T) {
	txn := "ORD-20260314-AB12C-lo4k2f"
	cases := map[string]payment.Status{
		"PENDING":   payment.StatusPending,
		"NOT_FOUND": payment.StatusFailed,
		"COMPLETE":  payment.StatusCompleted,
	}
	for remote, want := range cases {
		t.Run(remote, func(t *testing.T) {
			srv := newStatusServer(t, remote, 0)
			g := newGateway(srv.URL, time.Second)
			res, err := g.Verify(context.Background(), payment.VerifyRequest{
				TransactionID: txn,
				Amount:        decimal.NewFromInt(2100),
				Callback:      payment.Callback{"order": "ORD-20260314-AB12C"},
			})
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if res.Status != want || res.Verified != (want == payment.StatusCompleted) || srv.hits.Load() != 1 {
				t.Fatalf("status = %s verified = %v hits = %d", res.Status, res.Verified, srv.hits.Load())
			}
		})
	}
}

func TestVerifyWithoutDataOrTransactionFailsClosed(t *testing.T) {
	srv := newStatusServer(t, "COMPLETE", 0)
	res, err := newGateway(srv.URL, time.Second).Verify(context.Background(), payment.VerifyRequest{
		Amount:   decimal.NewFromInt(2100),
		Callback: payment.Callback{"order": "ORD-20260314-AB12C"},
	})
	if err != nil || res.Verified || srv.hits.Load() != 0 {
		t.Fatalf("result = %+v, err = %v, hits = %d", res, err, srv.hits.Load())
	}
}

func TestVerifyRejectsForeignTransaction(t *testing.T) {
	srv := newStatusServer(t, "COMPLETE", 0)
	g := newGateway(srv.URL, time.Second)

	res, err := g.Verify(context.Background(), payment.VerifyRequest{
		TransactionID: "ORD-20260314-AB12C-mine",
		Amount:        decimal.NewFromInt(2100),
		Callback:      payment.Callback{"data": signedCallback(t, "ORD-20260314-ZZZZZ-other", "COMPLETE", "2100")},
	})
	if err != nil || res.Verified || srv.hits.Load() != 0 {
		t.Fatalf("result = %+v, err = %v, hits = %d", res, err, srv.hits.Load())
	}
}

func TestVerifyMapsStatuses(t *testing.T) {
	cases := map[string]payment.Status{
		"COMPLETE":       payment.StatusCompleted,
		"PENDING":        payment.StatusPending,
		"FULL_REFUND":    payment.StatusRefunded,
		"PARTIAL_REFUND": payment.StatusRefunded,
		"NOT_FOUND":      payment.StatusFailed,
		"CANCELED":       payment.StatusCancelled,
	}
	for remote, want := range cases {
		t.Run(remote, func(t *testing.T) {
			srv := newStatusServer(t, remote, 0)
			g := newGateway(srv.URL, time.Second)
			txn := "ORD-20260314-AB12C-x"
			res, err := g.Verify(context.Background(), payment.VerifyRequest{
				TransactionID: txn,
				Amount:        decimal.NewFromInt(2100),
				Callback:      payment.Callback{"data": signedCallback(t, txn, "COMPLETE", "2100")},
			})
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if res.Status != want || res.Verified != (want == payment.StatusCompleted) {
				t.Fatalf("status = %s verified = %v", res.Status, res.Verified)
			}
		})
	}
}

func TestVerifyTimeoutIsExternalGatewayError(t *testing.T) {
	srv := newStatusServer(t, "COMPLETE", 300*time.Millisecond)
	g := newGateway(srv.URL, 50*time.Millisecond)
	txn := "ORD-20260314-AB12C-slow"

	_, err := g.Verify(context.Background(), payment.VerifyRequest{
		TransactionID: txn,
		Amount:        decimal.NewFromInt(2100),
		Callback:      payment.Callback{"data": signedCallback(t, txn, "COMPLETE", "2100")},
	})
	if !errors.Is(err, apperr.ExternalGateway) {
		t.Fatalf("err = %v", err)
	}
}

func TestHandleCallback(t *testing.T) {
	g := newGateway("", time.Second)

	res, err := g.HandleCallback(context.Background(), payment.Callback{
		"data": signedCallback(t, "ORD-20260314-AB12C-lo4k2f", "COMPLETE", "2100"),
	})
	if err != nil || !res.Success || res.OrderNumber != "ORD-20260314-AB12C" {
		t.Fatalf("success callback = %+v, %v", res, err)
	}

	res, err = g.HandleCallback(context.Background(), payment.Callback{"order": "ORD-20260314-AB12C"})
	if err != nil || res.Success || res.OrderNumber != "ORD-20260314-AB12C" {
		t.Fatalf("failure callback = %+v, %v", res, err)
	}

	if _, err := g.HandleCallback(context.Background(), payment.Callback{}); !errors.Is(err, apperr.Validation) {
		t.Fatalf("empty callback: %v", err)
	}
}

func TestRefundUnsupported(t *testing.T) {
	res, err := newGateway("", time.Second).Refund(context.Background(), payment.RefundRequest{})
	if err != nil || res.Supported {
		t.Fatalf("refund = %+v, %v", res, err)
	}
}
