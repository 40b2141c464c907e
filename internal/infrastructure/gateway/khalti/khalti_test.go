package khalti

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/pkg/apperr"
	"github.com/shopspring/decimal"
)

type fakeKhalti struct {
	lookupStatus string
	lookupAmount int64
	lastInitiate initiateRequest
	lastAuth     string
	lookups      int
}

func (f *fakeKhalti) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/epayment/initiate/", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&f.lastInitiate); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.lastInitiate.Amount < 1000 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"amount":["Amount should be greater than Rs. 10, that is 1000 paisa."]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(initiateResponse{
			Pidx:       "bZQLD9wRVWo4CdESSfuSsB",
			PaymentURL: "https://test-pay.khalti.com/?pidx=bZQLD9wRVWo4CdESSfuSsB",
		})
	})
	mux.HandleFunc("/epayment/lookup/", func(w http.ResponseWriter, r *http.Request) {
		f.lookups++
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["pidx"] == "unknown" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Not found."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(lookupResponse{
			Pidx:          body["pidx"],
			TotalAmount:   f.lookupAmount,
			Status:        f.lookupStatus,
			TransactionID: "GFq9PFS7b2iYvL8Lir9oXe",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestInitiateSendsPaisa(t *testing.T) {
	fake := &fakeKhalti{}
	srv := fake.server(t)
	g := New(Config{SecretKey: "live_secret_key_x", BaseURL: srv.URL, ReturnURL: "https://shop.example/payment/khalti", WebsiteURL: "https://shop.example"})

	res, err := g.Initiate(context.Background(), payment.InitiateRequest{
		OrderNumber: "ORD-20260314-AB12C",
		Amount:      decimal.RequireFromString("2100.50"),
		Customer:    payment.Customer{Name: "Sita", Phone: "9800000001"},
	})
	if err != nil || !res.Success {
		t.Fatalf("Initiate = %+v, %v", res, err)
	}
	if fake.lastInitiate.Amount != 210050 || fake.lastInitiate.PurchaseOrderID != "ORD-20260314-AB12C" {
		t.Fatalf("request = %+v", fake.lastInitiate)
	}
	if fake.lastAuth != "Key live_secret_key_x" {
		t.Fatalf("auth header = %q", fake.lastAuth)
	}
	if res.TransactionID != "bZQLD9wRVWo4CdESSfuSsB" || res.Redirect.Method != http.MethodGet || res.Status != payment.StatusPending {
		t.Fatalf("result = %+v", res)
	}
}

func TestInitiateRejectedIsUnsuccessfulResult(t *testing.T) {
	fake := &fakeKhalti{}
	srv := fake.server(t)
	g := New(Config{BaseURL: srv.URL})

	res, err := g.Initiate(context.Background(), payment.InitiateRequest{OrderNumber: "ORD-1", Amount: decimal.NewFromInt(5)})
	if err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if res.Success || res.Status != payment.StatusFailed || res.Reason == "" {
		t.Fatalf("result = %+v", res)
	}
}

func TestVerifyLookupMapping(t *testing.T) {
	cases := []struct {
		remote   string
		want     payment.Status
		verified bool
	}{
		{"Completed", payment.StatusCompleted, true},
		{"Pending", payment.StatusPending, false},
		{"Initiated", payment.StatusPending, false},
		{"Refunded", payment.StatusRefunded, false},
		{"Partially Refunded", payment.StatusRefunded, false},
		{"Expired", payment.StatusFailed, false},
		{"User canceled", payment.StatusCancelled, false},
	}
	for _, tc := range cases {
		t.Run(tc.remote, func(t *testing.T) {
			fake := &fakeKhalti{lookupStatus: tc.remote, lookupAmount: 210000}
			srv := fake.server(t)
			g := New(Config{BaseURL: srv.URL})

			res, err := g.Verify(context.Background(), payment.VerifyRequest{TransactionID: "pidx-1"})
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if res.Status != tc.want || res.Verified != tc.verified {
				t.Fatalf("result = %+v", res)
			}
			if !res.Amount.Decimal.Equal(decimal.NewFromInt(2100)) {
				t.Fatalf("amount = %s", res.Amount.Decimal)
			}
		})
	}
}

func TestVerifyIsRepeatable(t *testing.T) {
	fake := &fakeKhalti{lookupStatus: "Completed", lookupAmount: 210000}
	srv := fake.server(t)
	g := New(Config{BaseURL: srv.URL})

	for i := 0; i < 3; i++ {
		res, err := g.Verify(context.Background(), payment.VerifyRequest{TransactionID: "pidx-1"})
		if err != nil || !res.Verified || res.ReferenceID != "GFq9PFS7b2iYvL8Lir9oXe" {
			t.Fatalf("attempt %d: %+v, %v", i, res, err)
		}
	}
	if fake.lookups != 3 {
		t.Fatalf("lookups = %d", fake.lookups)
	}
}

func TestVerifyUnknownPidx(t *testing.T) {
	fake := &fakeKhalti{}
	srv := fake.server(t)
	g := New(Config{BaseURL: srv.URL})

	res, err := g.Verify(context.Background(), payment.VerifyRequest{TransactionID: "unknown"})
	if err != nil || res.Verified || res.Status != payment.StatusFailed {
		t.Fatalf("result = %+v, %v", res, err)
	}
}

func TestVerifyTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	g := New(Config{BaseURL: srv.URL, Timeout: 30 * time.Millisecond})

	_, err := g.Verify(context.Background(), payment.VerifyRequest{TransactionID: "pidx-1"})
	if !errors.Is(err, apperr.ExternalGateway) {
		t.Fatalf("err = %v", err)
	}
}

func TestHandleCallback(t *testing.T) {
	g := New(Config{})
	res, err := g.HandleCallback(context.Background(), payment.Callback{
		"pidx":              "pidx-1",
		"status":            "Completed",
		"purchase_order_id": "ORD-20260314-AB12C",
	})
	if err != nil || !res.Success || res.OrderNumber != "ORD-20260314-AB12C" || res.TransactionID != "pidx-1" {
		t.Fatalf("result = %+v, %v", res, err)
	}
	if _, err := g.HandleCallback(context.Background(), payment.Callback{"pidx": "x"}); !errors.Is(err, apperr.Validation) {
		t.Fatalf("missing order id: %v", err)
	}
}

func TestPaisaConversion(t *testing.T) {
	p, err := ToPaisa(decimal.RequireFromString("99.99"))
	if err != nil || p != 9999 {
		t.Fatalf("ToPaisa = %d, %v", p, err)
	}
	if _, err := ToPaisa(decimal.RequireFromString("1.005")); err == nil {
		t.Fatalf("sub-paisa amount accepted")
	}
	if _, err := ToPaisa(decimal.Zero); err == nil {
		t.Fatalf("zero accepted")
	}
	if !FromPaisa(12345).Equal(decimal.RequireFromString("123.45")) {
		t.Fatalf("FromPaisa = %s", FromPaisa(12345))
	}
}
