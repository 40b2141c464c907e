package httppresentation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	appOrder "github.com/amiryogi/bivanhandicraft-sub000/internal/application/order"
	appPayment "github.com/amiryogi/bivanhandicraft-sub000/internal/application/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/cart"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/inventory"
	domainOrder "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
	domainPayment "github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/gateway/cod"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/id"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/infrastructure/memory"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/pkg/apperr"
	"github.com/shopspring/decimal"
)

const frontend = "https://shop.example"

// walletStub settles every attempt it is asked about.
type walletStub struct{}

func (walletStub) Method() domainPayment.Method { return domainPayment.MethodKhalti }

func (walletStub) Initiate(_ context.Context, req domainPayment.InitiateRequest) (*domainPayment.InitiateResult, error) {
	return &domainPayment.InitiateResult{
		Success:       true,
		TransactionID: "pidx-" + req.OrderNumber,
		Status:        domainPayment.StatusPending,
		Redirect:      &domainPayment.Redirect{Method: http.MethodGet, URL: "https://wallet.example/pay/" + req.OrderNumber},
	}, nil
}

func (walletStub) Verify(_ context.Context, req domainPayment.VerifyRequest) (*domainPayment.VerifyResult, error) {
	return &domainPayment.VerifyResult{
		Verified:    true,
		Status:      domainPayment.StatusCompleted,
		Amount:      decimal.NewNullDecimal(req.Amount),
		ReferenceID: "ref-" + req.TransactionID,
	}, nil
}

func (walletStub) HandleCallback(_ context.Context, cb domainPayment.Callback) (*domainPayment.CallbackResult, error) {
	return &domainPayment.CallbackResult{OrderNumber: cb["purchase_order_id"], TransactionID: cb["pidx"]}, nil
}

func (walletStub) Refund(context.Context, domainPayment.RefundRequest) (*domainPayment.RefundResult, error) {
	return &domainPayment.RefundResult{Supported: false, Reason: "manual"}, nil
}

type testServer struct {
	srv   *httptest.Server
	carts *memory.CartRepository
	stock *memory.InventoryRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	stock := memory.NewInventoryRepository(
		&inventory.Product{ID: "bowl", Name: "Singing Bowl", Slug: "singing-bowl",
			Price: decimal.NewFromInt(1000), Stock: 5, Active: true},
	)
	orders := memory.NewOrderRepository(stock)
	carts := memory.NewCartRepository()
	ids := id.NewUUIDGenerator()

	payments := appPayment.NewOrchestrator(orders, memory.NewPaymentRepository(), carts,
		appPayment.NewRegistry(cod.New(), walletStub{}), nil, ids, nil)
	h := NewHandler(Services{
		PlaceOrder:   appOrder.NewPlaceOrderUseCase(orders, stock, carts, ids, id.NewOrderNumberGenerator(), nil, nil),
		GetOrder:     appOrder.NewGetOrderUseCase(orders),
		CancelOrder:  appOrder.NewCancelOrderUseCase(orders, nil, nil),
		UpdateStatus: appOrder.NewUpdateStatusUseCase(orders, nil, nil).WithCODSettlement(payments),
		Payments:     payments,
	}, frontend, nil)

	ts := &testServer{srv: httptest.NewServer(h.Router()), carts: carts, stock: stock}
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) fillCart(t *testing.T, user string, qty int) {
	t.Helper()
	ctx := context.Background()
	c, err := ts.carts.GetOrCreate(ctx, user)
	if err != nil {
		t.Fatal(err)
	}
	c.Items = append(c.Items, cart.Item{ProductID: "bowl", Quantity: qty})
	if err := ts.carts.Save(ctx, c); err != nil {
		t.Fatal(err)
	}
}

func (ts *testServer) do(t *testing.T, method, path, user, role, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	if role != "" {
		req.Header.Set(headerUserRole, role)
	}
	resp, err := ts.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status = %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

const placeCOD = `{"shippingAddress":{"fullName":"Sita","district":"Kathmandu"},"paymentMethod":"cod"}`

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/health", "", "", "")
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get(headerRequestID) == "" {
		t.Fatal("missing request id")
	}
}

func TestIdentityIsRequired(t *testing.T) {
	ts := newTestServer(t)
	expectStatus(t, ts.do(t, http.MethodPost, "/orders", "", "", placeCOD), http.StatusUnauthorized)
	expectStatus(t, ts.do(t, http.MethodPatch, "/orders/x/status", "u-1", "customer", `{"status":"confirmed"}`), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodPost, "/payments/refund", "u-1", "", `{"orderId":"x","gateway":"khalti"}`), http.StatusForbidden)
}

func TestPlaceOrderValidation(t *testing.T) {
	ts := newTestServer(t)
	// empty cart
	expectStatus(t, ts.do(t, http.MethodPost, "/orders", "u-1", "", placeCOD), http.StatusBadRequest)
	// unknown field
	expectStatus(t, ts.do(t, http.MethodPost, "/orders", "u-1", "", `{"coupon":"FREE"}`), http.StatusBadRequest)
	// more than in stock
	ts.fillCart(t, "u-1", 6)
	resp := ts.do(t, http.MethodPost, "/orders", "u-1", "", placeCOD)
	if resp.StatusCode < 400 || resp.StatusCode >= 500 {
		t.Fatalf("oversell status = %d", resp.StatusCode)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.fillCart(t, "u-1", 2)

	resp := ts.do(t, http.MethodPost, "/orders", "u-1", "", placeCOD)
	expectStatus(t, resp, http.StatusCreated)
	placed := decode[orderResponse](t, resp)
	if !domainOrder.ValidNumber(placed.OrderNumber) || placed.Status != domainOrder.StatusPending {
		t.Fatalf("placed = %s %s", placed.OrderNumber, placed.Status)
	}
	if !placed.Pricing.Total.Equal(decimal.NewFromInt(2100)) {
		t.Fatalf("total = %s", placed.Pricing.Total)
	}

	expectStatus(t, ts.do(t, http.MethodGet, "/orders/"+placed.ID, "u-1", "", ""), http.StatusOK)
	expectStatus(t, ts.do(t, http.MethodGet, "/orders/"+placed.OrderNumber, "u-1", "", ""), http.StatusOK)
	expectStatus(t, ts.do(t, http.MethodGet, "/orders/"+placed.ID, "u-2", "", ""), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodGet, "/orders/"+placed.ID, "admin-1", "admin", ""), http.StatusOK)

	expectStatus(t, ts.do(t, http.MethodPatch, "/orders/"+placed.ID+"/status", "admin-1", "admin", `{"status":"lost"}`),
		http.StatusBadRequest)
	resp = ts.do(t, http.MethodPatch, "/orders/"+placed.ID+"/status", "admin-1", "admin", `{"status":"confirmed","note":"packed"}`)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[orderResponse](t, resp); got.Status != domainOrder.StatusConfirmed {
		t.Fatalf("status = %s", got.Status)
	}

	resp = ts.do(t, http.MethodPost, "/orders/"+placed.ID+"/cancel", "u-1", "", "")
	expectStatus(t, resp, http.StatusOK)
	cancelled := decode[orderResponse](t, resp)
	if cancelled.Status != domainOrder.StatusCancelled || cancelled.CancellationReason != "Cancelled by customer" {
		t.Fatalf("cancelled = %s %q", cancelled.Status, cancelled.CancellationReason)
	}
	p, _ := ts.stock.Get(context.Background(), "bowl")
	if p.Stock != 5 {
		t.Fatalf("stock after cancel = %d", p.Stock)
	}
}

func TestWalletCallbackRedirectsAndSettles(t *testing.T) {
	ts := newTestServer(t)
	ts.fillCart(t, "u-1", 1)

	resp := ts.do(t, http.MethodPost, "/orders", "u-1", "",
		`{"shippingAddress":{"district":"Lalitpur"},"paymentMethod":"khalti"}`)
	expectStatus(t, resp, http.StatusCreated)
	placed := decode[orderResponse](t, resp)

	resp = ts.do(t, http.MethodPost, "/payments/initiate", "u-2", "", `{"orderId":"`+placed.ID+`","gateway":"khalti"}`)
	expectStatus(t, resp, http.StatusNotFound)

	resp = ts.do(t, http.MethodPost, "/payments/initiate", "u-1", "", `{"orderId":"`+placed.ID+`","gateway":"khalti"}`)
	expectStatus(t, resp, http.StatusOK)
	initiated := decode[initiatePaymentResponse](t, resp)
	if !initiated.Success || initiated.Redirect == nil || initiated.Status != domainPayment.StatusPending {
		t.Fatalf("initiate = %+v", initiated)
	}

	// the wallet sends the customer's browser back; do not follow the redirect
	client := ts.srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	q := url.Values{"pidx": {initiated.TransactionID}, "purchase_order_id": {placed.OrderNumber}}
	cbResp, err := client.Get(ts.srv.URL + "/payments/khalti/callback?" + q.Encode())
	if err != nil {
		t.Fatal(err)
	}
	defer cbResp.Body.Close()
	expectStatus(t, cbResp, http.StatusSeeOther)
	if loc := cbResp.Header.Get("Location"); loc != frontend+"/payment/success?order="+placed.OrderNumber {
		t.Fatalf("location = %s", loc)
	}

	resp = ts.do(t, http.MethodGet, "/orders/"+placed.ID, "u-1", "", "")
	got := decode[orderResponse](t, resp)
	if got.Payment.Status != domainOrder.PaymentPaid || got.Status != domainOrder.StatusConfirmed {
		t.Fatalf("after callback = %s/%s", got.Status, got.Payment.Status)
	}

	// replaying the verification is harmless
	resp = ts.do(t, http.MethodPost, "/payments/verify", "u-1", "",
		`{"orderId":"`+placed.OrderNumber+`","gateway":"khalti","callbackData":{"pidx":"`+initiated.TransactionID+`"}}`)
	expectStatus(t, resp, http.StatusOK)
	if v := decode[verifyPaymentResponse](t, resp); !v.Verified || !v.AlreadySettled {
		t.Fatalf("replay = %+v", v)
	}
	resp = ts.do(t, http.MethodPost, "/payments/verify", "u-1", "",
		`{"orderId":"`+placed.OrderNumber+`","gateway":"khalti","data":{"pidx":"`+initiated.TransactionID+`"}}`)
	expectStatus(t, resp, http.StatusOK)

	resp = ts.do(t, http.MethodGet, "/orders/"+placed.ID+"/payments", "u-1", "", "")
	expectStatus(t, resp, http.StatusOK)
	payments := decode[[]paymentResponse](t, resp)
	if len(payments) != 1 || payments[0].Status != domainPayment.StatusCompleted {
		t.Fatalf("payments = %+v", payments)
	}

	resp = ts.do(t, http.MethodPost, "/payments/refund", "admin-1", "admin", `{"orderId":"`+placed.ID+`","gateway":"khalti"}`)
	expectStatus(t, resp, http.StatusUnprocessableEntity)
}

func TestCODCollected(t *testing.T) {
	ts := newTestServer(t)
	ts.fillCart(t, "u-1", 1)
	placed := decode[orderResponse](t, ts.do(t, http.MethodPost, "/orders", "u-1", "", placeCOD))

	expectStatus(t, ts.do(t, http.MethodPost, "/payments/cod/"+placed.ID+"/collected", "u-1", "", ""), http.StatusForbidden)

	resp := ts.do(t, http.MethodPost, "/payments/cod/"+placed.ID+"/collected", "admin-1", "admin", "")
	expectStatus(t, resp, http.StatusOK)
	if got := decode[orderResponse](t, resp); got.Payment.Status != domainOrder.PaymentPaid {
		t.Fatalf("payment = %s", got.Payment.Status)
	}
}

func TestVerifyAcceptsCallbackData(t *testing.T) {
	ts := newTestServer(t)
	ts.fillCart(t, "u-1", 1)
	resp := ts.do(t, http.MethodPost, "/orders", "u-1", "",
		`{"shippingAddress":{"district":"Lalitpur"},"paymentMethod":"khalti"}`)
	expectStatus(t, resp, http.StatusCreated)
	placed := decode[orderResponse](t, resp)

	resp = ts.do(t, http.MethodPost, "/payments/initiate", "u-1", "", `{"orderId":"`+placed.ID+`","gateway":"khalti"}`)
	expectStatus(t, resp, http.StatusOK)
	initiated := decode[initiatePaymentResponse](t, resp)

	resp = ts.do(t, http.MethodPost, "/payments/verify", "u-1", "",
		`{"orderId":"`+placed.ID+`","gateway":"khalti","callbackData":{"pidx":"`+initiated.TransactionID+`","status":"Completed"}}`)
	expectStatus(t, resp, http.StatusOK)
	v := decode[verifyPaymentResponse](t, resp)
	if !v.Verified || v.AlreadySettled || v.PaymentStatus != domainPayment.StatusCompleted {
		t.Fatalf("verify = %+v", v)
	}
}

func TestDeliveringCODCompletesPaymentRecord(t *testing.T) {
	ts := newTestServer(t)
	ts.fillCart(t, "u-1", 1)
	placed := decode[orderResponse](t, ts.do(t, http.MethodPost, "/orders", "u-1", "", placeCOD))

	for _, s := range []string{"confirmed", "processing", "shipped", "delivered"} {
		expectStatus(t, ts.do(t, http.MethodPatch, "/orders/"+placed.ID+"/status", "admin-1", "admin", `{"status":"`+s+`"}`),
			http.StatusOK)
	}

	resp := ts.do(t, http.MethodGet, "/orders/"+placed.ID+"/payments", "u-1", "", "")
	expectStatus(t, resp, http.StatusOK)
	payments := decode[[]paymentResponse](t, resp)
	if len(payments) != 1 || payments[0].Status != domainPayment.StatusCompleted {
		t.Fatalf("payments = %+v", payments)
	}
	expectStatus(t, ts.do(t, http.MethodPost, "/payments/cod/"+placed.ID+"/collected", "admin-1", "admin", ""),
		http.StatusUnprocessableEntity)
}

func TestStatusForKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.Validation, "v"), http.StatusBadRequest},
		{apperr.New(apperr.NotFound, "n"), http.StatusNotFound},
		{apperr.New(apperr.Conflict, "c"), http.StatusConflict},
		{apperr.New(apperr.BusinessRule, "b"), http.StatusUnprocessableEntity},
		{apperr.Wrap(apperr.ExternalGateway, errors.New("timeout"), "khalti"), http.StatusBadGateway},
		{domainOrder.ErrAlreadyPaid, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
