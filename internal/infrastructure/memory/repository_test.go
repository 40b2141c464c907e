package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/inventory"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/order"
	"github.com/amiryogi/bivanhandicraft-sub000/internal/domain/payment"
	"github.com/shopspring/decimal"
)

func seedProducts() *InventoryRepository {
	return NewInventoryRepository(
		&inventory.Product{ID: "p-1", Name: "Thangka", Price: decimal.NewFromInt(3000), Stock: 10, Active: true},
		&inventory.Product{ID: "p-2", Name: "Mask", Price: decimal.NewFromInt(800), Stock: 1, Active: true,
			Variants: []inventory.Variant{{ID: "v-red", Stock: 1}}},
	)
}

func TestLedgerBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	inv := seedProducts()

	err := inv.Apply(ctx, []inventory.Adjustment{
		inventory.Reserve("p-1", "", 3),
		inventory.Reserve("p-2", "v-red", 2),
	})
	if !errors.Is(err, inventory.ErrStockRace) {
		t.Fatalf("err = %v", err)
	}
	p1, _ := inv.Get(ctx, "p-1")
	if p1.Stock != 10 || p1.SoldCount != 0 {
		t.Fatalf("partial reservation leaked: stock=%d sold=%d", p1.Stock, p1.SoldCount)
	}
}

func TestLedgerNeverOversells(t *testing.T) {
	ctx := context.Background()
	inv := seedProducts()

	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := inv.Apply(ctx, []inventory.Adjustment{inventory.Reserve("p-1", "", 1)}); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	p1, _ := inv.Get(ctx, "p-1")
	if won != 10 || p1.Stock != 0 || p1.SoldCount != 10 {
		t.Fatalf("won=%d stock=%d sold=%d", won, p1.Stock, p1.SoldCount)
	}
}

func newOrderChange(t *testing.T, id, number string) order.Change {
	t.Helper()
	ch, err := order.New(order.Params{
		ID: id, Number: number, UserID: "u-1",
		Items:         []order.Item{{ProductID: "p-1", Price: decimal.NewFromInt(3000), Quantity: 2}},
		PaymentMethod: payment.MethodCOD,
		At:            time.Now(),
	})
	if err != nil {
		t.Fatalf("order.New: %v", err)
	}
	return ch
}

func TestOrderCreateReservesStockAndRejectsDuplicateNumber(t *testing.T) {
	ctx := context.Background()
	inv := seedProducts()
	repo := NewOrderRepository(inv)

	created, err := repo.Create(ctx, newOrderChange(t, "o-1", "ORD-20260101-AAAAA"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Version != 1 {
		t.Fatalf("version = %d", created.Version)
	}
	p1, _ := inv.Get(ctx, "p-1")
	if p1.Stock != 8 || p1.SoldCount != 2 {
		t.Fatalf("stock=%d sold=%d", p1.Stock, p1.SoldCount)
	}

	_, err = repo.Create(ctx, newOrderChange(t, "o-2", "ORD-20260101-AAAAA"))
	if !errors.Is(err, order.ErrDuplicateNumber) {
		t.Fatalf("duplicate number: %v", err)
	}
	p1, _ = inv.Get(ctx, "p-1")
	if p1.Stock != 8 {
		t.Fatalf("rejected create touched stock: %d", p1.Stock)
	}

	byNumber, err := repo.GetByNumber(ctx, "ORD-20260101-AAAAA")
	if err != nil || byNumber.ID != "o-1" {
		t.Fatalf("GetByNumber = %v, %v", byNumber, err)
	}
}

func TestOrderSaveIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	inv := seedProducts()
	repo := NewOrderRepository(inv)
	if _, err := repo.Create(ctx, newOrderChange(t, "o-1", "ORD-20260101-BBBBB")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, _ := repo.Get(ctx, "o-1")
	second, _ := repo.Get(ctx, "o-1")

	confirm, _ := first.Transition(order.StatusConfirmed, "admin", "", time.Now())
	saved, err := repo.Save(ctx, confirm)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("version = %d", saved.Version)
	}

	cancel, _ := second.Cancel("u-1", "late", time.Now())
	if _, err := repo.Save(ctx, cancel); !errors.Is(err, order.ErrConflict) {
		t.Fatalf("stale save: %v", err)
	}
	p1, _ := inv.Get(ctx, "p-1")
	if p1.Stock != 8 {
		t.Fatalf("losing save restored stock: %d", p1.Stock)
	}

	got, _ := repo.Get(ctx, "o-1")
	if got.Status != order.StatusConfirmed {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestPaymentLatestPerGateway(t *testing.T) {
	ctx := context.Background()
	repo := NewPaymentRepository()
	t0 := time.Now()

	_ = repo.Insert(ctx, payment.New("pay-1", "o-1", "u", payment.MethodKhalti, decimal.NewFromInt(1), t0))
	_ = repo.Insert(ctx, payment.New("pay-2", "o-1", "u", payment.MethodESewa, decimal.NewFromInt(1), t0.Add(time.Second)))
	_ = repo.Insert(ctx, payment.New("pay-3", "o-1", "u", payment.MethodKhalti, decimal.NewFromInt(1), t0.Add(2*time.Second)))

	latest, err := repo.Latest(ctx, "o-1", payment.MethodKhalti)
	if err != nil || latest.ID != "pay-3" {
		t.Fatalf("Latest = %v, %v", latest, err)
	}
	if _, err := repo.Latest(ctx, "o-1", payment.MethodCOD); !errors.Is(err, payment.ErrNotFound) {
		t.Fatalf("missing gateway: %v", err)
	}
	all, _ := repo.ListByOrder(ctx, "o-1")
	if len(all) != 3 || all[0].ID != "pay-1" {
		t.Fatalf("ListByOrder = %d", len(all))
	}
}
