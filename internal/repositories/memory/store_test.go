package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
	"github.com/medicore-clinic/billing/internal/repositories"
)

func TestStoreRunInTxDiscardsWritesOnError(t *testing.T) {
	store := NewStore()
	store.PutStock(domain.StockLevel{StorageID: "st-1", ProductID: "prod-1", Quantity: 3})
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		if err := store.Stock().Reserve(ctx, tx, []domain.StockRequest{{ProductID: "prod-1", StorageID: "st-1", Quantity: 2}}); err != nil {
			return err
		}
		if err := store.Orders().Create(ctx, tx, domain.Order{ID: "ord-1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(store.ListOrders()) != 0 {
		t.Fatalf("expected no orders after rollback")
	}
	level, err := store.Stock().GetByStorageAndProduct(ctx, "st-1", "prod-1")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if level.Quantity != 3 {
		t.Fatalf("expected stock untouched, got %d", level.Quantity)
	}
}

func TestStoreCounterAdvancesOnlyOnCommit(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	next := func(fail bool) (int64, error) {
		var value int64
		err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
			v, err := store.Counters().Next(ctx, tx, "orders:rx:2025", 1)
			if err != nil {
				return err
			}
			value = v
			if fail {
				return errors.New("boom")
			}
			return nil
		})
		return value, err
	}

	if v, err := next(true); err == nil || v != 1 {
		t.Fatalf("expected a failed tx that drew 1, got %d (%v)", v, err)
	}
	for want := int64(1); want <= 2; want++ {
		v, err := next(false)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if v != want {
			t.Fatalf("expected %d, got %d", want, v)
		}
	}
}

func TestStoreReserveMergesDuplicatesAndReportsShortages(t *testing.T) {
	store := NewStore(WithClock(func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }))
	store.PutStock(domain.StockLevel{StorageID: "st-1", ProductID: "prod-1", Quantity: 3})
	ctx := context.Background()

	err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return store.Stock().Reserve(ctx, tx, []domain.StockRequest{
			{ProductID: "prod-1", StorageID: "st-1", Quantity: 2},
			{ProductID: "prod-1", StorageID: "st-1", Quantity: 2},
			{ProductID: "prod-2", StorageID: "st-1", Quantity: 1},
		})
	})
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected stock error, got %v", err)
	}
	if stockErr.Code != repositories.StockErrorInsufficient || len(stockErr.Shortages) != 2 {
		t.Fatalf("unexpected stock error: %+v", stockErr)
	}
	if got := stockErr.Shortages[0]; got.Requested != 4 || got.Available != 3 {
		t.Fatalf("expected merged request 4/3, got %+v", got)
	}
	if got := stockErr.Shortages[1]; got.ProductID != "prod-2" || got.Available != 0 {
		t.Fatalf("expected missing stock to count as zero, got %+v", got)
	}

	if err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		return store.Stock().Reserve(ctx, tx, []domain.StockRequest{{ProductID: "prod-1", StorageID: "st-1", Quantity: 3}})
	}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	level, _ := store.Stock().GetByStorageAndProduct(ctx, "st-1", "prod-1")
	if level.Quantity != 0 || level.Version != 1 || level.UpdatedAt.IsZero() {
		t.Fatalf("unexpected level after reserve: %+v", level)
	}
}

func TestStoreRunInTxHonoursCancelledContext(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := store.RunInTx(ctx, func(context.Context, repositories.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("expected cancellation before fn, got err=%v called=%v", err, called)
	}
}

func TestStoreRejectsForeignTransaction(t *testing.T) {
	a, b := NewStore(), NewStore()
	err := a.RunInTx(context.Background(), func(ctx context.Context, tx repositories.Tx) error {
		return b.Orders().Create(ctx, tx, domain.Order{ID: "ord-1"})
	})
	if err == nil || !strings.Contains(err.Error(), "another store") {
		t.Fatalf("expected foreign transaction error, got %v", err)
	}
}

func TestStoreNotFoundIsClassified(t *testing.T) {
	store := NewStore()
	_, err := store.Patients().FindByID(context.Background(), "missing")
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found repository error, got %v", err)
	}
}

func TestStoreLoadSeed(t *testing.T) {
	store := NewStore()
	seed := `{
		"patients": [{"ID": "pat-1", "FirstName": "Ana", "LastName": "Quispe", "Active": true}],
		"appointments": [{"id": "apt-1", "patientId": "pat-1", "staffId": "doc-1", "serviceName": "Consulta", "servicePrice": "50.00"}],
		"products": [{"id": "prod-1", "name": "Amoxicillin", "price": "10.00", "active": true}],
		"storages": [{"ID": "st-1", "Name": "Farmacia"}],
		"stock": [{"storageId": "st-1", "productId": "prod-1", "quantity": 5}]
	}`
	if err := store.Load(strings.NewReader(seed)); err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()
	price, err := store.Appointments().GetServicePrice(ctx, "apt-1")
	if err != nil || !price.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("unexpected service price %s err=%v", price, err)
	}
	patient, err := store.Patients().FindByID(ctx, "pat-1")
	if err != nil || patient.FullName() != "Ana Quispe" {
		t.Fatalf("unexpected patient %+v err=%v", patient, err)
	}
	level, _ := store.Stock().GetByStorageAndProduct(ctx, "st-1", "prod-1")
	if level.Quantity != 5 {
		t.Fatalf("expected 5 units, got %d", level.Quantity)
	}
}
