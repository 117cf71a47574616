package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/medicore-clinic/billing/internal/domain"
	"github.com/medicore-clinic/billing/internal/repositories"
)

type stubCounterRepo struct {
	nextFn func(ctx context.Context, counterID string, step int64) (int64, error)
	ids    []string
	txs    []repositories.Tx
}

func (s *stubCounterRepo) Next(ctx context.Context, tx repositories.Tx, counterID string, step int64) (int64, error) {
	s.ids = append(s.ids, counterID)
	s.txs = append(s.txs, tx)
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func TestOrderCodeServiceFormatsPerTypeAndYear(t *testing.T) {
	repo := &stubCounterRepo{nextFn: func(_ context.Context, _ string, step int64) (int64, error) {
		if step != 1 {
			t.Fatalf("expected step 1, got %d", step)
		}
		return 42, nil
	}}
	svc, err := NewOrderCodeService(OrderCodeServiceDeps{
		Repository: repo,
		Clock:      func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new order code service: %v", err)
	}

	code, err := svc.Next(context.Background(), stubTx{}, domain.OrderTypeMedicalPrescription)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if code != "RX-2025-000042" {
		t.Fatalf("unexpected code %q", code)
	}
	code, err = svc.Next(context.Background(), stubTx{}, domain.OrderTypeProductSale)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if code != "PS-2025-000042" {
		t.Fatalf("unexpected code %q", code)
	}
	if repo.ids[0] != "orders:medical_prescription:2025" || repo.ids[1] != "orders:product_sale:2025" {
		t.Fatalf("unexpected counter ids %v", repo.ids)
	}
	if _, ok := repo.txs[0].(stubTx); !ok {
		t.Fatalf("expected the caller's transaction to reach the counter, got %T", repo.txs[0])
	}
}

func TestOrderCodeServiceMapsCounterErrors(t *testing.T) {
	repo := &stubCounterRepo{nextFn: func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "max reached", nil)
	}}
	svc, err := NewOrderCodeService(OrderCodeServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new order code service: %v", err)
	}
	if _, err := svc.Next(context.Background(), stubTx{}, domain.OrderTypeProductSale); !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if _, err := svc.Next(context.Background(), stubTx{}, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty type, got %v", err)
	}
}
