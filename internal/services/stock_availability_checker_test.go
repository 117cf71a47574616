package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	domain "github.com/medicore-clinic/billing/internal/domain"
)

type stubStockReader struct {
	levels map[[2]string]int
	err    error
	calls  int
}

func (s *stubStockReader) GetByStorageAndProduct(_ context.Context, storageID, productID string) (domain.StockLevel, error) {
	s.calls++
	if s.err != nil {
		return domain.StockLevel{}, s.err
	}
	qty, ok := s.levels[[2]string{storageID, productID}]
	if !ok {
		return domain.StockLevel{}, fakeRepositoryError{notFound: true}
	}
	return domain.StockLevel{StorageID: storageID, ProductID: productID, Quantity: qty}, nil
}

type fakeRepositoryError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e fakeRepositoryError) Error() string       { return "repository error" }
func (e fakeRepositoryError) IsNotFound() bool    { return e.notFound }
func (e fakeRepositoryError) IsConflict() bool    { return e.conflict }
func (e fakeRepositoryError) IsUnavailable() bool { return e.unavailable }

func TestStockAvailabilityCheckerReportsShortages(t *testing.T) {
	reader := &stubStockReader{levels: map[[2]string]int{
		{"pharmacy", "amoxicillin"}: 5,
		{"pharmacy", "ibuprofen"}:   1,
	}}
	checker, err := NewStockAvailabilityChecker(reader)
	if err != nil {
		t.Fatalf("new checker: %v", err)
	}

	items := []domain.StockRequest{
		{ProductID: "amoxicillin", StorageID: "pharmacy", Quantity: 2},
		{ProductID: "ibuprofen", StorageID: "pharmacy", Quantity: 1},
		{ProductID: "ibuprofen", StorageID: "pharmacy", Quantity: 1},
		{ProductID: "gauze", StorageID: "pharmacy", Quantity: 3},
	}
	shortages, err := checker.CheckAvailability(context.Background(), items)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	want := []domain.StockShortage{
		{ProductID: "ibuprofen", StorageID: "pharmacy", Requested: 2, Available: 1},
		{ProductID: "gauze", StorageID: "pharmacy", Requested: 3, Available: 0},
	}
	if !reflect.DeepEqual(shortages, want) {
		t.Fatalf("unexpected shortages %+v", shortages)
	}

	again, err := checker.CheckAvailability(context.Background(), items)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !reflect.DeepEqual(again, shortages) {
		t.Fatalf("expected identical result on repeat, got %+v", again)
	}
}

func TestStockAvailabilityCheckerEmptyWhenAvailable(t *testing.T) {
	reader := &stubStockReader{levels: map[[2]string]int{{"main", "p1"}: 3}}
	checker, err := NewStockAvailabilityChecker(reader)
	if err != nil {
		t.Fatalf("new checker: %v", err)
	}
	shortages, err := checker.CheckAvailability(context.Background(), []domain.StockRequest{{ProductID: "p1", StorageID: "main", Quantity: 3}})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(shortages) != 0 {
		t.Fatalf("expected no shortages, got %+v", shortages)
	}
}

func TestStockAvailabilityCheckerErrors(t *testing.T) {
	checker, err := NewStockAvailabilityChecker(&stubStockReader{err: fakeRepositoryError{unavailable: true}})
	if err != nil {
		t.Fatalf("new checker: %v", err)
	}
	_, err = checker.CheckAvailability(context.Background(), []domain.StockRequest{{ProductID: "p1", StorageID: "main", Quantity: 1}})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	_, err = checker.CheckAvailability(context.Background(), []domain.StockRequest{{ProductID: "p1", StorageID: "main", Quantity: 0}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero quantity, got %v", err)
	}
}
