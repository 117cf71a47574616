package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
)

type stubGenerator struct {
	orderType  domain.OrderType
	generateFn func(ctx context.Context, input GenerateOrderInput) (domain.OrderDraft, error)
}

func (g *stubGenerator) Type() domain.OrderType { return g.orderType }

func (g *stubGenerator) CanHandle(orderType domain.OrderType) bool { return orderType == g.orderType }

func (g *stubGenerator) CalculateTotal(context.Context, GenerateOrderInput) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (g *stubGenerator) Generate(ctx context.Context, input GenerateOrderInput) (domain.OrderDraft, error) {
	if g.generateFn != nil {
		return g.generateFn(ctx, input)
	}
	return domain.OrderDraft{Order: createOrderBase(g.orderType, domain.OrderStatusPending, input.Now)}, nil
}

func TestOrderTypeRegistryResolvesRegisteredGenerator(t *testing.T) {
	rx := &stubGenerator{orderType: domain.OrderTypeMedicalPrescription}
	sale := &stubGenerator{orderType: domain.OrderTypeProductSale}

	registry, err := NewOrderTypeRegistry(rx, sale)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	got, err := registry.Resolve(domain.OrderTypeProductSale)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != sale {
		t.Fatalf("expected product sale generator")
	}
	types := registry.Types()
	if len(types) != 2 || types[0] != domain.OrderTypeMedicalPrescription || types[1] != domain.OrderTypeProductSale {
		t.Fatalf("unexpected types %v", types)
	}
}

func TestOrderTypeRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewOrderTypeRegistry(
		&stubGenerator{orderType: domain.OrderTypeMedicalPrescription},
		&stubGenerator{orderType: domain.OrderTypeMedicalPrescription},
	)
	if !errors.Is(err, ErrDuplicateGenerator) {
		t.Fatalf("expected ErrDuplicateGenerator, got %v", err)
	}
	var dup *DuplicateGeneratorError
	if !errors.As(err, &dup) || dup.Type != domain.OrderTypeMedicalPrescription {
		t.Fatalf("expected duplicate error carrying the type, got %v", err)
	}
}

func TestOrderTypeRegistryUnknownType(t *testing.T) {
	registry, err := NewOrderTypeRegistry(&stubGenerator{orderType: domain.OrderTypeMedicalPrescription})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	_, err = registry.Resolve(domain.OrderType("lab_test"))
	if !errors.Is(err, ErrGeneratorNotFound) {
		t.Fatalf("expected ErrGeneratorNotFound, got %v", err)
	}
	var notFound *GeneratorNotFoundError
	if !errors.As(err, &notFound) || notFound.Type != "lab_test" {
		t.Fatalf("expected typed not found error, got %v", err)
	}
}

func TestOrderTypeRegistryRejectsNil(t *testing.T) {
	registry, err := NewOrderTypeRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := registry.Register(nil); err == nil {
		t.Fatalf("expected error for nil generator")
	}
	if err := registry.Register(&stubGenerator{}); err == nil {
		t.Fatalf("expected error for empty type")
	}
}
