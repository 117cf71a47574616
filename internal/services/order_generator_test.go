package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
)

type stubCatalog struct {
	products   map[string]domain.Product
	prices     map[string]decimal.Decimal
	priceCalls int
}

func (s *stubCatalog) FindByID(_ context.Context, id string) (domain.Product, error) {
	product, ok := s.products[id]
	if !ok {
		return domain.Product{}, fakeRepositoryError{notFound: true}
	}
	return product, nil
}

func (s *stubCatalog) GetPriceByID(_ context.Context, id string) (decimal.Decimal, error) {
	s.priceCalls++
	price, ok := s.prices[id]
	if !ok {
		return decimal.Zero, fakeRepositoryError{notFound: true}
	}
	return price, nil
}

type stubServicePrices struct {
	prices map[string]decimal.Decimal
	calls  int
}

func (s *stubServicePrices) GetServicePrice(_ context.Context, id string) (decimal.Decimal, error) {
	s.calls++
	price, ok := s.prices[id]
	if !ok {
		return decimal.Zero, fakeRepositoryError{unavailable: true}
	}
	return price, nil
}

var generatorNow = time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

func prescriptionFixture() (*stubCatalog, *stubServicePrices, GenerateOrderInput) {
	catalog := &stubCatalog{
		products: map[string]domain.Product{"amoxicillin": {ID: "amoxicillin", Name: "Amoxicillin 500mg", Active: true}},
		prices:   map[string]decimal.Decimal{"amoxicillin": decimal.RequireFromString("10.00")},
	}
	services := &stubServicePrices{prices: map[string]decimal.Decimal{"appt-1": decimal.RequireFromString("15.00")}}
	input := GenerateOrderInput{
		Patient:      domain.Patient{ID: "pat-1", FirstName: "Ana", LastName: "Quispe", Active: true},
		Appointments: []domain.Appointment{{ID: "appt-1", PatientID: "pat-1", StaffID: "doc-7", ServiceID: "svc-consult", ServiceName: "Consultation"}},
		Products:     []domain.StockRequest{{ProductID: "amoxicillin", StorageID: "pharmacy", Quantity: 2}},
		Currency:     "PEN",
		TaxRate:      decimal.RequireFromString("0.18"),
		CreatedBy:    "staff-1",
		Now:          generatorNow,
	}
	return catalog, services, input
}

func TestMedicalPrescriptionGeneratorPricesLines(t *testing.T) {
	catalog, services, input := prescriptionFixture()
	generator, err := NewMedicalPrescriptionGenerator(MedicalPrescriptionGeneratorDeps{Products: catalog, Appointments: services})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	subtotal, err := generator.CalculateTotal(context.Background(), input)
	if err != nil {
		t.Fatalf("calculate total: %v", err)
	}
	if subtotal.StringFixed(2) != "29.66" {
		t.Fatalf("expected subtotal 29.66, got %s", subtotal)
	}

	draft, err := generator.Generate(context.Background(), input)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	order := draft.Order
	if order.Type != domain.OrderTypeMedicalPrescription || order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected type/status %s/%s", order.Type, order.Status)
	}
	if order.Subtotal.StringFixed(2) != "29.66" || order.Tax.StringFixed(2) != "5.34" || order.Total.StringFixed(2) != "35.00" {
		t.Fatalf("unexpected totals %s/%s/%s", order.Subtotal, order.Tax, order.Total)
	}
	if order.SourceID != "pat-1" || order.TargetID != "doc-7" || order.CreatedBy != "staff-1" {
		t.Fatalf("unexpected parties %+v", order)
	}
	if !order.Date.Equal(generatorNow) {
		t.Fatalf("expected order date %s, got %s", generatorNow, order.Date)
	}
	meta := order.Metadata.MedicalPrescription
	if order.Metadata.Kind != domain.OrderTypeMedicalPrescription || meta == nil || order.Metadata.ProductSale != nil {
		t.Fatalf("expected prescription metadata only, got %+v", order.Metadata)
	}
	if meta.Patient.FullName != "Ana Quispe" {
		t.Fatalf("unexpected patient snapshot %+v", meta.Patient)
	}
	if meta.Staff == nil || meta.Staff.AppointmentID != "appt-1" {
		t.Fatalf("expected staff from first appointment, got %+v", meta.Staff)
	}
	if len(meta.Products) != 1 || meta.Products[0].ProductName != "Amoxicillin 500mg" || meta.Products[0].Subtotal.StringFixed(2) != "16.95" {
		t.Fatalf("unexpected product lines %+v", meta.Products)
	}
	if len(meta.Services) != 1 || meta.Services[0].Subtotal.StringFixed(2) != "12.71" {
		t.Fatalf("unexpected service lines %+v", meta.Services)
	}
	if meta.Pricing.TotalSource != domain.TotalSourceDerived {
		t.Fatalf("expected derived total, got %s", meta.Pricing.TotalSource)
	}
	if len(draft.Reservations) != 1 || draft.Reservations[0].Quantity != 2 {
		t.Fatalf("unexpected reservations %+v", draft.Reservations)
	}
}

func TestMedicalPrescriptionGeneratorOverrideSkipsPricing(t *testing.T) {
	catalog, services, input := prescriptionFixture()
	generator, err := NewMedicalPrescriptionGenerator(MedicalPrescriptionGeneratorDeps{Products: catalog, Appointments: services})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	override := decimal.RequireFromString("50.00")
	input.TotalOverride = &override
	input.OverriddenBy = "admin-1"

	draft, err := generator.Generate(context.Background(), input)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if catalog.priceCalls != 0 || services.calls != 0 {
		t.Fatalf("expected no price lookups, got %d/%d", catalog.priceCalls, services.calls)
	}
	order := draft.Order
	if order.Total.StringFixed(2) != "50.00" || !order.Total.Equal(order.Subtotal.Add(order.Tax)) {
		t.Fatalf("unexpected totals %s/%s/%s", order.Subtotal, order.Tax, order.Total)
	}
	pricing, ok := order.Metadata.Pricing()
	if !ok || pricing.TotalSource != domain.TotalSourceOverride || pricing.OverriddenBy != "admin-1" {
		t.Fatalf("expected override pricing, got %+v", pricing)
	}
}

func TestMedicalPrescriptionGeneratorPropagatesLookupErrors(t *testing.T) {
	catalog, services, input := prescriptionFixture()
	services.prices = nil
	generator, err := NewMedicalPrescriptionGenerator(MedicalPrescriptionGeneratorDeps{Products: catalog, Appointments: services})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if _, err := generator.Generate(context.Background(), input); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestProductSaleGenerator(t *testing.T) {
	catalog, _, input := prescriptionFixture()
	generator, err := NewProductSaleGenerator(ProductSaleGeneratorDeps{Products: catalog})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if !generator.CanHandle(domain.OrderTypeProductSale) || generator.CanHandle(domain.OrderTypeMedicalPrescription) {
		t.Fatalf("unexpected CanHandle")
	}

	if _, err := generator.Generate(context.Background(), input); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for appointments on a sale, got %v", err)
	}

	input.Appointments = nil
	draft, err := generator.Generate(context.Background(), input)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	order := draft.Order
	if order.Subtotal.StringFixed(2) != "16.95" || order.Tax.StringFixed(2) != "3.05" || order.Total.StringFixed(2) != "20.00" {
		t.Fatalf("unexpected totals %s/%s/%s", order.Subtotal, order.Tax, order.Total)
	}
	if order.Metadata.ProductSale == nil || order.Metadata.Kind != domain.OrderTypeProductSale {
		t.Fatalf("expected product sale metadata, got %+v", order.Metadata)
	}
	if order.TargetID != "" {
		t.Fatalf("expected no staff on a sale, got %q", order.TargetID)
	}
}

func threeProductCatalog() (*stubCatalog, []domain.StockRequest) {
	catalog := &stubCatalog{products: map[string]domain.Product{}, prices: map[string]decimal.Decimal{}}
	var requests []domain.StockRequest
	for _, id := range []string{"gauze", "saline", "syringe"} {
		catalog.products[id] = domain.Product{ID: id, Name: id, Active: true}
		catalog.prices[id] = decimal.RequireFromString("10.00")
		requests = append(requests, domain.StockRequest{ProductID: id, StorageID: "pharmacy", Quantity: 1})
	}
	return catalog, requests
}

func sumProductLines(lines []domain.ProductLine) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range lines {
		sum = sum.Add(line.Subtotal)
	}
	return sum
}

func TestProductSaleGeneratorLineSubtotalsSumToOrderSubtotal(t *testing.T) {
	catalog, requests := threeProductCatalog()
	_, _, input := prescriptionFixture()
	input.Appointments = nil
	input.Products = requests

	generator, err := NewProductSaleGenerator(ProductSaleGeneratorDeps{Products: catalog})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	draft, err := generator.Generate(context.Background(), input)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	order := draft.Order
	meta := order.Metadata.ProductSale
	if meta == nil || len(meta.Products) != 3 {
		t.Fatalf("expected three product lines, got %+v", meta)
	}
	// Rounding each 8.4745... line first would give 25.41.
	lineSum := sumProductLines(meta.Products).Round(2)
	if lineSum.StringFixed(2) != "25.42" {
		t.Fatalf("expected lines to sum to 25.42, got %s", lineSum)
	}
	if !lineSum.Equal(meta.Pricing.ProductsSubtotal) || !lineSum.Equal(order.Subtotal) {
		t.Fatalf("line sum %s, products subtotal %s and order subtotal %s disagree", lineSum, meta.Pricing.ProductsSubtotal, order.Subtotal)
	}
	if order.Tax.StringFixed(2) != "4.58" || order.Total.StringFixed(2) != "30.00" {
		t.Fatalf("unexpected tax/total %s/%s", order.Tax, order.Total)
	}
}

func TestMedicalPrescriptionGeneratorGroupSubtotalsMatchLines(t *testing.T) {
	catalog, requests := threeProductCatalog()
	services := &stubServicePrices{prices: map[string]decimal.Decimal{
		"appt-1": decimal.RequireFromString("15.00"),
		"appt-2": decimal.RequireFromString("15.00"),
	}}
	_, _, input := prescriptionFixture()
	input.Products = requests
	input.Appointments = append(input.Appointments, domain.Appointment{ID: "appt-2", PatientID: "pat-1", ServiceID: "svc-followup", ServiceName: "Follow-up"})

	generator, err := NewMedicalPrescriptionGenerator(MedicalPrescriptionGeneratorDeps{Products: catalog, Appointments: services})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	draft, err := generator.Generate(context.Background(), input)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	meta := draft.Order.Metadata.MedicalPrescription
	productSum := sumProductLines(meta.Products).Round(2)
	serviceSum := decimal.Zero
	for _, line := range meta.Services {
		serviceSum = serviceSum.Add(line.Subtotal)
	}
	serviceSum = serviceSum.Round(2)

	if !productSum.Equal(meta.Pricing.ProductsSubtotal) || productSum.StringFixed(2) != "25.42" {
		t.Fatalf("products: lines %s vs group %s", productSum, meta.Pricing.ProductsSubtotal)
	}
	if !serviceSum.Equal(meta.Pricing.ServicesSubtotal) || serviceSum.StringFixed(2) != "25.42" {
		t.Fatalf("services: lines %s vs group %s", serviceSum, meta.Pricing.ServicesSubtotal)
	}
	if !draft.Order.Subtotal.Equal(productSum.Add(serviceSum)) {
		t.Fatalf("expected order subtotal %s, got %s", productSum.Add(serviceSum), draft.Order.Subtotal)
	}
}

func TestGeneratorsCalculateTotalMatchesDraftSubtotal(t *testing.T) {
	catalog, services, input := prescriptionFixture()
	prescription, err := NewMedicalPrescriptionGenerator(MedicalPrescriptionGeneratorDeps{Products: catalog, Appointments: services})
	if err != nil {
		t.Fatalf("new prescription generator: %v", err)
	}
	sale, err := NewProductSaleGenerator(ProductSaleGeneratorDeps{Products: catalog})
	if err != nil {
		t.Fatalf("new sale generator: %v", err)
	}
	saleInput := input
	saleInput.Appointments = nil
	override := decimal.RequireFromString("50.00")

	cases := []struct {
		name      string
		generator OrderGenerator
		input     GenerateOrderInput
		override  bool
	}{
		{name: "prescription priced", generator: prescription, input: input},
		{name: "prescription override", generator: prescription, input: input, override: true},
		{name: "sale priced", generator: sale, input: saleInput},
		{name: "sale override", generator: sale, input: saleInput, override: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			catalog.priceCalls, services.calls = 0, 0
			in := tc.input
			if tc.override {
				in.TotalOverride = &override
			}
			subtotal, err := tc.generator.CalculateTotal(context.Background(), in)
			if err != nil {
				t.Fatalf("calculate total: %v", err)
			}
			draft, err := tc.generator.Generate(context.Background(), in)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if !subtotal.Equal(draft.Order.Subtotal) {
				t.Fatalf("CalculateTotal %s disagrees with draft subtotal %s", subtotal, draft.Order.Subtotal)
			}
			if tc.override {
				if subtotal.StringFixed(2) != "42.37" {
					t.Fatalf("expected the override's pre-tax share 42.37, got %s", subtotal)
				}
				if catalog.priceCalls != 0 || services.calls != 0 {
					t.Fatalf("expected no lookups under override, got %d/%d", catalog.priceCalls, services.calls)
				}
			}
		})
	}
}
