package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
)

// ProductSaleGeneratorDeps bundles the lookups used to price a counter sale.
type ProductSaleGeneratorDeps struct {
	Products ProductPriceLookup
	Tax      TaxCalculator
}

type productSaleGenerator struct {
	products ProductPriceLookup
	tax      TaxCalculator
}

// NewProductSaleGenerator builds the generator for product_sale orders. Sales bill products only;
// appointments are rejected.
func NewProductSaleGenerator(deps ProductSaleGeneratorDeps) (OrderGenerator, error) {
	if deps.Products == nil {
		return nil, errors.New("product sale generator: product lookup is required")
	}
	return &productSaleGenerator{products: deps.Products, tax: deps.Tax}, nil
}

func (g *productSaleGenerator) Type() domain.OrderType {
	return domain.OrderTypeProductSale
}

func (g *productSaleGenerator) CanHandle(orderType domain.OrderType) bool {
	return orderType == domain.OrderTypeProductSale
}

func (g *productSaleGenerator) CalculateTotal(ctx context.Context, input GenerateOrderInput) (decimal.Decimal, error) {
	quote, err := g.quote(ctx, input)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.totals.Subtotal, nil
}

func (g *productSaleGenerator) Generate(ctx context.Context, input GenerateOrderInput) (domain.OrderDraft, error) {
	if strings.TrimSpace(input.Patient.ID) == "" {
		return domain.OrderDraft{}, fmt.Errorf("%w: patient is required", ErrValidation)
	}
	if len(input.Appointments) > 0 {
		return domain.OrderDraft{}, fmt.Errorf("%w: product sales cannot bill appointments", ErrValidation)
	}
	if len(input.Products) == 0 {
		return domain.OrderDraft{}, fmt.Errorf("%w: product sale requires at least one product", ErrValidation)
	}

	quote, err := g.quote(ctx, input)
	if err != nil {
		return domain.OrderDraft{}, err
	}

	order := createOrderBase(domain.OrderTypeProductSale, domain.OrderStatusPending, input.Now)
	order.Metadata.ProductSale = &domain.ProductSaleMetadata{
		Patient:  input.Patient.Snapshot(),
		Products: quote.products,
		Pricing:  pricingSummary(input, quote.productsSubtotal, decimal.Zero),
	}
	applyOrderInput(&order, input, quote.totals)

	return domain.OrderDraft{Order: order, Reservations: draftReservations(input.Products)}, nil
}

func (g *productSaleGenerator) quote(ctx context.Context, input GenerateOrderInput) (orderQuote, error) {
	if input.TotalOverride != nil {
		return overrideQuote(g.tax, input), nil
	}
	lines, subtotal, err := priceProductLines(ctx, g.products, g.tax, input.TaxRate, input.Products)
	if err != nil {
		return orderQuote{}, err
	}
	return orderQuote{
		products:         lines,
		productsSubtotal: subtotal,
		servicesSubtotal: decimal.Zero,
		totals:           g.tax.Apply(g.tax.CombineSubtotals(subtotal), input.TaxRate),
	}, nil
}
