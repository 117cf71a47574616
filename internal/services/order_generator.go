package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
	"github.com/medicore-clinic/billing/internal/repositories"
)

// ProductPriceLookup is the read-only catalogue view generators price product lines with.
type ProductPriceLookup interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	GetPriceByID(ctx context.Context, productID string) (decimal.Decimal, error)
}

// ServicePriceLookup is the read-only scheduling view generators price service lines with.
type ServicePriceLookup interface {
	GetServicePrice(ctx context.Context, appointmentID string) (decimal.Decimal, error)
}

var (
	_ ProductPriceLookup = (repositories.ProductRepository)(nil)
	_ ServicePriceLookup = (repositories.AppointmentRepository)(nil)
)

// createOrderBase returns an order with the defaults every generator shares.
func createOrderBase(orderType domain.OrderType, status domain.OrderStatus, now time.Time) domain.Order {
	now = now.UTC()
	return domain.Order{
		Type:      orderType,
		Status:    status,
		Date:      now,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  domain.OrderMetadata{Kind: orderType},
	}
}

// applyOrderInput copies the request fields every order type carries.
func applyOrderInput(order *domain.Order, input GenerateOrderInput, totals domain.TaxBreakdown) {
	order.MovementTypeID = strings.TrimSpace(input.MovementTypeID)
	order.ReferenceID = strings.TrimSpace(input.ReferenceID)
	order.SourceID = input.Patient.ID
	order.Currency = input.Currency
	order.Notes = input.Notes
	order.DueDate = input.DueDate
	order.CreatedBy = input.CreatedBy
	order.Subtotal = totals.Subtotal
	order.Tax = totals.Tax
	order.Total = totals.Total
	if len(input.Extra) > 0 {
		order.Metadata.Extra = input.Extra
	}
}

// pricingSummary records how the totals were obtained.
func pricingSummary(input GenerateOrderInput, products, services decimal.Decimal) domain.PricingSummary {
	summary := domain.PricingSummary{
		TaxRate:          input.TaxRate,
		ProductsSubtotal: products,
		ServicesSubtotal: services,
		TotalSource:      domain.TotalSourceDerived,
	}
	if input.TotalOverride != nil {
		summary.TotalSource = domain.TotalSourceOverride
		summary.OverriddenBy = input.OverriddenBy
	}
	return summary
}

// orderQuote is the priced view of a generator input. CalculateTotal and Generate both build
// their result from it, so a draft's subtotal is always what CalculateTotal reports.
type orderQuote struct {
	products         []domain.ProductLine
	services         []domain.ServiceLine
	productsSubtotal decimal.Decimal
	servicesSubtotal decimal.Decimal
	totals           domain.TaxBreakdown
}

// overrideQuote splits a caller-supplied total without pricing any line.
func overrideQuote(tax TaxCalculator, input GenerateOrderInput) orderQuote {
	return orderQuote{
		products:         unpricedProductLines(input.Products),
		services:         unpricedServiceLines(input.Appointments),
		productsSubtotal: decimal.Zero,
		servicesSubtotal: decimal.Zero,
		totals:           tax.Split(*input.TotalOverride, input.TaxRate),
	}
}

// priceProductLines looks up each product and prices its line excluding tax. Line subtotals
// keep full precision; the returned group subtotal is rounded to cents once, after summing them.
func priceProductLines(ctx context.Context, catalog ProductPriceLookup, tax TaxCalculator, rate decimal.Decimal, requests []domain.StockRequest) ([]domain.ProductLine, decimal.Decimal, error) {
	lines := make([]domain.ProductLine, 0, len(requests))
	group := decimal.Zero
	for _, req := range requests {
		product, err := catalog.FindByID(ctx, req.ProductID)
		if err != nil {
			return nil, decimal.Zero, mapRepositoryError(err, fmt.Sprintf("product %s", req.ProductID))
		}
		price, err := catalog.GetPriceByID(ctx, req.ProductID)
		if err != nil {
			return nil, decimal.Zero, mapRepositoryError(err, fmt.Sprintf("price of product %s", req.ProductID))
		}
		if price.IsNegative() {
			return nil, decimal.Zero, fmt.Errorf("%w: product %s has a negative price", ErrValidation, req.ProductID)
		}
		lineSubtotal := tax.ExcludeTax(price, rate).Mul(decimal.NewFromInt(int64(req.Quantity)))
		group = group.Add(lineSubtotal)
		lines = append(lines, domain.ProductLine{
			ProductID:   req.ProductID,
			ProductName: product.Name,
			StorageID:   req.StorageID,
			Quantity:    req.Quantity,
			UnitPrice:   price,
			Subtotal:    lineSubtotal,
		})
	}
	return lines, group.Round(moneyPlaces), nil
}

// unpricedProductLines keeps the dispensed quantities of an overridden order without touching prices.
func unpricedProductLines(requests []domain.StockRequest) []domain.ProductLine {
	lines := make([]domain.ProductLine, 0, len(requests))
	for _, req := range requests {
		lines = append(lines, domain.ProductLine{
			ProductID: req.ProductID,
			StorageID: req.StorageID,
			Quantity:  req.Quantity,
		})
	}
	return lines
}

func unpricedServiceLines(appointments []domain.Appointment) []domain.ServiceLine {
	lines := make([]domain.ServiceLine, 0, len(appointments))
	for _, appointment := range appointments {
		lines = append(lines, domain.ServiceLine{
			AppointmentID: appointment.ID,
			ServiceID:     appointment.ServiceID,
			ServiceName:   appointment.ServiceName,
		})
	}
	return lines
}

// draftReservations copies the stock requests so the draft does not alias the caller's slice.
func draftReservations(requests []domain.StockRequest) []domain.StockRequest {
	if len(requests) == 0 {
		return nil
	}
	out := make([]domain.StockRequest, len(requests))
	copy(out, requests)
	return out
}
