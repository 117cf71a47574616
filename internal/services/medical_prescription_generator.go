package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
)

// MedicalPrescriptionGeneratorDeps bundles the lookups used to price a prescription.
type MedicalPrescriptionGeneratorDeps struct {
	Products     ProductPriceLookup
	Appointments ServicePriceLookup
	Tax          TaxCalculator
}

type medicalPrescriptionGenerator struct {
	products     ProductPriceLookup
	appointments ServicePriceLookup
	tax          TaxCalculator
}

// NewMedicalPrescriptionGenerator builds the generator for medical_prescription orders.
func NewMedicalPrescriptionGenerator(deps MedicalPrescriptionGeneratorDeps) (OrderGenerator, error) {
	if deps.Products == nil {
		return nil, errors.New("medical prescription generator: product lookup is required")
	}
	if deps.Appointments == nil {
		return nil, errors.New("medical prescription generator: appointment lookup is required")
	}
	return &medicalPrescriptionGenerator{
		products:     deps.Products,
		appointments: deps.Appointments,
		tax:          deps.Tax,
	}, nil
}

func (g *medicalPrescriptionGenerator) Type() domain.OrderType {
	return domain.OrderTypeMedicalPrescription
}

func (g *medicalPrescriptionGenerator) CanHandle(orderType domain.OrderType) bool {
	return orderType == domain.OrderTypeMedicalPrescription
}

func (g *medicalPrescriptionGenerator) CalculateTotal(ctx context.Context, input GenerateOrderInput) (decimal.Decimal, error) {
	quote, err := g.quote(ctx, input)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.totals.Subtotal, nil
}

func (g *medicalPrescriptionGenerator) Generate(ctx context.Context, input GenerateOrderInput) (domain.OrderDraft, error) {
	if strings.TrimSpace(input.Patient.ID) == "" {
		return domain.OrderDraft{}, fmt.Errorf("%w: patient is required", ErrValidation)
	}
	if len(input.Appointments) == 0 && len(input.Products) == 0 {
		return domain.OrderDraft{}, fmt.Errorf("%w: prescription has nothing to bill", ErrValidation)
	}

	quote, err := g.quote(ctx, input)
	if err != nil {
		return domain.OrderDraft{}, err
	}

	order := createOrderBase(domain.OrderTypeMedicalPrescription, domain.OrderStatusPending, input.Now)
	meta := &domain.MedicalPrescriptionMetadata{
		Patient:  input.Patient.Snapshot(),
		Products: quote.products,
		Services: quote.services,
		Pricing:  pricingSummary(input, quote.productsSubtotal, quote.servicesSubtotal),
	}

	// The first validated appointment decides the attributed practitioner.
	if len(input.Appointments) > 0 {
		first := input.Appointments[0]
		if first.StaffID != "" {
			meta.Staff = &domain.StaffReference{StaffID: first.StaffID, AppointmentID: first.ID}
			order.TargetID = first.StaffID
		}
	}

	order.Metadata.MedicalPrescription = meta
	applyOrderInput(&order, input, quote.totals)

	return domain.OrderDraft{Order: order, Reservations: draftReservations(input.Products)}, nil
}

// quote prices every line, or splits the override without any lookup.
func (g *medicalPrescriptionGenerator) quote(ctx context.Context, input GenerateOrderInput) (orderQuote, error) {
	if input.TotalOverride != nil {
		return overrideQuote(g.tax, input), nil
	}

	products, productsSubtotal, err := priceProductLines(ctx, g.products, g.tax, input.TaxRate, input.Products)
	if err != nil {
		return orderQuote{}, err
	}

	services := make([]domain.ServiceLine, 0, len(input.Appointments))
	servicesSubtotal := decimal.Zero
	for _, appointment := range input.Appointments {
		price, err := g.appointments.GetServicePrice(ctx, appointment.ID)
		if err != nil {
			return orderQuote{}, mapRepositoryError(err, fmt.Sprintf("service price of appointment %s", appointment.ID))
		}
		if price.IsNegative() {
			return orderQuote{}, fmt.Errorf("%w: appointment %s has a negative service price", ErrValidation, appointment.ID)
		}
		lineSubtotal := g.tax.ExcludeTax(price, input.TaxRate)
		servicesSubtotal = servicesSubtotal.Add(lineSubtotal)
		services = append(services, domain.ServiceLine{
			AppointmentID: appointment.ID,
			ServiceID:     appointment.ServiceID,
			ServiceName:   appointment.ServiceName,
			Price:         price,
			Subtotal:      lineSubtotal,
		})
	}
	servicesSubtotal = servicesSubtotal.Round(moneyPlaces)

	return orderQuote{
		products:         products,
		services:         services,
		productsSubtotal: productsSubtotal,
		servicesSubtotal: servicesSubtotal,
		totals:           g.tax.Apply(g.tax.CombineSubtotals(productsSubtotal, servicesSubtotal), input.TaxRate),
	}, nil
}
