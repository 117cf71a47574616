package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/medicore-clinic/billing/internal/domain"
	pfirestore "github.com/medicore-clinic/billing/internal/platform/firestore"
	"github.com/medicore-clinic/billing/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	Code           string                `firestore:"code"`
	Type           string                `firestore:"type"`
	Status         string                `firestore:"status"`
	MovementTypeID string                `firestore:"movementTypeId"`
	ReferenceID    string                `firestore:"referenceId"`
	SourceID       string                `firestore:"sourceId"`
	TargetID       string                `firestore:"targetId,omitempty"`
	Currency       string                `firestore:"currency"`
	Subtotal       string                `firestore:"subtotal"`
	Tax            string                `firestore:"tax"`
	Total          string                `firestore:"total"`
	Date           time.Time             `firestore:"date"`
	DueDate        *time.Time            `firestore:"dueDate,omitempty"`
	Notes          *string               `firestore:"notes,omitempty"`
	Metadata       orderMetadataDocument `firestore:"metadata"`
	CreatedBy      string                `firestore:"createdBy"`
	CreatedAt      time.Time             `firestore:"createdAt"`
	UpdatedAt      time.Time             `firestore:"updatedAt"`
}

// orderMetadataDocument flattens the metadata union; kind selects the payload on decode.
type orderMetadataDocument struct {
	Kind     string                   `firestore:"kind"`
	Patient  *patientSnapshotDocument `firestore:"patient,omitempty"`
	Staff    *staffReferenceDocument  `firestore:"staff,omitempty"`
	Products []productLineDocument    `firestore:"products,omitempty"`
	Services []serviceLineDocument    `firestore:"services,omitempty"`
	Pricing  *pricingDocument         `firestore:"pricing,omitempty"`
	Extra    map[string]any           `firestore:"extra,omitempty"`
}

type patientSnapshotDocument struct {
	ID             string `firestore:"id"`
	FullName       string `firestore:"fullName"`
	DocumentNumber string `firestore:"documentNumber,omitempty"`
	Email          string `firestore:"email,omitempty"`
	Phone          string `firestore:"phone,omitempty"`
}

type staffReferenceDocument struct {
	StaffID       string `firestore:"staffId"`
	AppointmentID string `firestore:"appointmentId"`
}

type productLineDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	StorageID   string `firestore:"storageId"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   string `firestore:"unitPrice"`
	Subtotal    string `firestore:"subtotal"`
}

type serviceLineDocument struct {
	AppointmentID string `firestore:"appointmentId"`
	ServiceID     string `firestore:"serviceId"`
	ServiceName   string `firestore:"serviceName"`
	Price         string `firestore:"price"`
	Subtotal      string `firestore:"subtotal"`
}

type pricingDocument struct {
	TaxRate          string `firestore:"taxRate"`
	ProductsSubtotal string `firestore:"productsSubtotal"`
	ServicesSubtotal string `firestore:"servicesSubtotal"`
	TotalSource      string `firestore:"totalSource"`
	OverriddenBy     string `firestore:"overriddenBy,omitempty"`
}

// OrderRepository persists billing orders.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)}, nil
}

// Create stages the order document inside tx. The commit fails if the id is already taken.
func (r *OrderRepository) Create(ctx context.Context, tx repositories.Tx, order domain.Order) error {
	ftx, err := firestoreTx("orders.create", tx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: id is required")
	}
	return r.base.TxCreate(ctx, ftx, order.ID, encodeOrder(order))
}

// Update patches the totals, metadata and status of an order created earlier in tx.
func (r *OrderRepository) Update(ctx context.Context, tx repositories.Tx, order domain.Order) error {
	ftx, err := firestoreTx("orders.update", tx)
	if err != nil {
		return err
	}
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := encodeOrder(order)
	updates := []firestore.Update{
		{Path: "status", Value: doc.Status},
		{Path: "subtotal", Value: doc.Subtotal},
		{Path: "tax", Value: doc.Tax},
		{Path: "total", Value: doc.Total},
		{Path: "metadata", Value: doc.Metadata},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
	return pfirestore.WrapError("orders.update", ftx.Update(ref, updates))
}

// FindByID loads an order by id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data)
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		Code:           order.Code,
		Type:           string(order.Type),
		Status:         string(order.Status),
		MovementTypeID: order.MovementTypeID,
		ReferenceID:    order.ReferenceID,
		SourceID:       order.SourceID,
		TargetID:       order.TargetID,
		Currency:       order.Currency,
		Subtotal:       order.Subtotal.StringFixed(2),
		Tax:            order.Tax.StringFixed(2),
		Total:          order.Total.StringFixed(2),
		Date:           order.Date.UTC(),
		Notes:          order.Notes,
		Metadata:       encodeOrderMetadata(order.Metadata),
		CreatedBy:      order.CreatedBy,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
	}
	if order.DueDate != nil {
		due := order.DueDate.UTC()
		doc.DueDate = &due
	}
	return doc
}

func encodeOrderMetadata(meta domain.OrderMetadata) orderMetadataDocument {
	doc := orderMetadataDocument{Kind: string(meta.Kind), Extra: meta.Extra}
	switch {
	case meta.MedicalPrescription != nil:
		mp := meta.MedicalPrescription
		doc.Patient = encodePatientSnapshot(mp.Patient)
		if mp.Staff != nil {
			doc.Staff = &staffReferenceDocument{StaffID: mp.Staff.StaffID, AppointmentID: mp.Staff.AppointmentID}
		}
		doc.Products = encodeProductLines(mp.Products)
		for _, line := range mp.Services {
			doc.Services = append(doc.Services, serviceLineDocument{
				AppointmentID: line.AppointmentID,
				ServiceID:     line.ServiceID,
				ServiceName:   line.ServiceName,
				Price:         line.Price.String(),
				Subtotal:      line.Subtotal.String(),
			})
		}
		doc.Pricing = encodePricing(mp.Pricing)
	case meta.ProductSale != nil:
		ps := meta.ProductSale
		doc.Patient = encodePatientSnapshot(ps.Patient)
		doc.Products = encodeProductLines(ps.Products)
		doc.Pricing = encodePricing(ps.Pricing)
	}
	return doc
}

func encodePatientSnapshot(p domain.PatientSnapshot) *patientSnapshotDocument {
	return &patientSnapshotDocument{
		ID:             p.ID,
		FullName:       p.FullName,
		DocumentNumber: p.DocumentNumber,
		Email:          p.Email,
		Phone:          p.Phone,
	}
}

func encodeProductLines(lines []domain.ProductLine) []productLineDocument {
	out := make([]productLineDocument, 0, len(lines))
	for _, line := range lines {
		out = append(out, productLineDocument{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			StorageID:   line.StorageID,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice.String(),
			Subtotal:    line.Subtotal.String(),
		})
	}
	return out
}

func encodePricing(p domain.PricingSummary) *pricingDocument {
	return &pricingDocument{
		TaxRate:          p.TaxRate.String(),
		ProductsSubtotal: p.ProductsSubtotal.String(),
		ServicesSubtotal: p.ServicesSubtotal.String(),
		TotalSource:      string(p.TotalSource),
		OverriddenBy:     p.OverriddenBy,
	}
}

func decodeOrder(id string, doc orderDocument) (domain.Order, error) {
	order := domain.Order{
		ID:             id,
		Code:           doc.Code,
		Type:           domain.OrderType(doc.Type),
		Status:         domain.OrderStatus(doc.Status),
		MovementTypeID: doc.MovementTypeID,
		ReferenceID:    doc.ReferenceID,
		SourceID:       doc.SourceID,
		TargetID:       doc.TargetID,
		Currency:       doc.Currency,
		Date:           doc.Date.UTC(),
		Notes:          doc.Notes,
		CreatedBy:      doc.CreatedBy,
		CreatedAt:      doc.CreatedAt.UTC(),
		UpdatedAt:      doc.UpdatedAt.UTC(),
	}
	if doc.DueDate != nil {
		due := doc.DueDate.UTC()
		order.DueDate = &due
	}

	var err error
	if order.Subtotal, err = parseMoney("orders.subtotal", doc.Subtotal); err != nil {
		return domain.Order{}, err
	}
	if order.Tax, err = parseMoney("orders.tax", doc.Tax); err != nil {
		return domain.Order{}, err
	}
	if order.Total, err = parseMoney("orders.total", doc.Total); err != nil {
		return domain.Order{}, err
	}
	if order.Metadata, err = decodeOrderMetadata(doc.Metadata); err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, err)
	}
	return order, nil
}

func decodeOrderMetadata(doc orderMetadataDocument) (domain.OrderMetadata, error) {
	meta := domain.OrderMetadata{Kind: domain.OrderType(doc.Kind), Extra: doc.Extra}
	var patient domain.PatientSnapshot
	if doc.Patient != nil {
		patient = domain.PatientSnapshot{
			ID:             doc.Patient.ID,
			FullName:       doc.Patient.FullName,
			DocumentNumber: doc.Patient.DocumentNumber,
			Email:          doc.Patient.Email,
			Phone:          doc.Patient.Phone,
		}
	}
	products, err := decodeProductLines(doc.Products)
	if err != nil {
		return domain.OrderMetadata{}, err
	}
	pricing, err := decodePricing(doc.Pricing)
	if err != nil {
		return domain.OrderMetadata{}, err
	}

	switch meta.Kind {
	case domain.OrderTypeMedicalPrescription:
		mp := &domain.MedicalPrescriptionMetadata{Patient: patient, Products: products, Pricing: pricing}
		if doc.Staff != nil {
			mp.Staff = &domain.StaffReference{StaffID: doc.Staff.StaffID, AppointmentID: doc.Staff.AppointmentID}
		}
		for _, line := range doc.Services {
			price, err := parseMoney("metadata.services.price", line.Price)
			if err != nil {
				return domain.OrderMetadata{}, err
			}
			subtotal, err := parseMoney("metadata.services.subtotal", line.Subtotal)
			if err != nil {
				return domain.OrderMetadata{}, err
			}
			mp.Services = append(mp.Services, domain.ServiceLine{
				AppointmentID: line.AppointmentID,
				ServiceID:     line.ServiceID,
				ServiceName:   line.ServiceName,
				Price:         price,
				Subtotal:      subtotal,
			})
		}
		meta.MedicalPrescription = mp
	case domain.OrderTypeProductSale:
		meta.ProductSale = &domain.ProductSaleMetadata{Patient: patient, Products: products, Pricing: pricing}
	default:
		return domain.OrderMetadata{}, fmt.Errorf("unsupported metadata kind %q", doc.Kind)
	}
	return meta, nil
}

func decodeProductLines(docs []productLineDocument) ([]domain.ProductLine, error) {
	lines := make([]domain.ProductLine, 0, len(docs))
	for _, doc := range docs {
		unit, err := parseMoney("metadata.products.unitPrice", doc.UnitPrice)
		if err != nil {
			return nil, err
		}
		subtotal, err := parseMoney("metadata.products.subtotal", doc.Subtotal)
		if err != nil {
			return nil, err
		}
		lines = append(lines, domain.ProductLine{
			ProductID:   doc.ProductID,
			ProductName: doc.ProductName,
			StorageID:   doc.StorageID,
			Quantity:    doc.Quantity,
			UnitPrice:   unit,
			Subtotal:    subtotal,
		})
	}
	return lines, nil
}

func decodePricing(doc *pricingDocument) (domain.PricingSummary, error) {
	if doc == nil {
		return domain.PricingSummary{}, nil
	}
	rate, err := parseMoney("metadata.pricing.taxRate", doc.TaxRate)
	if err != nil {
		return domain.PricingSummary{}, err
	}
	products, err := parseMoney("metadata.pricing.productsSubtotal", doc.ProductsSubtotal)
	if err != nil {
		return domain.PricingSummary{}, err
	}
	services, err := parseMoney("metadata.pricing.servicesSubtotal", doc.ServicesSubtotal)
	if err != nil {
		return domain.PricingSummary{}, err
	}
	return domain.PricingSummary{
		TaxRate:          rate,
		ProductsSubtotal: products,
		ServicesSubtotal: services,
		TotalSource:      domain.TotalSource(doc.TotalSource),
		OverriddenBy:     doc.OverriddenBy,
	}, nil
}
