package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType discriminates the generation strategy and metadata shape of an order.
type OrderType string

const (
	// OrderTypeMedicalPrescription bills the products and services of a medical prescription.
	OrderTypeMedicalPrescription OrderType = "medical_prescription"
	// OrderTypeProductSale bills an over-the-counter product sale without appointments.
	OrderTypeProductSale OrderType = "product_sale"
)

// Valid reports whether the order type is one the platform knows about.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMedicalPrescription, OrderTypeProductSale:
		return true
	default:
		return false
	}
}

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	// OrderStatusDraft indicates the order has not been submitted for payment.
	OrderStatusDraft OrderStatus = "draft"
	// OrderStatusPending indicates the order awaits payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates the scheduled payment was settled.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusCancelled indicates the order was voided.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is the normalised financial record produced from a billable business event.
type Order struct {
	ID             string
	Code           string
	Type           OrderType
	Status         OrderStatus
	MovementTypeID string
	ReferenceID    string
	SourceID       string
	TargetID       string
	Currency       string
	Subtotal       decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
	Date           time.Time
	DueDate        *time.Time
	Notes          *string
	Metadata       OrderMetadata
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderMetadata is a tagged union keyed by Kind. Exactly one of the typed payloads is set.
// Extra carries caller supplied free-form values.
type OrderMetadata struct {
	Kind                OrderType
	MedicalPrescription *MedicalPrescriptionMetadata
	ProductSale         *ProductSaleMetadata
	Extra               map[string]any
}

// Pricing returns the pricing summary of whichever typed payload is present.
func (m OrderMetadata) Pricing() (PricingSummary, bool) {
	switch {
	case m.MedicalPrescription != nil:
		return m.MedicalPrescription.Pricing, true
	case m.ProductSale != nil:
		return m.ProductSale.Pricing, true
	default:
		return PricingSummary{}, false
	}
}

// MedicalPrescriptionMetadata describes a prescription billed against appointments and dispensed products.
type MedicalPrescriptionMetadata struct {
	Patient  PatientSnapshot
	Staff    *StaffReference
	Products []ProductLine
	Services []ServiceLine
	Pricing  PricingSummary
}

// ProductSaleMetadata describes a counter sale of products.
type ProductSaleMetadata struct {
	Patient  PatientSnapshot
	Products []ProductLine
	Pricing  PricingSummary
}

// PatientSnapshot freezes the patient details at billing time.
type PatientSnapshot struct {
	ID             string
	FullName       string
	DocumentNumber string
	Email          string
	Phone          string
}

// StaffReference points at the practitioner attributed to the order.
type StaffReference struct {
	StaffID       string
	AppointmentID string
}

// OrderDraft is an unsaved order together with the stock it needs reserved.
type OrderDraft struct {
	Order        Order
	Reservations []StockRequest
}

// Patient is the read model exposed by the patient registry.
type Patient struct {
	ID             string
	FirstName      string
	LastName       string
	DocumentNumber string
	Email          string
	Phone          string
	Active         bool
}

// FullName joins the patient's first and last name.
func (p Patient) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

// Snapshot converts the patient into the embedded order snapshot.
func (p Patient) Snapshot() PatientSnapshot {
	return PatientSnapshot{
		ID:             p.ID,
		FullName:       p.FullName(),
		DocumentNumber: p.DocumentNumber,
		Email:          p.Email,
		Phone:          p.Phone,
	}
}

// Appointment is the read model exposed by the scheduling service.
type Appointment struct {
	ID          string
	PatientID   string
	StaffID     string
	ServiceID   string
	ServiceName string
	Status      string
	ScheduledAt time.Time
}

// Product is the catalogue read model used when billing dispensed items.
type Product struct {
	ID     string
	Name   string
	SKU    string
	Active bool
}

// Storage identifies a warehouse or pharmacy shelf holding stock.
type Storage struct {
	ID   string
	Name string
}

// StockLevel is the on-hand quantity of a product in a storage.
type StockLevel struct {
	StorageID string
	ProductID string
	Quantity  int
	Version   int64
	UpdatedAt time.Time
}

// PaymentStatus enumerates payment lifecycle states.
type PaymentStatus string

const (
	// PaymentStatusPending indicates the payment has been scheduled but not collected.
	PaymentStatusPending PaymentStatus = "pending"
)

// Payment is the receivable scheduled for an order.
type Payment struct {
	ID        string
	OrderID   string
	Status    PaymentStatus
	Amount    decimal.Decimal
	Currency  string
	Method    string
	DueDate   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuditLogEntry represents entries in the audit log collection.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Metadata  map[string]any
	Diff      map[string]any
	IPHash    string
	UserAgent string
	Severity  string
	RequestID string
	CreatedAt time.Time
}

// OrderCreatedEvent is emitted once an order and its payment are committed.
type OrderCreatedEvent struct {
	EventID    string
	OrderID    string
	Code       string
	Type       OrderType
	PatientID  string
	StaffID    string
	Currency   string
	Total      decimal.Decimal
	PaymentID  string
	OccurredAt time.Time
}
