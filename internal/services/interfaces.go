package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
	"github.com/medicore-clinic/billing/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderType          = domain.OrderType
	OrderDraft         = domain.OrderDraft
	Payment            = domain.Payment
	TaxBreakdown       = domain.TaxBreakdown
	StockRequest       = domain.StockRequest
	StockShortage      = domain.StockShortage
	UnavailableProduct = domain.UnavailableProduct
	SystemHealthReport = domain.SystemHealthReport
)

// OrderGenerator turns a validated billing request into an order draft for one order type.
// Implementations only perform read-only lookups; persistence belongs to the orchestrator.
type OrderGenerator interface {
	Type() domain.OrderType
	CanHandle(orderType domain.OrderType) bool
	// CalculateTotal returns the pre-tax subtotal of the input's billable lines.
	CalculateTotal(ctx context.Context, input GenerateOrderInput) (decimal.Decimal, error)
	Generate(ctx context.Context, input GenerateOrderInput) (domain.OrderDraft, error)
}

// GenerateOrderInput is the validated request handed to an OrderGenerator.
type GenerateOrderInput struct {
	Patient        domain.Patient
	Appointments   []domain.Appointment
	Products       []domain.StockRequest
	MovementTypeID string
	ReferenceID    string
	Currency       string
	Notes          *string
	Extra          map[string]any
	TaxRate        decimal.Decimal
	TotalOverride  *decimal.Decimal
	OverriddenBy   string
	CreatedBy      string
	DueDate        *time.Time
	Now            time.Time
}

// Actor identifies who triggered a billing operation.
type Actor struct {
	ID      string
	Type    string
	IsAdmin bool
}

// CreateBillingOrderCommand is the transport independent request to bill an event.
type CreateBillingOrderCommand struct {
	Type           domain.OrderType
	PatientID      string
	MovementTypeID string
	ReferenceID    string
	AppointmentIDs []string
	Products       []domain.StockRequest
	Currency       string
	Notes          *string
	PaymentMethod  string
	Metadata       map[string]any
	TotalOverride  *decimal.Decimal
	Actor          Actor
	RequestID      string
	IPAddress      string
	UserAgent      string
}

// BillingResult reports the outcome of a billing request. Stock shortage is reported here with
// Success false rather than as an error.
type BillingResult struct {
	Success             bool
	Message             string
	Order               *domain.Order
	Payment             *domain.Payment
	UnavailableProducts []domain.UnavailableProduct
}

// BillingService creates billed orders and reads them back.
type BillingService interface {
	CreateOrder(ctx context.Context, cmd CreateBillingOrderCommand) (BillingResult, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// AuditLogRecord captures the fields of an audit entry before sanitising.
type AuditLogRecord struct {
	Actor                 string
	ActorType             string
	Action                string
	TargetRef             string
	Severity              string
	RequestID             string
	IPAddress             string
	UserAgent             string
	OccurredAt            time.Time
	Metadata              map[string]any
	SensitiveMetadataKeys []string
}

// AuditLogService writes audit entries inside the caller's transaction.
type AuditLogService interface {
	Record(ctx context.Context, tx repositories.Tx, record AuditLogRecord) error
}

// OrderCodeService issues human readable order codes.
type OrderCodeService interface {
	Next(ctx context.Context, tx repositories.Tx, orderType domain.OrderType) (string, error)
}

// OrderEventPublisher announces committed orders to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderCreated(ctx context.Context, event domain.OrderCreatedEvent) error
}

// BillingMetrics receives orchestrator outcomes and stage latencies.
type BillingMetrics interface {
	RecordOutcome(orderType, outcome string)
	ObserveStage(stage string, d time.Duration)
}

// OrderTypeLister reports which order types can be billed.
type OrderTypeLister interface {
	Types() []domain.OrderType
}

// SystemService aggregates utility endpoints (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}
