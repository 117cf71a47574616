package repositories

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Patients() PatientRepository
	Appointments() AppointmentRepository
	Products() ProductRepository
	Storages() StorageRepository
	Stock() StockRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	AuditLogs() AuditLogRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// Tx is the handle of an open transaction. Every write performed inside RunInTx receives it
// explicitly; stores never look for a transaction in the context.
type Tx interface {
	// Backend exposes the storage specific transaction (e.g. *firestore.Transaction).
	Backend() any
}

// UnitOfWork groups repository writes into one all-or-nothing transaction. Returning an error
// from fn aborts the transaction and nothing written through tx is persisted.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// PatientRepository reads patients owned by the patient registry.
type PatientRepository interface {
	FindByID(ctx context.Context, patientID string) (domain.Patient, error)
}

// AppointmentRepository reads appointments owned by the scheduling service.
type AppointmentRepository interface {
	FindByID(ctx context.Context, appointmentID string) (domain.Appointment, error)
	// GetServicePrice returns the tax-inclusive price of the service attended in the appointment.
	GetServicePrice(ctx context.Context, appointmentID string) (decimal.Decimal, error)
}

// ProductRepository reads catalogue products.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// GetPriceByID returns the tax-inclusive unit price of the product.
	GetPriceByID(ctx context.Context, productID string) (decimal.Decimal, error)
}

// StorageRepository reads storages (warehouses, pharmacy shelves).
type StorageRepository interface {
	FindByID(ctx context.Context, storageID string) (domain.Storage, error)
}

// StockRepository reads stock levels and decrements them transactionally.
type StockRepository interface {
	GetByStorageAndProduct(ctx context.Context, storageID, productID string) (domain.StockLevel, error)
	// Reserve re-reads every requested stock level inside tx and decrements it. When any
	// request exceeds the on-hand quantity nothing is written and a *StockError with code
	// StockErrorInsufficient listing the shortages is returned.
	Reserve(ctx context.Context, tx Tx, requests []domain.StockRequest) error
}

// OrderRepository persists orders. Writes must happen inside a transaction.
type OrderRepository interface {
	Create(ctx context.Context, tx Tx, order domain.Order) error
	Update(ctx context.Context, tx Tx, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// PaymentRepository persists scheduled payments.
type PaymentRepository interface {
	Create(ctx context.Context, tx Tx, payment domain.Payment) error
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, tx Tx, entry domain.AuditLogEntry) error
}

// CounterRepository provides transaction-safe sequence numbers. The increment is written
// through tx, so a rolled back transaction does not consume a number.
type CounterRepository interface {
	Next(ctx context.Context, tx Tx, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
