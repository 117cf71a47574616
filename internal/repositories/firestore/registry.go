package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/medicore-clinic/billing/internal/platform/firestore"
	"github.com/medicore-clinic/billing/internal/repositories"
)

// Registry wires every Firestore repository over a shared provider.
type Registry struct {
	*UnitOfWork

	provider     *pfirestore.Provider
	patients     *PatientRepository
	appointments *AppointmentRepository
	products     *ProductRepository
	storages     *StorageRepository
	stock        *StockRepository
	orders       *OrderRepository
	payments     *PaymentRepository
	auditLogs    *AuditLogRepository
	counters     *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the Firestore repository registry. Transaction options apply to
// RunInTx only.
func NewRegistry(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}

	var err error
	if reg.UnitOfWork, err = NewUnitOfWork(provider, txOpts...); err != nil {
		return nil, err
	}
	if reg.patients, err = NewPatientRepository(provider); err != nil {
		return nil, err
	}
	if reg.appointments, err = NewAppointmentRepository(provider); err != nil {
		return nil, err
	}
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.storages, err = NewStorageRepository(provider); err != nil {
		return nil, err
	}
	if reg.stock, err = NewStockRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.payments, err = NewPaymentRepository(provider); err != nil {
		return nil, err
	}
	if reg.auditLogs, err = NewAuditLogRepository(provider); err != nil {
		return nil, err
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Patients() repositories.PatientRepository         { return r.patients }
func (r *Registry) Appointments() repositories.AppointmentRepository { return r.appointments }
func (r *Registry) Products() repositories.ProductRepository         { return r.products }
func (r *Registry) Storages() repositories.StorageRepository         { return r.storages }
func (r *Registry) Stock() repositories.StockRepository              { return r.stock }
func (r *Registry) Orders() repositories.OrderRepository             { return r.orders }
func (r *Registry) Payments() repositories.PaymentRepository         { return r.payments }
func (r *Registry) AuditLogs() repositories.AuditLogRepository       { return r.auditLogs }
func (r *Registry) Counters() repositories.CounterRepository         { return r.counters }

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	if err := r.provider.Close(ctx); err != nil {
		return fmt.Errorf("close firestore registry: %w", err)
	}
	return nil
}
