// Package memory provides an in-process repositories.Registry. Transactions are serialised and
// their writes are staged until fn returns, so a failed transaction leaves no trace.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
	"github.com/medicore-clinic/billing/internal/repositories"
)

// Error implements repositories.RepositoryError.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string       { return e.op + ": " + e.msg }
func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, kind, id string) error {
	return &Error{op: op, msg: fmt.Sprintf("%s %q not found", kind, id), notFound: true}
}

func conflict(op, kind, id string) error {
	return &Error{op: op, msg: fmt.Sprintf("%s %q already exists", kind, id), conflict: true}
}

type stockKey struct {
	storageID string
	productID string
}

// Store holds every collection in memory.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	now  func() time.Time

	patients      map[string]domain.Patient
	appointments  map[string]domain.Appointment
	servicePrices map[string]decimal.Decimal
	products      map[string]domain.Product
	productPrices map[string]decimal.Decimal
	storages      map[string]domain.Storage
	stock         map[stockKey]domain.StockLevel
	orders        map[string]domain.Order
	payments      map[string]domain.Payment
	auditLogs     []domain.AuditLogEntry
	counters      map[string]int64
}

// Option customises the store.
type Option func(*Store)

// WithClock overrides the clock used for stock timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:           time.Now,
		patients:      make(map[string]domain.Patient),
		appointments:  make(map[string]domain.Appointment),
		servicePrices: make(map[string]decimal.Decimal),
		products:      make(map[string]domain.Product),
		productPrices: make(map[string]decimal.Decimal),
		storages:      make(map[string]domain.Storage),
		stock:         make(map[stockKey]domain.StockLevel),
		orders:        make(map[string]domain.Order),
		payments:      make(map[string]domain.Payment),
		counters:      make(map[string]int64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

var _ repositories.Registry = (*Store)(nil)

func (s *Store) Patients() repositories.PatientRepository         { return patientRepo{s} }
func (s *Store) Appointments() repositories.AppointmentRepository { return appointmentRepo{s} }
func (s *Store) Products() repositories.ProductRepository         { return productRepo{s} }
func (s *Store) Storages() repositories.StorageRepository         { return storageRepo{s} }
func (s *Store) Stock() repositories.StockRepository              { return stockRepo{s} }
func (s *Store) Orders() repositories.OrderRepository             { return orderRepo{s} }
func (s *Store) Payments() repositories.PaymentRepository         { return paymentRepo{s} }
func (s *Store) AuditLogs() repositories.AuditLogRepository       { return auditLogRepo{s} }
func (s *Store) Counters() repositories.CounterRepository         { return counterRepo{s} }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

// PutPatient inserts or replaces a patient.
func (s *Store) PutPatient(p domain.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
}

// PutAppointment inserts or replaces an appointment together with its service price.
func (s *Store) PutAppointment(a domain.Appointment, servicePrice decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments[a.ID] = a
	s.servicePrices[a.ID] = servicePrice
}

// PutProduct inserts or replaces a product together with its unit price.
func (s *Store) PutProduct(p domain.Product, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	s.productPrices[p.ID] = price
}

// PutStorage inserts or replaces a storage.
func (s *Store) PutStorage(st domain.Storage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storages[st.ID] = st
}

// PutStock sets the on-hand quantity of a product in a storage.
func (s *Store) PutStock(level domain.StockLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[stockKey{level.StorageID, level.ProductID}] = level
}

// ListOrders returns committed orders sorted by creation time then id.
func (s *Store) ListOrders() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListPayments returns committed payments sorted by id.
func (s *Store) ListPayments() []domain.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Payment, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAuditLogs returns committed audit entries in append order.
func (s *Store) ListAuditLogs() []domain.AuditLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditLogEntry, len(s.auditLogs))
	copy(out, s.auditLogs)
	return out
}

type tx struct {
	store    *Store
	stock    map[stockKey]domain.StockLevel
	orders   map[string]domain.Order
	payments map[string]domain.Payment
	audit    []domain.AuditLogEntry
	counters map[string]int64
}

func (t *tx) Backend() any { return t }

// RunInTx runs fn with exclusive access to the store and applies its staged writes only when
// fn succeeds and ctx is still live.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	if fn == nil {
		return errors.New("memory store: fn is required")
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{
		store:    s,
		stock:    make(map[stockKey]domain.StockLevel),
		orders:   make(map[string]domain.Order),
		payments: make(map[string]domain.Payment),
		counters: make(map[string]int64),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range t.stock {
		s.stock[k] = v
	}
	for k, v := range t.orders {
		s.orders[k] = v
	}
	for k, v := range t.payments {
		s.payments[k] = v
	}
	for k, v := range t.counters {
		s.counters[k] = v
	}
	s.auditLogs = append(s.auditLogs, t.audit...)
	return nil
}

func (s *Store) txFrom(op string, handle repositories.Tx) (*tx, error) {
	if handle == nil {
		return nil, fmt.Errorf("%s: transaction is required", op)
	}
	t, ok := handle.Backend().(*tx)
	if !ok || t.store != s {
		return nil, fmt.Errorf("%s: transaction belongs to another store", op)
	}
	return t, nil
}

type patientRepo struct{ s *Store }

func (r patientRepo) FindByID(_ context.Context, id string) (domain.Patient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.patients[id]
	if !ok {
		return domain.Patient{}, notFound("patients.get", "patient", id)
	}
	return p, nil
}

type appointmentRepo struct{ s *Store }

func (r appointmentRepo) FindByID(_ context.Context, id string) (domain.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.appointments[id]
	if !ok {
		return domain.Appointment{}, notFound("appointments.get", "appointment", id)
	}
	return a, nil
}

func (r appointmentRepo) GetServicePrice(_ context.Context, id string) (decimal.Decimal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	price, ok := r.s.servicePrices[id]
	if !ok {
		return decimal.Zero, notFound("appointments.service_price", "appointment", id)
	}
	return price, nil
}

type productRepo struct{ s *Store }

func (r productRepo) FindByID(_ context.Context, id string) (domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.products[id]
	if !ok {
		return domain.Product{}, notFound("products.get", "product", id)
	}
	return p, nil
}

func (r productRepo) GetPriceByID(_ context.Context, id string) (decimal.Decimal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	price, ok := r.s.productPrices[id]
	if !ok {
		return decimal.Zero, notFound("products.price", "product", id)
	}
	return price, nil
}

type storageRepo struct{ s *Store }

func (r storageRepo) FindByID(_ context.Context, id string) (domain.Storage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.storages[id]
	if !ok {
		return domain.Storage{}, notFound("storages.get", "storage", id)
	}
	return st, nil
}

type stockRepo struct{ s *Store }

func (r stockRepo) GetByStorageAndProduct(_ context.Context, storageID, productID string) (domain.StockLevel, error) {
	if strings.TrimSpace(storageID) == "" || strings.TrimSpace(productID) == "" {
		return domain.StockLevel{}, repositories.NewStockError(repositories.StockErrorInvalidRequest, "storage id and product id are required", nil)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	level, ok := r.s.stock[stockKey{storageID, productID}]
	if !ok {
		return domain.StockLevel{StorageID: storageID, ProductID: productID}, nil
	}
	return level, nil
}

func (r stockRepo) Reserve(_ context.Context, handle repositories.Tx, requests []domain.StockRequest) error {
	t, err := r.s.txFrom("stock.reserve", handle)
	if err != nil {
		return err
	}
	merged, err := repositories.NormalizeStockRequests(requests)
	if err != nil {
		return err
	}

	current := func(key stockKey) (domain.StockLevel, bool) {
		if level, ok := t.stock[key]; ok {
			return level, true
		}
		r.s.mu.RLock()
		defer r.s.mu.RUnlock()
		level, ok := r.s.stock[key]
		return level, ok
	}

	var shortages []domain.StockShortage
	levels := make([]domain.StockLevel, len(merged))
	for i, req := range merged {
		key := stockKey{req.StorageID, req.ProductID}
		level, ok := current(key)
		if !ok {
			level = domain.StockLevel{StorageID: req.StorageID, ProductID: req.ProductID}
		}
		if req.Quantity > level.Quantity {
			shortages = append(shortages, domain.StockShortage{
				ProductID: req.ProductID,
				StorageID: req.StorageID,
				Requested: req.Quantity,
				Available: level.Quantity,
			})
		}
		levels[i] = level
	}
	if len(shortages) > 0 {
		return repositories.NewInsufficientStockError("stock.reserve", shortages)
	}

	now := r.s.now().UTC()
	for i, req := range merged {
		level := levels[i]
		level.Quantity -= req.Quantity
		level.Version++
		level.UpdatedAt = now
		t.stock[stockKey{req.StorageID, req.ProductID}] = level
	}
	return nil
}

type orderRepo struct{ s *Store }

func (r orderRepo) Create(_ context.Context, handle repositories.Tx, order domain.Order) error {
	t, err := r.s.txFrom("orders.create", handle)
	if err != nil {
		return err
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: id is required")
	}
	if _, staged := t.orders[order.ID]; staged {
		return conflict("orders.create", "order", order.ID)
	}
	r.s.mu.RLock()
	_, exists := r.s.orders[order.ID]
	r.s.mu.RUnlock()
	if exists {
		return conflict("orders.create", "order", order.ID)
	}
	t.orders[order.ID] = order
	return nil
}

func (r orderRepo) Update(_ context.Context, handle repositories.Tx, order domain.Order) error {
	t, err := r.s.txFrom("orders.update", handle)
	if err != nil {
		return err
	}
	existing, staged := t.orders[order.ID]
	if !staged {
		r.s.mu.RLock()
		var ok bool
		existing, ok = r.s.orders[order.ID]
		r.s.mu.RUnlock()
		if !ok {
			return notFound("orders.update", "order", order.ID)
		}
	}
	existing.Status = order.Status
	existing.Subtotal = order.Subtotal
	existing.Tax = order.Tax
	existing.Total = order.Total
	existing.Metadata = order.Metadata
	existing.UpdatedAt = order.UpdatedAt
	t.orders[order.ID] = existing
	return nil
}

func (r orderRepo) FindByID(_ context.Context, id string) (domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	order, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, notFound("orders.get", "order", id)
	}
	return order, nil
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) Create(_ context.Context, handle repositories.Tx, payment domain.Payment) error {
	t, err := r.s.txFrom("payments.create", handle)
	if err != nil {
		return err
	}
	if strings.TrimSpace(payment.ID) == "" {
		return errors.New("payment repository: id is required")
	}
	r.s.mu.RLock()
	_, exists := r.s.payments[payment.ID]
	r.s.mu.RUnlock()
	if _, staged := t.payments[payment.ID]; staged || exists {
		return conflict("payments.create", "payment", payment.ID)
	}
	t.payments[payment.ID] = payment
	return nil
}

type auditLogRepo struct{ s *Store }

func (r auditLogRepo) Append(_ context.Context, handle repositories.Tx, entry domain.AuditLogEntry) error {
	t, err := r.s.txFrom("audit_logs.append", handle)
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	t.audit = append(t.audit, entry)
	return nil
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(_ context.Context, handle repositories.Tx, counterID string, step int64) (int64, error) {
	t, err := r.s.txFrom("counters.next", handle)
	if err != nil {
		return 0, err
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}
	if step == 0 {
		step = 1
	}
	current, staged := t.counters[id]
	if !staged {
		r.s.mu.RLock()
		current = r.s.counters[id]
		r.s.mu.RUnlock()
	}
	t.counters[id] = current + step
	return t.counters[id], nil
}
