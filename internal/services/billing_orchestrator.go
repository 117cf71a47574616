package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/currency"

	domain "github.com/medicore-clinic/billing/internal/domain"
	"github.com/medicore-clinic/billing/internal/repositories"
)

const (
	billingAuditAction        = "billing.order.create"
	defaultBillingCurrency    = "PEN"
	defaultBillingPayMethod   = "cash"
	maxNotesLength            = 1000
	maxPaymentMethodLength    = 40
	billingMessageCreated     = "Order created successfully"
	billingMessageUnavailable = "Some products are not available in the requested quantity"
)

// Outcomes reported to BillingMetrics.
const (
	BillingOutcomeCreated  = "created"
	BillingOutcomeShortage = "shortage"
	BillingOutcomeFailed   = "failed"
)

type billingStage string

const (
	stageValidating        billingStage = "validating"
	stageCheckingStock     billingStage = "checking_stock"
	stageBuilding          billingStage = "building"
	stagePersisting        billingStage = "persisting"
	stageSchedulingPayment billingStage = "scheduling_payment"
	stageAuditing          billingStage = "auditing"
	stageDone              billingStage = "done"
	stageSoftFail          billingStage = "soft_fail"
	stageHardFail          billingStage = "hard_fail"
)

var billingTracer = otel.Tracer("github.com/medicore-clinic/billing/internal/services")

// GeneratorResolver finds the generator of an order type.
type GeneratorResolver interface {
	Resolve(orderType domain.OrderType) (OrderGenerator, error)
}

// BillingValidator loads and cross-checks the patient and appointments of a request.
type BillingValidator interface {
	Validate(ctx context.Context, patientID string, appointmentIDs []string) (domain.Patient, []domain.Appointment, error)
}

// AvailabilityChecker reports stock shortages without writing.
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, items []domain.StockRequest) ([]domain.StockShortage, error)
}

// ProductNameLookup resolves product display names.
type ProductNameLookup interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// StorageLookup resolves storage display names.
type StorageLookup interface {
	FindByID(ctx context.Context, storageID string) (domain.Storage, error)
}

// StockReserver decrements stock inside a transaction.
type StockReserver interface {
	Reserve(ctx context.Context, tx repositories.Tx, requests []domain.StockRequest) error
}

// BillingOrchestratorDeps bundles collaborators required to construct the orchestrator.
type BillingOrchestratorDeps struct {
	Generators   GeneratorResolver
	Validator    BillingValidator
	StockChecker AvailabilityChecker
	Products     ProductNameLookup
	Storages     StorageLookup
	Stock        StockReserver
	Orders       repositories.OrderRepository
	Payments     repositories.PaymentRepository
	UnitOfWork   repositories.UnitOfWork
	Audit        AuditLogService
	Codes        OrderCodeService
	Events       OrderEventPublisher
	Metrics      BillingMetrics
	Logger       func(ctx context.Context, event string, fields map[string]any)
	Clock        func() time.Time
	IDGenerator  func() string

	TaxRate              decimal.Decimal
	DefaultCurrency      string
	DefaultPaymentMethod string
	PaymentDue           time.Duration
	TxTimeout            time.Duration
}

type billingOrchestrator struct {
	generators   GeneratorResolver
	validator    BillingValidator
	stockChecker AvailabilityChecker
	products     ProductNameLookup
	storages     StorageLookup
	stock        StockReserver
	orders       repositories.OrderRepository
	payments     repositories.PaymentRepository
	uow          repositories.UnitOfWork
	audit        AuditLogService
	codes        OrderCodeService
	events       OrderEventPublisher
	metrics      BillingMetrics
	logger       func(context.Context, string, map[string]any)
	clock        func() time.Time
	newID        func() string
	notes        *bluemonday.Policy

	taxRate          decimal.Decimal
	defaultCurrency  string
	defaultPayMethod string
	paymentDue       time.Duration
	txTimeout        time.Duration
}

var _ BillingService = (*billingOrchestrator)(nil)

// NewBillingOrchestrator wires the billing use case. It is the only component that writes.
func NewBillingOrchestrator(deps BillingOrchestratorDeps) (BillingService, error) {
	switch {
	case deps.Generators == nil:
		return nil, errors.New("billing orchestrator: generator registry is required")
	case deps.Validator == nil:
		return nil, errors.New("billing orchestrator: validator is required")
	case deps.StockChecker == nil:
		return nil, errors.New("billing orchestrator: stock checker is required")
	case deps.Products == nil || deps.Storages == nil:
		return nil, errors.New("billing orchestrator: product and storage lookups are required")
	case deps.Stock == nil:
		return nil, errors.New("billing orchestrator: stock reserver is required")
	case deps.Orders == nil || deps.Payments == nil:
		return nil, errors.New("billing orchestrator: order and payment repositories are required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("billing orchestrator: unit of work is required")
	case deps.Audit == nil:
		return nil, errors.New("billing orchestrator: audit service is required")
	case deps.Codes == nil:
		return nil, errors.New("billing orchestrator: order code service is required")
	}
	if deps.TaxRate.IsNegative() {
		return nil, errors.New("billing orchestrator: tax rate must not be negative")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopBillingMetrics{}
	}
	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = defaultBillingCurrency
	}
	payMethod := strings.ToLower(strings.TrimSpace(deps.DefaultPaymentMethod))
	if payMethod == "" {
		payMethod = defaultBillingPayMethod
	}

	return &billingOrchestrator{
		generators:       deps.Generators,
		validator:        deps.Validator,
		stockChecker:     deps.StockChecker,
		products:         deps.Products,
		storages:         deps.Storages,
		stock:            deps.Stock,
		orders:           deps.Orders,
		payments:         deps.Payments,
		uow:              deps.UnitOfWork,
		audit:            deps.Audit,
		codes:            deps.Codes,
		events:           deps.Events,
		metrics:          metrics,
		logger:           logger,
		clock:            func() time.Time { return clock().UTC() },
		newID:            idGen,
		notes:            bluemonday.StrictPolicy(),
		taxRate:          deps.TaxRate,
		defaultCurrency:  defaultCurrency,
		defaultPayMethod: payMethod,
		paymentDue:       deps.PaymentDue,
		txTimeout:        deps.TxTimeout,
	}, nil
}

// CreateOrder bills one business event. Stock shortage is returned as a result with Success
// false and nothing written; any other failure rolls the transaction back and returns an error.
func (s *billingOrchestrator) CreateOrder(ctx context.Context, cmd CreateBillingOrderCommand) (BillingResult, error) {
	ctx, span := billingTracer.Start(ctx, "billing.CreateOrder")
	defer span.End()

	run := &billingRun{s: s, span: span, orderType: cmd.Type}
	run.enter(ctx, stageValidating)

	cmd, err := s.normalizeCommand(cmd)
	if err != nil {
		return BillingResult{}, run.fail(ctx, err)
	}
	run.orderType = cmd.Type
	span.SetAttributes(attribute.String("billing.order_type", string(cmd.Type)))

	patient, appointments, err := s.validator.Validate(ctx, cmd.PatientID, cmd.AppointmentIDs)
	if err != nil {
		return BillingResult{}, run.fail(ctx, err)
	}

	run.enter(ctx, stageCheckingStock)
	shortages, err := s.stockChecker.CheckAvailability(ctx, cmd.Products)
	if err != nil {
		return BillingResult{}, run.fail(ctx, err)
	}
	if len(shortages) > 0 {
		return run.shortage(ctx, shortages), nil
	}

	run.enter(ctx, stageBuilding)
	generator, err := s.generators.Resolve(cmd.Type)
	if err != nil {
		return BillingResult{}, run.fail(ctx, err)
	}
	now := s.clock()
	var dueDate *time.Time
	if s.paymentDue > 0 {
		due := now.Add(s.paymentDue)
		dueDate = &due
	}
	input := GenerateOrderInput{
		Patient:        patient,
		Appointments:   appointments,
		Products:       cmd.Products,
		MovementTypeID: cmd.MovementTypeID,
		ReferenceID:    cmd.ReferenceID,
		Currency:       cmd.Currency,
		Notes:          cmd.Notes,
		Extra:          cmd.Metadata,
		TaxRate:        s.taxRate,
		TotalOverride:  cmd.TotalOverride,
		CreatedBy:      cmd.Actor.ID,
		DueDate:        dueDate,
		Now:            now,
	}
	if cmd.TotalOverride != nil {
		input.OverriddenBy = cmd.Actor.ID
	}
	draft, err := generator.Generate(ctx, input)
	if err != nil {
		return BillingResult{}, run.fail(ctx, err)
	}
	order := draft.Order
	order.ID = s.newID()
	payment := domain.Payment{
		ID:        s.newID(),
		OrderID:   order.ID,
		Status:    domain.PaymentStatusPending,
		Amount:    order.Total,
		Currency:  order.Currency,
		Method:    cmd.PaymentMethod,
		DueDate:   dueDate,
		CreatedAt: now,
		UpdatedAt: now,
	}

	txCtx := ctx
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}
	err = s.uow.RunInTx(txCtx, func(ctx context.Context, tx repositories.Tx) error {
		run.enter(ctx, stagePersisting)
		// The code is drawn through tx so a rollback gives the number back.
		code, err := s.codes.Next(ctx, tx, cmd.Type)
		if err != nil {
			return err
		}
		order.Code = code
		if err := s.stock.Reserve(ctx, tx, draft.Reservations); err != nil {
			return classifyReserveError(err)
		}
		header := order
		header.Status = domain.OrderStatusDraft
		header.Subtotal, header.Tax, header.Total = decimal.Zero, decimal.Zero, decimal.Zero
		header.Metadata = domain.OrderMetadata{Kind: order.Type}
		if err := s.orders.Create(ctx, tx, header); err != nil {
			return mapWriteError(err, "order "+order.ID)
		}
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return mapWriteError(err, "order "+order.ID)
		}

		run.enter(ctx, stageSchedulingPayment)
		if err := s.payments.Create(ctx, tx, payment); err != nil {
			return mapWriteError(err, "payment "+payment.ID)
		}

		run.enter(ctx, stageAuditing)
		if err := s.audit.Record(ctx, tx, s.auditRecord(cmd, order, payment)); err != nil {
			return mapWriteError(err, "audit log")
		}
		return nil
	})
	if err != nil {
		var stockErr *repositories.StockError
		if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorInsufficient {
			return run.shortage(ctx, stockErr.Shortages), nil
		}
		return BillingResult{}, run.fail(ctx, classifyTxError(err))
	}

	run.done(ctx, order, payment)
	s.publishCreated(ctx, order, payment)

	return BillingResult{
		Success: true,
		Message: billingMessageCreated,
		Order:   &order,
		Payment: &payment,
	}, nil
}

func (s *billingOrchestrator) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrValidation)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, "order "+orderID)
	}
	return order, nil
}

func (s *billingOrchestrator) normalizeCommand(cmd CreateBillingOrderCommand) (CreateBillingOrderCommand, error) {
	cmd.Type = domain.OrderType(strings.ToLower(strings.TrimSpace(string(cmd.Type))))
	if cmd.Type == "" {
		cmd.Type = domain.OrderTypeMedicalPrescription
	}
	cmd.PatientID = strings.TrimSpace(cmd.PatientID)
	if cmd.PatientID == "" {
		return cmd, fmt.Errorf("%w: patientId is required", ErrValidation)
	}

	code := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if code == "" {
		code = s.defaultCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return cmd, fmt.Errorf("%w: currency %q is not an ISO 4217 code", ErrValidation, cmd.Currency)
	}
	cmd.Currency = unit.String()

	products, err := repositories.NormalizeStockRequests(cmd.Products)
	if err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	cmd.Products = products

	if cmd.Notes != nil {
		// Markup is stripped and entities decoded back so notes stay plain text.
		cleaned := strings.TrimSpace(html.UnescapeString(s.notes.Sanitize(*cmd.Notes)))
		if len(cleaned) > maxNotesLength {
			return cmd, fmt.Errorf("%w: notes exceed %d characters", ErrValidation, maxNotesLength)
		}
		if cleaned == "" {
			cmd.Notes = nil
		} else {
			cmd.Notes = &cleaned
		}
	}

	cmd.PaymentMethod = strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	if cmd.PaymentMethod == "" {
		cmd.PaymentMethod = s.defaultPayMethod
	}
	if len(cmd.PaymentMethod) > maxPaymentMethodLength {
		return cmd, fmt.Errorf("%w: paymentMethod is too long", ErrValidation)
	}

	if cmd.TotalOverride != nil {
		if !cmd.Actor.IsAdmin {
			return cmd, fmt.Errorf("%w: total override requires an admin", ErrForbidden)
		}
		if cmd.TotalOverride.IsNegative() {
			return cmd, fmt.Errorf("%w: totalOverride must not be negative", ErrValidation)
		}
		if !cmd.TotalOverride.Equal(cmd.TotalOverride.Truncate(moneyPlaces)) {
			return cmd, fmt.Errorf("%w: totalOverride must not have more than %d decimals", ErrValidation, moneyPlaces)
		}
	}

	if len(cmd.Metadata) > 0 {
		extra := make(map[string]any, len(cmd.Metadata))
		for key, value := range cmd.Metadata {
			if key = strings.TrimSpace(key); key != "" {
				extra[key] = value
			}
		}
		cmd.Metadata = extra
	}
	return cmd, nil
}

func (s *billingOrchestrator) auditRecord(cmd CreateBillingOrderCommand, order domain.Order, payment domain.Payment) AuditLogRecord {
	totalSource := domain.TotalSourceDerived
	if pricing, ok := order.Metadata.Pricing(); ok {
		totalSource = pricing.TotalSource
	}
	actor := cmd.Actor.ID
	if actor == "" {
		actor = "system"
	}
	return AuditLogRecord{
		Actor:     actor,
		ActorType: cmd.Actor.Type,
		Action:    billingAuditAction,
		TargetRef: "/orders/" + order.ID,
		RequestID: cmd.RequestID,
		IPAddress: cmd.IPAddress,
		UserAgent: cmd.UserAgent,
		Metadata: map[string]any{
			"orderCode":   order.Code,
			"orderType":   string(order.Type),
			"patientId":   order.SourceID,
			"paymentId":   payment.ID,
			"currency":    order.Currency,
			"total":       order.Total.StringFixed(moneyPlaces),
			"totalSource": string(totalSource),
		},
		OccurredAt: order.CreatedAt,
	}
}

func (s *billingOrchestrator) publishCreated(ctx context.Context, order domain.Order, payment domain.Payment) {
	if s.events == nil {
		return
	}
	event := domain.OrderCreatedEvent{
		OrderID:    order.ID,
		Code:       order.Code,
		Type:       order.Type,
		PatientID:  order.SourceID,
		StaffID:    order.TargetID,
		Currency:   order.Currency,
		Total:      order.Total,
		PaymentID:  payment.ID,
		OccurredAt: order.CreatedAt,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger(ctx, "billing.event.publish.failed", map[string]any{
			"orderId": order.ID,
			"error":   err,
		})
	}
}

// enrichShortages attaches display names. Lookup failures fall back to the raw ids.
func (s *billingOrchestrator) enrichShortages(ctx context.Context, shortages []domain.StockShortage) []domain.UnavailableProduct {
	out := make([]domain.UnavailableProduct, 0, len(shortages))
	for _, shortage := range shortages {
		item := domain.UnavailableProduct{
			ProductID:         shortage.ProductID,
			ProductName:       shortage.ProductID,
			StorageID:         shortage.StorageID,
			StorageName:       shortage.StorageID,
			RequestedQuantity: shortage.Requested,
			AvailableQuantity: shortage.Available,
		}
		if product, err := s.products.FindByID(ctx, shortage.ProductID); err == nil && product.Name != "" {
			item.ProductName = product.Name
		}
		if storage, err := s.storages.FindByID(ctx, shortage.StorageID); err == nil && storage.Name != "" {
			item.StorageName = storage.Name
		}
		out = append(out, item)
	}
	return out
}

// billingRun tracks the stage of one CreateOrder call for logs, span events and metrics.
type billingRun struct {
	s         *billingOrchestrator
	span      trace.Span
	orderType domain.OrderType
	stage     billingStage
	entered   time.Time
}

func (r *billingRun) enter(ctx context.Context, next billingStage) {
	now := time.Now()
	if r.stage != "" {
		r.s.metrics.ObserveStage(string(r.stage), now.Sub(r.entered))
	}
	r.span.AddEvent("billing.stage", trace.WithAttributes(attribute.String("stage", string(next))))
	r.s.logger(ctx, "billing.stage", map[string]any{
		"from":      string(r.stage),
		"to":        string(next),
		"orderType": string(r.orderType),
	})
	r.stage, r.entered = next, now
}

func (r *billingRun) shortage(ctx context.Context, shortages []domain.StockShortage) BillingResult {
	r.enter(ctx, stageSoftFail)
	r.s.metrics.RecordOutcome(string(r.orderType), BillingOutcomeShortage)
	r.span.SetAttributes(attribute.Int("billing.shortages", len(shortages)))
	return BillingResult{
		Success:             false,
		Message:             billingMessageUnavailable,
		UnavailableProducts: r.s.enrichShortages(ctx, shortages),
	}
}

func (r *billingRun) fail(ctx context.Context, err error) error {
	failedAt := r.stage
	r.enter(ctx, stageHardFail)
	r.s.metrics.RecordOutcome(string(r.orderType), BillingOutcomeFailed)
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.s.logger(ctx, "billing.order.failed", map[string]any{
		"stage":     string(failedAt),
		"orderType": string(r.orderType),
		"error":     err,
	})
	return err
}

func (r *billingRun) done(ctx context.Context, order domain.Order, payment domain.Payment) {
	r.enter(ctx, stageDone)
	r.s.metrics.RecordOutcome(string(r.orderType), BillingOutcomeCreated)
	r.span.SetAttributes(attribute.String("billing.order_id", order.ID))
	r.s.logger(ctx, "billing.order.created", map[string]any{
		"orderId":   order.ID,
		"orderCode": order.Code,
		"orderType": string(order.Type),
		"paymentId": payment.ID,
		"total":     order.Total.StringFixed(moneyPlaces),
	})
}

// classifyReserveError keeps insufficient-stock errors intact so the caller can report them as
// data, and maps everything else.
func classifyReserveError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return err
		case repositories.StockErrorInvalidRequest:
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return mapWriteError(err, "stock reservation")
}

// mapWriteError treats every non-transient write failure as a persistence error, including
// not-found answers that can only mean inconsistent storage.
func mapWriteError(err error, subject string) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, subject, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, subject, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, subject, err)
}

func classifyTxError(err error) error {
	for _, sentinel := range []error{ErrValidation, ErrPersistence, ErrUnavailable, context.Canceled} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return mapWriteError(err, "billing transaction")
}

type noopBillingMetrics struct{}

func (noopBillingMetrics) RecordOutcome(string, string)       {}
func (noopBillingMetrics) ObserveStage(string, time.Duration) {}
