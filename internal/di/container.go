package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/medicore-clinic/billing/internal/platform/cache"
	"github.com/medicore-clinic/billing/internal/platform/config"
	"github.com/medicore-clinic/billing/internal/platform/observability"
	"github.com/medicore-clinic/billing/internal/repositories"
	"github.com/medicore-clinic/billing/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Billing    services.BillingService
	OrderTypes *services.OrderTypeRegistry
	Audit      services.AuditLogService
	Codes      services.OrderCodeService
	System     services.SystemService
}

// Runtime carries infrastructure built outside the container. Every field is optional.
type Runtime struct {
	Events     services.OrderEventPublisher
	Metrics    services.BillingMetrics
	PriceCache *cache.PriceCache
	Health     repositories.HealthRepository
	Logger     *zap.Logger
	Clock      func() time.Time
	Build      services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides the Firestore
// registry, while tests and local runs can supply the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, rt Runtime) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, rt)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, rt Runtime) (Services, error) {
	var svc Services

	clock := rt.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := rt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Clock:      clock,
		HashSalt:   cfg.Security.AuditHashSalt,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	codes, err := services.NewOrderCodeService(services.OrderCodeServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order code service: %w", err)
	}
	svc.Codes = codes

	products := reg.Products()
	appointments := reg.Appointments()
	if rt.PriceCache != nil {
		products = cache.NewCachedProducts(products, rt.PriceCache)
		appointments = cache.NewCachedAppointments(appointments, rt.PriceCache)
	}

	tax := services.NewTaxCalculator()
	prescription, err := services.NewMedicalPrescriptionGenerator(services.MedicalPrescriptionGeneratorDeps{
		Products:     products,
		Appointments: appointments,
		Tax:          tax,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build medical prescription generator: %w", err)
	}
	sale, err := services.NewProductSaleGenerator(services.ProductSaleGeneratorDeps{
		Products: products,
		Tax:      tax,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build product sale generator: %w", err)
	}
	registry, err := services.NewOrderTypeRegistry(prescription, sale)
	if err != nil {
		return Services{}, fmt.Errorf("build order type registry: %w", err)
	}
	svc.OrderTypes = registry

	validator, err := services.NewAppointmentValidator(services.AppointmentValidatorDeps{
		Patients:     reg.Patients(),
		Appointments: reg.Appointments(),
		Concurrency:  cfg.Billing.AppointmentLookupConcurrency,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build appointment validator: %w", err)
	}

	checker, err := services.NewStockAvailabilityChecker(reg.Stock())
	if err != nil {
		return Services{}, fmt.Errorf("build stock availability checker: %w", err)
	}

	billing, err := services.NewBillingOrchestrator(services.BillingOrchestratorDeps{
		Generators:   registry,
		Validator:    validator,
		StockChecker: checker,
		Products:     reg.Products(),
		Storages:     reg.Storages(),
		Stock:        reg.Stock(),
		Orders:       reg.Orders(),
		Payments:     reg.Payments(),
		UnitOfWork:   reg,
		Audit:        auditSvc,
		Codes:        codes,
		Events:       rt.Events,
		Metrics:      rt.Metrics,
		Logger:       observability.ServiceLogger(logger.Named("billing")),
		Clock:        clock,

		TaxRate:              cfg.Billing.TaxRate,
		DefaultCurrency:      cfg.Billing.DefaultCurrency,
		DefaultPaymentMethod: cfg.Billing.DefaultPaymentMethod,
		PaymentDue:           cfg.Billing.PaymentDue,
		TxTimeout:            cfg.Billing.TxTimeout,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build billing orchestrator: %w", err)
	}
	svc.Billing = billing

	if rt.Health != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: rt.Health,
			OrderTypes:       registry,
			Clock:            clock,
			Build:            rt.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
