package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/medicore-clinic/billing/internal/domain"
	"github.com/medicore-clinic/billing/internal/repositories"
)

const fallbackOrderCodePrefix = "ORD"

var orderCodePrefixes = map[domain.OrderType]string{
	domain.OrderTypeMedicalPrescription: "RX",
	domain.OrderTypeProductSale:         "PS",
}

// OrderCodeServiceDeps bundles collaborators required to construct an order code service.
type OrderCodeServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type orderCodeService struct {
	repo  repositories.CounterRepository
	clock func() time.Time
}

// NewOrderCodeService issues codes such as RX-2025-000042 from one counter per type and year.
func NewOrderCodeService(deps OrderCodeServiceDeps) (OrderCodeService, error) {
	if deps.Repository == nil {
		return nil, errors.New("order code service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &orderCodeService{
		repo:  deps.Repository,
		clock: func() time.Time { return clock().UTC() },
	}, nil
}

// Next takes the next number of the type's yearly sequence inside tx. The number is only consumed
// when tx commits.
func (s *orderCodeService) Next(ctx context.Context, tx repositories.Tx, orderType domain.OrderType) (string, error) {
	if orderType == "" {
		return "", fmt.Errorf("%w: order type is required", ErrValidation)
	}
	year := s.clock().Year()
	counterID := fmt.Sprintf("orders:%s:%04d", orderType, year)

	value, err := s.repo.Next(ctx, tx, counterID, 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			switch counterErr.Code {
			case repositories.CounterErrorInvalidInput:
				return "", fmt.Errorf("%w: %s", ErrValidation, counterErr.Message)
			case repositories.CounterErrorExhausted:
				return "", fmt.Errorf("%w: order code sequence %s exhausted", ErrPersistence, counterID)
			}
		}
		return "", mapRepositoryError(err, "order code sequence "+counterID)
	}

	prefix, ok := orderCodePrefixes[orderType]
	if !ok {
		prefix = fallbackOrderCodePrefix
	}
	return fmt.Sprintf("%s-%04d-%06d", prefix, year, value), nil
}
