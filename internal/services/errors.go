package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/medicore-clinic/billing/internal/domain"
	"github.com/medicore-clinic/billing/internal/repositories"
)

var (
	// ErrNotFound indicates a referenced patient, appointment or order does not exist.
	ErrNotFound = errors.New("billing: not found")
	// ErrValidation indicates the request is malformed or inconsistent.
	ErrValidation = errors.New("billing: validation failed")
	// ErrForbidden indicates the actor may not perform the requested variation (e.g. total override).
	ErrForbidden = errors.New("billing: forbidden")
	// ErrGeneratorNotFound indicates no generator is registered for an order type.
	ErrGeneratorNotFound = errors.New("billing: order generator not found")
	// ErrDuplicateGenerator indicates two generators claimed the same order type.
	ErrDuplicateGenerator = errors.New("billing: duplicate order generator")
	// ErrPersistence indicates a write or read against storage failed.
	ErrPersistence = errors.New("billing: persistence failed")
	// ErrUnavailable indicates a dependency is temporarily unreachable.
	ErrUnavailable = errors.New("billing: dependency unavailable")
)

// GeneratorNotFoundError reports the order type that has no generator.
type GeneratorNotFoundError struct {
	Type domain.OrderType
}

func (e *GeneratorNotFoundError) Error() string {
	return fmt.Sprintf("%s: %q", ErrGeneratorNotFound.Error(), string(e.Type))
}

// Is matches ErrGeneratorNotFound.
func (e *GeneratorNotFoundError) Is(target error) bool {
	return target == ErrGeneratorNotFound
}

// DuplicateGeneratorError reports an order type claimed twice.
type DuplicateGeneratorError struct {
	Type domain.OrderType
}

func (e *DuplicateGeneratorError) Error() string {
	return fmt.Sprintf("%s: %q", ErrDuplicateGenerator.Error(), string(e.Type))
}

// Is matches ErrDuplicateGenerator.
func (e *DuplicateGeneratorError) Is(target error) bool {
	return target == ErrDuplicateGenerator
}

// mapRepositoryError converts repository failures into service sentinels. Context errors are
// passed through so callers can tell cancellation apart from storage faults.
func mapRepositoryError(err error, subject string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, subject, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrNotFound, subject)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, subject, err)
		default:
			return fmt.Errorf("%w: %s: %v", ErrPersistence, subject, err)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, subject, err)
}
