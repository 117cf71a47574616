package services

import (
	"errors"
	"sort"
	"strings"

	domain "github.com/medicore-clinic/billing/internal/domain"
)

// OrderTypeRegistry maps order types to the generator that handles them. It is populated at
// startup and read-only afterwards, so lookups need no locking.
type OrderTypeRegistry struct {
	generators map[domain.OrderType]OrderGenerator
}

// NewOrderTypeRegistry registers every generator and fails on the first duplicate type.
func NewOrderTypeRegistry(generators ...OrderGenerator) (*OrderTypeRegistry, error) {
	registry := &OrderTypeRegistry{generators: make(map[domain.OrderType]OrderGenerator, len(generators))}
	for _, generator := range generators {
		if err := registry.Register(generator); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register adds a generator. Registering a second generator for the same type returns a
// *DuplicateGeneratorError.
func (r *OrderTypeRegistry) Register(generator OrderGenerator) error {
	if generator == nil {
		return errors.New("order type registry: generator is required")
	}
	orderType := domain.OrderType(strings.TrimSpace(string(generator.Type())))
	if orderType == "" {
		return errors.New("order type registry: generator type is required")
	}
	if _, exists := r.generators[orderType]; exists {
		return &DuplicateGeneratorError{Type: orderType}
	}
	r.generators[orderType] = generator
	return nil
}

// Resolve returns the generator registered for orderType. Unknown types yield a
// *GeneratorNotFoundError and never fall back to another generator.
func (r *OrderTypeRegistry) Resolve(orderType domain.OrderType) (OrderGenerator, error) {
	generator, ok := r.generators[orderType]
	if !ok || !generator.CanHandle(orderType) {
		return nil, &GeneratorNotFoundError{Type: orderType}
	}
	return generator, nil
}

// Types lists the registered order types in lexical order.
func (r *OrderTypeRegistry) Types() []domain.OrderType {
	types := make([]domain.OrderType, 0, len(r.generators))
	for orderType := range r.generators {
		types = append(types, orderType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
