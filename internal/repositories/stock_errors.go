package repositories

import (
	"fmt"
	"strings"

	domain "github.com/medicore-clinic/billing/internal/domain"
)

// StockErrorCode enumerates repository error causes for stock operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates at least one requested quantity exceeds the on-hand stock.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorInvalidRequest indicates a malformed reservation request.
	StockErrorInvalidRequest StockErrorCode = "stock_invalid_request"
)

// StockError wraps stock-specific failures with machine readable codes.
type StockError struct {
	Op        string
	Code      StockErrorCode
	Message   string
	Shortages []domain.StockShortage
	Err       error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock error.
func NewStockError(code StockErrorCode, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError reports the given shortages.
func NewInsufficientStockError(op string, shortages []domain.StockShortage) *StockError {
	out := make([]domain.StockShortage, len(shortages))
	copy(out, shortages)
	return &StockError{
		Op:        op,
		Code:      StockErrorInsufficient,
		Message:   fmt.Sprintf("%d stock request(s) exceed available quantity", len(out)),
		Shortages: out,
	}
}

// NormalizeStockRequests rejects malformed requests and merges duplicate product/storage pairs.
func NormalizeStockRequests(requests []domain.StockRequest) ([]domain.StockRequest, error) {
	for i, req := range requests {
		if strings.TrimSpace(req.ProductID) == "" || strings.TrimSpace(req.StorageID) == "" {
			return nil, NewStockError(StockErrorInvalidRequest, fmt.Sprintf("request %d: product id and storage id are required", i), nil)
		}
		if req.Quantity <= 0 {
			return nil, NewStockError(StockErrorInvalidRequest, fmt.Sprintf("request %d: quantity must be positive", i), nil)
		}
	}
	return domain.MergeStockRequests(requests), nil
}
