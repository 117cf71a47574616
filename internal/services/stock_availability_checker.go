package services

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/medicore-clinic/billing/internal/domain"
	"github.com/medicore-clinic/billing/internal/repositories"
)

// StockLevelReader is the read side of the stock repository.
type StockLevelReader interface {
	GetByStorageAndProduct(ctx context.Context, storageID, productID string) (domain.StockLevel, error)
}

// StockAvailabilityChecker compares requested quantities with on-hand stock without writing.
type StockAvailabilityChecker struct {
	stock StockLevelReader
}

// NewStockAvailabilityChecker constructs a checker over the given stock reader.
func NewStockAvailabilityChecker(stock StockLevelReader) (*StockAvailabilityChecker, error) {
	if stock == nil {
		return nil, errors.New("stock availability checker: stock reader is required")
	}
	return &StockAvailabilityChecker{stock: stock}, nil
}

// CheckAvailability returns the requests that exceed current stock. Duplicate product/storage
// pairs are summed first and a missing stock document counts as zero available. An empty
// result means every request can be served.
func (c *StockAvailabilityChecker) CheckAvailability(ctx context.Context, items []domain.StockRequest) ([]domain.StockShortage, error) {
	requests, err := repositories.NormalizeStockRequests(items)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var shortages []domain.StockShortage
	for _, req := range requests {
		available := 0
		level, err := c.stock.GetByStorageAndProduct(ctx, req.StorageID, req.ProductID)
		switch {
		case err == nil:
			available = level.Quantity
		case isRepositoryNotFound(err):
		default:
			return nil, mapRepositoryError(err, fmt.Sprintf("stock of product %s in storage %s", req.ProductID, req.StorageID))
		}
		if available < req.Quantity {
			shortages = append(shortages, domain.StockShortage{
				ProductID: req.ProductID,
				StorageID: req.StorageID,
				Requested: req.Quantity,
				Available: max(available, 0),
			})
		}
	}
	return shortages, nil
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
