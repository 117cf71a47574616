package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/medicore-clinic/billing/internal/domain"
	pfirestore "github.com/medicore-clinic/billing/internal/platform/firestore"
	"github.com/medicore-clinic/billing/internal/repositories"
)

const stockCollection = "stock"

type stockDocument struct {
	StorageID string    `firestore:"storageId"`
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"quantity"`
	Version   int64     `firestore:"version"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// StockRepository reads and decrements per-storage stock levels. Documents are keyed by
// "{storageID}_{productID}".
type StockRepository struct {
	base *pfirestore.BaseRepository[stockDocument]
	now  func() time.Time
}

// NewStockRepository constructs a Firestore-backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		base: pfirestore.NewBaseRepository[stockDocument](provider, stockCollection),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// GetByStorageAndProduct returns the stock level; a missing document yields a zero quantity.
func (r *StockRepository) GetByStorageAndProduct(ctx context.Context, storageID, productID string) (domain.StockLevel, error) {
	storageID = strings.TrimSpace(storageID)
	productID = strings.TrimSpace(productID)
	if storageID == "" || productID == "" {
		return domain.StockLevel{}, repositories.NewStockError(repositories.StockErrorInvalidRequest, "storage id and product id are required", nil)
	}
	doc, err := r.base.Get(ctx, stockDocID(storageID, productID))
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.StockLevel{StorageID: storageID, ProductID: productID}, nil
		}
		return domain.StockLevel{}, err
	}
	return doc.Data.toDomain(storageID, productID), nil
}

// Reserve re-reads the requested stock documents inside tx, locking them until commit, and
// decrements them when every request can be served. All reads happen before the first write
// so the caller may stage further writes in the same transaction afterwards.
func (r *StockRepository) Reserve(ctx context.Context, tx repositories.Tx, requests []domain.StockRequest) error {
	ftx, err := firestoreTx("stock.reserve", tx)
	if err != nil {
		return err
	}
	merged, err := repositories.NormalizeStockRequests(requests)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}

	ids := make([]string, len(merged))
	for i, req := range merged {
		ids[i] = stockDocID(req.StorageID, req.ProductID)
	}
	docs, exists, err := r.base.TxGetAll(ctx, ftx, ids)
	if err != nil {
		return err
	}

	var shortages []domain.StockShortage
	for i, req := range merged {
		available := 0
		if exists[i] {
			available = docs[i].Data.Quantity
		}
		if req.Quantity > available {
			shortages = append(shortages, domain.StockShortage{
				ProductID: req.ProductID,
				StorageID: req.StorageID,
				Requested: req.Quantity,
				Available: available,
			})
		}
	}
	if len(shortages) > 0 {
		return repositories.NewInsufficientStockError("stock.reserve", shortages)
	}

	now := r.now()
	for i, req := range merged {
		next := docs[i].Data
		next.StorageID = req.StorageID
		next.ProductID = req.ProductID
		next.Quantity -= req.Quantity
		next.Version++
		next.UpdatedAt = now
		if err := r.base.TxSet(ctx, ftx, ids[i], next); err != nil {
			return err
		}
	}
	return nil
}

func (d stockDocument) toDomain(storageID, productID string) domain.StockLevel {
	return domain.StockLevel{
		StorageID: storageID,
		ProductID: productID,
		Quantity:  d.Quantity,
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func stockDocID(storageID, productID string) string {
	return storageID + "_" + productID
}
