package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
	pfirestore "github.com/medicore-clinic/billing/internal/platform/firestore"
)

const (
	productsCollection = "products"
	storagesCollection = "storages"
)

type productDocument struct {
	Name   string `firestore:"name"`
	SKU    string `firestore:"sku"`
	Price  string `firestore:"price"`
	Active bool   `firestore:"active"`
}

type storageDocument struct {
	Name string `firestore:"name"`
}

// ProductRepository reads catalogue products and their tax-inclusive prices.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{base: pfirestore.NewBaseRepository[productDocument](provider, productsCollection)}, nil
}

// FindByID loads a product by id.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:     doc.ID,
		Name:   doc.Data.Name,
		SKU:    doc.Data.SKU,
		Active: doc.Data.Active,
	}, nil
}

// GetPriceByID returns the current tax-inclusive unit price.
func (r *ProductRepository) GetPriceByID(ctx context.Context, productID string) (decimal.Decimal, error) {
	doc, err := r.get(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return parseMoney("products.price", doc.Data.Price)
}

func (r *ProductRepository) get(ctx context.Context, productID string) (pfirestore.Document[productDocument], error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return pfirestore.Document[productDocument]{}, errors.New("product repository: id is required")
	}
	return r.base.Get(ctx, id)
}

// StorageRepository reads storages.
type StorageRepository struct {
	base *pfirestore.BaseRepository[storageDocument]
}

// NewStorageRepository constructs a Firestore-backed storage repository.
func NewStorageRepository(provider *pfirestore.Provider) (*StorageRepository, error) {
	if provider == nil {
		return nil, errors.New("storage repository requires firestore provider")
	}
	return &StorageRepository{base: pfirestore.NewBaseRepository[storageDocument](provider, storagesCollection)}, nil
}

// FindByID loads a storage by id.
func (r *StorageRepository) FindByID(ctx context.Context, storageID string) (domain.Storage, error) {
	id := strings.TrimSpace(storageID)
	if id == "" {
		return domain.Storage{}, errors.New("storage repository: id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Storage{}, err
	}
	return domain.Storage{ID: doc.ID, Name: doc.Data.Name}, nil
}
