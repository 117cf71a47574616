package domain

import "github.com/shopspring/decimal"

// TotalSource records whether an order total was derived from its lines or supplied verbatim.
type TotalSource string

const (
	// TotalSourceDerived indicates the total was computed from priced lines.
	TotalSourceDerived TotalSource = "derived"
	// TotalSourceOverride indicates the caller supplied the total and no recomputation happened.
	TotalSourceOverride TotalSource = "override"
)

// TaxBreakdown is the result of applying a flat tax rate to a subtotal.
type TaxBreakdown struct {
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// PricingSummary records how an order's amounts were obtained.
type PricingSummary struct {
	TaxRate          decimal.Decimal
	ProductsSubtotal decimal.Decimal
	ServicesSubtotal decimal.Decimal
	TotalSource      TotalSource
	OverriddenBy     string
}

// ProductLine is a dispensed product priced inclusive of tax.
type ProductLine struct {
	ProductID   string
	ProductName string
	StorageID   string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
}

// ServiceLine is an attended appointment priced inclusive of tax.
type ServiceLine struct {
	AppointmentID string
	ServiceID     string
	ServiceName   string
	Price         decimal.Decimal
	Subtotal      decimal.Decimal
}

// StockRequest asks for a quantity of a product from a specific storage.
type StockRequest struct {
	ProductID string
	StorageID string
	Quantity  int
}

// StockShortage describes a request that cannot be served from current stock.
type StockShortage struct {
	ProductID string
	StorageID string
	Requested int
	Available int
}

// UnavailableProduct is a shortage enriched with display names for the caller.
type UnavailableProduct struct {
	ProductID         string
	ProductName       string
	StorageID         string
	StorageName       string
	RequestedQuantity int
	AvailableQuantity int
}

// MergeStockRequests sums the quantities of requests that target the same product and storage.
// The first occurrence of each pair determines its position in the result.
func MergeStockRequests(requests []StockRequest) []StockRequest {
	merged := make([]StockRequest, 0, len(requests))
	index := make(map[[2]string]int, len(requests))
	for _, req := range requests {
		key := [2]string{req.ProductID, req.StorageID}
		if i, ok := index[key]; ok {
			merged[i].Quantity += req.Quantity
			continue
		}
		index[key] = len(merged)
		merged = append(merged, req)
	}
	return merged
}
