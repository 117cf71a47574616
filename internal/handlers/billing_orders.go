package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	domain "github.com/medicore-clinic/billing/internal/domain"
	"github.com/medicore-clinic/billing/internal/platform/auth"
	"github.com/medicore-clinic/billing/internal/platform/httpx"
	"github.com/medicore-clinic/billing/internal/platform/requestctx"
	"github.com/medicore-clinic/billing/internal/services"
)

const maxBillingOrderBodySize = 64 * 1024

type stockRequestPayload struct {
	ProductID string `json:"productId"`
	StorageID string `json:"storageId"`
	Quantity  int    `json:"quantity"`
}

type createBillingOrderRequest struct {
	Type           string                `json:"type"`
	PatientID      string                `json:"patientId"`
	MovementTypeID string                `json:"movementTypeId"`
	ReferenceID    string                `json:"referenceId"`
	AppointmentIDs []string              `json:"appointmentIds"`
	Products       []stockRequestPayload `json:"products"`
	Currency       string                `json:"currency"`
	Notes          *string               `json:"notes"`
	PaymentMethod  string                `json:"paymentMethod"`
	Metadata       map[string]any        `json:"metadata"`
	TotalOverride  *decimal.Decimal      `json:"totalOverride"`
}

// BillingOrderHandlers exposes order creation and lookup. Authentication is applied by the
// router group the handlers are mounted on.
type BillingOrderHandlers struct {
	billing services.BillingService
}

// NewBillingOrderHandlers constructs BillingOrderHandlers.
func NewBillingOrderHandlers(billing services.BillingService) *BillingOrderHandlers {
	return &BillingOrderHandlers{billing: billing}
}

// Routes registers the staff facing /billing/orders endpoints.
func (h *BillingOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/{orderID}", h.getOrder)
}

// InternalRoutes registers the service-to-service endpoints. Only creation is exposed.
func (h *BillingOrderHandlers) InternalRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
}

func (h *BillingOrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.billing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("billing_service_unavailable", "billing service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxBillingOrderBodySize)
	if err != nil {
		writeBodyError(w, r, err)
		return
	}
	req, err := decodeCreateBillingOrderRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.billing.CreateOrder(ctx, req.toCommand(ctx))
	if err != nil {
		writeBillingError(ctx, w, err)
		return
	}
	if !result.Success {
		httpx.WriteJSON(w, http.StatusConflict, httpx.Envelope{
			Success: false,
			Message: result.Message,
			Data:    shortagePayload{UnavailableProducts: buildUnavailablePayload(result.UnavailableProducts)},
		})
		return
	}
	if result.Order == nil {
		httpx.WriteError(ctx, w, httpx.NewError("billing_failed", "order was not produced", http.StatusInternalServerError))
		return
	}

	w.Header().Set("Location", "/api/v1/billing/orders/"+result.Order.ID)
	httpx.WriteJSON(w, http.StatusCreated, httpx.Envelope{
		Success: true,
		Message: result.Message,
		Data:    buildBillingOrderPayload(*result.Order, result.Payment),
	})
}

func (h *BillingOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.billing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("billing_service_unavailable", "billing service unavailable", http.StatusServiceUnavailable))
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	order, err := h.billing.GetOrder(ctx, orderID)
	if err != nil {
		writeBillingError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.Envelope{
		Success: true,
		Message: "Order retrieved",
		Data:    buildBillingOrderPayload(order, nil),
	})
}

func decodeCreateBillingOrderRequest(data []byte) (createBillingOrderRequest, error) {
	var req createBillingOrderRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return createBillingOrderRequest{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	req.Type = strings.TrimSpace(req.Type)
	if req.Type != "" && !domain.OrderType(req.Type).Valid() {
		return createBillingOrderRequest{}, fmt.Errorf("type %q is not supported", req.Type)
	}
	if strings.TrimSpace(req.PatientID) == "" {
		return createBillingOrderRequest{}, errors.New("patientId is required")
	}
	if strings.TrimSpace(req.MovementTypeID) == "" {
		return createBillingOrderRequest{}, errors.New("movementTypeId is required")
	}
	for i, item := range req.Products {
		if strings.TrimSpace(item.ProductID) == "" || strings.TrimSpace(item.StorageID) == "" {
			return createBillingOrderRequest{}, fmt.Errorf("products[%d] requires productId and storageId", i)
		}
		if item.Quantity <= 0 {
			return createBillingOrderRequest{}, fmt.Errorf("products[%d].quantity must be positive", i)
		}
	}
	return req, nil
}

func (req createBillingOrderRequest) toCommand(ctx context.Context) services.CreateBillingOrderCommand {
	actor := auth.ActorFromContext(ctx)
	client := requestctx.Client(ctx)

	products := make([]domain.StockRequest, 0, len(req.Products))
	for _, item := range req.Products {
		products = append(products, domain.StockRequest{
			ProductID: strings.TrimSpace(item.ProductID),
			StorageID: strings.TrimSpace(item.StorageID),
			Quantity:  item.Quantity,
		})
	}

	return services.CreateBillingOrderCommand{
		Type:           domain.OrderType(req.Type),
		PatientID:      strings.TrimSpace(req.PatientID),
		MovementTypeID: strings.TrimSpace(req.MovementTypeID),
		ReferenceID:    strings.TrimSpace(req.ReferenceID),
		AppointmentIDs: req.AppointmentIDs,
		Products:       products,
		Currency:       req.Currency,
		Notes:          req.Notes,
		PaymentMethod:  req.PaymentMethod,
		Metadata:       req.Metadata,
		TotalOverride:  req.TotalOverride,
		Actor:          services.Actor{ID: actor.ID, Type: actor.Type, IsAdmin: actor.IsAdmin},
		RequestID:      middleware.GetReqID(ctx),
		IPAddress:      client.IP,
		UserAgent:      client.UserAgent,
	}
}

type unavailableProductPayload struct {
	ProductID         string `json:"productId"`
	ProductName       string `json:"productName"`
	StorageID         string `json:"storageId"`
	StorageName       string `json:"storageName"`
	RequestedQuantity int    `json:"requestedQuantity"`
	AvailableQuantity int    `json:"availableQuantity"`
}

type shortagePayload struct {
	UnavailableProducts []unavailableProductPayload `json:"unavailableProducts"`
}

func buildUnavailablePayload(items []domain.UnavailableProduct) []unavailableProductPayload {
	out := make([]unavailableProductPayload, 0, len(items))
	for _, item := range items {
		out = append(out, unavailableProductPayload{
			ProductID:         item.ProductID,
			ProductName:       item.ProductName,
			StorageID:         item.StorageID,
			StorageName:       item.StorageName,
			RequestedQuantity: item.RequestedQuantity,
			AvailableQuantity: item.AvailableQuantity,
		})
	}
	return out
}

type patientSnapshotPayload struct {
	ID             string `json:"id"`
	FullName       string `json:"fullName"`
	DocumentNumber string `json:"documentNumber,omitempty"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
}

type staffPayload struct {
	StaffID       string `json:"staffId"`
	AppointmentID string `json:"appointmentId"`
}

type productLinePayload struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	StorageID   string `json:"storageId"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	Subtotal    string `json:"subtotal"`
}

type serviceLinePayload struct {
	AppointmentID string `json:"appointmentId"`
	ServiceID     string `json:"serviceId,omitempty"`
	ServiceName   string `json:"serviceName,omitempty"`
	Price         string `json:"price"`
	Subtotal      string `json:"subtotal"`
}

type pricingPayload struct {
	TaxRate          string `json:"taxRate"`
	ProductsSubtotal string `json:"productsSubtotal"`
	ServicesSubtotal string `json:"servicesSubtotal"`
	TotalSource      string `json:"totalSource"`
	OverriddenBy     string `json:"overriddenBy,omitempty"`
}

type orderMetadataPayload struct {
	Kind     string                  `json:"kind"`
	Patient  *patientSnapshotPayload `json:"patient,omitempty"`
	Staff    *staffPayload           `json:"staff,omitempty"`
	Products []productLinePayload    `json:"products"`
	Services []serviceLinePayload    `json:"services,omitempty"`
	Pricing  *pricingPayload         `json:"pricing,omitempty"`
	Extra    map[string]any          `json:"extra,omitempty"`
}

type paymentPayload struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Amount   string  `json:"amount"`
	Currency string  `json:"currency"`
	Method   string  `json:"method"`
	DueDate  *string `json:"dueDate,omitempty"`
}

type billingOrderPayload struct {
	ID             string               `json:"id"`
	Code           string               `json:"code"`
	Type           string               `json:"type"`
	Status         string               `json:"status"`
	MovementTypeID string               `json:"movementTypeId"`
	ReferenceID    string               `json:"referenceId,omitempty"`
	PatientID      string               `json:"patientId"`
	StaffID        string               `json:"staffId,omitempty"`
	Currency       string               `json:"currency"`
	Subtotal       string               `json:"subtotal"`
	Tax            string               `json:"tax"`
	Total          string               `json:"total"`
	Date           string               `json:"date"`
	DueDate        *string              `json:"dueDate,omitempty"`
	Notes          *string              `json:"notes,omitempty"`
	Metadata       orderMetadataPayload `json:"metadata"`
	Payment        *paymentPayload      `json:"payment,omitempty"`
	CreatedBy      string               `json:"createdBy"`
	CreatedAt      string               `json:"createdAt"`
	UpdatedAt      string               `json:"updatedAt"`
}

func buildBillingOrderPayload(order domain.Order, payment *domain.Payment) billingOrderPayload {
	payload := billingOrderPayload{
		ID:             order.ID,
		Code:           order.Code,
		Type:           string(order.Type),
		Status:         string(order.Status),
		MovementTypeID: order.MovementTypeID,
		ReferenceID:    order.ReferenceID,
		PatientID:      order.SourceID,
		StaffID:        order.TargetID,
		Currency:       order.Currency,
		Subtotal:       formatMoney(order.Subtotal),
		Tax:            formatMoney(order.Tax),
		Total:          formatMoney(order.Total),
		Date:           formatTime(order.Date),
		DueDate:        formatTimePointer(order.DueDate),
		Notes:          order.Notes,
		Metadata:       buildOrderMetadataPayload(order.Metadata),
		CreatedBy:      order.CreatedBy,
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
	if payment != nil {
		payload.Payment = &paymentPayload{
			ID:       payment.ID,
			Status:   string(payment.Status),
			Amount:   formatMoney(payment.Amount),
			Currency: payment.Currency,
			Method:   payment.Method,
			DueDate:  formatTimePointer(payment.DueDate),
		}
	}
	return payload
}

func buildOrderMetadataPayload(meta domain.OrderMetadata) orderMetadataPayload {
	payload := orderMetadataPayload{
		Kind:     string(meta.Kind),
		Products: []productLinePayload{},
		Extra:    meta.Extra,
	}
	var (
		patient  *domain.PatientSnapshot
		products []domain.ProductLine
	)
	switch {
	case meta.MedicalPrescription != nil:
		rx := meta.MedicalPrescription
		patient = &rx.Patient
		products = rx.Products
		if rx.Staff != nil {
			payload.Staff = &staffPayload{StaffID: rx.Staff.StaffID, AppointmentID: rx.Staff.AppointmentID}
		}
		payload.Services = make([]serviceLinePayload, 0, len(rx.Services))
		for _, line := range rx.Services {
			payload.Services = append(payload.Services, serviceLinePayload{
				AppointmentID: line.AppointmentID,
				ServiceID:     line.ServiceID,
				ServiceName:   line.ServiceName,
				Price:         formatMoney(line.Price),
				Subtotal:      line.Subtotal.String(),
			})
		}
	case meta.ProductSale != nil:
		patient = &meta.ProductSale.Patient
		products = meta.ProductSale.Products
	}
	if patient != nil {
		payload.Patient = &patientSnapshotPayload{
			ID:             patient.ID,
			FullName:       patient.FullName,
			DocumentNumber: patient.DocumentNumber,
			Email:          patient.Email,
			Phone:          patient.Phone,
		}
	}
	for _, line := range products {
		payload.Products = append(payload.Products, productLinePayload{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			StorageID:   line.StorageID,
			Quantity:    line.Quantity,
			UnitPrice:   formatMoney(line.UnitPrice),
			Subtotal:    line.Subtotal.String(),
		})
	}
	if pricing, ok := meta.Pricing(); ok {
		payload.Pricing = &pricingPayload{
			TaxRate:          pricing.TaxRate.String(),
			ProductsSubtotal: formatMoney(pricing.ProductsSubtotal),
			ServicesSubtotal: formatMoney(pricing.ServicesSubtotal),
			TotalSource:      string(pricing.TotalSource),
			OverriddenBy:     pricing.OverriddenBy,
		}
	}
	return payload
}

func formatMoney(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePointer(t *time.Time) *string {
	if t == nil || t.IsZero() {
		return nil
	}
	value := t.UTC().Format(time.RFC3339)
	return &value
}

func writeBillingError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", err.Error(), http.StatusForbidden))
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrGeneratorNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_type_unsupported", err.Error(), http.StatusInternalServerError))
	case errors.Is(err, services.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("dependency_unavailable", "a dependency is temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrPersistence):
		httpx.WriteError(ctx, w, httpx.NewError("persistence_failed", "order could not be persisted", http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("billing_failed", "order could not be billed", http.StatusInternalServerError))
	}
}
