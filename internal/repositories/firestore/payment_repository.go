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

const paymentsCollection = "payments"

type paymentDocument struct {
	OrderID   string     `firestore:"orderId"`
	Status    string     `firestore:"status"`
	Amount    string     `firestore:"amount"`
	Currency  string     `firestore:"currency"`
	Method    string     `firestore:"method,omitempty"`
	DueDate   *time.Time `firestore:"dueDate,omitempty"`
	CreatedAt time.Time  `firestore:"createdAt"`
	UpdatedAt time.Time  `firestore:"updatedAt"`
}

// PaymentRepository persists the receivables scheduled for orders.
type PaymentRepository struct {
	base *pfirestore.BaseRepository[paymentDocument]
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{base: pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection)}, nil
}

// Create stages the payment document inside tx.
func (r *PaymentRepository) Create(ctx context.Context, tx repositories.Tx, payment domain.Payment) error {
	ftx, err := firestoreTx("payments.create", tx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(payment.ID) == "" {
		return errors.New("payment repository: id is required")
	}
	doc := paymentDocument{
		OrderID:   payment.OrderID,
		Status:    string(payment.Status),
		Amount:    payment.Amount.StringFixed(2),
		Currency:  payment.Currency,
		Method:    payment.Method,
		CreatedAt: payment.CreatedAt.UTC(),
		UpdatedAt: payment.UpdatedAt.UTC(),
	}
	if payment.DueDate != nil {
		due := payment.DueDate.UTC()
		doc.DueDate = &due
	}
	return r.base.TxCreate(ctx, ftx, payment.ID, doc)
}
