package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	pfirestore "github.com/medicore-clinic/billing/internal/platform/firestore"
	"github.com/medicore-clinic/billing/internal/repositories"
)

type transaction struct {
	tx      *firestore.Transaction
	pending []func() error
}

func (t *transaction) Backend() any { return t.tx }

// stageWrite queues a write to run once fn has returned, after every read of the transaction.
// Firestore rejects reads that follow a write, so repositories that read late in fn (counters)
// stage their writes here. A foreign Tx gets the write applied immediately.
func stageWrite(tx repositories.Tx, write func() error) error {
	if t, ok := tx.(*transaction); ok {
		t.pending = append(t.pending, write)
		return nil
	}
	return write()
}

// UnitOfWork runs repository writes inside a single Firestore transaction.
type UnitOfWork struct {
	provider *pfirestore.Provider
	opts     []pfirestore.TxOption
}

// NewUnitOfWork constructs a Firestore backed unit of work.
func NewUnitOfWork(provider *pfirestore.Provider, opts ...pfirestore.TxOption) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("unit of work requires firestore provider")
	}
	return &UnitOfWork{provider: provider, opts: opts}, nil
}

// RunInTx executes fn in a Firestore transaction and then applies the writes staged during fn.
// Firestore retries fn on contention, so fn must not carry side effects outside of tx.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	if u == nil || u.provider == nil {
		return errors.New("unit of work not initialised")
	}
	if fn == nil {
		return errors.New("unit of work: fn is required")
	}
	return u.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		t := &transaction{tx: tx}
		if err := fn(ctx, t); err != nil {
			return err
		}
		for _, write := range t.pending {
			if err := write(); err != nil {
				return err
			}
		}
		return nil
	}, u.opts...)
}

func firestoreTx(op string, tx repositories.Tx) (*firestore.Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("%s: transaction is required", op)
	}
	ftx, ok := tx.Backend().(*firestore.Transaction)
	if !ok || ftx == nil {
		return nil, fmt.Errorf("%s: unsupported transaction %T", op, tx.Backend())
	}
	return ftx, nil
}

func parseMoney(field, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode %s: %w", field, err)
	}
	return amount, nil
}
