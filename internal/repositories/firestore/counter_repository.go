package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pfirestore "github.com/medicore-clinic/billing/internal/platform/firestore"
	"github.com/medicore-clinic/billing/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out order code sequence numbers from counter documents.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection),
	}, nil
}

// Next reads the counter inside tx and stages its increment, so the number is only consumed
// when the surrounding transaction commits. A missing counter starts at step. A step of zero
// reuses the stored step.
func (r *CounterRepository) Next(ctx context.Context, tx repositories.Tx, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	ftx, err := firestoreTx("counters.next", tx)
	if err != nil {
		return 0, err
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	docs, exists, err := r.counters.TxGetAll(ctx, ftx, []string{id})
	if err != nil {
		return 0, err
	}
	doc := docs[0].Data

	increment := step
	if increment == 0 {
		increment = doc.Step
	}
	if increment <= 0 {
		increment = 1
	}

	now := time.Now().UTC()
	if !exists[0] {
		created := counterDocument{CurrentValue: increment, Step: increment, UpdatedAt: now}
		if err := stageWrite(tx, func() error { return r.counters.TxCreate(ctx, ftx, id, created) }); err != nil {
			return 0, err
		}
		return increment, nil
	}

	next := doc.CurrentValue + increment
	if doc.MaxValue != nil && next > *doc.MaxValue {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *doc.MaxValue), nil)
	}
	doc.CurrentValue = next
	doc.Step = increment
	doc.UpdatedAt = now
	if err := stageWrite(tx, func() error { return r.counters.TxSet(ctx, ftx, id, doc) }); err != nil {
		return 0, err
	}
	return next, nil
}
