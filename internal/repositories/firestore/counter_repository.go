package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/threadcart/api/internal/platform/firestore"
	"github.com/threadcart/api/internal/repositories"
)

const countersCollection = "counters"

// counterState is the persisted shape of a sequence. Value holds the
// last number handed out, so the next caller receives Value+step.
type counterState struct {
	Value     int64     `firestore:"value"`
	Step      int64     `firestore:"step"`
	Max       *int64    `firestore:"max,omitempty"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// CounterRepository hands out monotonically increasing sequence numbers,
// used for order and invoice numbering. Increments run inside Firestore
// transactions so concurrent checkouts never observe the same value.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterState]
	now      func() time.Time
}

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterState](provider, countersCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Next atomically advances the counter and returns the new value. A step
// of zero uses the counter's configured step, defaulting to one.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id, err := r.validate(counterID)
	if err != nil {
		return 0, err
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			next, err = r.seed(tx, ref, step)
			return err
		}
		if err != nil {
			return err
		}

		next, err = r.advance(tx, id, ref, snap, step)
		return err
	})
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}

// seed creates a counter on first use, treating the initial increment as
// its step for subsequent calls.
func (r *CounterRepository) seed(tx *firestore.Transaction, ref *firestore.DocumentRef, step int64) (int64, error) {
	if step <= 0 {
		step = 1
	}
	state := counterState{
		Value:     step,
		Step:      step,
		UpdatedAt: r.now(),
	}
	if err := tx.Create(ref, state); err != nil {
		return 0, err
	}
	return state.Value, nil
}

func (r *CounterRepository) advance(tx *firestore.Transaction, id string, ref *firestore.DocumentRef, snap *firestore.DocumentSnapshot, step int64) (int64, error) {
	var state counterState
	if err := snap.DataTo(&state); err != nil {
		return 0, fmt.Errorf("firestore counters decode %s: %w", id, err)
	}

	if step <= 0 {
		step = state.Step
	}
	if step <= 0 {
		step = 1
	}

	value := state.Value + step
	if state.Max != nil && value > *state.Max {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *state.Max), nil)
	}

	state.Value = value
	state.Step = step
	state.UpdatedAt = r.now()
	if err := tx.Set(ref, state, firestore.MergeAll); err != nil {
		return 0, err
	}
	return value, nil
}

// Configure merges step, bound, and starting value settings onto a counter.
// Only the fields present in cfg are written.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id, err := r.validate(counterID)
	if err != nil {
		return err
	}

	fields := map[string]any{"updated_at": r.now()}
	if cfg.Step > 0 {
		fields["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		fields["max"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		fields["value"] = *cfg.InitialValue
	}

	ref, err := r.counters.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, fields, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}

func (r *CounterRepository) validate(counterID string) (string, error) {
	if r == nil || r.provider == nil {
		return "", errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return "", repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	return id, nil
}
