package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/threadcart/api/internal/repositories"
)

type fakeCounterRepo struct {
	mu         sync.Mutex
	nextFn     func(context.Context, string, int64) (int64, error)
	nextIDs    []string
	nextSteps  []int64
	configured []repositories.CounterConfig
	configErr  error
}

func (f *fakeCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	f.mu.Lock()
	f.nextIDs = append(f.nextIDs, counterID)
	f.nextSteps = append(f.nextSteps, step)
	f.mu.Unlock()
	if f.nextFn != nil {
		return f.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

func (f *fakeCounterRepo) Configure(_ context.Context, _ string, cfg repositories.CounterConfig) error {
	f.mu.Lock()
	f.configured = append(f.configured, cfg)
	f.mu.Unlock()
	return f.configErr
}

func newCounterServiceForTest(t *testing.T, repo *fakeCounterRepo, at time.Time) CounterService {
	t.Helper()
	svc, err := NewCounterService(CounterServiceDeps{
		Repository: repo,
		Clock:      func() time.Time { return at },
	})
	if err != nil {
		t.Fatalf("NewCounterService: %v", err)
	}
	return svc
}

func TestCounterServiceFormatsWithPrefixAndPadding(t *testing.T) {
	repo := &fakeCounterRepo{
		nextFn: func(context.Context, string, int64) (int64, error) { return 42, nil },
	}
	svc := newCounterServiceForTest(t, repo, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	value, err := svc.Next(context.Background(), "shipments", "global", CounterGenerationOptions{
		Step:      5,
		Prefix:    "SHP-",
		PadLength: 4,
	})
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if value.Value != 42 || value.Formatted != "SHP-0042" {
		t.Fatalf("value = %+v, want 42 / SHP-0042", value)
	}
	if len(repo.configured) != 1 || repo.configured[0].Step != 5 {
		t.Fatalf("configured = %+v, want one call with step 5", repo.configured)
	}
	if repo.nextIDs[0] != "shipments:global" {
		t.Fatalf("counter id = %s", repo.nextIDs[0])
	}
}

func TestCounterServiceConfiguresOncePerSettings(t *testing.T) {
	repo := &fakeCounterRepo{
		nextFn: func(context.Context, string, int64) (int64, error) { return 1, nil },
	}
	svc := newCounterServiceForTest(t, repo, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	opts := CounterGenerationOptions{Step: 2}
	for i := 0; i < 3; i++ {
		if _, err := svc.Next(context.Background(), "shipments", "global", opts); err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
	}
	if len(repo.configured) != 1 {
		t.Fatalf("configure called %d times, want 1", len(repo.configured))
	}

	// Changing the bound is a new settings value and must write again.
	max := int64(100)
	opts.MaxValue = &max
	if _, err := svc.Next(context.Background(), "shipments", "global", opts); err != nil {
		t.Fatalf("Next with max: %v", err)
	}
	if len(repo.configured) != 2 {
		t.Fatalf("configure called %d times after new settings, want 2", len(repo.configured))
	}
}

func TestCounterServiceMapsRepositoryErrors(t *testing.T) {
	cases := map[string]struct {
		repoErr error
		want    error
	}{
		"exhausted": {
			repoErr: repositories.NewCounterError(repositories.CounterErrorExhausted, "limit", nil),
			want:    ErrCounterExhausted,
		},
		"invalid": {
			repoErr: repositories.NewCounterError(repositories.CounterErrorInvalidInput, "bad id", nil),
			want:    ErrCounterInvalidInput,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			repo := &fakeCounterRepo{
				nextFn: func(context.Context, string, int64) (int64, error) { return 0, tc.repoErr },
			}
			svc := newCounterServiceForTest(t, repo, time.Now())

			_, err := svc.Next(context.Background(), "coupons", "seasonal", CounterGenerationOptions{})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCounterServiceRejectsBlankScope(t *testing.T) {
	svc := newCounterServiceForTest(t, &fakeCounterRepo{}, time.Now())

	if _, err := svc.Next(context.Background(), "  ", "global", CounterGenerationOptions{}); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("blank scope err = %v", err)
	}
	if _, err := svc.Next(context.Background(), "orders", "", CounterGenerationOptions{}); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("blank name err = %v", err)
	}
}

func TestCounterServiceNextOrderNumber(t *testing.T) {
	repo := &fakeCounterRepo{
		nextFn: func(context.Context, string, int64) (int64, error) { return 7, nil },
	}
	svc := newCounterServiceForTest(t, repo, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))

	number, err := svc.NextOrderNumber(context.Background())
	if err != nil {
		t.Fatalf("NextOrderNumber: %v", err)
	}
	if number != "TC-2025-000007" {
		t.Fatalf("number = %s, want TC-2025-000007", number)
	}
	if len(repo.nextIDs) != 1 || repo.nextIDs[0] != "orders:2025" {
		t.Fatalf("next ids = %v, want [orders:2025]", repo.nextIDs)
	}
	// No custom step or bounds, so nothing to configure.
	if len(repo.configured) != 0 {
		t.Fatalf("configured = %+v, want none", repo.configured)
	}
}

func TestNewCounterServiceRequiresRepository(t *testing.T) {
	if _, err := NewCounterService(CounterServiceDeps{}); err == nil {
		t.Fatal("nil repository should be rejected")
	}
}
