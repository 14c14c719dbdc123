package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/threadcart/api/internal/repositories"
)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the requested counter cannot increment further due to max bounds.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

// orderNumberFormat yields numbers like TC-2026-000042.
const orderNumberFormat = "TC-%04d-%06d"

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time

	mu      sync.Mutex
	applied map[string]counterSettings
}

// counterSettings mirrors the options already pushed to the repository for a
// counter, so repeat calls with identical options skip the Configure write.
type counterSettings struct {
	step    int64
	max     int64
	hasMax  bool
	init    int64
	hasInit bool
}

func settingsFrom(opts CounterGenerationOptions) counterSettings {
	s := counterSettings{}
	if opts.Step > 0 {
		s.step = opts.Step
	}
	if opts.MaxValue != nil {
		s.hasMax = true
		s.max = *opts.MaxValue
	}
	if opts.InitialValue != nil {
		s.hasInit = true
		s.init = *opts.InitialValue
	}
	return s
}

func (s counterSettings) empty() bool {
	return s.step == 0 && !s.hasMax && !s.hasInit
}

func (s counterSettings) config() repositories.CounterConfig {
	cfg := repositories.CounterConfig{Step: s.step}
	if s.hasMax {
		max := s.max
		cfg.MaxValue = &max
	}
	if s.hasInit {
		init := s.init
		cfg.InitialValue = &init
	}
	return cfg
}

// NewCounterService constructs a service that manages counter sequences on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &counterService{
		repo:    deps.Repository,
		clock:   func() time.Time { return clock().UTC() },
		applied: make(map[string]counterSettings),
	}, nil
}

func (s *counterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	scope = strings.TrimSpace(scope)
	name = strings.TrimSpace(name)
	if scope == "" {
		return CounterValue{}, fmt.Errorf("%w: scope is required", ErrCounterInvalidInput)
	}
	if name == "" {
		return CounterValue{}, fmt.Errorf("%w: name is required", ErrCounterInvalidInput)
	}
	counterID := scope + ":" + name

	if err := s.configure(ctx, counterID, settingsFrom(opts)); err != nil {
		return CounterValue{}, err
	}

	value, err := s.repo.Next(ctx, counterID, opts.Step)
	if err != nil {
		return CounterValue{}, translateCounterError(err)
	}
	return CounterValue{Value: value, Formatted: s.render(value, opts)}, nil
}

// NextOrderNumber allocates the next human-readable order number. Sequences
// restart every calendar year under a per-year counter.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	year := s.clock().Year()
	result, err := s.Next(ctx, "orders", fmt.Sprintf("%04d", year), CounterGenerationOptions{
		Formatter: func(_ time.Time, seq int64) string {
			return fmt.Sprintf(orderNumberFormat, year, seq)
		},
	})
	if err != nil {
		return "", err
	}
	return result.Formatted, nil
}

// configure pushes counter settings to the repository once per distinct
// settings value. An empty settings set never writes.
func (s *counterService) configure(ctx context.Context, counterID string, want counterSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if got, ok := s.applied[counterID]; ok && got == want {
		return nil
	}
	if !want.empty() {
		if err := s.repo.Configure(ctx, counterID, want.config()); err != nil {
			return err
		}
	}
	s.applied[counterID] = want
	return nil
}

func (s *counterService) render(value int64, opts CounterGenerationOptions) string {
	if opts.Formatter != nil {
		return opts.Formatter(s.clock(), value)
	}
	var b strings.Builder
	b.WriteString(opts.Prefix)
	if opts.PadLength > 0 {
		fmt.Fprintf(&b, "%0*d", opts.PadLength, value)
	} else {
		fmt.Fprintf(&b, "%d", value)
	}
	b.WriteString(opts.Suffix)
	return b.String()
}

func translateCounterError(err error) error {
	var counterErr *repositories.CounterError
	if !errors.As(err, &counterErr) {
		return err
	}
	switch counterErr.Code {
	case repositories.CounterErrorInvalidInput:
		return fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
	case repositories.CounterErrorExhausted:
		return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
	default:
		return err
	}
}
