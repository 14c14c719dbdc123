package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/threadcart/api/internal/domain"
	"github.com/threadcart/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the system utility service providing health reports.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	utcClock := func() time.Time { return clock().UTC() }

	build := deps.Build
	build.Version = strings.TrimSpace(build.Version)
	build.Environment = strings.TrimSpace(build.Environment)
	if build.StartedAt.IsZero() {
		build.StartedAt = utcClock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		clock:      utcClock,
		build:      build,
	}, nil
}

// HealthReport merges the dependency probe results with build metadata and
// process uptime.
func (s *systemService) HealthReport(ctx context.Context) (SystemReport, error) {
	if ctx == nil {
		return SystemReport{}, errors.New("system service: context is required")
	}

	probed, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemReport{}, err
	}
	now := s.clock()

	status := probed.Status
	if status == "" {
		status = domain.HealthStatusOK
	}
	checks := probed.Checks
	if checks == nil {
		checks = map[string]domain.SystemHealthCheck{}
	}
	generated := probed.GeneratedAt
	if generated.IsZero() {
		generated = now
	}

	return SystemReport{
		Status:      status,
		Checks:      checks,
		Version:     s.build.Version,
		Environment: s.build.Environment,
		Uptime:      now.Sub(s.build.StartedAt),
		GeneratedAt: generated,
	}, nil
}
