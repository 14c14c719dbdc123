package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/threadcart/api/internal/domain"
)

type stubHealthRepository struct {
	collectFn func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.collectFn != nil {
		return s.collectFn(ctx)
	}
	return domain.SystemHealthReport{}, nil
}

func TestSystemServiceHealthReport(t *testing.T) {
	generated := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusDegraded},
				},
				GeneratedAt: generated,
			}, nil
		},
	}

	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return generated },
		Build:            BuildInfo{Version: "1.4.0", Environment: "staging", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}

	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Version != "1.4.0" || report.Environment != "staging" {
		t.Fatalf("unexpected build info: %+v", report)
	}
	if report.Uptime != 2*time.Hour {
		t.Fatalf("expected uptime 2h, got %s", report.Uptime)
	}
	if len(report.Checks) != 1 {
		t.Fatalf("expected one check, got %d", len(report.Checks))
	}
	if !report.GeneratedAt.Equal(generated) {
		t.Fatalf("unexpected generated at %s", report.GeneratedAt)
	}
}

func TestSystemServiceHealthReportDefaults(t *testing.T) {
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{},
		Clock:            func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected default ok status, got %s", report.Status)
	}
	if report.Checks == nil {
		t.Fatalf("expected non-nil checks map")
	}
	if report.GeneratedAt.IsZero() {
		t.Fatalf("expected generated timestamp")
	}
}

func TestSystemServiceHealthReportPropagatesErrors(t *testing.T) {
	repoErr := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{
			collectFn: func(context.Context) (domain.SystemHealthReport, error) {
				return domain.SystemHealthReport{}, repoErr
			},
		},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, repoErr) {
		t.Fatalf("expected repository error, got %v", err)
	}
}
