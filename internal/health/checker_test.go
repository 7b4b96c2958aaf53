package health_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/readmeabook/readmeabook/internal/health"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(_ context.Context) error { return f.err }

func newTestChecker(p health.Pinger) (*health.Checker, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return health.NewChecker(p, logger, reg), reg
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, dependency string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "readmeabook_health_check_up" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "dependency" && lp.GetValue() == dependency {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("gauge for dependency %q not found", dependency)
	return 0
}

func TestLiveness_UpEvenWhenDBIsDown(t *testing.T) {
	c, _ := newTestChecker(&fakePinger{err: errors.New("db down")})

	result := c.Liveness(context.Background())
	if !result.Up() {
		t.Fatalf("liveness status = %s, want up", result.Status)
	}
	if result.Checks != nil {
		t.Fatalf("liveness ran checks: %v", result.Checks)
	}
}

func TestReadiness_PostgresUp(t *testing.T) {
	c, reg := newTestChecker(&fakePinger{})

	result := c.Readiness(context.Background())
	if !result.Up() {
		t.Fatalf("status = %s, want up", result.Status)
	}
	if pg := result.Checks["postgres"]; pg.Status != "up" {
		t.Fatalf("postgres check = %+v, want up", pg)
	}
	if got := gaugeValue(t, reg, "postgres"); got != 1 {
		t.Errorf("gauge = %f, want 1", got)
	}
}

func TestReadiness_PostgresDown(t *testing.T) {
	c, reg := newTestChecker(&fakePinger{err: errors.New("connection refused")})

	result := c.Readiness(context.Background())
	if result.Up() {
		t.Fatal("status up with postgres down")
	}
	pg := result.Checks["postgres"]
	if pg.Status != "down" || pg.Error == "" {
		t.Fatalf("postgres check = %+v, want down with error", pg)
	}
	if got := gaugeValue(t, reg, "postgres"); got != 0 {
		t.Errorf("gauge = %f, want 0", got)
	}
}
