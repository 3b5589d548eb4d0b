package healthcheck

import (
	"context"
	"errors"
	"testing"
)

type staticChecker struct {
	name string
	err  error
}

func (c staticChecker) Name() string                  { return c.name }
func (c staticChecker) Check(_ context.Context) error { return c.err }

func TestRunAllHealthy(t *testing.T) {
	t.Parallel()

	svc := NewService(nil, staticChecker{name: "a"}, staticChecker{name: "b"})
	results, healthy := svc.Run(context.Background())

	if !healthy {
		t.Fatal("expected healthy")
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Status != StatusOK {
			t.Fatalf("result %s status = %s", r.Name, r.Status)
		}
	}
}

func TestRunReportsFailure(t *testing.T) {
	t.Parallel()

	svc := NewService(nil,
		staticChecker{name: "a"},
		staticChecker{name: "b", err: errors.New("connection refused")})
	results, healthy := svc.Run(context.Background())

	if healthy {
		t.Fatal("expected unhealthy")
	}
	if results[1].Status != StatusError || results[1].Detail == "" {
		t.Fatalf("failing result = %+v", results[1])
	}
	if results[0].Status != StatusOK {
		t.Fatalf("sibling check affected: %+v", results[0])
	}
}
