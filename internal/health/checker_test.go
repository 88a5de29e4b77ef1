package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func healthy(context.Context) error { return nil }

func TestChecker_Liveness(t *testing.T) {
	t.Parallel()
	checker := NewChecker()

	response := checker.Liveness(context.Background())

	if response.Status != StatusHealthy {
		t.Errorf("Expected healthy status, got %s", response.Status)
	}
}

func TestChecker_Readiness_NoChecks(t *testing.T) {
	t.Parallel()
	checker := NewChecker()

	response := checker.Readiness(context.Background())

	if response.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy status, got %s", response.Status)
	}
	if _, ok := response.Checks["engine"]; !ok {
		t.Fatal("Expected engine check to be present")
	}
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()
	down := ReadyFunc(func(context.Context) error { return errors.New("daemon down") })

	tests := []struct {
		name     string
		critical ReadinessChecker
		optional ReadinessChecker
		want     Status
		ready    bool
	}{
		{"all healthy", ReadyFunc(healthy), ReadyFunc(healthy), StatusHealthy, true},
		{"optional failing", ReadyFunc(healthy), down, StatusDegraded, true},
		{"critical failing", down, ReadyFunc(healthy), StatusUnhealthy, false},
		{"both failing", down, down, StatusUnhealthy, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			checker := NewChecker()
			checker.Register("engine", tt.critical)
			checker.RegisterOptional("peer", tt.optional)

			response := checker.Readiness(context.Background())
			if response.Status != tt.want {
				t.Errorf("Status = %s, want %s", response.Status, tt.want)
			}
			if response.IsReady() != tt.ready {
				t.Errorf("IsReady() = %v, want %v", response.IsReady(), tt.ready)
			}
			if len(response.Checks) != 2 {
				t.Errorf("Checks = %v, want 2 entries", response.Checks)
			}
		})
	}
}

func TestChecker_ReadinessCached(t *testing.T) {
	t.Parallel()
	var calls atomic.Int64
	checker := NewChecker()
	checker.Register("engine", ReadyFunc(func(context.Context) error {
		calls.Add(1)
		return nil
	}))

	checker.Readiness(context.Background())
	checker.Readiness(context.Background())
	if calls.Load() != 1 {
		t.Errorf("checks run = %d, want 1 within the cache window", calls.Load())
	}
}

func TestChecker_ShuttingDown(t *testing.T) {
	t.Parallel()
	checker := NewChecker()
	checker.Register("engine", ReadyFunc(healthy))
	if !checker.Readiness(context.Background()).IsHealthy() {
		t.Fatal("expected healthy before shutdown")
	}

	checker.SetShuttingDown()
	response := checker.Readiness(context.Background())
	if response.Status != StatusUnhealthy {
		t.Errorf("Status = %s, want unhealthy", response.Status)
	}
	if _, ok := response.Checks["shutdown"]; !ok {
		t.Error("expected shutdown check")
	}
}

func TestResponse_IsHealthy(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		status   Status
		expected bool
	}{
		{"healthy", StatusHealthy, true},
		{"unhealthy", StatusUnhealthy, false},
		{"degraded", StatusDegraded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			response := &Response{Status: tt.status}
			if response.IsHealthy() != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", response.IsHealthy(), tt.expected)
			}
		})
	}
}
