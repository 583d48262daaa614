package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func okCheck(context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", okCheck))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", response.Status)
	}
	if response.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", response.Version)
	}
	if len(response.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(response.Checks))
	}
}

func TestHealthHandler_Statuses(t *testing.T) {
	failing := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		checkers   map[string]Checker
		wantStatus Status
		wantCode   int
	}{
		{
			name:       "no checkers",
			checkers:   map[string]Checker{},
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name: "optional kafka down",
			checkers: map[string]Checker{
				"postgres": NewSimpleChecker("postgres", okCheck),
				"kafka":    NewSimpleChecker("kafka", failing).Optional(),
			},
			wantStatus: StatusDegraded,
			wantCode:   http.StatusOK,
		},
		{
			name: "critical postgres down",
			checkers: map[string]Checker{
				"postgres": NewSimpleChecker("postgres", failing),
				"kafka":    NewSimpleChecker("kafka", failing).Optional(),
			},
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := NewHandler("test")
			for name, checker := range tt.checkers {
				handler.RegisterChecker(name, checker)
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if w.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
			}
			var response Response
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, response.Status)
			}
		})
	}
}

func TestLivenessHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	LivenessHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("expected body 'ok', got %s", w.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("redis", NewPingChecker("redis", pingerFunc(okCheck)))

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "ready" {
		t.Errorf("expected body 'ready', got %s", w.Body.String())
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.RegisterChecker("redis", NewPingChecker("redis", pingerFunc(func(context.Context) error {
		return errors.New("not ready")
	})))

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	if w.Body.String() != "not ready" {
		t.Errorf("expected body 'not ready', got %s", w.Body.String())
	}
}

func TestSimpleChecker(t *testing.T) {
	checker := NewSimpleChecker("test", func(context.Context) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	check := checker.Check(context.Background())

	if check.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", check.Status)
	}
	if check.DurationMs < 10 {
		t.Errorf("expected duration >= 10ms, got %dms", check.DurationMs)
	}
}

func TestSimpleChecker_Error(t *testing.T) {
	checker := NewSimpleChecker("test", func(context.Context) error {
		return errors.New("test error")
	})

	check := checker.Check(context.Background())

	if check.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", check.Status)
	}
	if check.Message != "test error" {
		t.Errorf("expected message 'test error', got %s", check.Message)
	}
}

func TestSimpleChecker_ReceivesDeadline(t *testing.T) {
	handler := NewHandler("test")
	handler.RegisterChecker("slow", NewSimpleChecker("slow", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		return nil
	}))

	response := handler.Evaluate(context.Background())
	if response.Status != StatusHealthy {
		t.Errorf("expected check to receive a deadline, got %+v", response.Checks["slow"])
	}
}
