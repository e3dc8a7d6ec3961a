package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/fundi/internal/config"
	"github.com/jkaninda/fundi/internal/executor"
	"github.com/jkaninda/fundi/internal/language"
	"github.com/jkaninda/fundi/internal/sandbox"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Initialize vec metrics so they appear in Gather (CounterVec only
	// appears after first use).
	m.ExecutionsTotal.WithLabelValues("process", "success").Inc()
	m.ExecutionDuration.WithLabelValues("process").Observe(0.1)
	m.VerdictsTotal.WithLabelValues("basic", "passed").Inc()
	m.RetriesTotal.Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"fundi_sandbox_executions_total",
		"fundi_sandbox_execution_duration_seconds",
		"fundi_tester_verdicts_total",
		"fundi_feedback_retries_total",
		"fundi_active_subtasks",
		"fundi_degraded_mode",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func counterValue(t *testing.T, m *MetricsCollector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if matchLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matchLabels(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// --- InstrumentedRunner ---

type stubRunner struct {
	outcome *executor.Outcome
	err     error
}

func (s *stubRunner) Run(_ context.Context, _ executor.Request) (*executor.Outcome, error) {
	return s.outcome, s.err
}

func TestInstrumentedRunner_RecordsStatus(t *testing.T) {
	cases := []struct {
		name    string
		outcome *executor.Outcome
		err     error
		status  string
		backend string
	}{
		{
			name:    "success",
			outcome: &executor.Outcome{ExitCode: 0, Backend: sandbox.BackendProcess},
			status:  "success",
			backend: "process",
		},
		{
			name:    "timeout",
			outcome: &executor.Outcome{ExitCode: 124, TimedOut: true, Backend: sandbox.BackendDocker},
			status:  "timeout",
			backend: "docker",
		},
		{
			name:    "compile error",
			outcome: &executor.Outcome{CompileError: true, Backend: sandbox.BackendProcess},
			status:  "compile_error",
			backend: "process",
		},
		{
			name:    "nonzero exit",
			outcome: &executor.Outcome{ExitCode: 1, Backend: sandbox.BackendProcess},
			status:  "nonzero_exit",
			backend: "process",
		},
		{
			name:    "runner error",
			err:     errors.New("boom"),
			status:  "error",
			backend: "unknown",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMetricsCollector()
			r := NewInstrumentedRunner(&stubRunner{outcome: tc.outcome, err: tc.err}, m)

			_, err := r.Run(context.Background(), executor.Request{Language: language.Python})
			if (err != nil) != (tc.err != nil) {
				t.Fatalf("unexpected error state: %v", err)
			}

			got := counterValue(t, m, "fundi_sandbox_executions_total",
				map[string]string{"backend": tc.backend, "status": tc.status})
			if got != 1 {
				t.Errorf("counter{backend=%q,status=%q} = %v, want 1", tc.backend, tc.status, got)
			}
		})
	}
}

func TestInstrumentedRunner_NilMetricsPassthrough(t *testing.T) {
	want := &executor.Outcome{ExitCode: 0}
	r := NewInstrumentedRunner(&stubRunner{outcome: want}, nil)
	got, err := r.Run(context.Background(), executor.Request{})
	if err != nil || got != want {
		t.Fatalf("passthrough failed: got %v, err %v", got, err)
	}
}

// --- Metrics listener ---

func TestServeMux_HealthzReportsReadiness(t *testing.T) {
	obs := &Observability{
		Metrics: NewMetricsCollector(),
		Health:  NewHealthChecker(nil),
	}
	mux := obs.serveMux("/metrics")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with no checks registered", rec.Code)
	}
	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if status.Status != "ok" {
		t.Errorf("body status = %q, want ok", status.Status)
	}

	// Checks registered after the mux is built still count.
	obs.Health.AddCheck("storage", func(ctx context.Context) error {
		return errors.New("database gone")
	})
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 with a failing check", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if status.Status != "degraded" || status.Checks["storage"].Status != "fail" {
		t.Errorf("body = %+v, want degraded storage", status)
	}
}

func TestServeMux_MetricsEndpoint(t *testing.T) {
	obs := &Observability{
		Metrics: NewMetricsCollector(),
		Health:  NewHealthChecker(nil),
	}
	obs.Metrics.RetriesTotal.Inc()
	mux := obs.serveMux("/metrics")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "fundi_feedback_retries_total") {
		t.Error("metrics exposition missing fundi counters")
	}
}

// --- HealthChecker ---

func TestHealthChecker_AllPassing(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("storage", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_FailingCheck(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("storage", func(ctx context.Context) error { return nil })
	h.AddCheck("docker", func(ctx context.Context) error { return errors.New("daemon unreachable") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["docker"].Status != "fail" {
		t.Errorf("docker check = %+v, want fail", status.Checks["docker"])
	}
	if status.Checks["storage"].Status != "ok" {
		t.Errorf("storage check = %+v, want ok", status.Checks["storage"])
	}
}

func TestHealthChecker_ChecksGetDeadline(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("deadline", func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline set")
		}
		return nil
	})

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok: %+v", status.Status, status.Checks)
	}
}
