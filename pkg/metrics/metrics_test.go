package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounterAndGauge(t *testing.T) {
	Reset()
	Inc("audit_total", map[string]string{"result": "accept"})
	Inc("audit_total", map[string]string{"result": "accept"})
	Inc("audit_total", map[string]string{"result": "reject"})
	SetGauge("tracked_files", nil, 4)
	AddGauge("tracked_files", nil, -1)

	if got := Value("audit_total", map[string]string{"result": "accept"}); got != 2 {
		t.Fatalf("accept counter: got %v want 2", got)
	}
	if got := Value("tracked_files", nil); got != 3 {
		t.Fatalf("gauge: got %v want 3", got)
	}
}

func TestMismatchedLabelsIgnored(t *testing.T) {
	Reset()
	Inc("ledger_calls_total", map[string]string{"op": "prove"})
	// different label set must not panic
	Inc("ledger_calls_total", map[string]string{"endpoint": "prove"})
	if got := Value("ledger_calls_total", map[string]string{"op": "prove"}); got != 1 {
		t.Fatalf("got %v want 1", got)
	}
}

func TestDumpPromAndHandler(t *testing.T) {
	Reset()
	ObserveSummary("prove_ms", map[string]string{"scheme": "bls12381"}, 12)
	Inc("sweeps_total", nil)
	out := DumpProm()
	if !strings.Contains(out, "prove_ms") || !strings.Contains(out, "sweeps_total 1") {
		t.Fatalf("dump missing families:\n%s", out)
	}
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), "sweeps_total") {
		t.Fatalf("handler: code=%d body=%s", rec.Code, rec.Body.String())
	}
}
