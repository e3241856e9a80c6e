package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// value sums every sample of the named family.
func value(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range f.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				sum += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				sum += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				sum += float64(m.GetHistogram().GetSampleCount())
			}
		}
		return sum
	}
	return 0
}

func TestRecorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest(KindPage, 200)
	m.ObserveRequest(KindPage, 200)
	m.ObserveRequest(KindStatic, 304)
	m.ObserveRender("", time.Millisecond)
	m.ObserveRebuild(true, time.Second)
	m.ObserveRebuild(false, time.Second)
	m.SetHotReloadClients(3)
	m.IncBroadcastFailure()
	m.IncModuleLoadError()

	tests := map[string]float64{
		"kiln_requests_total":           3,
		"kiln_render_duration_seconds":  1,
		"kiln_rebuilds_total":           2,
		"kiln_rebuild_duration_seconds": 2,
		"kiln_hot_reload_clients":       3,
		"kiln_broadcast_failures_total": 1,
		"kiln_module_load_errors_total": 1,
	}
	for name, want := range tests {
		if got := value(t, reg, name); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest(KindPage, 500)
	m.ObserveRender("/x", time.Second)
	m.ObserveRebuild(true, 0)
	m.SetHotReloadClients(1)
	m.IncBroadcastFailure()
	m.IncModuleLoadError()
	if m.Registry() != nil {
		t.Error("nil metrics has a registry")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.ObserveRequest(KindHotReload, 200)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	res, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(body), `kiln_requests_total{kind="hot_reload",status="200"} 1`) {
		t.Errorf("exposition missing request counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("default registry lacks runtime collectors")
	}
}
