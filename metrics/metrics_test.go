package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGaugeScrape(t *testing.T) {
	t.Parallel()

	m := New()
	var drops float64 = 7
	m.Gauge("screenreflect_video_dropped_total", "Video frames dropped on overflow", func() float64 {
		return drops
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "screenreflect_video_dropped_total 7") {
		t.Errorf("scrape output missing gauge:\n%s", body)
	}
}

func TestCounterScrape(t *testing.T) {
	t.Parallel()

	m := New()
	m.Counter("screenreflect_packets_sent_total", "Packets written to the transport", func() float64 {
		return 42
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "screenreflect_packets_sent_total 42") {
		t.Errorf("scrape output missing counter:\n%s", rec.Body.String())
	}
}

func TestDebugHandler(t *testing.T) {
	t.Parallel()

	h := DebugHandler(func() any {
		return map[string]int{"videoQueueLen": 3}
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/debug/stats", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type: %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"videoQueueLen":3`) {
		t.Errorf("body: %s", rec.Body.String())
	}
}
