package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"dvetransfer/internal/inbox"
	"dvetransfer/internal/metrics"
)

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	server := httptest.NewServer(m.Handler())
	defer server.Close()
	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestObserverCountsOutcomes(t *testing.T) {
	m := metrics.New()
	m.ItemCompleted("extraction", inbox.KindProcessed)
	m.ItemCompleted("extraction", inbox.KindProcessed)
	m.ItemCompleted("extraction", inbox.KindRejected)
	m.PollFailed("ordering")

	body := scrape(t, m)
	for _, want := range []string{
		`dvetransfer_stage_items_total{outcome="processed",stage="extraction"} 2`,
		`dvetransfer_stage_items_total{outcome="rejected",stage="extraction"} 1`,
		`dvetransfer_stage_poll_errors_total{stage="ordering"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}

func TestBatchMetrics(t *testing.T) {
	m := metrics.New()
	m.BatchFlushed(3, 300, nil)
	m.BatchFlushed(2, 200, errors.New("archive down"))
	m.LayerCreated()

	body := scrape(t, m)
	for _, want := range []string{
		`dvetransfer_batch_flushes_total{result="submitted"} 1`,
		`dvetransfer_batch_flushes_total{result="failed"} 1`,
		`dvetransfer_batch_items_submitted_total 3`,
		`dvetransfer_batch_bytes_submitted_total 300`,
		`dvetransfer_archive_layers_created_total 1`,
		`dvetransfer_uptime_seconds`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	first := metrics.New()
	second := metrics.New()
	first.LayerCreated()
	if strings.Contains(scrape(t, second), "dvetransfer_archive_layers_created_total 1") {
		t.Fatal("collectors must be private to one Metrics instance")
	}
}
