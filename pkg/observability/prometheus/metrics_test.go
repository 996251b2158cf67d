package prometheus

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fluxorio/recordlog/pkg/recordlog"
	"github.com/fluxorio/recordlog/pkg/tcp"
)

// value returns the value of the first sample of the named family, summing
// across label sets.
func value(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				sum += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				sum += metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				sum += float64(metric.GetHistogram().GetSampleCount())
			}
		}
		return sum
	}
	t.Fatalf("metric %q not found", name)
	return 0
}

func TestMetrics_ObservesLog(t *testing.T) {
	m := NewMetrics()
	log, err := recordlog.New(recordlog.Config{Capacity: 2, MaxRecordSize: 8}, recordlog.WithObserver(m))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer log.Destroy()

	h, err := log.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	for _, rec := range []string{"a\n", "b\n", "c\n"} {
		if _, err := h.Write([]byte(rec)); err != nil {
			t.Fatalf("Write(%q) error = %v", rec, err)
		}
	}
	if _, err := log.Open(); err == nil {
		t.Fatal("second Open() succeeded")
	}

	if got := value(t, m, "recordlog_records_committed_total"); got != 3 {
		t.Errorf("committed = %v, want 3", got)
	}
	if got := value(t, m, "recordlog_record_size_bytes"); got != 3 {
		t.Errorf("size samples = %v, want 3", got)
	}
	if got := value(t, m, "recordlog_records_evicted_total"); got != 1 {
		t.Errorf("evicted = %v, want 1", got)
	}
	if got := value(t, m, "recordlog_evicted_bytes_total"); got != 2 {
		t.Errorf("evicted bytes = %v, want 2", got)
	}
	if got := value(t, m, "recordlog_open_rejected_total"); got != 1 {
		t.Errorf("open rejected = %v, want 1", got)
	}
}

func TestMetrics_TruncateAndDrop(t *testing.T) {
	m := NewMetrics()
	m.OnTruncate(recordlog.TruncateInfo{Requested: 10, Accepted: 4})
	m.OnOverflowDrop(8)

	if got := value(t, m, "recordlog_writes_truncated_total"); got != 1 {
		t.Errorf("truncated = %v, want 1", got)
	}
	if got := value(t, m, "recordlog_truncated_bytes_total"); got != 6 {
		t.Errorf("truncated bytes = %v, want 6", got)
	}
	if got := value(t, m, "recordlog_pending_dropped_bytes_total"); got != 8 {
		t.Errorf("dropped bytes = %v, want 8", got)
	}
}

func TestMetrics_MirrorAndRelay(t *testing.T) {
	m := NewMetrics()
	m.OnPersisted(1, 20)
	m.OnPersisted(2, 30)
	m.OnRejected(errors.New("full"))
	m.OnRotate(2)
	m.RecordRelayPublish(nil)
	m.RecordRelayPublish(errors.New("no responders"))

	tests := []struct {
		name string
		want float64
	}{
		{"recordlog_mirror_persisted_total", 2},
		{"recordlog_mirror_persisted_bytes_total", 50},
		{"recordlog_mirror_rejected_total", 1},
		{"recordlog_mirror_rotations_total", 1},
		{"recordlog_relay_published_total", 2},
	}
	for _, tt := range tests {
		if got := value(t, m, tt.name); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMetrics_RegisterSocketSamplesAtScrape(t *testing.T) {
	m := NewMetrics()
	snap := tcp.ServerMetrics{TotalAccepted: 1, QueuedConnections: 2}
	m.RegisterSocket(func() tcp.ServerMetrics { return snap })

	if got := value(t, m, "recordlog_socket_accepted_total"); got != 1 {
		t.Errorf("accepted = %v, want 1", got)
	}
	snap.TotalAccepted = 5
	if got := value(t, m, "recordlog_socket_accepted_total"); got != 5 {
		t.Errorf("accepted = %v, want 5", got)
	}
	if got := value(t, m, "recordlog_socket_queued_connections"); got != 2 {
		t.Errorf("queued = %v, want 2", got)
	}
}

func TestMetrics_RegisterLog(t *testing.T) {
	m := NewMetrics()
	log, err := recordlog.New(recordlog.Config{Capacity: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer log.Destroy()
	m.RegisterLog(log, time.Second)

	h, _ := log.Open()
	defer h.Close()
	if _, err := h.Write([]byte("hello\nwor")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if got := value(t, m, "recordlog_retained_records"); got != 1 {
		t.Errorf("records = %v, want 1", got)
	}
	if got := value(t, m, "recordlog_retained_bytes"); got != 6 {
		t.Errorf("bytes = %v, want 6", got)
	}
	if got := value(t, m, "recordlog_pending_bytes"); got != 3 {
		t.Errorf("pending = %v, want 3", got)
	}
	if got := value(t, m, "recordlog_capacity_records"); got != 4 {
		t.Errorf("capacity = %v, want 4", got)
	}
}

func TestMetrics_LogSampledOncePerScrape(t *testing.T) {
	m := NewMetrics()
	var calls atomic.Int64
	m.registerLogSampler(func(context.Context) (recordlog.Stats, error) {
		calls.Add(1)
		return recordlog.Stats{Capacity: 10, Records: 2, Bytes: 9}, nil
	}, time.Second)

	if got := value(t, m, "recordlog_retained_records"); got != 2 {
		t.Errorf("records = %v, want 2", got)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("sampled %d times in one scrape, want 1", got)
	}
}

func TestMetrics_FailedLogSampleIsSkipped(t *testing.T) {
	m := NewMetrics()
	m.registerLogSampler(func(context.Context) (recordlog.Stats, error) {
		return recordlog.Stats{}, recordlog.ErrInterrupted
	}, time.Second)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		switch mf.GetName() {
		case "recordlog_retained_records", "recordlog_retained_bytes", "recordlog_pending_bytes":
			t.Errorf("%s exported from a failed sample", mf.GetName())
		}
	}
	// Collectors run concurrently within a Gather, so only the earlier
	// scrape's failure is guaranteed to be visible here.
	if got := value(t, m, "recordlog_log_sample_failures_total"); got < 1 {
		t.Errorf("sample failures = %v, want at least 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordHTTPRequest("GET", "/log", 200, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`recordlog_admin_http_requests_total{method="GET",path="/log",status="200"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
