package influx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quentinrf/sky-quality-meter/internal/domain"
)

// writeRecorder captures line-protocol bodies posted to /api/v2/write
type writeRecorder struct {
	mu     sync.Mutex
	bodies []string
	query  string
	status int
}

func (w *writeRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v2/write" {
		rw.WriteHeader(http.StatusNotFound)
		return
	}
	body, _ := io.ReadAll(r.Body)

	w.mu.Lock()
	w.bodies = append(w.bodies, string(body))
	w.query = r.URL.RawQuery
	status := w.status
	w.mu.Unlock()

	if status == 0 {
		status = http.StatusNoContent
	}
	rw.WriteHeader(status)
}

func (w *writeRecorder) last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.bodies) == 0 {
		return ""
	}
	return w.bodies[len(w.bodies)-1]
}

func newTestSink(t *testing.T, rec *writeRecorder) *Sink {
	t.Helper()
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	sink := NewSink(Config{URL: srv.URL, Token: "token", Org: "home", Bucket: "sky"})
	t.Cleanup(sink.Close)
	return sink
}

func measurement(lux float64) *domain.Measurement {
	m, _ := domain.NewMeasurement(domain.NewReading(lux))
	m.Timestamp = time.Unix(1700000000, 0)
	return m
}

func TestPublish(t *testing.T) {
	rec := &writeRecorder{}
	sink := newTestSink(t, rec)

	if err := sink.Publish(context.Background(), measurement(0.001)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	line := rec.last()
	for _, want := range []string{
		"sky_quality,",
		`category=City\ Sky`,
		"lux=0.001",
		"sqm=18.857",
		"bortle=7i",
		"1700000000000000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
	if !strings.Contains(rec.query, "bucket=sky") || !strings.Contains(rec.query, "org=home") {
		t.Errorf("unexpected write query %q", rec.query)
	}
}

func TestPublish_InvalidReading(t *testing.T) {
	rec := &writeRecorder{}
	sink := newTestSink(t, rec)

	if err := sink.Publish(context.Background(), measurement(0)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	line := rec.last()
	if !strings.Contains(line, "category=Unknown") || !strings.Contains(line, "lux=0") {
		t.Errorf("unexpected line %q", line)
	}
	if strings.Contains(line, "sqm=") || strings.Contains(line, "bortle=") {
		t.Errorf("expected no sqm or bortle fields in %q", line)
	}
}

func TestPublish_ServerError(t *testing.T) {
	rec := &writeRecorder{status: http.StatusUnauthorized}
	sink := newTestSink(t, rec)

	if err := sink.Publish(context.Background(), measurement(0.001)); err == nil {
		t.Error("expected error on rejected write, got nil")
	}
}
