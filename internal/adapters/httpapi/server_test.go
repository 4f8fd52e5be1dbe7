package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/quentinrf/sky-quality-meter/internal/adapters/memory"
	"github.com/quentinrf/sky-quality-meter/internal/domain"
	"github.com/quentinrf/sky-quality-meter/internal/ports"
)

type stubMeter struct {
	mu  sync.Mutex
	lux float64
	err error
}

func (m *stubMeter) Read(ctx context.Context) (domain.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Reading{}, m.err
	}
	return domain.NewReading(m.lux), nil
}

func (m *stubMeter) Close() error { return nil }

type testEnv struct {
	router *gin.Engine
	repo   *memory.MeasurementRepository
	meter  *stubMeter
	hub    *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := memory.NewMeasurementRepository()
	meter := &stubMeter{lux: 0.001}
	hub := NewHub()
	t.Cleanup(hub.Close)

	recorder := ports.NewRecorder(meter, repo, time.Minute, 24*time.Hour, hub)

	router := NewRouter()
	NewServer(repo, recorder, hub).SetupRoutes(router)

	return &testEnv{router: router, repo: repo, meter: meter, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	return w, resp
}

// decode re-encodes the generic Data field into v
func decode(t *testing.T, data any, v any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
}

func seed(t *testing.T, repo domain.MeasurementRepository, lux float64, ts time.Time) {
	t.Helper()
	m, err := domain.NewMeasurement(domain.NewReading(lux))
	if err != nil {
		t.Fatalf("NewMeasurement failed: %v", err)
	}
	m.Timestamp = ts
	if err := repo.SaveMeasurement(context.Background(), m); err != nil {
		t.Fatalf("SaveMeasurement failed: %v", err)
	}
}

func TestTakeReading(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodPost, "/api/v1/readings")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var reading ReadingResponse
	decode(t, resp.Data, &reading)
	if reading.Line != "LUX:0.00100,SQM:18.86" {
		t.Errorf("unexpected line %q", reading.Line)
	}
	if reading.SQM == nil || *reading.SQM < 18.85 || *reading.SQM > 18.86 {
		t.Errorf("unexpected sqm %v", reading.SQM)
	}
	if reading.Bortle != 7 || reading.Category != "City Sky" {
		t.Errorf("unexpected classification %d/%q", reading.Bortle, reading.Category)
	}

	if _, err := env.repo.GetMeasurement(context.Background(), reading.ID); err != nil {
		t.Errorf("expected reading %d to be stored: %v", reading.ID, err)
	}
}

func TestTakeReading_InvalidReadingHasNullSQM(t *testing.T) {
	env := newTestEnv(t)
	env.meter.lux = 0

	w, _ := env.do(t, http.MethodPost, "/api/v1/readings")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"sqm":null`) {
		t.Errorf("expected null sqm in %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), domain.InvalidLine) {
		t.Errorf("expected %q in %s", domain.InvalidLine, w.Body.String())
	}
}

func TestTakeReading_MeterUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.meter.err = domain.ErrNoData

	w, resp := env.do(t, http.MethodPost, "/api/v1/readings")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	if resp.Status != "error" {
		t.Errorf("expected error status, got %q", resp.Status)
	}
}

func TestGetLatest(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodGet, "/api/v1/readings/latest")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before any reading, got %d", w.Code)
	}

	now := time.Now()
	seed(t, env.repo, 0.001, now.Add(-time.Minute))
	seed(t, env.repo, 0.0001, now)

	w, resp := env.do(t, http.MethodGet, "/api/v1/readings/latest")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var reading ReadingResponse
	decode(t, resp.Data, &reading)
	if reading.Lux != 0.0001 {
		t.Errorf("expected latest lux 0.0001, got %v", reading.Lux)
	}
}

func TestGetHistory(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().Truncate(time.Second)
	seed(t, env.repo, 0.001, now.Add(-3*time.Hour))
	seed(t, env.repo, 0.001, now.Add(-30*time.Minute))
	seed(t, env.repo, 0, now.Add(-20*time.Minute))

	start := strconv.FormatInt(now.Add(-time.Hour).Unix(), 10)
	end := strconv.FormatInt(now.Unix(), 10)

	w, resp := env.do(t, http.MethodGet, "/api/v1/readings?start="+start+"&end="+end)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var history HistoryResponse
	decode(t, resp.Data, &history)
	if history.Count != 2 || history.ValidCount != 1 {
		t.Errorf("expected counts 2/1, got %d/%d", history.Count, history.ValidCount)
	}
	if len(history.Readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(history.Readings))
	}
	if history.Readings[1].SQM != nil {
		t.Errorf("expected null sqm for dark reading, got %v", *history.Readings[1].SQM)
	}
	if history.MinSQM == nil || history.MaxSQM == nil || *history.MinSQM != *history.MaxSQM {
		t.Errorf("expected equal min and max, got %v/%v", history.MinSQM, history.MaxSQM)
	}
}

func TestGetHistory_DefaultWindow(t *testing.T) {
	env := newTestEnv(t)

	seed(t, env.repo, 0.001, time.Now().Add(-48*time.Hour))
	seed(t, env.repo, 0.001, time.Now().Add(-time.Hour))

	w, resp := env.do(t, http.MethodGet, "/api/v1/readings")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var history HistoryResponse
	decode(t, resp.Data, &history)
	if history.Count != 1 {
		t.Errorf("expected 1 reading in the last 24h, got %d", history.Count)
	}
}

func TestGetHistory_BadRequest(t *testing.T) {
	env := newTestEnv(t)

	cases := []string{
		"/api/v1/readings?start=yesterday",
		"/api/v1/readings?end=1.5",
		"/api/v1/readings?start=200&end=100",
	}

	for _, target := range cases {
		w, resp := env.do(t, http.MethodGet, target)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, w.Code)
		}
		if resp.Error == "" {
			t.Errorf("%s: expected an error message", target)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/readings", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected allow-origin *, got %q", got)
	}
}

func TestWebSocketReceivesRecordedReadings(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with the hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w, _ := env.do(t, http.MethodPost, "/api/v1/readings")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ReadingResponse
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if msg.Line != "LUX:0.00100,SQM:18.86" {
		t.Errorf("unexpected line %q", msg.Line)
	}
}

func TestHub_DropsClosedClients(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered with the hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for env.hub.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was not removed after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
