package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeIngestStats []map[string]interface{}

func (f fakeIngestStats) Stats() []map[string]interface{} { return f }

func serveHealth(t *testing.T, h *HealthHandler) (int, map[string]interface{}) {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterHealth(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	return w.Code, body
}

func TestHealth(t *testing.T) {
	stats := fakeIngestStats{{"identity": testPhone, "queue_len": 0, "processed": 3}}
	h := NewHealthHandler(fakePinger{}, func() []string { return []string{testPhone} }, stats)

	code, body := serveHealth(t, h)
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v", body["status"])
	}
	if body["active_sessions"] != float64(1) {
		t.Errorf("active_sessions = %v, want 1", body["active_sessions"])
	}
	ingest, ok := body["ingest"].([]interface{})
	if !ok || len(ingest) != 1 {
		t.Fatalf("ingest = %v", body["ingest"])
	}
	if entry := ingest[0].(map[string]interface{}); entry["identity"] != testPhone || entry["processed"] != float64(3) {
		t.Errorf("ingest entry = %v", entry)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	h := NewHealthHandler(fakePinger{err: errors.New("locked")}, nil, nil)

	code, body := serveHealth(t, h)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body["status"] != "degraded" {
		t.Errorf("status field = %v", body["status"])
	}
	if _, present := body["ingest"]; present {
		t.Error("ingest reported without a pipeline")
	}
}
