package ops

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgegate/edgegate/api"
	"github.com/edgegate/edgegate/internal/decision"
)

func testServer(t *testing.T) (*Server, decision.Store) {
	t.Helper()
	store, err := decision.NewJSONLStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(":0", store, logger), store
}

func seedDecisions(t *testing.T, store decision.Store) {
	t.Helper()
	records := []*api.DecisionRecord{
		{Timestamp: time.Now(), Client: "10.0.0.1", Path: "/healthz", Outcome: api.OutcomeAllow},
		{Timestamp: time.Now(), Client: "10.0.0.2", Path: "/api/secret/../x", Outcome: api.OutcomeDeny, Stage: "shield", Reason: "path traversal attempt"},
		{Timestamp: time.Now(), Client: "10.0.0.2", Path: "/api/interviews", Outcome: api.OutcomeDeny, Stage: "interview-quota", Reason: api.ReasonQuotaExceeded},
	}
	for _, rec := range records {
		if err := store.Write(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDecisionsEndpoint(t *testing.T) {
	s, store := testServer(t)
	seedDecisions(t, store)

	req := httptest.NewRequest("GET", "/api/v1/decisions", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var records []*api.DecisionRecord
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	// Newest first
	if records[0].Stage != "interview-quota" {
		t.Errorf("expected newest record first, got stage %q", records[0].Stage)
	}
}

func TestDecisionsEndpoint_Filtered(t *testing.T) {
	s, store := testServer(t)
	seedDecisions(t, store)

	req := httptest.NewRequest("GET", "/api/v1/decisions?outcome=deny&stage=shield", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	var records []*api.DecisionRecord
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 shield deny, got %d", len(records))
	}
	if records[0].Reason != "path traversal attempt" {
		t.Errorf("unexpected reason %q", records[0].Reason)
	}
}

func TestDecisionsEndpoint_InvalidLimit(t *testing.T) {
	s, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/v1/decisions?limit=zero", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	s, store := testServer(t)
	seedDecisions(t, store)

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var stats api.DecisionStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalRequests != 3 || stats.AllowCount != 1 || stats.DenyCount != 2 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.ByStage["shield"] != 1 {
		t.Errorf("expected 1 shield deny in stats, got %d", stats.ByStage["shield"])
	}
}
