// Package ops serves the operator-facing JSON API: recent admission
// decisions and aggregate statistics. It binds separately from the proxy
// so it can stay on a private interface.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/edgegate/edgegate/api"
	"github.com/edgegate/edgegate/internal/decision"
)

// Server is the ops API HTTP server.
type Server struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	decisions decision.Store
	addr      string
}

// NewServer creates an ops server over the given decision store.
func NewServer(addr string, decisions decision.Store, logger *slog.Logger) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		logger:    logger,
		decisions: decisions,
		addr:      addr,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/decisions", s.handleDecisions)
	s.mux.HandleFunc("GET /api/v1/stats", s.handleStats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, err := s.decisions.Query(r.Context(), filter)
	if err != nil {
		s.logger.Error("querying decisions", "error", err)
		http.Error(w, "failed to query decisions", http.StatusInternalServerError)
		return
	}

	// Newest first
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if records == nil {
		records = []*api.DecisionRecord{}
	}
	writeJSON(w, records)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.decisions.Stats(r.Context())
	if err != nil {
		s.logger.Error("computing decision stats", "error", err)
		http.Error(w, "failed to get stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func filterFromQuery(r *http.Request) (api.QueryFilter, error) {
	q := r.URL.Query()
	filter := api.QueryFilter{
		Stage:   q.Get("stage"),
		Outcome: api.Outcome(q.Get("outcome")),
		Client:  q.Get("client"),
		Limit:   100,
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return filter, &badParamError{"limit", v}
		}
		filter.Limit = limit
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, &badParamError{"since", v}
		}
		filter.Since = ts
	}
	return filter, nil
}

type badParamError struct {
	name  string
	value string
}

func (e *badParamError) Error() string {
	return "invalid " + e.name + " parameter: " + e.value
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// ListenAndServe starts the ops API server.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.logger.Info("starting ops API", "addr", s.addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed || ctx.Err() != nil {
		return nil
	}
	return err
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}
