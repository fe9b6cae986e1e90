// Package mockapi serves canned dashboard datasets over REST so pages can
// be developed and tested without a real backend. Every response has the
// shape {"data": ..., "meta": {...}}.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"dashcore/core/logger"

	"go.uber.org/zap"
)

// Datasets lists the dataset names served under /api/.
var Datasets = []string{"assets", "tasks", "statusSummary", "activity", "stats", "filters", "hierarchy"}

// Option configures a Server.
type Option func(*options)

type options struct {
	rnd *rand.Rand
	now func() time.Time
}

// WithRand sets the random source, making generated data reproducible.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rnd = r }
}

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Server is the mock REST backend.
type Server struct {
	src *source
	mux *http.ServeMux

	mu      sync.Mutex
	httpSrv *http.Server
	addr    string
}

// New builds a Server and generates its data.
func New(opts ...Option) *Server {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rnd == nil {
		o.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	s := &Server{src: newSource(o.rnd, o.now), mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	s.mux.HandleFunc("GET /api/assets", s.handleAssets)
	s.mux.HandleFunc("GET /api/assets/summary", s.handleAssetSummary)
	s.mux.HandleFunc("GET /api/asset/{id}", s.handleAsset)
	s.mux.HandleFunc("GET /api/hierarchy", s.handleHierarchy)
	s.mux.HandleFunc("GET /api/tasks", s.handleTasks)
	s.mux.HandleFunc("GET /api/statusSummary", s.handleStatusSummary)
	s.mux.HandleFunc("GET /api/activity", s.handleActivity)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/filters", s.handleFilters)
	return s
}

// Handler returns the HTTP handler of the backend.
func (s *Server) Handler() http.Handler {
	return withLogging(s.mux)
}

// Start listens on addr and serves in the background. Calling Start on a
// running server does nothing.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr().String()
	s.httpSrv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv := s.httpSrv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "Mock API server stopped", zap.Error(err))
		}
	}()
	logger.Info(ctx, "Mock API listening", zap.String("addr", s.addr), zap.Strings("datasets", Datasets))
	return nil
}

// Addr returns the address the server is listening on, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the server down, honoring ctx. Stopping a stopped server does
// nothing.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv, s.addr = nil, ""
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug(r.Context(), "Mock API request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "meta": meta})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// filterValues splits a comma separated query value. Empty and "all" mean
// no filter and yield nil.
func filterValues(r *http.Request, key string) []string {
	v := r.URL.Query().Get(key)
	if v == "" || v == "all" {
		return nil
	}
	return strings.Split(v, ",")
}

func matches(filter []string, v string) bool {
	return filter == nil || slices.Contains(filter, v)
}

// limitParam parses ?limit=. It returns def when absent and false when the
// value is not a non-negative integer.
func limitParam(r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func assetSummary(assets []Asset) map[string]any {
	return map[string]any{
		"total":    len(assets),
		"byStatus": countBy(assets, func(a Asset) string { return a.Status }),
		"byType":   countBy(assets, func(a Asset) string { return a.Type }),
	}
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(r, 0)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	types, statuses := filterValues(r, "type"), filterValues(r, "status")
	roomID := r.URL.Query().Get("roomId")

	out := make([]Asset, 0, len(s.src.assets))
	for _, a := range s.src.assets {
		if matches(types, a.Type) && matches(statuses, a.Status) && (roomID == "" || a.RoomID == roomID) {
			out = append(out, a)
		}
	}
	summary := assetSummary(out)
	out = truncate(out, limit)
	writeData(w, map[string]any{"assets": out, "summary": summary}, map[string]any{"count": len(out)})
}

func (s *Server) handleAssetSummary(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]any{"summary": assetSummary(s.src.assets)}, nil)
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, a := range s.src.assets {
		if a.ID == id {
			writeData(w, a, nil)
			return
		}
	}
	writeJSONError(w, http.StatusNotFound, "asset not found: "+id)
}

func (s *Server) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]any{
		"items": s.src.hierarchy,
		"summary": map[string]int{
			"buildings": len(buildings),
			"floors":    len(buildings) * 2,
			"rooms":     len(buildings) * 4,
			"assets":    len(s.src.assets),
		},
	}, nil)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(r, 0)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	statuses, priorities := filterValues(r, "status"), filterValues(r, "priority")
	types, assignees := filterValues(r, "type"), filterValues(r, "assignee")

	out := make([]Task, 0, len(s.src.tasks))
	for _, t := range s.src.tasks {
		if matches(statuses, t.Status) && matches(priorities, t.Priority) && matches(types, t.Type) && matches(assignees, t.Assignee) {
			out = append(out, t)
		}
	}
	total := len(out)
	out = truncate(out, limit)
	writeData(w, out, map[string]any{"total": total, "count": len(out)})
}

func (s *Server) handleStatusSummary(w http.ResponseWriter, r *http.Request) {
	counts := countBy(s.src.tasks, func(t Task) string { return t.Status })
	for _, st := range taskStatuses {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	writeData(w, counts, map[string]any{"total": len(s.src.tasks)})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(r, 10)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	writeData(w, s.src.activity(limit), map[string]any{"count": limit})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeData(w, s.src.stats(), nil)
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	withAll := func(vs []string) []string { return append([]string{"all"}, vs...) }
	writeData(w, map[string]any{
		"statuses":   withAll(taskStatuses),
		"priorities": withAll(taskPriorities),
		"types":      withAll(taskTypes),
		"assignees":  withAll(taskAssignees),
	}, nil)
}
