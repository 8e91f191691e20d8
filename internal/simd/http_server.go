package simd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slices"

	"github.com/GoSim-25-26J-441/simkernel/internal/metrics"
	"github.com/GoSim-25-26J-441/simkernel/internal/trace"
	"github.com/GoSim-25-26J-441/simkernel/pkg/logger"
	"github.com/GoSim-25-26J-441/simkernel/pkg/models"
)

type HTTPServer struct {
	mux      *http.ServeMux
	store    *RunStore
	Executor *RunExecutor
	logger   *slog.Logger
}

func NewHTTPServer(store *RunStore, executor *RunExecutor, log *slog.Logger) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		store:    store,
		Executor: executor,
		logger:   logger.Component(logger.OrDefault(log), "http"),
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/runs", s.handleRuns)
	s.mux.HandleFunc("/v1/runs/", s.handleRunByID)
	s.mux.Handle("/metrics", http.HandlerFunc(s.handlePrometheus))

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"runs":      s.store.Len(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handlePrometheus serves the daemon metrics and the kernel metrics of every
// run started so far.
func (s *HTTPServer) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(s.Executor.Gatherer(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// handleRuns handles /v1/runs endpoint
func (s *HTTPServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// runRoute maps a path suffix to its handler and method.
type runRoute struct {
	suffix  string
	method  string
	handler func(http.ResponseWriter, *http.Request, string)
}

// handleRunByID handles /v1/runs/{id} and related endpoints
func (s *HTTPServer) handleRunByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	// longer suffixes first: /metrics/timeseries must not match /metrics
	routes := []runRoute{
		{":start", http.MethodPost, s.handleStartRun},
		{":stop", http.MethodPost, s.handleStopRun},
		{"/result", http.MethodGet, s.handleGetResult},
		{"/trace", http.MethodGet, s.handleGetTrace},
		{"/metrics/stream", http.MethodGet, s.handleMetricsStream},
		{"/metrics/timeseries", http.MethodGet, s.handleTimeSeries},
		{"/metrics", http.MethodGet, s.handleGetRunMetrics},
	}
	for _, rt := range routes {
		if !strings.HasSuffix(path, rt.suffix) {
			continue
		}
		runID := strings.TrimSuffix(path, rt.suffix)
		if r.Method != rt.method {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rt.handler(w, r, runID)
		return
	}

	if r.Method == http.MethodGet {
		s.handleGetRun(w, r, path)
	} else {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// createRunRequest is the body of POST /v1/runs. Start runs the simulation
// right after creating it.
type createRunRequest struct {
	RunID string           `json:"run_id,omitempty"`
	Input *models.RunInput `json:"input"`
	Start bool             `json:"start,omitempty"`
}

// handleCreateRun handles POST /v1/runs
func (s *HTTPServer) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Input == nil {
		s.writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	rec, err := s.store.Create(req.RunID, *req.Input)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.logger.Info("run created", "run_id", rec.Run.ID)

	if req.Start {
		rec, err = s.Executor.Start(rec.Run.ID)
		if err != nil {
			s.writeError(w, statusForError(err), err.Error())
			return
		}
		s.logger.Info("run started", "run_id", rec.Run.ID)
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{"run": rec.Run})
}

// handleListRuns handles GET /v1/runs with pagination and filtering
func (s *HTTPServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if parsed, err := strconv.Atoi(q.Get("limit")); err == nil && parsed > 0 {
		limit = min(parsed, 1000)
	}
	offset := 0
	if parsed, err := strconv.Atoi(q.Get("offset")); err == nil && parsed >= 0 {
		offset = parsed
	}

	status := models.RunStatus(strings.ToLower(q.Get("status")))
	runs := s.store.ListFiltered(limit, offset, status)

	out := make([]models.Run, 0, len(runs))
	for _, rec := range runs {
		out = append(out, rec.Run)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"runs": out,
		"pagination": map[string]any{
			"limit":  limit,
			"offset": offset,
			"count":  len(out),
		},
	})
}

// handleGetRun handles GET /v1/runs/{id}
func (s *HTTPServer) handleGetRun(w http.ResponseWriter, _ *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run": rec.Run})
}

// handleStartRun handles POST /v1/runs/{id}:start
func (s *HTTPServer) handleStartRun(w http.ResponseWriter, _ *http.Request, runID string) {
	updated, err := s.Executor.Start(runID)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.logger.Info("run started", "run_id", runID)
	s.writeJSON(w, http.StatusOK, map[string]any{"run": updated.Run})
}

// handleStopRun handles POST /v1/runs/{id}:stop
func (s *HTTPServer) handleStopRun(w http.ResponseWriter, _ *http.Request, runID string) {
	updated, err := s.Executor.Stop(runID)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	s.logger.Info("run cancelled", "run_id", runID)
	s.writeJSON(w, http.StatusOK, map[string]any{"run": updated.Run})
}

// handleGetResult handles GET /v1/runs/{id}/result
func (s *HTTPServer) handleGetResult(w http.ResponseWriter, _ *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if rec.Result == nil {
		s.writeError(w, http.StatusPreconditionFailed, ErrNoResult.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run":    rec.Run,
		"result": rec.Result,
	})
}

// handleGetTrace handles GET /v1/runs/{id}/trace?format=yaml|json. A running
// run returns what was recorded so far.
func (s *HTTPServer) handleGetTrace(w http.ResponseWriter, r *http.Request, runID string) {
	format, err := trace.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	tr := rec.CurrentTrace()
	if tr == nil {
		s.writeError(w, http.StatusPreconditionFailed, "trace not available")
		return
	}

	data, err := tr.Marshal(format)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if format == trace.FormatJSON {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "application/yaml")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write trace", "run_id", runID, "error", err)
	}
}

// handleGetRunMetrics handles GET /v1/runs/{id}/metrics
func (s *HTTPServer) handleGetRunMetrics(w http.ResponseWriter, _ *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if rec.Collector() == nil {
		s.writeError(w, http.StatusPreconditionFailed, "metrics not available")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"metrics": metrics.Summaries(rec.Collector()),
	})
}

// timeseries query parameters that are not label filters
var reservedTimeSeriesParams = map[string]bool{
	"metric": true,
	"from":   true,
	"to":     true,
}

// handleTimeSeries handles GET /v1/runs/{id}/metrics/timeseries. from and to
// bound the simulated dates; any other parameter filters on a label.
func (s *HTTPServer) handleTimeSeries(w http.ResponseWriter, r *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	collector := rec.Collector()
	if collector == nil {
		s.writeError(w, http.StatusPreconditionFailed, "time-series metrics not available")
		return
	}

	q := r.URL.Query()
	from, err := parseDate(q.Get("from"), 0)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	to, err := parseDate(q.Get("to"), -1)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}

	filter := make(map[string]string)
	for key := range q {
		if !reservedTimeSeriesParams[key] {
			filter[key] = q.Get(key)
		}
	}

	names := collector.GetMetricNames()
	if name := q.Get("metric"); name != "" {
		names = []string{name}
	}

	points := make([]*metrics.Point, 0)
	for _, name := range names {
		for _, labels := range collector.GetLabelsForMetric(name) {
			if !labelsMatch(labels, filter) {
				continue
			}
			for _, p := range collector.GetTimeSeries(name, labels) {
				if p.Date < from || (to >= 0 && p.Date > to) {
					continue
				}
				points = append(points, p)
			}
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"points": points,
	})
}

func labelsMatch(labels, filter map[string]string) bool {
	for k, v := range filter {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// parseDate parses a simulated date in seconds, def when empty.
func parseDate(s string, def float64) (float64, error) {
	if s == "" {
		return def, nil
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("date cannot be negative")
	}
	return d, nil
}

// handleMetricsStream handles GET /v1/runs/{id}/metrics/stream (SSE)
func (s *HTTPServer) handleMetricsStream(w http.ResponseWriter, r *http.Request, runID string) {
	rec, ok := s.store.Get(runID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	interval := time.Second
	if ms, err := strconv.ParseInt(r.URL.Query().Get("interval_ms"), 10, 64); err == nil && ms > 0 {
		interval = time.Duration(ms) * time.Millisecond
	}

	previous := rec.Run.Status
	s.sendSSEEvent(w, "status_change", map[string]any{"status": previous})
	flush(w)
	if previous.IsTerminal() {
		s.sendSSEEvent(w, "complete", map[string]any{"status": previous})
		flush(w)
		return
	}

	// latest date sent, per metric and label set
	sent := make(map[string]map[string]float64)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec, ok := s.store.Get(runID)
			if !ok {
				s.sendSSEEvent(w, "error", map[string]any{"error": "run not found"})
				return
			}

			if c := rec.Collector(); c != nil {
				s.sendMetricUpdates(w, c, sent)
			}

			if rec.Run.Status != previous {
				previous = rec.Run.Status
				s.sendSSEEvent(w, "status_change", map[string]any{"status": previous})
				if previous.IsTerminal() {
					s.sendSSEEvent(w, "complete", map[string]any{"status": previous})
					flush(w)
					return
				}
			}
			flush(w)
		}
	}
}

// sendMetricUpdates sends the latest point of every series that moved since
// the last tick.
func (s *HTTPServer) sendMetricUpdates(w http.ResponseWriter, c *metrics.Collector, sent map[string]map[string]float64) {
	for _, name := range c.GetMetricNames() {
		if sent[name] == nil {
			sent[name] = make(map[string]float64)
		}
		for _, labels := range c.GetLabelsForMetric(name) {
			points := c.GetTimeSeries(name, labels)
			if len(points) == 0 {
				continue
			}
			latest := points[len(points)-1]
			key := createLabelKey(labels)
			if last, ok := sent[name][key]; ok && last == latest.Date {
				continue
			}
			sent[name][key] = latest.Date
			s.sendSSEEvent(w, "metric_update", map[string]any{
				"date":   latest.Date,
				"metric": latest.Name,
				"value":  latest.Value,
				"labels": latest.Labels,
			})
		}
	}
}

// sendSSEEvent sends a Server-Sent Event
func (s *HTTPServer) sendSSEEvent(w http.ResponseWriter, eventType string, data map[string]any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE event data", "error", err)
		return
	}
	// streams are best effort: write errors are only logged
	if _, err := w.Write([]byte("event: " + eventType + "\ndata: " + string(jsonData) + "\n\n")); err != nil {
		s.logger.Error("failed to write SSE event", "error", err)
	}
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// createLabelKey creates a key from labels for tracking
func createLabelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k + "=" + labels[k] + ",")
	}
	return b.String()
}

// statusForError maps the daemon's errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRunExists), errors.Is(err, ErrRunTerminal):
		return http.StatusConflict
	case errors.Is(err, ErrRunIDMissing), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTooManyRuns):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNoResult):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message})
}
