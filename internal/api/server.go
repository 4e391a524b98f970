package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/counter"
	"github.com/banshee-data/occupancy.report/internal/counting"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/mjpeg"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	runner      *counter.Runner
	counters    *counting.Aggregator
	db          *db.DB
	config      *config.CounterConfig
	latestFrame *pipeline.Latest[mjpeg.Frame]
}

// NewServer builds the HTTP API. database may be nil in dev mode; the
// endpoints backed by it then answer 503.
func NewServer(runner *counter.Runner, counters *counting.Aggregator, database *db.DB, cfg *config.CounterConfig) *Server {
	return &Server{
		runner:   runner,
		counters: counters,
		db:       database,
		config:   cfg,
	}
}

// SetFrameSource registers the latest-frame slot served by
// /debug/frame. Without one the endpoint answers 404.
func (s *Server) SetFrameSource(latest *pipeline.Latest[mjpeg.Frame]) {
	s.latestFrame = latest
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/counters", s.showCounters)
	mux.HandleFunc("/api/health", s.showHealth)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/occupancy_stats", s.showOccupancyStats)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/reset", s.resetCounters)
	mux.HandleFunc("/debug/occupancy_chart", s.showOccupancyChart)
	mux.HandleFunc("/debug/frame", s.showLatestFrame)
	return mux
}

// showLatestFrame serves the most recent camera frame as a JPEG. Handy
// for aiming the camera and checking the line position.
func (s *Server) showLatestFrame(w http.ResponseWriter, r *http.Request) {
	if s.latestFrame == nil {
		s.writeJSONError(w, http.StatusNotFound, "Frame source not configured")
		return
	}
	frame, ok := s.latestFrame.Load()
	if !ok {
		s.writeJSONError(w, http.StatusNotFound, "No frame captured yet")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(frame.Seq, 10))
	_, _ = w.Write(frame.Data)
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) showCounters(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.counters.Snapshot()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write counters")
		return
	}
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.runner.Health()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write health")
		return
	}
}

func (s *Server) resetCounters(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.counters.Reset()
	if err := json.NewEncoder(w).Encode(s.counters.Snapshot()); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write counters")
		return
	}
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Event store not configured")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 1000 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	events, err := s.db.RecentEvents(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	if events == nil {
		events = []db.CrossingEvent{}
	}

	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write events")
		return
	}
}

// OccupancyStats summarises the recent occupancy samples.
type OccupancyStats struct {
	Samples      int     `json:"samples"`
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"std_dev"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	P50Occupancy float64 `json:"p50_occupancy"`
	P85Occupancy float64 `json:"p85_occupancy"`
	P98Occupancy float64 `json:"p98_occupancy"`
}

func (s *Server) showOccupancyStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Event store not configured")
		return
	}

	limit := 500
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 10000 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	samples, err := s.db.RecentSamples(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve samples: %v", err))
		return
	}

	stats := computeOccupancyStats(samples)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write occupancy stats")
		return
	}
}

func computeOccupancyStats(samples []db.OccupancySample) OccupancyStats {
	if len(samples) == 0 {
		return OccupancyStats{}
	}

	values := make([]float64, len(samples))
	for i, sample := range samples {
		values[i] = float64(sample.Occupancy)
	}
	sort.Float64s(values)

	out := OccupancyStats{
		Samples: len(values),
		Mean:    stat.Mean(values, nil),
		Min:     values[0],
		Max:     values[len(values)-1],
	}
	if len(values) > 1 {
		out.StdDev = stat.StdDev(values, nil)
	}
	out.P50Occupancy = stat.Quantile(0.50, stat.Empirical, values, nil)
	out.P85Occupancy = stat.Quantile(0.85, stat.Empirical, values, nil)
	out.P98Occupancy = stat.Quantile(0.98, stat.Empirical, values, nil)
	return out
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := json.NewEncoder(w).Encode(s.config); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write config")
		return
	}
}
