// Package api provides REST API endpoints for satellite position queries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/paulmach/orb"

	"starlink_history/internal/geo"
	"starlink_history/internal/metrics"
	"starlink_history/internal/query"
	"starlink_history/internal/timewindow"
)

// Error codes returned in error bodies.
const (
	CodeInvalidDateFormat = "invalid_date_format"
	CodeInvalidDateRange  = "invalid_date_range"
	CodeNotFound          = "not_found"
	CodeBadRequest        = "bad_request"
	CodeUnauthorized      = "unauthorized"
	CodeInternal          = "internal"
)

// Querier answers position queries.
type Querier interface {
	LastPosition(ctx context.Context, satelliteID string, b timewindow.Bounds) (*query.Position, error)
	ClosestSatellite(ctx context.Context, point orb.Point, b timewindow.Bounds) (*query.ClosestMatch, error)
}

// Server provides REST API access to the query engine.
type Server struct {
	engine      Querier
	port        int
	authEnabled bool
	apiKeys     map[string]bool
	logger      *slog.Logger
}

// Config holds configuration for the API server.
type Config struct {
	Port        int
	AuthEnabled bool
	APIKeys     []string // List of valid API keys.
}

// NewServer creates a new API server. A nil logger uses slog.Default().
func NewServer(engine Querier, cfg Config, logger *slog.Logger) *Server {
	keys := make(map[string]bool)
	for _, k := range cfg.APIKeys {
		if k != "" {
			keys[k] = true
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		engine:      engine,
		port:        cfg.Port,
		authEnabled: cfg.AuthEnabled,
		apiKeys:     keys,
		logger:      logger,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Run(ctx context.Context) error {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Handle("/metrics", metrics.Handler())
	r.Mount("/api/v1", s.Router())

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server starting", "addr", srv.Addr, "auth", s.authEnabled)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Router returns the API routes for mounting under a prefix.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.authEnabled {
			r.Use(s.authMiddleware)
		}
		r.Get("/satellites/{satellite_id}/position", s.handleLastPosition)
		r.Get("/closest", s.handleClosest)
	})

	return r
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates API key authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")

		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, CodeUnauthorized, "API key required")
			return
		}
		if !s.apiKeys[apiKey] {
			writeError(w, http.StatusForbidden, CodeUnauthorized, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// PositionResponse is the JSON response for last-position queries.
type PositionResponse struct {
	SatelliteID string   `json:"satellite_id"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
}

// ClosestResponse is the JSON response for closest-satellite queries.
type ClosestResponse struct {
	SatelliteID string  `json:"satellite_id"`
	DistanceKm  float64 `json:"distance_km"`
}

// ErrorResponse is the JSON body of every error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLastPosition(w http.ResponseWriter, r *http.Request) {
	satelliteID := chi.URLParam(r, "satellite_id")
	if satelliteID == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "satellite_id is required")
		return
	}

	pos, err := s.engine.LastPosition(r.Context(), satelliteID, boundsFromQuery(r))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	if pos == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "No data found for satellite within the specified date range")
		return
	}

	writeJSON(w, http.StatusOK, PositionResponse{
		SatelliteID: satelliteID,
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
	})
}

func (s *Server) handleClosest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err := geo.ParseDegrees(q.Get("latitude"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "latitude must be a finite number")
		return
	}
	lon, err := geo.ParseDegrees(q.Get("longitude"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "longitude must be a finite number")
		return
	}

	match, err := s.engine.ClosestSatellite(r.Context(), geo.NewPoint(lat, lon), boundsFromQuery(r))
	if err != nil {
		s.writeQueryError(w, r, err)
		return
	}
	if match == nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "No satellite positions found within the specified date range")
		return
	}

	writeJSON(w, http.StatusOK, ClosestResponse{
		SatelliteID: match.SatelliteID,
		DistanceKm:  match.DistanceKm,
	})
}

// boundsFromQuery binds the date bounds by parameter name. A parameter that
// is present but empty is passed through and fails validation.
func boundsFromQuery(r *http.Request) timewindow.Bounds {
	q := r.URL.Query()
	var b timewindow.Bounds
	if q.Has(timewindow.FieldLower) {
		v := q.Get(timewindow.FieldLower)
		b.Lower = &v
	}
	if q.Has(timewindow.FieldUpper) {
		v := q.Get(timewindow.FieldUpper)
		b.Upper = &v
	}
	return b
}

func (s *Server) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	if !query.IsInvalidInput(err) {
		s.logger.ErrorContext(r.Context(), "query failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}

	code := CodeInvalidDateRange
	if errors.Is(err, timewindow.ErrInvalidDateFormat) {
		code = CodeInvalidDateFormat
	}
	writeError(w, http.StatusBadRequest, code, err.Error())
}

// Helper functions.

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
