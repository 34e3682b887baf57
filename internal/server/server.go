// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rootgate/internal/gateway"
	"github.com/jeranaias/rootgate/internal/governor"
	"github.com/jeranaias/rootgate/internal/ledger"
	"github.com/jeranaias/rootgate/internal/model"
	"github.com/jeranaias/rootgate/internal/router"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize bounds request bodies (64KB).
	MaxRequestBodySize = 64 * 1024

	// DefaultPredictionHours is the forecast horizon when none is given.
	DefaultPredictionHours = 24

	// DefaultRecommendations is the recommendation limit when none is given.
	DefaultRecommendations = 5

	// Version is the API version.
	Version = "1.0.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Options configure a Server.
type Options struct {
	Addr string

	// RequestsPerSecond is the per-client limit; 0 disables it.
	RequestsPerSecond float64
	Burst             int

	Auth *AuthConfig

	// Logger receives request logs. Defaults to the standard logger.
	Logger *log.Logger
}

// Server serves the gateway over HTTP.
type Server struct {
	addr    string
	mux     *http.ServeMux
	handler http.Handler
	gw      *gateway.Gateway
	started time.Time

	mu     sync.Mutex
	server *http.Server
}

// New creates a Server for gw.
func New(gw *gateway.Gateway, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	s := &Server{
		addr:    opts.Addr,
		mux:     http.NewServeMux(),
		gw:      gw,
		started: time.Now(),
	}
	s.setupRoutes()

	var limiter *ClientLimiter
	if opts.RequestsPerSecond > 0 {
		limiter = NewClientLimiter(opts.RequestsPerSecond, opts.Burst)
	}
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(opts.Logger),
	}
	if opts.Auth.Enabled() {
		middlewares = append(middlewares, AuthMiddleware(opts.Auth))
	}
	middlewares = append(middlewares, RateLimitMiddleware(limiter))
	s.handler = Chain(middlewares...)(s.mux)
	return s
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/route", s.handleRoute)
	s.mux.HandleFunc("GET /v1/tools", s.handleTools)
	s.mux.HandleFunc("GET /v1/tools/recommended", s.handleRecommended)
	s.mux.HandleFunc("GET /v1/stats", s.handleStats)
	s.mux.HandleFunc("GET /v1/credits", s.handleCredits)
	s.mux.HandleFunc("GET /v1/credits/{provider}", s.handleProviderCredits)
	s.mux.HandleFunc("GET /v1/credits/{provider}/prediction", s.handlePrediction)
	s.mux.HandleFunc("GET /v1/credits/{provider}/history", s.handleHistory)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.gw.Metrics().Handler())
}

// ============================================================================
// ROUTE HANDLER
// ============================================================================

// RouteRequest is the body of POST /v1/route.
type RouteRequest struct {
	Query     string         `json:"query"`
	Tool      string         `json:"tool,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	DryRun    bool           `json:"dry_run,omitempty"`
	Batch     bool           `json:"batch,omitempty"`
	SkipCache bool           `json:"skip_cache,omitempty"`
	Language  string         `json:"language,omitempty"`
}

// statusForKind maps a failed Result onto an HTTP status.
var statusForKind = map[router.ErrorKind]int{
	router.KindInvalidQuery: http.StatusBadRequest,
	router.KindNoRoute:      http.StatusNotFound,
	router.KindRateLimited:  http.StatusTooManyRequests,
	router.KindDownstream:   http.StatusBadGateway,
	router.KindInternal:     http.StatusInternalServerError,
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var req RouteRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	res := s.gw.RouteQuery(r.Context(), req.Query, router.Options{
		Tool:      req.Tool,
		Provider:  req.Provider,
		Params:    req.Params,
		DryRun:    req.DryRun,
		Batch:     req.Batch,
		SkipCache: req.SkipCache,
		Language:  req.Language,
	})

	status := http.StatusOK
	if !res.Success {
		status = statusForKind[res.ErrorKind]
		if status == 0 {
			status = http.StatusInternalServerError
		}
		if res.ErrorKind == router.KindRateLimited {
			setRetryAfter(w, res.Err)
		}
	}
	writeJSON(w, status, res)
}

// ============================================================================
// TOOL HANDLERS
// ============================================================================

// ToolsResponse lists tools.
type ToolsResponse struct {
	Tools []router.ToolInfo `json:"tools"`
	Count int               `json:"count"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := router.ToolFilter{
		Provider:   q.Get("provider"),
		Category:   q.Get("category"),
		Accessible: q.Get("accessible") == "true",
	}
	if lv := q.Get("level"); lv != "" {
		level, err := model.ParseLevel(lv)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		filter.Level = &level
	}

	tools := s.gw.AvailableTools(filter)
	if tools == nil {
		tools = []router.ToolInfo{}
	}
	writeJSON(w, http.StatusOK, ToolsResponse{Tools: tools, Count: len(tools)})
}

// RecommendationsResponse lists scored tools for a query.
type RecommendationsResponse struct {
	Query           string                  `json:"query"`
	Recommendations []router.Recommendation `json:"recommendations"`
}

func (s *Server) handleRecommended(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query parameter q is required")
		return
	}
	limit := DefaultRecommendations
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs := s.gw.RecommendedTools(query, limit)
	if recs == nil {
		recs = []router.Recommendation{}
	}
	writeJSON(w, http.StatusOK, RecommendationsResponse{Query: query, Recommendations: recs})
}

// ============================================================================
// STATS AND CREDITS
// ============================================================================

// StatsResponse wraps the routing counters with uptime.
type StatsResponse struct {
	router.Stats
	UptimeSeconds int64 `json:"uptime_seconds"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Stats:         s.gw.Stats(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Ledger().Overview())
}

func (s *Server) handleProviderCredits(w http.ResponseWriter, r *http.Request) {
	snap, err := s.gw.Ledger().ProviderStatus(r.PathValue("provider"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	hours := float64(DefaultPredictionHours)
	if raw := r.URL.Query().Get("hours"); raw != "" {
		h, err := strconv.ParseFloat(raw, 64)
		if err != nil || h <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "hours must be a positive number")
			return
		}
		hours = h
	}

	pred, err := s.gw.Ledger().PredictConsumption(r.PathValue("provider"), hours)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// HistoryResponse lists stored ledger records.
type HistoryResponse struct {
	ProviderID string          `json:"provider_id"`
	Since      time.Time       `json:"since"`
	Records    []ledger.Record `json:"records"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "since must be a positive duration such as 24h")
			return
		}
		window = d
	}

	id := r.PathValue("provider")
	since := time.Now().Add(-window)
	records, err := s.gw.Ledger().History(r.Context(), id, since)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if records == nil {
		records = []ledger.Record{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{ProviderID: id, Since: since, Records: records})
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnknownProvider):
		writeError(w, http.StatusNotFound, "unknown_provider", err.Error())
	case errors.Is(err, ledger.ErrNoHistory):
		writeError(w, http.StatusNotFound, "no_history", "history store is not configured")
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse is the health check body. Status is "degraded" when a
// provider is inactive or out of credits.
type HealthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	Providers int            `json:"providers"`
	Active    int            `json:"active"`
	ByStatus  map[string]int `json:"by_status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ov := s.gw.Ledger().Overview()
	health := HealthResponse{
		Status:    "ok",
		Version:   Version,
		Providers: len(ov.Providers),
		Active:    ov.Active,
		ByStatus:  ov.ByStatus,
	}
	if ov.Active < len(ov.Providers) || ov.ByStatus[ledger.StatusExhausted.String()] > 0 {
		health.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and blocks until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	log.Printf("SERVER_START | addr=%s version=%s", ln.Addr(), Version)
	return srv.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("HTTP_ENCODE_ERROR | error=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	var body ErrorBody
	body.Error.Type = kind
	body.Error.Message = message
	body.Error.Code = status
	writeJSON(w, status, body)
}

func setRetryAfter(w http.ResponseWriter, err error) {
	var rl *governor.RateLimitError
	if errors.As(err, &rl) {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
}
