package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexhub/cortex-dispatch/internal/config"
	"github.com/cortexhub/cortex-dispatch/internal/dispatch"
	"github.com/cortexhub/cortex-dispatch/internal/model"
)

// Pinger reports whether the memory backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API surface
type Server struct {
	cfg        *config.Config
	pipeline   *dispatch.Pipeline
	selector   *model.Selector
	memory     Pinger
	httpServer *http.Server
	startTime  time.Time
	logger     *slog.Logger
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Uptime    string                   `json:"uptime"`
	Services  map[string]ServiceHealth `json:"services"`
	Timestamp string                   `json:"timestamp"`
}

// ServiceHealth represents a service health status
type ServiceHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// QueryRequest is one API query
type QueryRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id,omitempty"`
	RootID string `json:"root_id,omitempty"`
}

// QueryResponse is the answer to an API query
type QueryResponse struct {
	Text       string `json:"text"`
	Reasoning  string `json:"reasoning,omitempty"`
	Target     string `json:"target"`
	Confidence string `json:"confidence"`
	DurationMs int64  `json:"duration_ms"`
}

// RouteInfo describes one classifier rule for the routes listing
type RouteInfo struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
	Target   string `json:"target"`
}

// RouterRuleInfo describes one priority-router rule
type RouterRuleInfo struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Priority int      `json:"priority"`
	Type     string   `json:"type"`
	Keywords []string `json:"keywords"`
}

// RoutesResponse lists both routing tables
type RoutesResponse struct {
	Classifier []RouteInfo      `json:"classifier"`
	Router     []RouterRuleInfo `json:"router"`
}

// New creates the HTTP server
func New(cfg *config.Config, pipeline *dispatch.Pipeline, selector *model.Selector, mem Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		pipeline:  pipeline,
		selector:  selector,
		memory:    mem,
		startTime: time.Now(),
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/api/v1/query", s.queryHandler)
	mux.HandleFunc("/api/v1/query/stream", s.queryStreamHandler)
	mux.HandleFunc("/api/v1/routes", s.routesHandler)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	services := map[string]ServiceHealth{}

	memHealth := ServiceHealth{Healthy: true}
	if s.memory != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.memory.Ping(ctx); err != nil {
			memHealth = ServiceHealth{Healthy: false, Message: err.Error()}
		}
	}
	services["memory"] = memHealth

	if s.selector != nil {
		for _, tier := range []model.Tier{model.TierPrimary, model.TierFallback} {
			h := ServiceHealth{Healthy: !s.selector.CoolingDown(tier)}
			if !h.Healthy {
				h.Message = "cooling down after rate limits"
			}
			services["model_"+string(tier)] = h
		}
	}

	status := "ok"
	for _, h := range services {
		if !h.Healthy {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Services:  services,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	reply := s.pipeline.Handle(r.Context(), dispatch.Query{
		Text:   req.Query,
		UserID: req.UserID,
		ChatID: req.ChatID,
		RootID: req.RootID,
	})
	writeJSON(w, http.StatusOK, QueryResponse{
		Text:       reply.Text,
		Reasoning:  reply.Reasoning,
		Target:     reply.Target,
		Confidence: reply.Confidence,
		DurationMs: reply.DurationMs,
	})
}

// queryStreamHandler answers over SSE: partial events while the
// answer grows, then one final event with the full reply.
func (s *Server) queryStreamHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	reply := s.pipeline.Handle(r.Context(), dispatch.Query{
		Text:   req.Query,
		UserID: req.UserID,
		ChatID: req.ChatID,
		RootID: req.RootID,
		OnUpdate: func(text string, final bool) error {
			if !final {
				writeEvent("partial", map[string]string{"text": text})
			}
			return nil
		},
	})

	writeEvent("final", QueryResponse{
		Text:       reply.Text,
		Reasoning:  reply.Reasoning,
		Target:     reply.Target,
		Confidence: reply.Confidence,
		DurationMs: reply.DurationMs,
	})
}

func (s *Server) routesHandler(w http.ResponseWriter, r *http.Request) {
	resp := RoutesResponse{}
	for _, rule := range s.pipeline.Classifier().Rules() {
		resp.Classifier = append(resp.Classifier, RouteInfo{
			ID:       rule.ID,
			Priority: rule.Priority,
			Target:   rule.Target.String(),
		})
	}
	for _, rule := range s.pipeline.Router().Rules() {
		resp.Router = append(resp.Router, RouterRuleInfo{
			ID:       rule.ID,
			Category: rule.Category,
			Priority: rule.Priority,
			Type:     string(rule.Type),
			Keywords: rule.Keywords,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (QueryRequest, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return QueryRequest{}, false
	}
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return QueryRequest{}, false
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return QueryRequest{}, false
	}
	if req.UserID == "" {
		req.UserID = "api"
	}
	if req.ChatID == "" {
		req.ChatID = "api:" + req.UserID
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
