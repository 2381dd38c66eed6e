package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"flotilla/internal/cloud"
	"flotilla/internal/config"
	"flotilla/internal/controller"
	"flotilla/internal/fleet"
	"flotilla/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type CloudAPI interface {
	ListServers(ctx context.Context) ([]*cloud.Server, error)
	HealthCheck(ctx context.Context) error
}

type StatusSource interface {
	Status() controller.Status
}

type Server struct {
	config     *config.Config
	status     StatusSource
	cloud      CloudAPI
	store      *store.Store
	registry   *prometheus.Registry
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a new API server
func New(
	cfg *config.Config,
	status StatusSource,
	cloudAPI CloudAPI,
	st *store.Store,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	return &Server{
		config:   cfg,
		status:   status,
		cloud:    cloudAPI,
		store:    st,
		registry: registry,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the HTTP server and blocks until the context is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.loggingMiddleware(s.routes()),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.Info("starting API server", "address", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown error", "error", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health and readiness endpoints
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReadiness)

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	// API v1 endpoints
	mux.HandleFunc("/api/v1/status", s.authMiddleware(s.handleStatus))
	mux.HandleFunc("/api/v1/servers", s.authMiddleware(s.handleServers))
	mux.HandleFunc("/api/v1/events", s.authMiddleware(s.handleEvents))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	// Basic health check
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	// Check cloud API reachability
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.cloud.HealthCheck(ctx); err != nil {
		s.logger.Error("readiness check failed", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"timestamp":   time.Now().Format(time.RFC3339),
		"fleet":       s.status.Status(),
		"max_servers": s.config.Scaling.MaxServers,
		"interval":    s.config.Scaling.Interval.String(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

type serverInfo struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	ServerType string    `json:"server_type"`
	Location   string    `json:"location"`
	PublicIPv4 string    `json:"public_ipv4,omitempty"`
	Labels     []string  `json:"labels"`
	Created    time.Time `json:"created"`
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.cloud.ListServers(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list servers", err)
		return
	}

	infos := make([]serverInfo, 0, len(servers))
	for _, srv := range servers {
		if !fleet.IsFleetServer(srv.Name) {
			continue
		}
		infos = append(infos, serverInfo{
			Name:       srv.Name,
			Status:     string(srv.Status),
			ServerType: srv.ServerType,
			Location:   srv.Location,
			PublicIPv4: srv.PublicIPv4,
			Labels:     fleet.DecodeLabels(srv.Labels).Sorted(),
			Created:    srv.Created,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"count":     len(infos),
		"servers":   infos,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || !s.config.Store.Enabled {
		s.writeError(w, http.StatusNotFound, "store not enabled", nil)
		return
	}

	events := s.store.GetRecentEvents(100)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"count":     len(events),
		"events":    events,
	})
}

func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.config.Server.EnableAuth {
			next(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = r.Header.Get("Authorization")
			if len(apiKey) > 7 && apiKey[:7] == "Bearer " {
				apiKey = apiKey[7:]
			}
		}

		if apiKey != s.config.Server.APIKey {
			s.writeError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}

		next(w, r)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.writeJSON(w, statusCode, response)
}
