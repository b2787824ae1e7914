// Package api exposes skills, the developer workspace and session workspaces
// over a small REST API. Handlers are thin: every rule lives in the core
// packages and errors are mapped onto HTTP status codes here.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/surogate/surogate-agent/pkg/logger"
	"github.com/surogate/surogate-agent/pkg/presenter"
	"github.com/surogate/surogate-agent/pkg/resolver"
	"github.com/surogate/surogate-agent/pkg/version"
	"github.com/surogate/surogate-agent/pkg/workspace"
)

// DefaultMaxUploadBytes bounds the size of a single uploaded file
const DefaultMaxUploadBytes = 32 << 20

// Server serves the REST API
type Server struct {
	router    *mux.Router
	resolver  *resolver.Resolver
	config    *ServerConfig
	server    *http.Server
	userAgent string
}

// ServerConfig holds the configuration for the API server
type ServerConfig struct {
	Host           string
	Port           int
	MaxUploadBytes int64
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}

	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.MaxUploadBytes < 0 {
		return errors.Errorf("max upload size cannot be negative, got %d", c.MaxUploadBytes)
	}

	return nil
}

// NewServer creates a new API server backed by the resolver's registry and
// workspaces
func NewServer(config *ServerConfig, r *resolver.Resolver) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}
	if r == nil {
		return nil, errors.New("resolver is required")
	}
	if config.MaxUploadBytes == 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}

	s := &Server{
		router:    mux.NewRouter(),
		resolver:  r,
		config:    config,
		userAgent: version.Get().UserAgent(),
	}
	s.setupRoutes()

	return s, nil
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all the HTTP routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/skills", s.handleListSkills).Methods("GET")
	api.HandleFunc("/skills/{name}", s.handleGetSkill).Methods("GET")
	api.HandleFunc("/skills/{name}/validate", s.handleValidateSkill).Methods("POST")
	api.HandleFunc("/skills/{name}/files/{file}", s.handleDownloadSkillFile).Methods("GET")

	api.HandleFunc("/resolve", s.handleResolve).Methods("POST")
	api.HandleFunc("/version", s.handleVersion).Methods("GET")

	developer := &workspaceRoutes{
		server:    s,
		workspace: s.resolver.Developer(),
		list:      s.resolver.Developer().ListWorkspaces,
	}
	developer.register(api.PathPrefix("/workspace").Subrouter())

	sessions := &workspaceRoutes{
		server:    s,
		workspace: s.resolver.Sessions().Workspace(),
		list:      s.listSessionIDs,
	}
	sessions.register(api.PathPrefix("/sessions").Subrouter())

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

// listSessionIDs lists session workspaces newest first
func (s *Server) listSessionIDs(ctx context.Context) ([]string, error) {
	sessions, err := s.resolver.Sessions().List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(sessions))
	for i, sess := range sessions {
		ids[i] = sess.ID
	}
	return ids, nil
}

// requestIDHeader carries the id correlating a response with its log lines
const requestIDHeader = "X-Request-Id"

// loggingMiddleware attaches a request-scoped logger to the context and logs
// each request once it completes
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		w.Header().Set("Server", s.userAgent)

		ctx := logger.WithFields(r.Context(), map[string]any{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r.WithContext(ctx))

		logger.G(ctx).WithFields(map[string]any{
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, r, http.StatusOK, version.Get())
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)
		w.Header().Set("Access-Control-Expose-Headers", requestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// statusFor maps core errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workspace.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, workspace.ErrInvalidPath):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONResponse writes a JSON response with the given status code
func (s *Server) writeJSONResponse(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(r.Context()).WithError(err).Error("failed to encode JSON response")
	}
}

// errorResponse is the body of every non-2xx response
type errorResponse struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Success bool   `json:"success"`
}

// writeErrorResponse writes an error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	if err != nil {
		log := logger.G(r.Context()).WithError(err)
		if statusCode >= http.StatusInternalServerError {
			log.Error(message)
		} else {
			log.Debug(message)
		}
	}

	s.writeJSONResponse(w, r, statusCode, errorResponse{
		Error:   message,
		Status:  statusCode,
		Success: false,
	})
}

// writeError maps err onto a status code and writes it
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, message string, err error) {
	s.writeErrorResponse(w, r, statusFor(err), message, err)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	presenter.Info(fmt.Sprintf("Starting API server on http://%s", address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.G(ctx).WithError(err).Error("API server error")
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "API server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Close stops the server immediately
func (s *Server) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
