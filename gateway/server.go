package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/glimte/mmate-gateway/contracts"
	"github.com/glimte/mmate-gateway/routing"
)

const (
	// HeaderAPIKey carries the shared secret
	HeaderAPIKey = "x-api-key"

	DefaultVersion      = "v1"
	DefaultServiceName  = "The communication microservice"
	DefaultMaxBodyBytes = 1 << 20
)

// Server exposes the dispatcher over HTTP
type Server struct {
	mux          *http.ServeMux
	handler      http.Handler
	dispatcher   *Dispatcher
	table        *routing.Table
	health       http.Handler
	chain        *Chain
	logger       *slog.Logger
	version      string
	prefix       string
	serviceName  string
	maxBodyBytes int64
}

// ServerOption configures the server
type ServerOption func(*Server)

// WithVersion sets the version segment of the base path
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.version = strings.Trim(version, "/")
	}
}

// WithPrefix sets a path prefix placed before the version, such as /api
func WithPrefix(prefix string) ServerOption {
	return func(s *Server) {
		s.prefix = strings.TrimRight(prefix, "/")
		if s.prefix != "" && !strings.HasPrefix(s.prefix, "/") {
			s.prefix = "/" + s.prefix
		}
	}
}

// WithServiceName sets the name reported by the check endpoint
func WithServiceName(name string) ServerOption {
	return func(s *Server) {
		s.serviceName = name
	}
}

// WithMaxBodyBytes limits the size of request bodies
func WithMaxBodyBytes(n int64) ServerOption {
	return func(s *Server) {
		s.maxBodyBytes = n
	}
}

// WithHealthHandler mounts h under the health endpoint
func WithHealthHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.health = h
	}
}

// WithChain replaces the default middleware chain
func WithChain(chain *Chain) ServerOption {
	return func(s *Server) {
		s.chain = chain
	}
}

// WithServerLogger sets the logger
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a server with one POST endpoint per route of table
func NewServer(dispatcher *Dispatcher, table *routing.Table, options ...ServerOption) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		dispatcher:   dispatcher,
		table:        table,
		logger:       slog.Default(),
		version:      DefaultVersion,
		serviceName:  DefaultServiceName,
		maxBodyBytes: DefaultMaxBodyBytes,
	}

	for _, opt := range options {
		opt(s)
	}

	if s.chain == nil {
		s.chain = DefaultChain(s.logger)
	}

	s.registerRoutes()
	s.handler = s.chain.Then(s.mux)
	return s
}

// BasePath returns the path every endpoint is mounted under
func (s *Server) BasePath() string {
	return s.prefix + "/" + s.version + "/messages"
}

func (s *Server) registerRoutes() {
	base := s.BasePath()

	s.mux.HandleFunc("GET "+base+"/check", s.handleCheck)
	if s.health != nil {
		s.mux.Handle("GET "+base+"/health", s.health)
	}

	for _, route := range s.table.Routes() {
		s.mux.HandleFunc("POST "+base+"/"+route.Name, s.handleRoute(route))
	}

	s.mux.HandleFunc(base+"/", s.handleNotFound)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run serves on addr until ctx is done, then shuts down within
// shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, listener, shutdownTimeout)
}

// Serve accepts connections on listener until ctx is done
func (s *Server) Serve(ctx context.Context, listener net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting",
			"addr", listener.Addr().String(),
			"basePath", s.BasePath())
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down", "timeout", shutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, contracts.NewMessageReply(contracts.HealthyMessage(s.serviceName)))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, contracts.NewErrorReply(contracts.ReasonRouteNotFound))
}

func (s *Server) handleRoute(route routing.Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(HeaderAPIKey)

		// Unauthenticated requests are answered before the body is read
		if !s.dispatcher.authenticated(apiKey) {
			outcome := s.dispatcher.Dispatch(r.Context(), route, Request{APIKey: apiKey})
			writeJSON(w, outcome.Status, outcome.Body)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, contracts.NewErrorReply(contracts.ReasonBodyTooLarge))
				return
			}
			s.logger.Warn("failed to read request body",
				"requestId", RequestIDFromContext(r.Context()),
				"route", route.Name,
				"error", err)
			writeJSON(w, http.StatusBadRequest, contracts.NewErrorReply(contracts.ReasonNoData))
			return
		}

		outcome := s.dispatcher.Dispatch(r.Context(), route, Request{
			APIKey:      apiKey,
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		})
		writeJSON(w, outcome.Status, outcome.Body)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
