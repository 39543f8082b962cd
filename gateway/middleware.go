package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/glimte/mmate-gateway/contracts"
	"github.com/google/uuid"
)

// HeaderRequestID carries the request id in and out of the gateway
const HeaderRequestID = "X-Request-Id"

// Middleware wraps an HTTP handler
type Middleware interface {
	// Wrap returns a handler that runs before next
	Wrap(next http.Handler) http.Handler

	// Name returns the middleware name for logging and debugging
	Name() string
}

// MiddlewareFunc is a function adapter for Middleware
type MiddlewareFunc struct {
	name string
	fn   func(next http.Handler) http.Handler
}

// NewMiddlewareFunc creates a new function-based middleware
func NewMiddlewareFunc(name string, fn func(next http.Handler) http.Handler) *MiddlewareFunc {
	return &MiddlewareFunc{name: name, fn: fn}
}

// Wrap implements Middleware
func (m *MiddlewareFunc) Wrap(next http.Handler) http.Handler {
	return m.fn(next)
}

// Name implements Middleware
func (m *MiddlewareFunc) Name() string {
	return m.name
}

// Chain manages an ordered list of middleware. The first one added is the
// outermost.
type Chain struct {
	middleware []Middleware
	logger     *slog.Logger
}

// NewChain creates a new middleware chain
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}

	return &Chain{
		middleware: make([]Middleware, 0),
		logger:     logger,
	}
}

// Add appends a middleware to the chain
func (c *Chain) Add(m Middleware) *Chain {
	c.middleware = append(c.middleware, m)
	return c
}

// Names returns the middleware names in execution order
func (c *Chain) Names() []string {
	names := make([]string, len(c.middleware))
	for i, m := range c.middleware {
		names[i] = m.Name()
	}
	return names
}

// Then wraps final with every middleware of the chain
func (c *Chain) Then(final http.Handler) http.Handler {
	handler := final
	for i := len(c.middleware) - 1; i >= 0; i-- {
		handler = c.middleware[i].Wrap(handler)
	}
	c.logger.Debug("middleware chain built", "middleware", c.Names())
	return handler
}

// DefaultChain returns recovery, request id, access log and CORS in that
// order.
func DefaultChain(logger *slog.Logger) *Chain {
	return NewChain(logger).
		Add(Recovery(logger)).
		Add(RequestID()).
		Add(AccessLog(logger)).
		Add(CORS())
}

// Recovery turns a panic in a handler into a 500 reply
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return NewMiddlewareFunc("recovery", func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("handler panic recovered",
						"requestId", RequestIDFromContext(r.Context()),
						"path", r.URL.Path,
						"panic", rec,
						"stack", string(debug.Stack()))
					writeJSON(w, http.StatusInternalServerError, contracts.NewErrorReply(http.StatusText(http.StatusInternalServerError)))
				}
			}()
			next.ServeHTTP(w, r)
		})
	})
}

type requestIDKey struct{}

// ContextWithRequestID returns a context carrying id
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored in ctx, or ""
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestID propagates the caller's X-Request-Id or generates one
func RequestID() Middleware {
	return NewMiddlewareFunc("request_id", func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
			if id == "" {
				id = uuid.New().String()
			}
			w.Header().Set(HeaderRequestID, id)
			next.ServeHTTP(w, r.WithContext(ContextWithRequestID(r.Context(), id)))
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// AccessLog logs one line per request
func AccessLog(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return NewMiddlewareFunc("access_log", func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			logger.Info("http request",
				"requestId", RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.bytes,
				"duration", time.Since(start))
		})
	})
}

// CORS allows any origin. Preflight requests are answered directly.
func CORS() Middleware {
	return NewMiddlewareFunc("cors", func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
			h.Set("Access-Control-Allow-Headers", "Content-Type, x-api-key, "+HeaderRequestID)
			h.Set("Access-Control-Expose-Headers", HeaderRequestID)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}
