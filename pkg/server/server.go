package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/zen-systems/taskgate/pkg/cost"
	"github.com/zen-systems/taskgate/pkg/dispatch"
	"github.com/zen-systems/taskgate/pkg/health"
)

// Dispatcher executes task requests. Implemented by dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.TaskRequest) dispatch.Result
	DispatchStream(ctx context.Context, req dispatch.TaskRequest) (<-chan dispatch.StreamEvent, error)
}

// HealthSource exposes the local provider's health snapshot.
type HealthSource interface {
	Snapshot() health.Status
	IsAvailable() bool
}

// CostSource exposes accumulated cost reporting.
type CostSource interface {
	Report() cost.Report
}

// TraceSource exposes trace buffer observability.
type TraceSource interface {
	Buffered() int
}

// Server exposes the dispatcher over HTTP.
type Server struct {
	dispatcher Dispatcher
	routes     *dispatch.Routes
	health     HealthSource
	costs      CostSource
	traces     TraceSource
	logger     func(format string, args ...any)
}

// Option configures a Server.
type Option func(*Server)

// WithRoutes exposes the compiled route table on the health surface.
func WithRoutes(routes *dispatch.Routes) Option {
	return func(s *Server) {
		s.routes = routes
	}
}

// WithHealthSource wires the local provider health monitor.
func WithHealthSource(h HealthSource) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithCostSource wires cost reporting for the costs endpoint.
func WithCostSource(c CostSource) Option {
	return func(s *Server) {
		s.costs = c
	}
}

// WithTraceSource wires trace buffer depth into the health surface.
func WithTraceSource(t TraceSource) Option {
	return func(s *Server) {
		s.traces = t
	}
}

// WithServerLogger overrides the server's log output.
func WithServerLogger(logger func(format string, args ...any)) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server around a dispatcher.
func New(dispatcher Dispatcher, opts ...Option) *Server {
	s := &Server{
		dispatcher: dispatcher,
		logger:     log.Printf,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerDispatchRoutes(mux)
	s.registerHealthRoutes(mux)

	// Middleware chain: recovery -> body size -> request log -> mux.
	return s.recoveryMiddleware(bodySizeMiddleware(s.logMiddleware(mux)))
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger(format, args...)
	}
}

// recoveryMiddleware catches handler panics and returns 500 instead of
// killing the connection.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				s.logf("[server] handler panic on %s: %v\n%s", r.URL.Path, rv, buf[:n])
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"internal server error"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// bodySizeMiddleware limits request bodies to prevent resource exhaustion.
func bodySizeMiddleware(next http.Handler) http.Handler {
	const maxBodySize = 10 << 20 // 10 MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logf("[server] %s %s %s", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, fmt.Sprintf(format, args...))
}
