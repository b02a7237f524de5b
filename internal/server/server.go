package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"

	"github.com/jpalmerr/taskpoll/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second
)

// Stopper stops a task by name, reporting whether the task was known.
type Stopper interface {
	StopTask(name string) bool
}

// Server handles HTTP requests for the task API.
//
// Server provides four endpoints:
//   - GET /api/tasks: Returns every task's state as JSON
//   - GET /api/tasks/{name}: Returns one task's state
//   - POST /api/tasks/{name}/stop: Stops one task
//   - GET /api/sse: Server-Sent Events stream of task updates
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store      store.Store
	stopper    Stopper
	port       int
	httpServer *http.Server
	addr       net.Addr
	logger     *slog.Logger
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - st: Store holding task states
//   - stopper: Target of stop requests
//   - port: TCP port to listen on (0 lets the OS choose)
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, stopper Stopper, port int, logger *slog.Logger) *Server {
	return &Server{
		store:   st,
		stopper: stopper,
		port:    port,
		logger:  logger,
	}
}

// Handler returns the server's request router.
//
// JSON responses are gzipped for clients that accept it. The event stream
// is not, since gzip buffering would hold back events.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /api/tasks", gziphandler.GzipHandler(http.HandlerFunc(s.handleTasks)))
	mux.Handle("GET /api/tasks/{name}", gziphandler.GzipHandler(http.HandlerFunc(s.handleTask)))
	mux.HandleFunc("POST /api/tasks/{name}/stop", s.handleStop)
	mux.HandleFunc("GET /api/sse", s.handleSSE)
	return mux
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.port, err)
	}
	s.addr = ln.Addr()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// request contexts derive from ctx so that long-running handlers
		// like SSE end on shutdown
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Addr returns the address the server is listening on, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// handleTasks returns every task's state as JSON.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.GetAll())
}

// handleTask returns the state of one task.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	state, ok := s.store.Get(r.PathValue("name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "task not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// handleStop stops one task's poller.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.stopper.StopTask(name) {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "task not found"})
		return
	}
	s.logger.Info("task stopped via api", "task", name)
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// handleSSE streams task updates via Server-Sent Events.
//
// Writes carry a deadline so that a slow or disconnected client cannot
// block the handler past shutdown.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// some ResponseWriter implementations do not support deadlines
	deadlinesSupported := true

	writeAndFlush := func(data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	// current states first
	for _, state := range s.store.GetAll() {
		data, err := json.Marshal(state)
		if err != nil {
			continue
		}
		if err := writeAndFlush(data); err != nil {
			return
		}
	}

	for {
		select {
		case state, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(state)
			if err != nil {
				continue
			}
			if err := writeAndFlush(data); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on client disconnect and on server shutdown
			return
		}
	}
}
