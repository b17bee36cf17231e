package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/michaelbrown/rex/internal/logging"
	"github.com/michaelbrown/rex/internal/runtime"
	"github.com/michaelbrown/rex/internal/storage"
)

// Options configures a Server.
type Options struct {
	// AuthToken, when set, must be sent in the X-API-Key header.
	AuthToken string
	// Store records session history. Nil disables recording.
	Store  storage.Store
	Logger *log.Logger
}

// Server exposes a runtime over HTTP.
type Server struct {
	runtime   runtime.Runtime
	authToken string
	sessions  *SessionManager
	logger    *log.Logger
	router    chi.Router
	http      *http.Server
}

// New creates a new Server around rt.
func New(rt runtime.Runtime, opts Options) *Server {
	logger := logging.OrDiscard(opts.Logger)
	s := &Server{
		runtime:   rt,
		authToken: opts.AuthToken,
		sessions:  NewSessionManager(opts.Store, logger),
		logger:    logger,
		router:    chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  s.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.DebugLevel}),
		NoColor: true,
	}))
	r.Use(s.recoverer)
	r.Use(s.authenticate)

	r.Get("/is_alive", s.handleIsAlive)

	r.Group(func(r chi.Router) {
		r.Use(jsonContentType)

		r.Post("/create_session", s.handleCreateSession)
		r.Post("/run_in_session", s.handleRunInSession)
		r.Post("/close_session", s.handleCloseSession)
		r.Post("/execute", s.handleExecute)
		r.Post("/read_file", s.handleReadFile)
		r.Post("/write_file", s.handleWriteFile)
		r.Post("/upload", s.handleUpload)
		r.Post("/close", s.handleClose)
	})

	// WebSocket (no JSON content-type)
	r.Get("/sessions/{name}/ws", s.handleWebSocket)
}

// Handler returns the routed handler, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", port, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("rex server listening", "addr", ln.Addr().String(), "auth", s.authToken != "")
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var httpErr error
	if s.http != nil {
		httpErr = s.http.Shutdown(shutdownCtx)
	}
	s.sessions.CloseAll(shutdownCtx)
	return errors.Join(httpErr, s.runtime.Close(shutdownCtx))
}
