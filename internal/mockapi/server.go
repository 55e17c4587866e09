// Package mockapi is an in-memory, scripted stand-in for the verification
// backend. It serves every endpoint the console uses, so the TUI can be
// demoed offline and the client can be tested end to end.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/alia-console/internal/api"
)

// Logger is the subset of logging used by the server.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Server wraps the HTTP listener and the scripted backend state.
type Server struct {
	settings Settings
	logger   Logger
	clock    func() time.Time
	newID    func() string

	once  sync.Once
	store *store

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithIDGenerator overrides uuid keys.
func WithIDGenerator(fn func() string) Option {
	return func(s *Server) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewServer prepares a mock backend using the provided settings.
func NewServer(settings Settings, opts ...Option) *Server {
	settings.normalize()
	s := &Server{
		settings: settings,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Server) state() *store {
	s.once.Do(func() {
		s.store = newStore(s.newID, s.clock)
	})
	return s.store
}

// Handler returns the routed backend, for use with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/employees", s.handleListEmployees)
	mux.HandleFunc("GET /api/employees/{key}", s.handleGetEmployee)
	mux.HandleFunc("GET /api/bugs", s.handleListBugs)
	mux.HandleFunc("POST /api/bugs", s.handleCreateBug)
	mux.HandleFunc("GET /api/bugs/{key}", s.handleGetBug)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{key}", s.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{key}/ontology", s.handleSessionOntology)
	mux.HandleFunc("GET /api/skill-ontologies/{key}", s.handleSkillOntology)
	mux.HandleFunc("GET /api/conversations/{key}/messages", s.handleMessages)
	mux.HandleFunc("POST /api/conversations/{key}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /api/conversations/{key}/next-message", s.handleNextMessage)
	mux.HandleFunc("POST /api/conversations/{key}/status", s.handleUpdateStatus)
	return s.logRequests(mux)
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("mockapi: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("mockapi: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mockapi: listen %s: %w", addr, err)
	}
	s.listener = listener
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("mockapi: serve error: %v", err)
		}
	}()
	s.logger.Printf("mockapi: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListEmployees(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.EmployeeList{Employees: s.state().listEmployees()})
}

func (s *Server) handleGetEmployee(w http.ResponseWriter, r *http.Request) {
	e, err := s.state().employee(r.PathValue("key"))
	s.respond(w, e, err)
}

func (s *Server) handleListBugs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.BugList{Bugs: s.state().listBugs()})
}

func (s *Server) handleGetBug(w http.ResponseWriter, r *http.Request) {
	b, err := s.state().bug(r.PathValue("key"))
	s.respond(w, b, err)
}

func (s *Server) handleCreateBug(w http.ResponseWriter, r *http.Request) {
	var req api.CreateBugRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	b, err := s.state().createBug(req)
	s.respondStatus(w, http.StatusCreated, b, err)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.SessionList{Sessions: s.state().listSessions()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	sess, err := s.state().createSession(req.BugKey)
	s.respondStatus(w, http.StatusCreated, sess, err)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.state().session(r.PathValue("key"))
	s.respond(w, sess, err)
}

func (s *Server) handleSessionOntology(w http.ResponseWriter, r *http.Request) {
	raw, err := s.state().sessionOntology(r.PathValue("key"))
	s.respond(w, raw, err)
}

func (s *Server) handleSkillOntology(w http.ResponseWriter, r *http.Request) {
	raw, err := s.state().ontology(r.PathValue("key"))
	s.respond(w, raw, err)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.state().messages(r.PathValue("key"))
	s.respond(w, msgs, err)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req api.SendMessageRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	msg, err := s.state().sendMessage(r.PathValue("key"), req)
	s.respond(w, msg, err)
}

func (s *Server) handleNextMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.state().nextMessage(r.PathValue("key"))
	s.respond(w, msg, err)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateStatusRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	ack, err := s.state().updateStatus(r.PathValue("key"), req)
	s.respond(w, ack, err)
}

func (s *Server) respond(w http.ResponseWriter, payload any, err error) {
	s.respondStatus(w, http.StatusOK, payload, err)
}

func (s *Server) respondStatus(w http.ResponseWriter, status int, payload any, err error) {
	switch {
	case err == nil:
		writeJSON(w, status, payload)
	case errors.Is(err, errNotFound), errors.Is(err, errExhausted):
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": err.Error()})
	case errors.Is(err, errConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"detail": err.Error()})
	case errors.Is(err, errInvalid):
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": err.Error()})
	default:
		s.logger.Printf("mockapi: handler error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "internal error"})
	}
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "empty body"})
		return false
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"detail": "payload exceeds limit"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "unable to read body"})
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid JSON"})
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Printf("mockapi: %s %s -> %d in %s (request %s)", r.Method, r.URL.Path, rec.status, time.Since(started).Round(time.Millisecond), r.Header.Get("X-Request-ID"))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
