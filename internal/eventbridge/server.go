package eventbridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/tollgate/internal/engine"
)

// ServerStatus is the server's lifecycle state.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// ErrDisabled is returned by Start when the settings disable the bridge.
var ErrDisabled = errors.New("eventbridge: server disabled")

const defaultShutdownGrace = 2 * time.Second

// Server is the HTTP trigger intake:
//
//	GET  /health      liveness plus the keys of in-flight runs
//	POST /events      accept one trigger event
//	GET  /runs        IDs of persisted runs, newest first
//	GET  /runs/{id}   one persisted run report
type Server struct {
	settings  Settings
	processor EventProcessor
	runs      RunLookup
	active    func() []string
	logger    Logger
	clock     func() time.Time
	newID     func() string

	mu       sync.RWMutex
	http     *http.Server
	listener net.Listener
	status   ServerStatus
	started  time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithProcessor sets where accepted events go. The default drops them.
func WithProcessor(p EventProcessor) Option {
	return func(s *Server) {
		if p != nil {
			s.processor = p
		}
	}
}

// WithRuns enables the /runs endpoints.
func WithRuns(runs RunLookup) Option {
	return func(s *Server) {
		s.runs = runs
	}
}

// WithActiveRuns reports in-flight runs on /health.
func WithActiveRuns(active func() []string) Option {
	return func(s *Server) {
		s.active = active
	}
}

// WithLogger sets the logger. The default discards.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the server time stamped on events.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer builds a server; Start binds it.
func NewServer(settings Settings, opts ...Option) *Server {
	s := &Server{
		settings:  settings.withDefaults(),
		processor: EventProcessorFunc(func(Event) error { return nil }),
		logger:    nopLogger{},
		clock:     time.Now,
		newID:     uuid.NewString,
		status:    StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routed handler without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /events", s.authorized(http.HandlerFunc(s.handleEvent)))
	mux.Handle("GET /runs", s.authorized(http.HandlerFunc(s.handleRuns)))
	mux.Handle("GET /runs/{id}", s.authorized(http.HandlerFunc(s.handleRun)))
	return mux
}

// Start binds the listener and serves in the background. ctx becomes the
// base context of every request.
func (s *Server) Start(ctx context.Context) error {
	if !s.settings.Enabled {
		return ErrDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("eventbridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("eventbridge: listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		srv.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.listener = listener
	s.http = srv
	s.started = s.clock()
	s.status = StatusReady
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("eventbridge: serve: %v", err)
		}
	}()
	s.logger.Printf("eventbridge: listening on %s", listener.Addr())
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires. A nil ctx waits two seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.http == nil {
		return nil
	}
	s.status = StatusDraining
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), defaultShutdownGrace)
		defer cancel()
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("eventbridge: shutdown: %w", err)
	}
	s.http = nil
	s.listener = nil
	return nil
}

// Addr is the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL is the URL clients should use; it reflects an ephemeral port once
// bound.
func (s *Server) BaseURL() string {
	if addr := s.Addr(); addr != "" {
		return "http://" + addr
	}
	return s.settings.URL()
}

// Status reports the lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// authorized enforces the bearer token when one is configured.
func (s *Server) authorized(next http.Handler) http.Handler {
	if s.settings.Token == "" {
		return next
	}
	want := []byte("Bearer " + s.settings.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(strings.TrimSpace(r.Header.Get("Authorization")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tollgate"`)
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := healthResponse{Status: string(s.status), Version: ProtocolVersion}
	if !s.started.IsZero() {
		resp.UptimeSeconds = int64(s.clock().Sub(s.started).Seconds())
	}
	s.mu.RUnlock()
	if s.active != nil {
		resp.ActiveRuns = s.active()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	evt, status, err := s.decodeEvent(w, r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	if err := s.processor.HandleEvent(evt); err != nil {
		s.logger.Printf("eventbridge: process event %s: %v", evt.EventID, err)
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}
	writeJSON(w, http.StatusAccepted, eventResponse{Status: "accepted", EventID: evt.EventID, ServerTime: evt.ServerTime})
}

// decodeEvent reads, validates and stamps one event. On failure it returns
// the HTTP status to answer with.
func (s *Server) decodeEvent(w http.ResponseWriter, r *http.Request) (Event, int, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return Event{}, http.StatusRequestEntityTooLarge, fmt.Errorf("payload exceeds %d bytes", tooLarge.Limit)
		}
		return Event{}, http.StatusBadRequest, errors.New("unable to read body")
	}
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, http.StatusBadRequest, errors.New("invalid JSON")
	}
	evt.Normalize()
	if err := evt.Validate(); err != nil {
		return Event{}, http.StatusBadRequest, err
	}
	if evt.EventID == "" {
		evt.EventID = s.newID()
	}
	evt.StampServerTime(s.clock())
	return evt, 0, nil
}

func (s *Server) handleRuns(w http.ResponseWriter, _ *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "run history not available")
		return
	}
	ids, err := s.runs.List()
	if err != nil {
		s.logger.Printf("eventbridge: list runs: %v", err)
		writeError(w, http.StatusInternalServerError, "runs could not be listed")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, runsResponse{Runs: ids})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "run history not available")
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	rep, err := s.runs.Load(id)
	switch {
	case errors.Is(err, engine.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case err != nil:
		s.logger.Printf("eventbridge: load run %s: %v", id, err)
		writeError(w, http.StatusBadRequest, "run could not be loaded")
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
