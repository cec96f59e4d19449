// Package server exposes the assistant over HTTP and a WebSocket.
package server

import (
	"context"
	"errors"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"jarvis/internal/assistant"
	"jarvis/internal/memory"
	"jarvis/internal/sysinfo"
	"jarvis/internal/voice"
)

// MetricsSource is satisfied by *sysinfo.Sampler.
type MetricsSource interface {
	Sample(ctx context.Context) (sysinfo.Snapshot, error)
}

type Options struct {
	Generator *assistant.Generator
	Sessions  *memory.Registry
	// Voice is nil when no speech model is loaded.
	Voice   *voice.Processor
	Metrics MetricsSource

	AllowedOrigins []string
	// MetricsInterval is the system_metrics push period; zero disables it.
	MetricsInterval time.Duration
	// SessionTTL drops sessions idle for longer; zero keeps them forever.
	SessionTTL time.Duration

	Logger *log.Logger
}

type Server struct {
	gen      *assistant.Generator
	sessions *memory.Registry
	voice    *voice.Processor
	metrics  MetricsSource

	origins         []string
	metricsInterval time.Duration
	sessionTTL      time.Duration

	hub      *hub
	upgrader websocket.Upgrader
	logger   *log.Logger
}

func New(opt Options) *Server {
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	if opt.Sessions == nil {
		opt.Sessions = memory.NewRegistry(10)
	}

	s := &Server{
		gen:             opt.Generator,
		sessions:        opt.Sessions,
		voice:           opt.Voice,
		metrics:         opt.Metrics,
		origins:         opt.AllowedOrigins,
		metricsInterval: opt.MetricsInterval,
		sessionTTL:      opt.SessionTTL,
		hub:             newHub(opt.Logger),
		logger:          opt.Logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(s.origins, origin)
		},
	}
	return s
}

// Handler returns the routed API with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/sentiment", s.handleSentiment)
	mux.HandleFunc("GET /api/sessions/{id}/history", s.handleHistory)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDropSession)
	mux.HandleFunc("POST /api/process_voice", s.handleProcessVoice)
	mux.HandleFunc("GET /api/system", s.handleSystem)
	mux.HandleFunc("GET /ws", s.handleWS)

	return s.logRequests(cors(s.origins, unmatchedAsJSON(mux)))
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.pushMetrics(ctx)
	go s.pruneSessions(ctx)

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down")
	s.hub.closeAll()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Converse runs one conversational turn on the session: the reply is stored
// in memory only when generation succeeded.
func (s *Server) Converse(ctx context.Context, sessionID, prompt string) assistant.Reply {
	sess := s.sessions.Get(sessionID)
	sess.Lock()
	defer sess.Unlock()

	reply := s.gen.Respond(ctx, prompt, sess.Memory.History())
	reply.Text = assistant.FormatResponse(reply.Text)
	if reply.OK() {
		sess.Memory.AddInteraction(prompt, reply.Text)
	}
	return reply
}

// ClearSession forgets the conversation of id. It reports whether the
// session existed.
func (s *Server) ClearSession(id string) bool {
	sess, ok := s.sessions.Lookup(id)
	if !ok {
		return false
	}
	sess.Lock()
	sess.Memory.Clear()
	sess.Unlock()
	return true
}

func (s *Server) history(id string) []memory.Turn {
	turns := []memory.Turn{}
	sess, ok := s.sessions.Lookup(id)
	if !ok {
		return turns
	}
	sess.Lock()
	defer sess.Unlock()
	return append(turns, sess.Memory.History()...)
}

func (s *Server) pruneSessions(ctx context.Context) {
	if s.sessionTTL <= 0 {
		return
	}
	ticker := time.NewTicker(s.sessionTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Prune(s.sessionTTL); n > 0 {
				s.logger.Info("Pruned idle sessions", "count", n, "left", s.sessions.Len())
			}
		}
	}
}
