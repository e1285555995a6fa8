// Package gateway is the client-facing surface of the voice engine:
// a websocket endpoint for full-duplex audio, a WebRTC signaling
// endpoint feeding the same session machinery, and a small JSON API
// over engine health, the voice roster, and recorded sessions.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/voxloop/voxloop/pkg/engine"
	"github.com/voxloop/voxloop/pkg/transcript"
	"github.com/voxloop/voxloop/pkg/voices"
)

const shutdownGrace = 3 * time.Second

// Config assembles a Server. Engine, Catalog, and Transcripts are
// required.
type Config struct {
	Engine      *engine.Engine
	Catalog     *voices.Catalog
	Transcripts *transcript.Store
	Logger      *slog.Logger

	// DefaultPrompt is the text persona used when a client starts a
	// session without one.
	DefaultPrompt string
}

// Server routes client connections into the engine.
type Server struct {
	engine        *engine.Engine
	catalog       *voices.Catalog
	transcripts   *transcript.Store
	log           *slog.Logger
	defaultPrompt string

	mux    *http.ServeMux
	runCtx context.Context
}

// NewServer validates cfg and builds the route table.
func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Engine == nil:
		return nil, errors.New("gateway: config: missing Engine")
	case cfg.Catalog == nil:
		return nil, errors.New("gateway: config: missing Catalog")
	case cfg.Transcripts == nil:
		return nil, errors.New("gateway: config: missing Transcripts")
	}
	s := &Server{
		engine:        cfg.Engine,
		catalog:       cfg.Catalog,
		transcripts:   cfg.Transcripts,
		log:           cfg.Logger,
		defaultPrompt: cfg.DefaultPrompt,
		mux:           http.NewServeMux(),
		runCtx:        context.Background(),
	}
	if s.log == nil {
		s.log = slog.Default()
	}

	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/v1/voices", s.handleVoices)
	s.mux.HandleFunc("/v1/sessions", s.handleSessions)
	s.mux.HandleFunc("/v1/sessions/", s.handleSessionByID)
	s.mux.HandleFunc("/v1/webrtc/offer", s.handleWebRTCOffer)
	return s, nil
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until ctx is cancelled, then closes the active
// session and drains the listener.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.runCtx = ctx
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.mux,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		s.engine.CloseActive("server shutting down")
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		srv.Shutdown(shCtx)
	}()
	s.log.Info("gateway: listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// sessionContext is the parent context for sessions that outlive the
// HTTP request that spawned them.
func (s *Server) sessionContext() context.Context {
	return s.runCtx
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.engine.Health())
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.catalog.List())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	recs, err := s.transcripts.List(r.Context())
	if err != nil {
		s.log.Error("gateway: list sessions", "error", err)
		http.Error(w, "session store unavailable", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []transcript.Record{}
	}
	s.writeJSON(w, recs)
}

// SessionDetail is the response body for one recorded session.
type SessionDetail struct {
	Record transcript.Record  `json:"record"`
	Events []transcript.Event `json:"events"`
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.transcripts.Get(r.Context(), id)
		if err != nil {
			s.log.Error("gateway: load session", "session", id, "error", err)
			http.Error(w, "session store unavailable", http.StatusInternalServerError)
			return
		}
		if rec == nil {
			http.NotFound(w, r)
			return
		}
		events, err := s.transcripts.Events(r.Context(), id)
		if err != nil {
			s.log.Error("gateway: load session events", "session", id, "error", err)
			http.Error(w, "session store unavailable", http.StatusInternalServerError)
			return
		}
		if events == nil {
			events = []transcript.Event{}
		}
		s.writeJSON(w, SessionDetail{Record: *rec, Events: events})

	case http.MethodDelete:
		n, err := s.transcripts.Purge(r.Context(), id)
		if err != nil {
			s.log.Error("gateway: purge session", "session", id, "error", err)
			http.Error(w, "session store unavailable", http.StatusInternalServerError)
			return
		}
		s.writeJSON(w, map[string]int{"purged": n})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("gateway: encode response", "error", err)
	}
}
