// Package server exposes the chat service over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/shpitdev/leadgen-pipeline/internal/agent"
	"github.com/shpitdev/leadgen-pipeline/internal/app"
	"github.com/shpitdev/leadgen-pipeline/internal/orchard"
	"github.com/shpitdev/leadgen-pipeline/pkg/pipeline/redact"
)

// HeaderSession carries the caller's session id. Requests without it are keyed by
// their User-Agent.
const HeaderSession = "X-Session-ID"

const maxBodyBytes = 1 << 20

// Chat is the part of app.Service the handlers need.
type Chat interface {
	Chat(ctx context.Context, session, message string) (agent.Turn, error)
	NewSession(session string)
	Results(session string) (string, bool)
	Export(session string) (string, bool)
	Snapshot(session string) (*orchard.Context, bool)
}

var _ Chat = (*app.Service)(nil)

type Server struct {
	chat   Chat
	logger *zap.Logger
}

func New(chat Chat, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{chat: chat, logger: logger}
}

// Handler returns the routed handler wrapped in CORS and panic recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /new_session", s.handleNewSession)
	mux.HandleFunc("GET /results", s.handleResults)
	mux.HandleFunc("GET /export", s.handleExport)
	mux.HandleFunc("GET /orchard", s.handleOrchard)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return cors(s.recoverer(mux))
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
	Complete bool   `json:"complete"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, chatResponse{Response: "Please send a JSON body with a non-empty \"message\"."})
		return
	}

	session := sessionID(r)
	turn, err := s.chat.Chat(r.Context(), session, req.Message)
	if err != nil {
		s.logger.Warn("chat failed", zap.String("session", session), zap.String("error", redact.Secrets(err.Error())))
		if errors.Is(err, app.ErrShutdown) {
			writeJSON(w, http.StatusServiceUnavailable, chatResponse{Response: "The service is shutting down. Please try again later."})
			return
		}
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: turn.Response, Complete: turn.Complete})
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	s.chat.NewSession(sessionID(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	text, _ := s.chat.Results(sessionID(r))
	writeJSON(w, http.StatusOK, map[string]string{"results": text})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	text, ok := s.chat.Export(sessionID(r))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no exported leads for this session"})
		return
	}
	ct := "text/csv; charset=utf-8"
	if strings.Contains(firstLine(text), "\t") {
		ct = "text/tab-separated-values; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

func (s *Server) handleOrchard(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.chat.Snapshot(sessionID(r))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no finished run for this session"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func sessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderSession)); id != "" {
		return id
	}
	if ua := strings.TrimSpace(r.UserAgent()); ua != "" {
		return ua
	}
	return "anonymous"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
