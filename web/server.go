package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"livetrans/session"
	"livetrans/store"
)

// Server exposes the query surface next to the websocket endpoint:
// liveness, per-session transcript snapshots, and the archive.
type Server struct {
	registry *session.Registry
	archive  *store.Store
	log      *log.Logger
}

func NewServer(registry *session.Registry, archive *store.Store, logger *log.Logger) *Server {
	return &Server{
		registry: registry,
		archive:  archive,
		log:      logger,
	}
}

// Router builds the chi mux. The websocket handler is passed in rather
// than constructed here so tests can mount a fixture in its place.
func (s *Server) Router(wsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/sessions/{sessionID}", s.handleSession)
	r.Get("/api/transcripts", s.handleTranscripts)
	r.Handle("/ws", wsHandler)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"active_sessions": s.registry.Active(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	sess, err := s.registry.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "session not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "transcript archive not configured",
		})
		return
	}

	if id := r.URL.Query().Get("session"); id != "" {
		results, err := s.archive.SessionResults(r.Context(), id)
		if err != nil {
			s.log.Error("archive query failed", "session", id, "error", err)
			http.Error(w, "archive query failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, results)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid limit",
			})
			return
		}
		limit = n
	}

	results, err := s.archive.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("archive query failed", "error", err)
		http.Error(w, "archive query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response", "error", err)
	}
}
