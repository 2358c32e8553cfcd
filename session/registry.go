package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"livetrans/stt"
	"livetrans/translate"
)

var (
	ErrDuplicateSession = errors.New("session id already active")
	ErrSessionNotFound  = errors.New("session not found")
)

const (
	DefaultMaxIdle       = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Registry is the process-wide session table and the single owner of
// session lifetimes. Its map is the only state shared across sessions;
// access is short-held under one lock.
type Registry struct {
	recognition stt.SpeechRecognition
	translator  translate.Translator
	sink        Sink
	cfg         Config
	log         *log.Logger

	// MaxIdle bounds how long a session may sit without activity before
	// the sweep evicts it.
	MaxIdle time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(
	recognition stt.SpeechRecognition,
	translator translate.Translator,
	sink Sink,
	cfg Config,
	logger *log.Logger,
) *Registry {
	return &Registry{
		recognition: recognition,
		translator:  translator,
		sink:        sink,
		cfg:         cfg,
		log:         logger,
		MaxIdle:     DefaultMaxIdle,
		sessions:    make(map[string]*Session),
	}
}

// Create registers a new session. An empty id gets a generated one; a
// supplied id that is already active fails with ErrDuplicateSession.
func (r *Registry) Create(id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return nil, ErrDuplicateSession
	}

	s := newSession(id, r.recognition, r.translator, r.sink, r.cfg, r.log)
	r.sessions[id] = s
	r.log.Info("session created", "session", id, "active", len(r.sessions))
	return s, nil
}

// Get looks up an active session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove tears down and unregisters a session. Idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	active := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}

	// Close outside the lock: teardown waits for the session loop and
	// must not stall other sessions.
	s.Close()
	r.log.Info("session removed", "session", id, "active", active)
}

// Active reports the number of registered sessions.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep evicts sessions that are closed or idle past MaxIdle and returns
// how many were removed. Closed sessions are normally removed by their
// connection handler; the sweep is the backstop for leaked handles.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if s.State() == StateClosed || now.Sub(s.IdleSince()) > r.MaxIdle {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.log.Info("sweeping stale session", "session", id)
		r.Remove(id)
	}
	return len(stale)
}

// Run sweeps periodically until the context is cancelled, then removes
// every remaining session.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(time.Now())
		case <-ctx.Done():
			r.mu.RLock()
			ids := make([]string, 0, len(r.sessions))
			for id := range r.sessions {
				ids = append(ids, id)
			}
			r.mu.RUnlock()
			for _, id := range ids {
				r.Remove(id)
			}
			return
		}
	}
}
