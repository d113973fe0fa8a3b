package recognition

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/voicereel/recognition-gateway/internal/observability"
)

// Registry is the concurrent mapping from connection identity to its active
// session. One mutex covers the whole table: session count is bounded by
// concurrent connections and every operation is brief, and a single
// exclusion domain is what makes the at-most-one-session-per-connection
// invariant trivially correct.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   observability.WithComponent("registry"),
	}
}

// Upsert installs a new session for connectionID, stopping and discarding
// any existing one first. The old session's stop is best-effort: a faulty
// session must never block creating its replacement.
func (r *Registry) Upsert(connectionID string, factory func() *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[connectionID]; ok {
		r.logger.Info().
			Str("connection_id", connectionID).
			Str("state", old.State().String()).
			Msg("Replacing existing recognition session")
		old.Stop()
	}

	s := factory()
	r.sessions[connectionID] = s
	return s
}

// Lookup returns the active session for connectionID, if any
func (r *Registry) Lookup(connectionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connectionID]
	return s, ok
}

// Remove tears down and deletes the session for connectionID. It is
// idempotent and tolerates concurrent invocation; a stop failure never
// prevents removal.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[connectionID]
	if !ok {
		return
	}
	delete(r.sessions, connectionID)
	s.Stop()
}

// Len reports the number of live sessions. Diagnostic only.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
