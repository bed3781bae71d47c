package identity

import (
	"sync"

	"docgate/pkg/logging"
)

// Registry maps transport session ids to user keys.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]string)}
}

// Bind associates sessionID with userKey, replacing any earlier binding.
func (r *Registry) Bind(sessionID, userKey string) {
	r.mu.Lock()
	r.sessions[sessionID] = userKey
	r.mu.Unlock()

	logging.Debug("Identity", "Bound session %s to user %s", sessionID, logging.TruncateKey(userKey))
}

// Resolve returns the user key bound to sessionID.
func (r *Registry) Resolve(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userKey, ok := r.sessions[sessionID]
	return userKey, ok
}

// Unbind forgets sessionID.
func (r *Registry) Unbind(sessionID string) {
	r.mu.Lock()
	_, existed := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if existed {
		logging.Debug("Identity", "Unbound session %s", sessionID)
	}
}

// Len returns the number of bound sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
