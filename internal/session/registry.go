package session

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ashureev/tgcapture/internal/telegram"
)

// Releaser closes a connection handle that is leaving the registry.
type Releaser interface {
	ReleaseHandle(identityKey string, handle telegram.Client)
}

// Registry maps identity keys to their single authorized session.
type Registry struct {
	mu       sync.RWMutex
	active   map[string]*Session
	releaser Releaser
	logger   *slog.Logger
}

// NewRegistry creates an empty registry that hands replaced or removed
// connections to releaser.
func NewRegistry(releaser Releaser, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		active:   make(map[string]*Session),
		releaser: releaser,
		logger:   logger,
	}
}

// Get returns the registered session for an identity, or nil.
func (r *Registry) Get(identityKey string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[identityKey]
}

// Put registers sess under identityKey. A different session already registered
// for the key is released first.
func (r *Registry) Put(identityKey string, sess *Session) error {
	r.mu.Lock()
	for key, other := range r.active {
		if key != identityKey && other.Client() == sess.Client() {
			r.mu.Unlock()
			return ErrHandleInUse
		}
	}

	var replaced *Session
	if existing, exists := r.active[identityKey]; exists && existing != sess {
		if existing.Client() != sess.Client() {
			replaced = existing
		}
		r.logger.Info("Session replaced", "identity", identityKey)
	}
	r.active[identityKey] = sess
	r.mu.Unlock()

	// Closing a connection can take seconds; other identities must not wait on it.
	if replaced != nil {
		r.release(identityKey, replaced)
	}
	r.logger.Info("Session registered", "identity", identityKey)
	return nil
}

// Remove unregisters and releases an identity's session. It reports whether a
// session was present; absence is not an error.
func (r *Registry) Remove(identityKey string) bool {
	r.mu.Lock()
	existing, ok := r.active[identityKey]
	delete(r.active, identityKey)
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.release(identityKey, existing)
	r.logger.Info("Session unregistered", "identity", identityKey)
	return true
}

// Keys returns the registered identity keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.active))
	for key := range r.active {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close releases every registered session.
func (r *Registry) Close() {
	r.mu.Lock()
	active := r.active
	r.active = make(map[string]*Session)
	r.mu.Unlock()

	for key, sess := range active {
		r.release(key, sess)
	}
}

func (r *Registry) release(identityKey string, sess *Session) {
	if r.releaser != nil {
		r.releaser.ReleaseHandle(identityKey, sess.Client())
		return
	}
	if err := sess.Client().Close(); err != nil {
		r.logger.Warn("Failed to close session connection", "identity", identityKey, "error", err)
	}
}
