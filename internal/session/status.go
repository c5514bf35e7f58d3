package session

import (
	"sync"
	"time"

	"github.com/ashureev/tgcapture/internal/domain"
)

const watcherBuffer = 4

// StatusStore is the keyed login status sink polled by the web layer.
type StatusStore struct {
	mu       sync.RWMutex
	entries  map[string]domain.LoginStatus
	watchers map[string]map[chan domain.LoginStatus]struct{}
	now      func() time.Time
}

// NewStatusStore creates an empty status store.
func NewStatusStore() *StatusStore {
	return &StatusStore{
		entries:  make(map[string]domain.LoginStatus),
		watchers: make(map[string]map[chan domain.LoginStatus]struct{}),
		now:      time.Now,
	}
}

// Publish records the latest status for an identity and notifies watchers.
// The QR URL is kept only while awaiting a scan.
func (s *StatusStore) Publish(st domain.LoginStatus) {
	if st.Status != domain.StatusAwaitingQR {
		st.QRURL = ""
	}
	st.UpdatedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[st.IdentityKey] = st

	for ch := range s.watchers[st.IdentityKey] {
		select {
		case ch <- st:
		default:
			// Watcher is behind; drop its oldest update so the latest lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}

// Get returns the latest status for an identity.
func (s *StatusStore) Get(identityKey string) (domain.LoginStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entries[identityKey]
	return st, ok
}

// Delete forgets an identity's status.
func (s *StatusStore) Delete(identityKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, identityKey)
}

// Watch streams future status updates for an identity until stop is called.
func (s *StatusStore) Watch(identityKey string) (<-chan domain.LoginStatus, func()) {
	ch := make(chan domain.LoginStatus, watcherBuffer)

	s.mu.Lock()
	if _, ok := s.watchers[identityKey]; !ok {
		s.watchers[identityKey] = make(map[chan domain.LoginStatus]struct{})
	}
	s.watchers[identityKey][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if set, ok := s.watchers[identityKey]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(s.watchers, identityKey)
				}
			}
		})
	}
	return ch, stop
}
