package link

import (
	"sync"
	"time"
)

var _ TokenSource = &SessionStore{}

// SessionStore holds the current session and broadcasts changes to
// subscribers. It is a purely in-memory primitive: no I/O, no retries.
// Subscribers are invoked synchronously in registration order.
type SessionStore struct {
	mu       sync.Mutex
	dispatch sync.Mutex
	current  *Session
	nextID   int
	order    []int
	subs     map[int]func(*Session)
	now      func() time.Time
}

// SessionStoreOption customizes store construction.
type SessionStoreOption func(*SessionStore)

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock func() time.Time) SessionStoreOption {
	return func(s *SessionStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

func NewSessionStore(opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{
		subs: map[int]func(*Session){},
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Current returns the session or nil when signed out.
func (s *SessionStore) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the current session and notifies subscribers synchronously.
// A session equivalent to the current one is still dispatched as a change:
// an equal value may need to retrigger synchronization after an external
// mutation, e.g. a token refreshed without this store's involvement.
func (s *SessionStore) Set(session *Session) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	s.current = session
	s.mu.Unlock()

	s.notify(session)
}

// Clear sets the current session to nil and notifies subscribers.
func (s *SessionStore) Clear() {
	s.Set(nil)
}

// Subscribe registers fn and returns its unsubscribe function. Registration
// order determines notification order.
func (s *SessionStore) Subscribe(fn func(*Session)) func() {
	if fn == nil {
		return func() {}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

// Token implements TokenSource for the verification client. Absence or
// expiry of the session yields ErrNotAuthenticated.
func (s *SessionStore) Token() (string, error) {
	s.mu.Lock()
	current := s.current
	now := s.now()
	s.mu.Unlock()

	if current == nil || current.AccessToken == "" {
		return "", ErrNotAuthenticated
	}
	if current.Expired(now) {
		return "", ErrNotAuthenticated.Clone().WithMetadata(map[string]any{
			"expired_at": current.ExpiresAt,
		})
	}
	return current.AccessToken, nil
}

// notify runs under the dispatch lock only, so overlapping Set calls keep a
// total order while subscribers remain free to call back into the store.
func (s *SessionStore) notify(session *Session) {
	s.mu.Lock()
	handlers := make([]func(*Session), 0, len(s.order))
	for _, id := range s.order {
		if fn, ok := s.subs[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(session)
	}
}
