package link

import (
	"context"
	"time"
)

const syncWriteTimeout = 5 * time.Second

// Synchronizer mirrors SessionStore contents into a durable store and the
// session cookie pair on every transition, and rehydrates the store from
// the durable record at startup.
//
// The in-memory store stays the source of truth: a failed mirror write is
// logged as a SynchronizationFailure and never rolled back. Only cross
// restart persistence degrades.
type Synchronizer struct {
	store   *SessionStore
	durable DurableStore
	cookies CookieSink
	logger  Logger
	unsub   func()
}

// SynchronizerOption customizes synchronizer construction.
type SynchronizerOption func(*Synchronizer)

// WithSynchronizerLogger overrides the logger used for mirror failures.
func WithSynchronizerLogger(logger Logger) SynchronizerOption {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSynchronizer wires the mirror and performs rehydration. It must be
// called before any other subscriber registers so the durable mirror is
// always at least as fresh as any other subscriber's view.
func NewSynchronizer(ctx context.Context, store *SessionStore, durable DurableStore, cookies CookieSink, opts ...SynchronizerOption) *Synchronizer {
	s := &Synchronizer{
		store:   store,
		durable: durable,
		cookies: cookies,
		logger:  defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.unsub = store.Subscribe(s.onChange)
	s.rehydrate(ctx)

	return s
}

// Close detaches the synchronizer from the store.
func (s *Synchronizer) Close() {
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
}

func (s *Synchronizer) rehydrate(ctx context.Context) {
	session, err := s.durable.LoadSession(ctx)
	if err != nil {
		s.logger.Error("session rehydration failed: %v", err)
		return
	}
	if session == nil {
		return
	}
	// one Set only; it flows back through onChange, which harmlessly
	// rewrites the record we just read
	s.store.Set(session)
}

func (s *Synchronizer) onChange(session *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), syncWriteTimeout)
	defer cancel()

	if session == nil {
		if err := s.durable.DeleteSession(ctx); err != nil {
			s.logSyncFailure("delete durable session", err)
		}
		s.cookies.ClearSessionCookies()
		return
	}

	if err := s.durable.SaveSession(ctx, session); err != nil {
		s.logSyncFailure("save durable session", err)
	}
	s.cookies.SetSessionCookies(session.AccessToken, session.RefreshToken)
}

func (s *Synchronizer) logSyncFailure(op string, err error) {
	wrapped := ErrSyncFailure.Clone().WithMetadata(map[string]any{
		"operation": op,
		"cause":     err.Error(),
	})
	s.logger.Error("synchronization failure: %v", wrapped)
}
