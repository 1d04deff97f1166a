package link

import "context"

type contextKey struct{ name string }

var sessionContextKey = contextKey{"link:session"}

// WithContext returns a context carrying the session.
func WithContext(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// FromContext retrieves the session stored by WithContext, nil when absent.
func FromContext(ctx context.Context) *Session {
	if session, ok := ctx.Value(sessionContextKey).(*Session); ok {
		return session
	}
	return nil
}
