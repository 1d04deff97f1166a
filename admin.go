package link

import (
	"context"
)

// AdminSource identifies which check granted the admin flag.
type AdminSource string

const (
	// AdminByIdentity means the session identity matched the privileged
	// allow-list. Server-verifiable.
	AdminByIdentity AdminSource = "identity"
	// AdminByOverride means the local override flag granted access. This is
	// an explicit, user-initiated escalation with weaker trust; callers
	// gating anything security-relevant should require AdminByIdentity.
	AdminByOverride AdminSource = "override"
	// AdminDenied means neither source granted access.
	AdminDenied AdminSource = ""
)

// AdminResolver derives the admin flag from the current session identity
// and a persisted local override. The flag is computed fresh on every read
// and never cached, so it cannot go stale after sign-out.
type AdminResolver struct {
	store      *SessionStore
	overrides  OverrideStore
	privileged map[string]struct{}
	logger     Logger
	unsub      func()
}

// AdminResolverOption customizes resolver construction.
type AdminResolverOption func(*AdminResolver)

// WithAdminLogger overrides the logger used for override-store failures.
func WithAdminLogger(logger Logger) AdminResolverOption {
	return func(r *AdminResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewAdminResolver builds a resolver for the given privileged identity
// allow-list. Signing in with a non-privileged identity clears the local
// override; the privileged identity preserves it, keeping the explicit
// escalation path alive across session churn.
func NewAdminResolver(store *SessionStore, overrides OverrideStore, privilegedIDs []string, opts ...AdminResolverOption) *AdminResolver {
	r := &AdminResolver{
		store:      store,
		overrides:  overrides,
		privileged: make(map[string]struct{}, len(privilegedIDs)),
		logger:     defLogger{},
	}
	for _, id := range privilegedIDs {
		if id != "" {
			r.privileged[id] = struct{}{}
		}
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	r.unsub = store.Subscribe(r.onSessionChange)

	return r
}

// Close detaches the resolver from the session store.
func (r *AdminResolver) Close() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

// IsAdmin reports whether the current user is an admin: the session
// identity is privileged OR the local override flag is set.
func (r *AdminResolver) IsAdmin(ctx context.Context) bool {
	return r.Decide(ctx) != AdminDenied
}

// Decide returns which source, if any, grants admin access.
func (r *AdminResolver) Decide(ctx context.Context) AdminSource {
	if session := r.store.Current(); session != nil {
		if r.isPrivileged(session.Identity.ProviderUserID) {
			return AdminByIdentity
		}
	}

	enabled, err := r.overrides.AdminOverride(ctx)
	if err != nil {
		r.logger.Error("admin override read failed: %v", err)
		return AdminDenied
	}
	if enabled {
		return AdminByOverride
	}

	return AdminDenied
}

// SetOverride persists the local override flag.
func (r *AdminResolver) SetOverride(ctx context.Context, enabled bool) error {
	if !enabled {
		return r.overrides.ClearAdminOverride(ctx)
	}
	return r.overrides.SetAdminOverride(ctx, true)
}

func (r *AdminResolver) isPrivileged(providerUserID string) bool {
	_, ok := r.privileged[providerUserID]
	return ok
}

func (r *AdminResolver) onSessionChange(session *Session) {
	if session == nil {
		return
	}
	if r.isPrivileged(session.Identity.ProviderUserID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), syncWriteTimeout)
	defer cancel()

	if err := r.overrides.ClearAdminOverride(ctx); err != nil {
		r.logger.Error("clearing admin override on sign-in failed: %v", err)
	}
}
