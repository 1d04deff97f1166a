package link

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// TokenSource supplies the bearer token the verification endpoints require.
// SessionStore implements it; Token returns ErrNotAuthenticated when no
// usable session exists.
type TokenSource interface {
	Token() (string, error)
}

// DurableStore persists the session mirror across restarts. LoadSession
// returns (nil, nil) when no record exists.
type DurableStore interface {
	LoadSession(ctx context.Context) (*Session, error)
	SaveSession(ctx context.Context, session *Session) error
	DeleteSession(ctx context.Context) error
}

// CookieSink receives the session cookie pair on every transition. The HTTP
// layer flushes the recorded state onto outgoing responses.
type CookieSink interface {
	SetSessionCookies(accessToken, refreshToken string)
	ClearSessionCookies()
}

// OverrideStore persists the local admin override flag, independent of the
// session record.
type OverrideStore interface {
	AdminOverride(ctx context.Context) (bool, error)
	SetAdminOverride(ctx context.Context, enabled bool) error
	ClearAdminOverride(ctx context.Context) error
}

// VerificationRecords persists VerificationRecord state so that completion
// side effects survive a remount of the flow. FindByPlatformUser returns
// (nil, nil) when no record exists.
type VerificationRecords interface {
	FindByPlatformUser(ctx context.Context, platformUserID string) (*VerificationRecord, error)
	Save(ctx context.Context, record *VerificationRecord) error
}

// VerifyRequest asks the external system whether a claimed identity exists.
type VerifyRequest struct {
	ClaimedIdentity  string `json:"claimedIdentity"`
	PlatformUserID   string `json:"platformUserId"`
	PlatformUsername string `json:"platformUsername"`
}

// GrantRequest asks the external system to assign the member role.
type GrantRequest struct {
	PlatformUserID  string `json:"platformUserId"`
	ClaimedIdentity string `json:"claimedIdentity,omitempty"`
}

// NotifyRequest asks the external system to send the completion notification.
type NotifyRequest struct {
	PlatformUserID  string `json:"platformUserId"`
	ClaimedIdentity string `json:"claimedIdentity,omitempty"`
}

// VerificationClient wraps the three idempotent external calls. All errors
// follow the package taxonomy (ErrNotAuthenticated, ErrIdentityNotFound,
// ErrTransient, ErrRejected).
type VerificationClient interface {
	VerifyIdentity(ctx context.Context, req VerifyRequest) (bool, error)
	AssignRole(ctx context.Context, req GrantRequest) (bool, error)
	Notify(ctx context.Context, req NotifyRequest) (bool, error)
}

// PlatformProvider is the OAuth identity authority used for primary login.
type PlatformProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Session, error)
}

// Config holds linking options
type Config interface {
	GetPrivilegedIDs() []string
	GetVerificationBaseURL() string
	GetReturnURL() string
	GetCookieSecure() bool
}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] LINK "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] LINK "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] LINK "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
