package link

import (
	"sync"
	"time"

	"github.com/goliatone/go-router"
)

// Cookie names mirroring the session token pair.
const (
	CookieSessionAccess  = "session-access"
	CookieSessionRefresh = "session-refresh"
)

// CookieDuration is the lifetime of both session cookies.
const CookieDuration = 7 * 24 * time.Hour

// SessionCookies implements CookieSink by recording the desired cookie
// state; the controller flushes it onto the response with WriteTo. The
// synchronizer runs on session changes, outside any request, so the write
// has to be deferred until a response is available.
type SessionCookies struct {
	mu      sync.Mutex
	access  string
	refresh string
	clear   bool
	secure  bool
	dirty   bool
}

// NewSessionCookies returns a sink writing cookies with the given Secure
// attribute.
func NewSessionCookies(secure bool) *SessionCookies {
	return &SessionCookies{secure: secure}
}

func (s *SessionCookies) SetSessionCookies(access, refresh string) {
	s.mu.Lock()
	s.access = access
	s.refresh = refresh
	s.clear = false
	s.dirty = true
	s.mu.Unlock()
}

func (s *SessionCookies) ClearSessionCookies() {
	s.mu.Lock()
	s.access = ""
	s.refresh = ""
	s.clear = true
	s.dirty = true
	s.mu.Unlock()
}

// WriteTo flushes any pending cookie state onto the response. Returns true
// when cookies were written.
func (s *SessionCookies) WriteTo(ctx router.Context) bool {
	s.mu.Lock()
	access, refresh, clear, dirty := s.access, s.refresh, s.clear, s.dirty
	s.dirty = false
	s.mu.Unlock()

	if !dirty {
		return false
	}

	if clear {
		s.cookieDel(ctx, CookieSessionAccess)
		s.cookieDel(ctx, CookieSessionRefresh)
		return true
	}

	s.cookieSet(ctx, CookieSessionAccess, access)
	s.cookieSet(ctx, CookieSessionRefresh, refresh)
	return true
}

func (s *SessionCookies) cookieSet(c router.Context, name, val string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    val,
		Path:     "/",
		Expires:  time.Now().Add(CookieDuration),
		HTTPOnly: true,
		Secure:   s.secure,
		SameSite: "Lax",
	})
}

func (s *SessionCookies) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   s.secure,
		SameSite: "Lax",
	})
}
