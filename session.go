package link

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProviderKind classifies which external system asserted an identity.
type ProviderKind string

const (
	ProviderChatPlatform ProviderKind = "chat_platform"
	ProviderOther        ProviderKind = "other"
)

// Identity holds the claims the login provider asserts about the user.
type Identity struct {
	ProviderUserID string       `json:"provider_user_id"`
	ProviderName   string       `json:"provider_name"`
	DisplayName    string       `json:"display_name"`
	Provider       ProviderKind `json:"provider"`
}

// Session is the authenticated credential bundle for a logged-in user.
// Sessions are replaced wholesale and never mutated in place, so readers
// holding a *Session never observe a partial update.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Identity     Identity  `json:"identity"`
}

// Expired reports whether the session's access token is past its expiry.
// A zero ExpiresAt means the provider did not communicate one; treat as live.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

func (s Session) String() string {
	expires := "<none>"
	if !s.ExpiresAt.IsZero() {
		expires = s.ExpiresAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"user=%s provider=%s display=%s exp=%s",
		s.Identity.ProviderUserID,
		s.Identity.ProviderName,
		s.Identity.DisplayName,
		expires,
	)
}

// EncodeSession serializes a session as the single durable-store record.
func EncodeSession(s *Session) ([]byte, error) {
	if s == nil {
		return nil, ErrSyncFailure.Clone().WithMetadata(map[string]any{
			"reason": "cannot encode nil session",
		})
	}
	return json.Marshal(s)
}

// DecodeSession parses a durable-store record back into a Session.
func DecodeSession(data []byte) (*Session, error) {
	session := &Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, ErrSyncFailure.Clone().WithMetadata(map[string]any{
			"reason": "unable to decode session record",
			"cause":  err.Error(),
		})
	}
	return session, nil
}
