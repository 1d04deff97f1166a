package discord

import "net/http"

const (
	defaultAuthURL  = "https://discord.com/oauth2/authorize"
	defaultTokenURL = "https://discord.com/api/oauth2/token"
	defaultUserURL  = "https://discord.com/api/users/@me"
)

// Config holds Discord OAuth configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	Scopes       []string

	AuthURL   string
	TokenURL  string
	UserURL   string
	JWKSetURL string

	HTTPClient *http.Client
}

// DefaultScopes returns the default Discord scopes.
func DefaultScopes() []string {
	return []string{"identify"}
}

func (c Config) withDefaults() Config {
	if len(c.Scopes) == 0 {
		c.Scopes = DefaultScopes()
	}
	if c.AuthURL == "" {
		c.AuthURL = defaultAuthURL
	}
	if c.TokenURL == "" {
		c.TokenURL = defaultTokenURL
	}
	if c.UserURL == "" {
		c.UserURL = defaultUserURL
	}
	return c
}
