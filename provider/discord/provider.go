// Package discord implements link.PlatformProvider against the Discord
// OAuth endpoints.
package discord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/goliatone/go-link"
)

// Provider implements link.PlatformProvider for Discord.
type Provider struct {
	config     Config
	oauth      *oauth2.Config
	httpClient *http.Client
}

// New creates a Discord provider.
func New(cfg Config) *Provider {
	cfg = cfg.withDefaults()

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Provider{
		config:     cfg,
		httpClient: client,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
	}
}

// Name implements link.PlatformProvider.
func (p *Provider) Name() string {
	return "discord"
}

// AuthCodeURL implements link.PlatformProvider.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// Exchange implements link.PlatformProvider: it trades the authorization
// code for tokens and resolves the user's Discord identity.
func (p *Provider) Exchange(ctx context.Context, code string) (*link.Session, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		failed := link.ErrTokenExchangeFailed.Clone()
		failed.Source = err
		return nil, failed.WithMetadata(map[string]any{
			"provider": p.Name(),
		})
	}

	user, err := p.fetchUser(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	return &link.Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		Identity: link.Identity{
			ProviderUserID: user.ID,
			ProviderName:   p.Name(),
			DisplayName:    user.displayName(),
			Provider:       link.ProviderChatPlatform,
		},
	}, nil
}

type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

func (u discordUser) displayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func (p *Provider) fetchUser(ctx context.Context, accessToken string) (*discordUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		transient := link.ErrTransient.Clone()
		transient.Source = err
		return nil, transient.WithMetadata(map[string]any{
			"provider": p.Name(),
			"endpoint": "user",
		})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, link.ErrNotAuthenticated.Clone().WithMetadata(map[string]any{
			"provider": p.Name(),
			"status":   resp.StatusCode,
			"upstream": string(body),
		})
	}

	user := &discordUser{}
	if err := json.NewDecoder(resp.Body).Decode(user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, link.ErrNotAuthenticated.Clone().WithMetadata(map[string]any{
			"provider": p.Name(),
			"reason":   "user response missing id",
		})
	}

	return user, nil
}
