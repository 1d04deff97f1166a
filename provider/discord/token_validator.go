package discord

import (
	stderrors "errors"
	"fmt"
	"log"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/goliatone/go-link"
)

// TokenValidator validates provider-issued JWTs against a JWK Set and maps
// their claims onto a link.Identity.
type TokenValidator struct {
	keyfunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
}

// NewTokenValidator fetches the JWK Set from the configured URL and keeps
// it refreshed in the background.
func NewTokenValidator(cfg Config) (*TokenValidator, error) {
	if cfg.JWKSetURL == "" {
		return nil, fmt.Errorf("discord: JWK Set URL is required")
	}

	jwks, err := keyfunc.Get(cfg.JWKSetURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			log.Printf("failed to do a background refresh of JWT set: %s", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("discord: failed to get JWK Set: %w", err)
	}

	return &TokenValidator{
		keyfunc: jwks.Keyfunc,
		jwks:    jwks,
	}, nil
}

// NewTokenValidatorWithKeys builds a validator from statically given keys,
// bypassing the JWK Set fetch.
func NewTokenValidatorWithKeys(keys map[string]keyfunc.GivenKey) *TokenValidator {
	return &TokenValidator{
		keyfunc: keyfunc.NewGiven(keys).Keyfunc,
	}
}

// Close stops the background JWK Set refresh.
func (v *TokenValidator) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// Validate parses and verifies the token, returning the identity carried
// by its claims.
func (v *TokenValidator) Validate(tokenString string) (*link.Identity, error) {
	token, err := jwt.Parse(tokenString, v.keyfunc)
	if err != nil {
		return nil, normalizeValidationError(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, link.ErrNotAuthenticated.Clone().WithMetadata(map[string]any{
			"provider": "discord",
			"reason":   "unexpected claims type",
		})
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, link.ErrNotAuthenticated.Clone().WithMetadata(map[string]any{
			"provider": "discord",
			"reason":   "missing subject claim",
		})
	}

	name, _ := claims["preferred_username"].(string)

	return &link.Identity{
		ProviderUserID: sub,
		ProviderName:   "discord",
		DisplayName:    name,
		Provider:       link.ProviderChatPlatform,
	}, nil
}

func normalizeValidationError(err error) error {
	if err == nil {
		return nil
	}

	clone := link.ErrNotAuthenticated.Clone()
	clone.Source = err

	meta := map[string]any{
		"provider": "discord",
		"cause":    err.Error(),
	}
	if stderrors.Is(err, jwt.ErrTokenExpired) {
		meta["expired"] = true
	}

	return clone.WithMetadata(meta)
}
