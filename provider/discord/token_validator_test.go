package discord_test

import (
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-link"
	"github.com/goliatone/go-link/provider/discord"
)

const testKID = "test-key"

var testSecret = []byte("test-signing-secret")

func newGivenValidator() *discord.TokenValidator {
	return discord.NewTokenValidatorWithKeys(map[string]keyfunc.GivenKey{
		testKID: keyfunc.NewGivenCustom(testSecret, keyfunc.GivenKeyOptions{
			Algorithm: jwt.SigningMethodHS256.Alg(),
		}),
	})
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = testKID

	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

func TestTokenValidator_Validate(t *testing.T) {
	validator := newGivenValidator()

	tokenString := signToken(t, jwt.MapClaims{
		"sub":                "123456789",
		"preferred_username": "player",
		"exp":                time.Now().Add(time.Hour).Unix(),
	})

	identity, err := validator.Validate(tokenString)
	require.NoError(t, err)

	assert.Equal(t, "123456789", identity.ProviderUserID)
	assert.Equal(t, "player", identity.DisplayName)
	assert.Equal(t, "discord", identity.ProviderName)
	assert.Equal(t, link.ProviderChatPlatform, identity.Provider)
}

func TestTokenValidator_ExpiredToken(t *testing.T) {
	validator := newGivenValidator()

	tokenString := signToken(t, jwt.MapClaims{
		"sub": "123456789",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := validator.Validate(tokenString)
	assert.True(t, link.IsNotAuthenticated(err))
}

func TestTokenValidator_MissingSubject(t *testing.T) {
	validator := newGivenValidator()

	tokenString := signToken(t, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := validator.Validate(tokenString)
	assert.True(t, link.IsNotAuthenticated(err))
}

func TestTokenValidator_GarbageToken(t *testing.T) {
	validator := newGivenValidator()

	_, err := validator.Validate("not-a-token")
	assert.True(t, link.IsNotAuthenticated(err))
}

func TestTokenValidator_RequiresJWKSetURL(t *testing.T) {
	_, err := discord.NewTokenValidator(discord.Config{})
	assert.Error(t, err)
}
