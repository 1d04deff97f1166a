package link_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-link"
)

func TestLoadEnvConfig(t *testing.T) {
	t.Setenv("LINK_PRIVILEGED_IDS", "111,222")
	t.Setenv("LINK_VERIFICATION_BASE_URL", "https://verify.example.com")
	t.Setenv("LINK_RETURN_URL", "/portal")
	t.Setenv("LINK_COOKIE_SECURE", "false")

	cfg, err := link.LoadEnvConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"111", "222"}, cfg.GetPrivilegedIDs())
	assert.Equal(t, "https://verify.example.com", cfg.GetVerificationBaseURL())
	assert.Equal(t, "/portal", cfg.GetReturnURL())
	assert.False(t, cfg.GetCookieSecure())
}

func TestLoadEnvConfigDefaults(t *testing.T) {
	t.Setenv("LINK_PRIVILEGED_IDS", "")
	t.Setenv("LINK_VERIFICATION_BASE_URL", "")
	t.Setenv("LINK_RETURN_URL", "")
	t.Setenv("LINK_COOKIE_SECURE", "")

	cfg, err := link.LoadEnvConfig()
	require.NoError(t, err)

	assert.Equal(t, "/", cfg.GetReturnURL())
	assert.True(t, cfg.GetCookieSecure())
}
