package link

import (
	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-errors"
)

// EnvConfig satisfies Config from environment variables.
type EnvConfig struct {
	PrivilegedIDs       []string `env:"LINK_PRIVILEGED_IDS" envSeparator:","`
	VerificationBaseURL string   `env:"LINK_VERIFICATION_BASE_URL"`
	ReturnURL           string   `env:"LINK_RETURN_URL" envDefault:"/"`
	CookieSecure        bool     `env:"LINK_COOKIE_SECURE" envDefault:"true"`
}

// LoadEnvConfig parses configuration from the process environment.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse environment configuration")
	}
	return cfg, nil
}

func (c *EnvConfig) GetPrivilegedIDs() []string {
	return c.PrivilegedIDs
}

func (c *EnvConfig) GetVerificationBaseURL() string {
	return c.VerificationBaseURL
}

func (c *EnvConfig) GetReturnURL() string {
	return c.ReturnURL
}

func (c *EnvConfig) GetCookieSecure() bool {
	return c.CookieSecure
}
