// Package config loads identity settings from the environment, optionally
// seeded from .env files.
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
)

// Config holds the identity layer settings
type Config struct {
	DBDriver              string `env:"IDENTITY_DB_DRIVER" envDefault:"sqlite"`
	DBDSN                 string `env:"IDENTITY_DB_DSN" envDefault:"file:identity.db?cache=shared"`
	ExternalAuthBaseURL   string `env:"EXTERNAL_AUTH_BASE_URL"`
	ExternalAuthTimeout   int    `env:"EXTERNAL_AUTH_TIMEOUT" envDefault:"30"`
	PhoneRegion           string `env:"IDENTITY_PHONE_REGION" envDefault:"US"`
	DefaultRole           string `env:"IDENTITY_DEFAULT_ROLE" envDefault:"pending"`
	BcryptCost            int    `env:"IDENTITY_BCRYPT_COST" envDefault:"10"`
	LogLevel              string `env:"IDENTITY_LOG_LEVEL" envDefault:"info"`
	ProvisionLinkFallback bool   `env:"IDENTITY_PROVISION_LINK_FALLBACK" envDefault:"true"`
}

// Load reads the given .env files, when present, then parses the
// environment. Variables already set win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read env file").
				WithMetadata(map[string]any{"file": f})
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid identity configuration")
	}
	return cfg, nil
}

// Validate checks the driver, URL and numeric ranges
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.DBDriver, validation.Required, validation.In("sqlite", "sqlite3", "postgres", "pgx")),
		validation.Field(&c.ExternalAuthBaseURL, is.URL),
		validation.Field(&c.ExternalAuthTimeout, validation.Min(0)),
		validation.Field(&c.PhoneRegion, validation.Length(2, 2)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
	)
}

// GetDriver returns the storage engine name
func (c Config) GetDriver() string {
	return c.DBDriver
}

// GetDSN returns the storage connection string
func (c Config) GetDSN() string {
	return c.DBDSN
}

// GetExternalAuthBaseURL returns the upstream provider base URL
func (c Config) GetExternalAuthBaseURL() string {
	return c.ExternalAuthBaseURL
}

// GetExternalAuthTimeout converts the configured seconds to a duration
func (c Config) GetExternalAuthTimeout() time.Duration {
	return time.Duration(c.ExternalAuthTimeout) * time.Second
}

// GetPhoneRegion returns the region for numbers without a prefix
func (c Config) GetPhoneRegion() string {
	return strings.ToUpper(c.PhoneRegion)
}

// GetDefaultRole returns the role for accounts created without one
func (c Config) GetDefaultRole() string {
	return c.DefaultRole
}

// GetBcryptCost returns the cost used for new password hashes
func (c Config) GetBcryptCost() int {
	return c.BcryptCost
}

// GetLogLevel returns the zap level name
func (c Config) GetLogLevel() string {
	return c.LogLevel
}
