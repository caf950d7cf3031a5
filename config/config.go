// Package config loads fieldcrypt's configuration from the environment.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"github.com/remind101/fieldcrypt/crypto/aead"
	"github.com/remind101/fieldcrypt/crypto/envelope"
	"github.com/remind101/fieldcrypt/database"
)

const (
	RegistrySQL    = "sql"
	RegistryDynamo = "dynamodb"
)

type Config struct {
	WrapProvider  string `env:"FIELDCRYPT_WRAP_PROVIDER" envDefault:"local"`
	LocalKEK      string `env:"FIELDCRYPT_LOCAL_KEK"`
	KMSKeyID      string `env:"FIELDCRYPT_KMS_KEY_ID"`
	AWSRegion     string `env:"AWS_REGION" envDefault:"us-east-1"`
	AEAD          string `env:"FIELDCRYPT_AEAD" envDefault:"aes-gcm"`
	AllowNullAEAD bool   `env:"FIELDCRYPT_ALLOW_NULL_AEAD"`

	AADTag       string `env:"FIELDCRYPT_AAD_TAG" envDefault:"txn:v1"`
	InitialLabel string `env:"FIELDCRYPT_INITIAL_LABEL" envDefault:"active"`

	BatchSize              int     `env:"FIELDCRYPT_BATCH_SIZE" envDefault:"500"`
	FailSampleLimit        int     `env:"FIELDCRYPT_FAIL_SAMPLE_LIMIT" envDefault:"20"`
	ETAWarnPct             float64 `env:"FIELDCRYPT_ETA_WARN_PCT" envDefault:"50"`
	ETAWarnMinDeltaSeconds float64 `env:"FIELDCRYPT_ETA_WARN_MIN_DELTA_SECONDS" envDefault:"60"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL    string `env:"DATABASE_URL" envDefault:"file:fieldcrypt.db?_pragma=busy_timeout(5000)"`
	Registry       string `env:"FIELDCRYPT_REGISTRY" envDefault:"sql"`
	DynamoTable    string `env:"FIELDCRYPT_DYNAMO_TABLE" envDefault:"fieldcrypt-keys"`

	HealthFatal bool   `env:"FIELDCRYPT_HEALTH_FATAL"`
	Port        string `env:"PORT" envDefault:"8080"`
	// AdminAuth is "user:pass". Admin routes are disabled when empty.
	AdminAuth string `env:"FIELDCRYPT_ADMIN_AUTH"`

	StatsdAddr string `env:"STATSD_ADDR"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the process environment and validates the result.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom is Load over an explicit environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return nil, errors.Wrap(err, "parsing environment")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks rules spanning several variables.
func (c *Config) Validate() error {
	switch c.WrapProvider {
	case envelope.ModeLocal:
		if c.LocalKEK == "" {
			return errors.New("FIELDCRYPT_LOCAL_KEK is required with the local wrap provider")
		}
	case envelope.ModeKMS:
		if c.KMSKeyID == "" {
			return errors.New("FIELDCRYPT_KMS_KEY_ID is required with the kms wrap provider")
		}
	default:
		return errors.Errorf("unknown wrap provider %q", c.WrapProvider)
	}

	switch c.AEAD {
	case aead.NameAESGCM, aead.NameChaCha20Poly1305:
	case aead.NameNull:
		if !c.AllowNullAEAD {
			return aead.ErrNullNotAllowed
		}
	default:
		return errors.Errorf("unknown aead %q", c.AEAD)
	}

	switch c.DatabaseDriver {
	case database.DriverSQLite, database.DriverPostgres:
	default:
		return errors.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}

	switch c.Registry {
	case RegistrySQL:
	case RegistryDynamo:
		if c.DynamoTable == "" {
			return errors.New("FIELDCRYPT_DYNAMO_TABLE is required with the dynamodb registry")
		}
	default:
		return errors.Errorf("unknown registry %q", c.Registry)
	}

	if c.AADTag == "" {
		return errors.New("FIELDCRYPT_AAD_TAG must not be empty")
	}
	if c.BatchSize <= 0 {
		return errors.New("FIELDCRYPT_BATCH_SIZE must be positive")
	}
	if c.FailSampleLimit <= 0 {
		return errors.New("FIELDCRYPT_FAIL_SAMPLE_LIMIT must be positive")
	}
	if c.ETAWarnPct < 0 || c.ETAWarnMinDeltaSeconds < 0 {
		return errors.New("eta thresholds must not be negative")
	}
	if c.AdminAuth != "" && !strings.Contains(c.AdminAuth, ":") {
		return errors.New("FIELDCRYPT_ADMIN_AUTH must be user:pass")
	}
	return nil
}

// ETAWarnMinDelta is ETAWarnMinDeltaSeconds as a duration.
func (c *Config) ETAWarnMinDelta() time.Duration {
	return time.Duration(c.ETAWarnMinDeltaSeconds * float64(time.Second))
}

// AdminCredentials splits AdminAuth.
func (c *Config) AdminCredentials() (user, pass string, ok bool) {
	if c.AdminAuth == "" {
		return "", "", false
	}
	i := strings.IndexByte(c.AdminAuth, ':')
	return c.AdminAuth[:i], c.AdminAuth[i+1:], true
}
