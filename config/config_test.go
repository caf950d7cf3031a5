package config

import (
	"testing"
	"time"

	"github.com/remind101/fieldcrypt/crypto/aead"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKEK = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

func TestLoadFrom_Defaults(t *testing.T) {
	c, err := LoadFrom(map[string]string{"FIELDCRYPT_LOCAL_KEK": testKEK})
	require.NoError(t, err)

	assert.Equal(t, "local", c.WrapProvider)
	assert.Equal(t, "aes-gcm", c.AEAD)
	assert.Equal(t, "txn:v1", c.AADTag)
	assert.Equal(t, "active", c.InitialLabel)
	assert.Equal(t, 500, c.BatchSize)
	assert.Equal(t, 20, c.FailSampleLimit)
	assert.Equal(t, 50.0, c.ETAWarnPct)
	assert.Equal(t, time.Minute, c.ETAWarnMinDelta())
	assert.Equal(t, "sqlite", c.DatabaseDriver)
	assert.Equal(t, "sql", c.Registry)
	assert.Equal(t, "8080", c.Port)
	assert.False(t, c.HealthFatal)

	_, _, ok := c.AdminCredentials()
	assert.False(t, ok)
}

func TestLoadFrom_Overrides(t *testing.T) {
	c, err := LoadFrom(map[string]string{
		"FIELDCRYPT_WRAP_PROVIDER":              "kms",
		"FIELDCRYPT_KMS_KEY_ID":                 "alias/fieldcrypt",
		"FIELDCRYPT_AEAD":                       "chacha20poly1305",
		"FIELDCRYPT_BATCH_SIZE":                 "100",
		"FIELDCRYPT_ETA_WARN_MIN_DELTA_SECONDS": "1.5",
		"FIELDCRYPT_HEALTH_FATAL":               "true",
		"FIELDCRYPT_ADMIN_AUTH":                 "ops:s3cret:with-colon",
		"FIELDCRYPT_REGISTRY":                   "dynamodb",
		"DATABASE_DRIVER":                       "postgres",
	})
	require.NoError(t, err)

	assert.Equal(t, "kms", c.WrapProvider)
	assert.Equal(t, 100, c.BatchSize)
	assert.Equal(t, 1500*time.Millisecond, c.ETAWarnMinDelta())
	assert.True(t, c.HealthFatal)

	user, pass, ok := c.AdminCredentials()
	assert.True(t, ok)
	assert.Equal(t, "ops", user)
	assert.Equal(t, "s3cret:with-colon", pass)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		env map[string]string
		err string
	}{
		{map[string]string{}, "FIELDCRYPT_LOCAL_KEK is required with the local wrap provider"},
		{map[string]string{"FIELDCRYPT_WRAP_PROVIDER": "kms"}, "FIELDCRYPT_KMS_KEY_ID is required with the kms wrap provider"},
		{map[string]string{"FIELDCRYPT_WRAP_PROVIDER": "vault"}, `unknown wrap provider "vault"`},
		{map[string]string{"FIELDCRYPT_LOCAL_KEK": testKEK, "FIELDCRYPT_AEAD": "rot13"}, `unknown aead "rot13"`},
		{map[string]string{"FIELDCRYPT_LOCAL_KEK": testKEK, "DATABASE_DRIVER": "mysql"}, `unsupported database driver "mysql"`},
		{map[string]string{"FIELDCRYPT_LOCAL_KEK": testKEK, "FIELDCRYPT_REGISTRY": "etcd"}, `unknown registry "etcd"`},
		{map[string]string{"FIELDCRYPT_LOCAL_KEK": testKEK, "FIELDCRYPT_BATCH_SIZE": "0"}, "FIELDCRYPT_BATCH_SIZE must be positive"},
		{map[string]string{"FIELDCRYPT_LOCAL_KEK": testKEK, "FIELDCRYPT_FAIL_SAMPLE_LIMIT": "0"}, "FIELDCRYPT_FAIL_SAMPLE_LIMIT must be positive"},
		{map[string]string{"FIELDCRYPT_LOCAL_KEK": testKEK, "FIELDCRYPT_ETA_WARN_PCT": "-1"}, "eta thresholds must not be negative"},
		{map[string]string{"FIELDCRYPT_LOCAL_KEK": testKEK, "FIELDCRYPT_ADMIN_AUTH": "nocolon"}, "FIELDCRYPT_ADMIN_AUTH must be user:pass"},
	}

	for _, tt := range tests {
		_, err := LoadFrom(tt.env)
		assert.EqualError(t, err, tt.err)
	}
}

func TestLoadFrom_NullAEADRequiresFlag(t *testing.T) {
	_, err := LoadFrom(map[string]string{"FIELDCRYPT_LOCAL_KEK": testKEK, "FIELDCRYPT_AEAD": "null"})
	assert.Equal(t, aead.ErrNullNotAllowed, err)

	_, err = LoadFrom(map[string]string{"FIELDCRYPT_LOCAL_KEK": testKEK, "FIELDCRYPT_AEAD": "null", "FIELDCRYPT_ALLOW_NULL_AEAD": "true"})
	assert.NoError(t, err)
}

func TestLoadFrom_ParseError(t *testing.T) {
	_, err := LoadFrom(map[string]string{"FIELDCRYPT_BATCH_SIZE": "lots"})
	assert.Error(t, err)
}
