package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "dryrun", cfg.EmailProvider)
	assert.Equal(t, "memory", cfg.LockBackend)
	assert.Equal(t, 25, cfg.BatchSize)
	assert.Equal(t, 100, cfg.ResendChunkSize)
	assert.Equal(t, 5*time.Second, cfg.DispatchInterval)
	assert.Equal(t, 10*time.Minute, cfg.ClaimTTL)
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("BATCH_SIZE=40\nCLAIM_TTL=2m\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("BATCH_SIZE")
		os.Unsetenv("CLAIM_TTL")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.ClaimTTL)
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "carrier-pigeon")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "EMAIL_PROVIDER")
}

func TestLoad_BrevoNeedsKey(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "brevo")
	t.Setenv("BREVO_API_KEY", "")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "BREVO_API_KEY")
}

func TestDSN(t *testing.T) {
	c := Config{DatabaseURL: "postgres://x@y/z"}
	assert.Equal(t, "postgres://x@y/z", c.DSN())

	c = Config{DBUser: "user", DBPassword: "p@ss", DBHost: "db", DBPort: "5432", DBName: "outreach"}
	assert.Equal(t, "postgres://user:p%40ss@db:5432/outreach?sslmode=disable", c.DSN())

	assert.Equal(t, "", Config{}.DSN())
}
