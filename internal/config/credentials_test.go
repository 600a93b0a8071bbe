package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCredentialsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadCredentials(t *testing.T) {
	t.Run("FromFile", func(t *testing.T) {
		path := writeCredentialsFile(t, `
primary:
  email: ops@example.com
  password: first-secret
secondary:
  email: ops-alt@example.com
  password: second-secret
`)

		creds, err := LoadCredentials(path)
		require.NoError(t, err)
		require.NotNil(t, creds)

		assert.Equal(t, "ops@example.com", creds.Primary.Email)
		assert.Equal(t, "first-secret", creds.Primary.Password)
		assert.Equal(t, "ops-alt@example.com", creds.Secondary.Email)
		assert.Equal(t, "second-secret", creds.Secondary.Password)
		assert.True(t, creds.HasSecondary())
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		path := writeCredentialsFile(t, `
primary:
  email: ops@example.com
  password: first-secret
`)
		t.Setenv("QUOTAPILOT_PRIMARY_EMAIL", "override@example.com")
		t.Setenv("QUOTAPILOT_SECONDARY_EMAIL", "alt@example.com")
		t.Setenv("QUOTAPILOT_SECONDARY_PASSWORD", "alt-secret")

		creds, err := LoadCredentials(path)
		require.NoError(t, err)

		assert.Equal(t, "override@example.com", creds.Primary.Email)
		assert.Equal(t, "first-secret", creds.Primary.Password)
		assert.True(t, creds.HasSecondary())
	})

	t.Run("EnvOnlyWithoutFile", func(t *testing.T) {
		t.Setenv("QUOTAPILOT_PRIMARY_EMAIL", "ops@example.com")
		t.Setenv("QUOTAPILOT_PRIMARY_PASSWORD", "first-secret")

		creds, err := LoadCredentials(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)

		assert.Equal(t, "ops@example.com", creds.Primary.Email)
		assert.False(t, creds.HasSecondary())
	})

	t.Run("MissingPrimaryFails", func(t *testing.T) {
		path := writeCredentialsFile(t, `
secondary:
  email: ops-alt@example.com
  password: second-secret
`)

		_, err := LoadCredentials(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary credentials incomplete")
	})

	t.Run("MalformedYAMLFails", func(t *testing.T) {
		path := writeCredentialsFile(t, "primary: [not a mapping")

		_, err := LoadCredentials(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse credentials file")
	})
}
