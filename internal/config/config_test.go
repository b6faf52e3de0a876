// ABOUTME: Tests for configuration loading, env expansion and validation
// ABOUTME: Uses temp YAML files to exercise the Load path end to end

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/gather.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/gather.db", cfg.Database.Path)
	assert.Empty(t, cfg.Auth.JWTSecret)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("GATHER_TEST_SECRET", "s3cret")

	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/gather.db"
auth:
  jwt_secret: "${GATHER_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoad_MissingHTTPAddr(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/gather.db"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.http_addr")
}

func TestLoad_TailscaleReplacesHTTPAddr(t *testing.T) {
	path := writeConfig(t, `
tailscale:
  enabled: true
  hostname: "gather-gateway"
database:
  path: "/tmp/gather.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Tailscale.Enabled)
}

func TestLoad_TailscaleRequiresHostname(t *testing.T) {
	path := writeConfig(t, `
tailscale:
  enabled: true
database:
  path: "/tmp/gather.db"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tailscale.hostname")
}

func TestLoad_PaymentRequiresConfirmURL(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/gather.db"
payment:
  endpoint: "https://pay.example.com/v1/sessions"
  api_key: "sk_test"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment.confirm_url")
}

func TestLoad_EmailValidation(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
database:
  path: "/tmp/gather.db"
email:
  enabled: true
  from: "tickets@example.com"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email.smtp_addr")
}
