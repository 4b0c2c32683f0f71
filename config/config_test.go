package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000/store"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

const sampleYAML = `
api:
  base_url: "https://auth.example.com/api"
  timeout: "4s"
chat:
  webhook_url: "https://n8n.example.com/webhook/chat"
refresh:
  buffer: "2m"
  min_interval: "10s"
  max_retries: 5
storage:
  type: "redis"
  plaintext: true
  redis:
    addr: "redis:6380"
    db: 2
log:
  level: "debug"
  format: "json"
server:
  port: "9000"
`

const minimalYAML = `
api:
  base_url: "http://localhost:3000/api"
`

const brokenYAML = `
api:
  base_url: [unclosed
`

func TestLoad_WithExplicitPath_OK(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", sampleYAML)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	require.Equal(t, "https://auth.example.com/api", cfg.API.BaseURL)
	require.Equal(t, 4*time.Second, cfg.API.Timeout)
	require.Equal(t, "https://n8n.example.com/webhook/chat", cfg.Chat.WebhookURL)
	require.Equal(t, 2*time.Minute, cfg.Refresh.Buffer)
	require.Equal(t, 10*time.Second, cfg.Refresh.MinInterval)
	require.Equal(t, 5, cfg.Refresh.MaxRetries)
	require.Equal(t, store.TypeRedis, cfg.Storage.Type)
	require.True(t, cfg.Storage.Plaintext)
	require.Equal(t, "redis:6380", cfg.Storage.Redis.Addr)
	require.Equal(t, 2, cfg.Storage.Redis.DB)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr())

	sc := cfg.Session()
	require.Equal(t, cfg.API.BaseURL, sc.BaseURL)
	require.Equal(t, 2*time.Minute, sc.RefreshBuffer)
	require.Equal(t, 4*time.Second, sc.RequestTimeout)
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", minimalYAML)

	cfg, err := Load(cfgPath)
	require.NoError(t, err)

	require.Equal(t, 10*time.Second, cfg.API.Timeout)
	require.Equal(t, 5*time.Minute, cfg.Refresh.Buffer)
	require.Equal(t, 30*time.Second, cfg.Refresh.MinInterval)
	require.Equal(t, 3, cfg.Refresh.MaxRetries)
	require.Equal(t, time.Second, cfg.Refresh.BaseBackoff)
	require.Equal(t, 10*time.Second, cfg.Refresh.MaxBackoff)
	require.Equal(t, store.TypeFile, cfg.Storage.Type)
	require.False(t, cfg.Storage.Plaintext)
	require.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	require.Equal(t, "authsession:", cfg.Storage.Redis.Prefix)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "127.0.0.1:8787", cfg.Server.Addr())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", sampleYAML)
	t.Setenv("AUTHCTL_API_URL", "https://override.example.com")
	t.Setenv("AUTHCTL_REFRESH_MAX_RETRIES", "1")

	cfg, err := Load(cfgPath)
	require.NoError(t, err)
	require.Equal(t, "https://override.example.com", cfg.API.BaseURL)
	require.Equal(t, 1, cfg.Refresh.MaxRetries)
}

func TestLoad_FromEnvPath(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "custom.yaml", minimalYAML)
	t.Setenv(EnvPath, cfgPath)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:3000/api", cfg.API.BaseURL)
}

func TestLoad_FromWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, DefaultFile, minimalYAML)
	chdir(t, dir)
	t.Setenv(EnvPath, "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:3000/api", cfg.API.BaseURL)
}

func TestLoad_EnvOnly(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv(EnvPath, "")
	t.Setenv("AUTHCTL_API_URL", "http://env-only")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "http://env-only", cfg.API.BaseURL)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, dir, "broken.yaml", brokenYAML))
	require.Error(t, err)

	chdir(t, t.TempDir())
	t.Setenv(EnvPath, "")
	t.Setenv("AUTHCTL_API_URL", "")
	_, err = Load("")
	require.Error(t, err, "base URL is required")
}

func TestMustLoad_Panics(t *testing.T) {
	require.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "missing.yaml")) })
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestUsage(t *testing.T) {
	require.Contains(t, Usage(), "AUTHCTL_API_URL")
}
