package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netsession/pkg/transport"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.Session.Timeout)
	assert.Equal(t, "Username", cfg.Session.LoginPrompt)
	assert.Equal(t, "assword", cfg.Session.PasswordPrompt)
	assert.Equal(t, ">", cfg.Session.UserPrompt)
	assert.Equal(t, "#", cfg.Session.EnablePrompt)
	assert.True(t, cfg.Session.UsesUsername)
	assert.False(t, cfg.Session.CRLF)
	assert.Equal(t, 0, cfg.Batch.Retries)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "cisco_ios", cfg.TextFSM.PlatformAliases["cisco_telnet"])
	assert.Same(t, cfg, Get())
	assert.NotEmpty(t, cfg.File())
}

func TestLoadFileValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  port: 9090
session:
  timeout: 5s
  mode: suspend
  crlf: true
  poll_interval: 200ms
batch:
  concurrency: 3
storage:
  backend: minio
  minio:
    host: 127.0.0.1
    bucket: outputs
`))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.GetServerAddr())
	assert.Equal(t, 5*time.Second, cfg.Session.Timeout)
	assert.True(t, cfg.Session.CRLF)
	assert.Equal(t, 3, cfg.Batch.Concurrency)
	assert.Equal(t, "minio", cfg.Storage.Backend)
	assert.Equal(t, "outputs", cfg.Storage.Minio.Bucket)
	assert.Equal(t, 9000, cfg.Storage.Minio.Port)

	opts := cfg.Session.TransportOptions()
	assert.Equal(t, transport.ModeSuspend, opts.Mode)
	assert.Equal(t, 200*time.Millisecond, opts.PollInterval)

	sc := cfg.Session.SessionConfig()
	assert.Equal(t, 5*time.Second, sc.Timeout)
	assert.True(t, sc.CRLF)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	_, err := Load(writeConfig(t, "session:\n  mode: turbo\n"))
	assert.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("NETSESSION_SESSION_TIMEOUT", "7s")
	t.Setenv("NETSESSION_BATCH_CONCURRENCY", "2")
	cfg, err := Load(writeConfig(t, "session:\n  timeout: 5s\n"))
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Session.Timeout)
	assert.Equal(t, 2, cfg.Batch.Concurrency)
}

func TestSessionForPlatform(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
session:
  timeout: 30s
  platforms:
    apresia_telnet:
      login_prompt: login
      uses_username: false
      timeout: 10s
      crlf: true
`))
	require.NoError(t, err)

	ap := cfg.SessionFor("apresia_telnet")
	assert.Equal(t, "login", ap.LoginPrompt)
	assert.False(t, ap.UsesUsername)
	assert.Equal(t, 10*time.Second, ap.Timeout)
	assert.True(t, ap.CRLF)
	assert.Equal(t, ">", ap.UserPrompt)

	cisco := cfg.SessionFor("cisco_telnet")
	assert.Equal(t, "Username", cisco.LoginPrompt)
	assert.True(t, cisco.UsesUsername)
	assert.Equal(t, 30*time.Second, cisco.Timeout)
}

func TestTemplateDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index"), []byte("Template, Command\n"), 0o644))

	cfg, err := Load(writeConfig(t, "textfsm:\n  template_dir: "+dir+"\n"))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.TemplateDir())
	assert.Equal(t, dir, cfg.NewConverter().Dir())

	t.Setenv("NET_TEXTFSM", dir)
	cfg, err = Load(writeConfig(t, "log:\n  level: info\n"))
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.TemplateDir())
}

func TestLoggerConfig(t *testing.T) {
	lc := LogConfig{Level: "warn", Format: "json", Output: "file", FilePath: "/tmp/x.log", MaxSize: 1}.LoggerConfig()
	assert.Equal(t, "warn", lc.Level)
	assert.Equal(t, "json", lc.Format)
	assert.Equal(t, "/tmp/x.log", lc.FilePath)
}
