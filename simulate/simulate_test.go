package simulate

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netsession/addone/platform"
	_ "github.com/sshcollectorpro/netsession/addone/platform/platforms/all"
	"github.com/sshcollectorpro/netsession/internal/session"
	"github.com/sshcollectorpro/netsession/pkg/transport"
)

const simYAML = `
password: nova
namespace:
  lab:
    protocol: telnet
    host: 127.0.0.1
    port: 0
  labssh:
    protocol: ssh
    host: 127.0.0.1
    port: 0
  apresia:
    protocol: telnet
    host: 127.0.0.1
    port: 0
    login_prompt: "login: "
device_type:
  cisco_ios:
    prompt_suffix: ">"
    enable_mode_required: true
    enable_mode_suffix: "#"
  aeos:
    prompt_suffix: "#"
device_name:
  edge1:
    device_type: cisco_ios
    secret: s3cret
    outputs:
      show clock: "*10:00:00.000 UTC Mon Mar 1 2021"
  sw1:
    device_type: aeos
`

func startSim(t *testing.T) (*Manager, *Config) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "simulate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(simYAML), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	cfg.BaseDir = filepath.Join(dir, "sim")

	m, err := Start(cfg)
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	return m, cfg
}

func openSession(t *testing.T, m *Manager, ns, deviceType string, mode transport.Mode, password string) (*session.Session, error) {
	t.Helper()
	plugin, err := platform.Lookup(mode, deviceType)
	require.NoError(t, err)

	opts := transport.Options{Mode: mode, PollInterval: 20 * time.Millisecond, DialTimeout: time.Second, Username: "edge1", Password: password}
	dial := transport.Telnet(opts)
	if plugin.Protocol() == platform.ProtocolSSH {
		dial = transport.SSH(opts)
	}
	cfg := session.DefaultConfig()
	cfg.Timeout = 500 * time.Millisecond
	s := session.New(session.Device{
		Address:    m.Addr(ns),
		Username:   "edge1",
		Password:   password,
		Secret:     "s3cret",
		DeviceType: deviceType,
	}, cfg, plugin, dial)
	return s, s.Open(context.Background())
}

func TestLoadConfig(t *testing.T) {
	_, cfg := startSim(t)
	assert.Equal(t, "nova", cfg.Password)
	assert.Equal(t, "ssh", cfg.Namespace["labssh"].protocol())
	assert.Equal(t, "login: ", cfg.Namespace["apresia"].loginPrompt())
	assert.Equal(t, "Username: ", cfg.Namespace["lab"].loginPrompt())

	dev := cfg.resolve("EDGE1")
	assert.Equal(t, "s3cret", dev.secret)
	assert.True(t, dev.typ.EnableModeRequired)

	unknown := cfg.resolve("core9")
	assert.Equal(t, ">", unknown.typ.PromptSuffix)
	assert.Equal(t, "nova", unknown.password)
}

func TestValidateRejectsBadProtocolAndDuplicatePort(t *testing.T) {
	cfg := &Config{Namespace: map[string]NamespaceConfig{"a": {Protocol: "rlogin"}}}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Namespace: map[string]NamespaceConfig{"a": {Port: 2001}, "b": {Port: 2001}}}
	assert.Error(t, cfg.Validate())
}

func TestTelnetSessionBlockingAndSuspend(t *testing.T) {
	m, cfg := startSim(t)
	dir := filepath.Join(cfg.BaseDir, "namespace", "lab", "edge1")
	require.DirExists(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "show_version.txt"), []byte("Cisco IOS Software, Version 15.2(4)M7\nuptime is 1 week"), 0o644))

	for _, mode := range []transport.Mode{transport.ModeBlocking, transport.ModeSuspend} {
		t.Run(string(mode), func(t *testing.T) {
			s, err := openSession(t, m, "lab", "cisco_telnet", mode, "nova")
			require.NoError(t, err)
			defer s.Disconnect()
			assert.Equal(t, "edge1>", s.Prompt())

			out, err := s.SendCommand(context.Background(), "show clock", session.CommandOptions{})
			require.NoError(t, err)
			assert.Equal(t, "*10:00:00.000 UTC Mon Mar 1 2021", out.Text)

			out, err = s.SendCommand(context.Background(), "show version", session.CommandOptions{})
			require.NoError(t, err)
			assert.Equal(t, "Cisco IOS Software, Version 15.2(4)M7\r\nuptime is 1 week", out.Text)

			out, err = s.SendCommand(context.Background(), "show nothing", session.CommandOptions{})
			require.NoError(t, err)
			assert.Contains(t, out.Text, "Invalid input")

			require.NoError(t, s.Enable(context.Background()))
			assert.Equal(t, "edge1#", s.Prompt())
		})
	}
}

func TestTelnetWrongPassword(t *testing.T) {
	m, _ := startSim(t)
	_, err := openSession(t, m, "lab", "cisco_telnet", transport.ModeBlocking, "wrong")
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindAuthenticationFailure), err.Error())
}

func TestTelnetLoginPromptPerNamespace(t *testing.T) {
	m, _ := startSim(t)
	// cisco 插件等待 Username 提示，apresia 端口给出 login 提示
	_, err := openSession(t, m, "apresia", "cisco_telnet", transport.ModeBlocking, "nova")
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindConnectionFailure), err.Error())
}

func TestSSHSession(t *testing.T) {
	m, _ := startSim(t)
	s, err := openSession(t, m, "labssh", "cisco_ssh", transport.ModeSuspend, "nova")
	require.NoError(t, err)
	defer s.Disconnect()
	assert.Equal(t, "edge1>", s.Prompt())

	out, err := s.SendCommand(context.Background(), "show clock", session.CommandOptions{})
	require.NoError(t, err)
	assert.Equal(t, "*10:00:00.000 UTC Mon Mar 1 2021", out.Text)
}

func TestSSHWrongPassword(t *testing.T) {
	m, _ := startSim(t)
	_, err := openSession(t, m, "labssh", "cisco_ssh", transport.ModeSuspend, "wrong")
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindTransportUnavailable), err.Error())
}

func TestReload(t *testing.T) {
	m, cfg := startSim(t)
	before := m.Addr("lab")
	require.NotEmpty(t, before)

	next := *cfg
	next.Namespace = map[string]NamespaceConfig{
		"lab":  cfg.Namespace["lab"],
		"lab2": {Protocol: "telnet", Host: "127.0.0.1"},
	}
	require.NoError(t, m.Reload(&next))

	assert.Equal(t, before, m.Addr("lab"), "端口未变化的 namespace 不重启")
	assert.NotEmpty(t, m.Addr("lab2"))
	assert.Empty(t, m.Addr("labssh"))
	assert.Len(t, m.Namespaces(), 2)
}

func TestLineReader(t *testing.T) {
	input := "a\r\nb\rc\nd\r\x00e\xff\xfb\x01f\xff\xfa\x18\x00\xff\xf0\n"
	r := newLineReader(strings.NewReader(input), true)
	var lines []string
	for {
		line, err := r.ReadLine()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "ef"}, lines)
}

func TestEnsureCRLF(t *testing.T) {
	assert.Equal(t, "a\r\nb\r\n", ensureCRLF("a\nb"))
	assert.Equal(t, "a\r\n", ensureCRLF("a\r\n"))
}
