package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netsession/internal/session/sessiontest"
)

func simDevice() *sessiontest.Device {
	return &sessiontest.Device{Hostname: "router1", Username: "alice", Password: "secret", Secret: "enablepw"}
}

func TestConnectLoginSucceeds(t *testing.T) {
	dev := simDevice()
	tr := dev.Attach(0)
	s := New(testDevice(), testConfig(), nil, tr.Dialer())

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, "router1>", s.Prompt())
	assert.Equal(t, []string{"alice\n", "secret\n", "\n"}, tr.Writes())
	assert.True(t, s.Connected())
}

func TestConnectFailsWithoutLoginPrompt(t *testing.T) {
	dev := simDevice()
	dev.SilentLogin = true
	tr := dev.Attach(0)
	s := New(testDevice(), testConfig(), nil, tr.Dialer())

	err := s.Open(context.Background())
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, KindConnectionFailure, se.Kind)
	assert.Equal(t, "192.0.2.1", se.Address)
	assert.Equal(t, "cisco_telnet", se.DeviceType)
	assert.Equal(t, 1, tr.Closes(), "失败时关闭通道")
}

func TestConnectFailsWithoutPasswordPrompt(t *testing.T) {
	dev := simDevice()
	dev.SilentPassword = true
	tr := dev.Attach(0)
	s := New(testDevice(), testConfig(), nil, tr.Dialer())

	err := s.Open(context.Background())
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, KindAuthenticationFailure, se.Kind)
	assert.Equal(t, "192.0.2.1", se.Address)
	assert.Equal(t, "cisco_telnet", se.DeviceType)
	assert.Equal(t, 1, tr.Closes())
}

func TestConnectFailsWithWrongPassword(t *testing.T) {
	dev := simDevice()
	tr := dev.Attach(0)
	device := testDevice()
	device.Password = "wrong"
	s := New(device, testConfig(), nil, tr.Dialer())

	err := s.Open(context.Background())
	assert.True(t, IsKind(err, KindAuthenticationFailure))
	assert.False(t, s.Connected())
}

func TestConnectWithoutUsername(t *testing.T) {
	tr := sessiontest.New(0, func(line string) []string {
		if line == "secret" {
			return []string{"\r\nswitch2>"}
		}
		return []string{"\r\nswitch2>"}
	})
	tr.Push("\r\nPassword: ")
	cfg := testConfig()
	cfg.UsesUsername = false
	s := New(testDevice(), cfg, nil, tr.Dialer())

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, "switch2>", s.Prompt())
	assert.Equal(t, "secret\n", tr.Writes()[0])
}

func TestConnectSkipsCredentialsOnAuthenticatedTransport(t *testing.T) {
	tr := sessiontest.New(0, func(string) []string { return []string{"\r\nrouter1>"} }).Authenticate()
	tr.Push("router1>")
	s := New(testDevice(), testConfig(), nil, tr.Dialer())

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, []string{"\n"}, tr.Writes())
	assert.Equal(t, "router1>", s.Prompt())
}

type loginProfile struct {
	Generic
	inits int
}

func (p *loginProfile) LoginPrompt() string { return "login" }
func (p *loginProfile) Initialize(context.Context, *Session) error {
	p.inits++
	return nil
}

func TestProfileLoginPromptAndInitialize(t *testing.T) {
	tr := sessiontest.New(0, func(line string) []string {
		switch line {
		case "alice":
			return []string{"Password: "}
		default:
			return []string{"\r\napresia>"}
		}
	})
	tr.Push("apresia login: ")
	p := &loginProfile{}
	s := New(testDevice(), testConfig(), p, tr.Dialer())
	assert.Equal(t, "login", s.Config().LoginPrompt)

	require.NoError(t, s.Open(context.Background()))
	assert.Equal(t, 1, p.inits)
	assert.Equal(t, "apresia>", s.Prompt())
}

type failingInit struct{ Generic }

func (failingInit) Initialize(context.Context, *Session) error { return errors.New("paging not disabled") }

func TestOpenDisconnectsWhenInitializeFails(t *testing.T) {
	dev := simDevice()
	tr := dev.Attach(0)
	s := New(testDevice(), testConfig(), failingInit{}, tr.Dialer())

	err := s.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paging not disabled")
	assert.Equal(t, 1, tr.Closes())
	assert.NoError(t, s.Disconnect())
	assert.Equal(t, 1, tr.Closes())
}
