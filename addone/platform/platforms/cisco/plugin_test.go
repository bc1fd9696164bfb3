package cisco

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/netsession/internal/session"
	"github.com/sshcollectorpro/netsession/internal/session/sessiontest"
)

func openCisco(t *testing.T, dev *sessiontest.Device, opts ...session.Option) (*session.Session, *sessiontest.Transport) {
	t.Helper()
	tr := dev.Attach(5 * time.Millisecond)
	cfg := session.DefaultConfig()
	cfg.Timeout = 300 * time.Millisecond
	s := session.New(session.Device{
		Address:    "10.0.0.1",
		Username:   dev.Username,
		Password:   dev.Password,
		Secret:     "enable-secret",
		DeviceType: "cisco_telnet",
	}, cfg, &Plugin{protocol: "telnet"}, tr.Dialer(), opts...)
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { s.Disconnect() })
	return s, tr
}

func TestInitializeDisablesPaging(t *testing.T) {
	dev := &sessiontest.Device{Hostname: "router1", Username: "alice", Password: "secret", Secret: "enable-secret"}
	s, tr := openCisco(t, dev)

	assert.Equal(t, "router1>", s.Prompt())
	assert.Contains(t, tr.Writes(), "terminal length 0\n")
	assert.Contains(t, tr.Writes(), "terminal exec prompt timestamp\n")
}

func TestEnableSwitchesToPrivilegedPrompt(t *testing.T) {
	dev := &sessiontest.Device{
		Hostname: "router1", Username: "alice", Password: "secret", Secret: "enable-secret",
		Outputs: map[string]string{"show clock": "*10:00:00.000 UTC Mon Mar 1 2021\r\n"},
	}
	s, _ := openCisco(t, dev)
	require.False(t, s.Privileged())

	require.NoError(t, s.Enable(context.Background()))
	assert.Equal(t, "router1#", s.Prompt())
	assert.Equal(t, "router1", s.Hostname())
	assert.True(t, s.Privileged())

	out, err := s.SendCommand(context.Background(), "show clock", session.CommandOptions{})
	require.NoError(t, err)
	assert.Equal(t, "*10:00:00.000 UTC Mon Mar 1 2021", out.Text)
}

func TestEnableWrongSecretTimesOut(t *testing.T) {
	dev := &sessiontest.Device{Hostname: "router1", Username: "alice", Password: "secret", Secret: "other"}
	s, _ := openCisco(t, dev)

	err := s.Enable(context.Background())
	require.Error(t, err)
	assert.True(t, session.IsKind(err, session.KindIdleTimeout))
	assert.Equal(t, "router1>", s.Prompt())
	assert.False(t, s.Privileged())
}

func TestEnableDoesNotLogSecret(t *testing.T) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	dev := &sessiontest.Device{Hostname: "router1", Username: "alice", Password: "secret", Secret: "enable-secret"}
	s, tr := openCisco(t, dev, session.WithLogger(logrus.NewEntry(l)))
	hook.Reset()

	require.NoError(t, s.Enable(context.Background()))
	assert.Equal(t, "router1#", s.Prompt())
	assert.Contains(t, tr.Writes(), "enable-secret\n")

	require.NotEmpty(t, hook.AllEntries(), "debug 级别应有设备输出日志")
	for _, e := range hook.AllEntries() {
		assert.NotContains(t, e.Message, "enable-secret", "日志消息中不应出现 enable 密码")
		for k, v := range e.Data {
			assert.NotContains(t, fmt.Sprint(v), "enable-secret", "日志字段 %s 中不应出现 enable 密码", k)
		}
	}
}
