// Package cisco Cisco IOS 设备插件
package cisco

import (
	"context"
	"fmt"

	"github.com/sshcollectorpro/netsession/addone/platform"
	"github.com/sshcollectorpro/netsession/internal/session"
)

// Plugin Cisco IOS：登录后关闭分页并在命令输出中带时间戳，enable 需要密码
type Plugin struct {
	session.Generic
	protocol string
}

func (p *Plugin) Name() string { return "cisco_ios" }

func (p *Plugin) Protocol() string { return p.protocol }

// Initialize 关闭分页并开启提示符时间戳
func (p *Plugin) Initialize(ctx context.Context, s *session.Session) error {
	for _, cmd := range []string{"terminal length 0", "terminal exec prompt timestamp"} {
		if _, err := s.SendCommand(ctx, cmd, session.CommandOptions{}); err != nil {
			return fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return nil
}

// Enable 发送 enable 和 secret，随后以特权结束符重新识别提示符
func (p *Plugin) Enable(ctx context.Context, s *session.Session) error {
	cfg := s.Config()
	if _, err := s.SendCommand(ctx, "enable", session.CommandOptions{Prompt: cfg.PasswordPrompt}); err != nil {
		return fmt.Errorf("enable: %w", err)
	}
	// secret 不经过 SendCommand，避免命令文本进入日志
	if err := s.SendLine(s.Device().Secret); err != nil {
		return fmt.Errorf("enable secret: %w", err)
	}
	if _, err := s.Expect(ctx, cfg.EnablePrompt, 0, false); err != nil {
		return fmt.Errorf("enable secret: %w", err)
	}
	if _, err := s.FindPrompt(ctx, cfg.EnablePrompt); err != nil {
		return fmt.Errorf("enable prompt: %w", err)
	}
	return nil
}

func init() {
	platform.RegisterAll("cisco_telnet", &Plugin{protocol: platform.ProtocolTelnet})
	platform.RegisterAll("cisco_ssh", &Plugin{protocol: platform.ProtocolSSH})
}
