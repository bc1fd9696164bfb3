// Package apresia Apresia 交换机插件
package apresia

import (
	"github.com/sshcollectorpro/netsession/addone/platform"
	"github.com/sshcollectorpro/netsession/internal/session"
)

// Plugin Apresia 的登录提示为 "login"，其余沿用通用流程
type Plugin struct {
	session.Generic
}

func (p *Plugin) Name() string        { return "apresia" }
func (p *Plugin) LoginPrompt() string { return "login" }
func (p *Plugin) Protocol() string    { return platform.ProtocolTelnet }

func init() {
	platform.RegisterAll("apresia_telnet", &Plugin{})
}
