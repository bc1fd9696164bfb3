package platform

import "github.com/sshcollectorpro/netsession/internal/session"

// 传输协议
const (
	ProtocolTelnet = "telnet"
	ProtocolSSH    = "ssh"
)

// Plugin 设备类型插件：会话的厂商差异加上连接方式。
// 平台级的超时、编码等参数由配置 session.platforms.<key> 覆盖。
type Plugin interface {
	session.Profile
	// Protocol 使用的传输协议：telnet 或 ssh
	Protocol() string
}
