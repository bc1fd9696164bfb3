package session

import "time"

// 默认会话参数
const (
	DefaultTimeout        = 30 * time.Second
	DefaultLoginPrompt    = "Username"
	DefaultPasswordPrompt = "assword"
	DefaultUserPrompt     = ">"
	DefaultEnablePrompt   = "#"

	// readSize 单次读取上限
	readSize = 1024
	// windowSize 诊断用滚动窗口长度
	windowSize = 4096
)

// Device 设备描述，创建后不再修改
type Device struct {
	Address    string `json:"address" yaml:"address" mapstructure:"address"`
	Username   string `json:"username" yaml:"username" mapstructure:"username"`
	Password   string `json:"password" yaml:"password" mapstructure:"password"`
	Secret     string `json:"secret" yaml:"secret" mapstructure:"secret"`
	DeviceType string `json:"device_type" yaml:"device_type" mapstructure:"device_type"`
}

// Config 会话参数，构造后只读
type Config struct {
	// Timeout 空闲超时：距上一次收到数据的最长等待
	Timeout        time.Duration
	LoginPrompt    string
	UsesUsername   bool
	PasswordPrompt string
	UserPrompt     string
	EnablePrompt   string
	// CRLF 为真时行尾使用 "\r\n"，否则 "\n"
	CRLF bool
	// ANSI 为真时清理输出中的 ANSI 控制序列
	ANSI bool
	// Encoding 设备输出字符集，空为 UTF-8
	Encoding string
}

// DefaultConfig 返回默认会话参数
func DefaultConfig() Config {
	return Config{
		Timeout:        DefaultTimeout,
		LoginPrompt:    DefaultLoginPrompt,
		UsesUsername:   true,
		PasswordPrompt: DefaultPasswordPrompt,
		UserPrompt:     DefaultUserPrompt,
		EnablePrompt:   DefaultEnablePrompt,
	}
}

// withDefaults 补齐未设置的字段；UsesUsername 与 CRLF/ANSI 按调用方取值
func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.LoginPrompt == "" {
		c.LoginPrompt = DefaultLoginPrompt
	}
	if c.PasswordPrompt == "" {
		c.PasswordPrompt = DefaultPasswordPrompt
	}
	if c.UserPrompt == "" {
		c.UserPrompt = DefaultUserPrompt
	}
	if c.EnablePrompt == "" {
		c.EnablePrompt = DefaultEnablePrompt
	}
	return c
}

func (c Config) lineEnding() string {
	if c.CRLF {
		return "\r\n"
	}
	return "\n"
}
