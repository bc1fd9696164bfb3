package simulate

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	ProtocolTelnet = "telnet"
	ProtocolSSH    = "ssh"

	// DefaultPassword 未单独配置时的登录与提权密码
	DefaultPassword = "nova"
)

// Config simulate.yaml 配置结构。
// viper 会把 map 键转为小写，设备名与命令按小写匹配。
type Config struct {
	// BaseDir 命令输出文件根目录：<base_dir>/namespace/<ns>/<device>/<command>.txt
	BaseDir    string                      `mapstructure:"base_dir"`
	Password   string                      `mapstructure:"password"`
	Namespace  map[string]NamespaceConfig  `mapstructure:"namespace"`
	DeviceType map[string]DeviceTypeConfig `mapstructure:"device_type"`
	DeviceName map[string]DeviceNameConfig `mapstructure:"device_name"`
}

// NamespaceConfig 一个监听端口
type NamespaceConfig struct {
	Protocol    string `mapstructure:"protocol"`
	// LoginPrompt telnet 登录提示，默认 "Username: "
	LoginPrompt string `mapstructure:"login_prompt"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	IdleSeconds int    `mapstructure:"idle_seconds"`
	MaxConn     int    `mapstructure:"max_conn"`
}

// DeviceTypeConfig 设备类型的提示符行为
type DeviceTypeConfig struct {
	Banner             string `mapstructure:"banner"`
	PromptSuffix       string `mapstructure:"prompt_suffix"`
	EnableModeRequired bool   `mapstructure:"enable_mode_required"`
	EnableModeSuffix   string `mapstructure:"enable_mode_suffix"`
}

// DeviceNameConfig 单台模拟设备
type DeviceNameConfig struct {
	DeviceType string            `mapstructure:"device_type"`
	Password   string            `mapstructure:"password"`
	Secret     string            `mapstructure:"secret"`
	Outputs    map[string]string `mapstructure:"outputs"`
}

// LoadConfig 读取 simulate.yaml
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetDefault("base_dir", "simulate")
	v.SetDefault("password", DefaultPassword)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查协议取值与端口冲突
func (c *Config) Validate() error {
	ports := make(map[string]string)
	for ns, n := range c.Namespace {
		switch strings.ToLower(n.Protocol) {
		case "", ProtocolTelnet, ProtocolSSH:
		default:
			return fmt.Errorf("namespace %s: unknown protocol %q", ns, n.Protocol)
		}
		if n.Port < 0 || n.Port > 65535 {
			return fmt.Errorf("namespace %s: invalid port %d", ns, n.Port)
		}
		if n.Port == 0 {
			continue
		}
		key := fmt.Sprintf("%s:%d", n.Host, n.Port)
		if other, ok := ports[key]; ok {
			return fmt.Errorf("namespace %s: port %d already used by %s", ns, n.Port, other)
		}
		ports[key] = ns
	}
	return nil
}

func (n NamespaceConfig) protocol() string {
	if p := strings.ToLower(n.Protocol); p != "" {
		return p
	}
	return ProtocolTelnet
}

func (n NamespaceConfig) addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// device 登录名对应的设备画像；未登记的设备名按通用设备处理
type device struct {
	name     string
	typ      DeviceTypeConfig
	password string
	secret   string
	outputs  map[string]string
}

func (c *Config) resolve(name string) device {
	name = strings.TrimSpace(name)
	d := device{
		name:     name,
		typ:      DeviceTypeConfig{PromptSuffix: ">", EnableModeSuffix: "#"},
		password: chooseNonEmpty(c.Password, DefaultPassword),
	}
	dn, ok := c.DeviceName[strings.ToLower(name)]
	if !ok {
		d.secret = d.password
		return d
	}
	if dt, ok := c.DeviceType[strings.ToLower(dn.DeviceType)]; ok {
		d.typ = dt
	}
	d.typ.PromptSuffix = chooseNonEmpty(d.typ.PromptSuffix, ">")
	d.typ.EnableModeSuffix = chooseNonEmpty(d.typ.EnableModeSuffix, "#")
	d.password = chooseNonEmpty(dn.Password, d.password)
	d.secret = chooseNonEmpty(dn.Secret, d.password)
	d.outputs = dn.Outputs
	return d
}

func (n NamespaceConfig) loginPrompt() string {
	return chooseNonEmpty(n.LoginPrompt, "Username: ")
}

func chooseNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}
