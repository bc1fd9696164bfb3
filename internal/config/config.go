package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sshcollectorpro/netsession/internal/session"
	"github.com/sshcollectorpro/netsession/pkg/logger"
	"github.com/sshcollectorpro/netsession/pkg/textfsm"
	"github.com/sshcollectorpro/netsession/pkg/transport"
)

// EnvPrefix 环境变量前缀，例如 NETSESSION_SESSION_TIMEOUT
const EnvPrefix = "NETSESSION"

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Session  SessionConfig  `mapstructure:"session"`
	TextFSM  TextFSMConfig  `mapstructure:"textfsm"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`

	v    *viper.Viper
	file string
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	SimulateEnable bool          `mapstructure:"simulate_enable"`
	// SimulateConfig 模拟器配置文件
	SimulateConfig string `mapstructure:"simulate_config"`
	// ConsoleOrigins 允许打开控制台的跨域来源（host 通配），为空时只接受同源与非浏览器客户端
	ConsoleOrigins []string `mapstructure:"console_origins"`
}

// SessionConfig 会话默认参数；platforms 下可按设备类型覆盖
type SessionConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	LoginPrompt    string        `mapstructure:"login_prompt"`
	PasswordPrompt string        `mapstructure:"password_prompt"`
	UserPrompt     string        `mapstructure:"user_prompt"`
	EnablePrompt   string        `mapstructure:"enable_prompt"`
	UsesUsername   bool          `mapstructure:"uses_username"`
	CRLF           bool          `mapstructure:"crlf"`
	ANSI           bool          `mapstructure:"ansi"`
	Encoding       string        `mapstructure:"encoding"`
	// Mode 执行方式：blocking | suspend
	Mode         string        `mapstructure:"mode"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	// Port 0 表示按协议使用默认端口
	Port              int           `mapstructure:"port"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
}

// TextFSMConfig 结构化解析配置
type TextFSMConfig struct {
	// TemplateDir 为空时依次使用 NET_TEXTFSM 与 ~/ntc-templates/ntc_templates/templates
	TemplateDir string `mapstructure:"template_dir"`
	// PlatformAliases 设备类型到模板平台名，例如 cisco_telnet: cisco_ios
	PlatformAliases map[string]string `mapstructure:"platform_aliases"`
}

// BatchConfig 批量执行配置
type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// Retries 单设备失败后的重试次数
	Retries        int  `mapstructure:"retries"`
	PersistHistory bool `mapstructure:"persist_history"`
	Archive        bool `mapstructure:"archive"`
}

// PoolConfig 会话池配置
type PoolConfig struct {
	MaxIdle         int           `mapstructure:"max_idle"`
	MaxActive       int           `mapstructure:"max_active"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig 命令输出归档配置
type StorageConfig struct {
	// Backend local | minio
	Backend string             `mapstructure:"backend"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
	Minio   MinioConfig        `mapstructure:"minio"`
}

// LocalStorageConfig 本地存储配置
type LocalStorageConfig struct {
	BaseDir        string `mapstructure:"base_dir"`
	MkdirIfMissing bool   `mapstructure:"mkdir_if_missing"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

var globalConfig *Config

// Load 加载配置文件。configPath 为空时在 ./configs 等目录查找 config.yaml，
// 找不到则只使用默认值与环境变量。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// 设置默认值
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	// 设置环境变量前缀
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.v = v
	config.file = v.ConfigFileUsed()

	if _, err := transport.ParseMode(config.Session.Mode); err != nil {
		return nil, fmt.Errorf("session.mode: %w", err)
	}

	globalConfig = &config
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 18080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 300*time.Second)
	// 模拟服务开关默认关闭
	v.SetDefault("server.simulate_enable", false)
	v.SetDefault("server.simulate_config", "simulate/simulate.yaml")

	v.SetDefault("session.timeout", session.DefaultTimeout)
	v.SetDefault("session.login_prompt", session.DefaultLoginPrompt)
	v.SetDefault("session.password_prompt", session.DefaultPasswordPrompt)
	v.SetDefault("session.user_prompt", session.DefaultUserPrompt)
	v.SetDefault("session.enable_prompt", session.DefaultEnablePrompt)
	v.SetDefault("session.uses_username", true)
	v.SetDefault("session.crlf", false)
	v.SetDefault("session.ansi", false)
	v.SetDefault("session.encoding", "")
	v.SetDefault("session.mode", string(transport.ModeBlocking))
	v.SetDefault("session.poll_interval", transport.DefaultPollInterval)
	v.SetDefault("session.dial_timeout", 10*time.Second)
	v.SetDefault("session.port", 0)
	v.SetDefault("session.keep_alive_interval", 30*time.Second)

	v.SetDefault("textfsm.template_dir", "")
	v.SetDefault("textfsm.platform_aliases", map[string]string{
		"cisco_telnet": "cisco_ios",
		"cisco_ssh":    "cisco_ios",
	})

	v.SetDefault("batch.concurrency", 8)
	v.SetDefault("batch.retries", 0)
	v.SetDefault("batch.persist_history", true)
	v.SetDefault("batch.archive", false)

	v.SetDefault("pool.max_idle", 10)
	v.SetDefault("pool.max_active", 50)
	v.SetDefault("pool.idle_timeout", 5*time.Minute)
	v.SetDefault("pool.cleanup_interval", 30*time.Second)

	v.SetDefault("database.sqlite.path", "./data/netsession.db")
	v.SetDefault("database.sqlite.max_idle_conns", 5)
	v.SetDefault("database.sqlite.max_open_conns", 1)
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.prefix", "outputs")
	v.SetDefault("storage.local.base_dir", "./data/outputs")
	v.SetDefault("storage.local.mkdir_if_missing", true)
	v.SetDefault("storage.minio.port", 9000)
	v.SetDefault("storage.minio.bucket", "netsession")

	// 日志默认级别为 info（可通过 log.level 覆盖为 debug/warn/error 等）
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file_path", "./logs/netsession.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// Set 替换全局配置（热加载或测试使用）
func Set(c *Config) {
	globalConfig = c
}

// File 实际读取的配置文件，没有时为空
func (c *Config) File() string { return c.file }

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// TemplateDir 解析后的 TextFSM 模板目录
func (c *Config) TemplateDir() string {
	return textfsm.ResolveTemplateDir(c.TextFSM.TemplateDir)
}

// NewConverter 按配置创建结构化解析器
func (c *Config) NewConverter() *textfsm.Converter {
	return textfsm.NewConverter(c.TemplateDir(), textfsm.WithPlatformAliases(c.TextFSM.PlatformAliases))
}

// SessionFor 合并 session.platforms.<platform> 下的覆盖项
func (c *Config) SessionFor(platform string) SessionConfig {
	s := c.Session
	if c.v == nil || platform == "" {
		return s
	}
	key := "session.platforms." + strings.ToLower(platform)
	if !c.v.IsSet(key) {
		return s
	}
	sub := c.v.Sub(key)
	if sub == nil {
		return s
	}
	if sub.IsSet("timeout") {
		s.Timeout = sub.GetDuration("timeout")
	}
	if sub.IsSet("login_prompt") {
		s.LoginPrompt = sub.GetString("login_prompt")
	}
	if sub.IsSet("password_prompt") {
		s.PasswordPrompt = sub.GetString("password_prompt")
	}
	if sub.IsSet("user_prompt") {
		s.UserPrompt = sub.GetString("user_prompt")
	}
	if sub.IsSet("enable_prompt") {
		s.EnablePrompt = sub.GetString("enable_prompt")
	}
	if sub.IsSet("uses_username") {
		s.UsesUsername = sub.GetBool("uses_username")
	}
	if sub.IsSet("crlf") {
		s.CRLF = sub.GetBool("crlf")
	}
	if sub.IsSet("ansi") {
		s.ANSI = sub.GetBool("ansi")
	}
	if sub.IsSet("encoding") {
		s.Encoding = sub.GetString("encoding")
	}
	if sub.IsSet("mode") {
		s.Mode = sub.GetString("mode")
	}
	if sub.IsSet("port") {
		s.Port = sub.GetInt("port")
	}
	return s
}

// SessionConfig 转换为会话参数
func (s SessionConfig) SessionConfig() session.Config {
	return session.Config{
		Timeout:        s.Timeout,
		LoginPrompt:    s.LoginPrompt,
		UsesUsername:   s.UsesUsername,
		PasswordPrompt: s.PasswordPrompt,
		UserPrompt:     s.UserPrompt,
		EnablePrompt:   s.EnablePrompt,
		CRLF:           s.CRLF,
		ANSI:           s.ANSI,
		Encoding:       s.Encoding,
	}
}

// TransportOptions 转换为传输层参数，模式无效时回落为阻塞模式
func (s SessionConfig) TransportOptions() transport.Options {
	mode, err := transport.ParseMode(s.Mode)
	if err != nil {
		mode = transport.ModeBlocking
	}
	return transport.Options{
		Mode:         mode,
		Port:         s.Port,
		DialTimeout:  s.DialTimeout,
		PollInterval: s.PollInterval,
		KeepAlive:    s.KeepAliveInterval,
	}
}

// LoggerConfig 转换为日志配置
func (l LogConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      l.Level,
		Format:     l.Format,
		Output:     l.Output,
		FilePath:   l.FilePath,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
		Compress:   l.Compress,
	}
}
