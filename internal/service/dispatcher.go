package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sshcollectorpro/netsession/addone/platform"
	"github.com/sshcollectorpro/netsession/internal/config"
	"github.com/sshcollectorpro/netsession/internal/session"
	"github.com/sshcollectorpro/netsession/pkg/logger"
	"github.com/sshcollectorpro/netsession/pkg/transport"
)

// DialerFactory 按传输参数构造拨号器
type DialerFactory func(opts transport.Options) transport.Dialer

// OpenOptions 单次建立会话的参数，零值表示使用平台与配置默认值
type OpenOptions struct {
	// Mode 执行方式，空为配置值
	Mode transport.Mode
	// Timeout 空闲超时
	Timeout time.Duration
	// UsesUsername 为 nil 时使用平台默认
	UsesUsername *bool
	Port         int
	// Enable 打开后进入特权模式
	Enable bool
}

// Dispatcher 按设备类型选择厂商插件与传输，构造并打开会话
type Dispatcher struct {
	cfg       *config.Config
	conv      session.Converter
	factories map[string]DialerFactory
}

// DispatcherOption 构造选项
type DispatcherOption func(*Dispatcher)

// WithDialerFactory 替换某个协议的拨号器（测试或代理场景）
func WithDialerFactory(protocol string, f DialerFactory) DispatcherOption {
	return func(d *Dispatcher) { d.factories[protocol] = f }
}

// WithSessionConverter 设置结构化解析器
func WithSessionConverter(c session.Converter) DispatcherOption {
	return func(d *Dispatcher) { d.conv = c }
}

// NewDispatcher 创建分发器；未指定解析器时按配置的模板目录创建
func NewDispatcher(cfg *config.Config, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		cfg: cfg,
		factories: map[string]DialerFactory{
			platform.ProtocolTelnet: transport.Telnet,
			platform.ProtocolSSH:    transport.SSH,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.conv == nil {
		d.conv = cfg.NewConverter()
	}
	return d
}

// Platforms 指定执行方式下支持的设备类型（已排序）
func (d *Dispatcher) Platforms(mode transport.Mode) []string {
	if mode == "" {
		mode = d.mode(OpenOptions{}, "")
	}
	return platform.Platforms(mode)
}

// NewSession 构造未连接的会话。设备类型未注册时返回 UnsupportedDeviceType。
func (d *Dispatcher) NewSession(device session.Device, opts OpenOptions) (*session.Session, error) {
	mode := d.mode(opts, device.DeviceType)
	plugin, err := platform.Lookup(mode, device.DeviceType)
	if err != nil {
		return nil, err
	}

	sc := d.cfg.SessionFor(device.DeviceType)
	if opts.Timeout > 0 {
		sc.Timeout = opts.Timeout
	}
	if opts.UsesUsername != nil {
		sc.UsesUsername = *opts.UsesUsername
	}

	topts := sc.TransportOptions()
	topts.Mode = mode
	if opts.Port > 0 {
		topts.Port = opts.Port
	}
	topts.Username = device.Username
	topts.Password = device.Password

	factory, ok := d.factories[plugin.Protocol()]
	if !ok {
		return nil, &session.Error{
			Kind:       session.KindConfigurationFault,
			Address:    device.Address,
			DeviceType: device.DeviceType,
			Err:        fmt.Errorf("no dialer for protocol %q", plugin.Protocol()),
		}
	}

	entry := logger.ForDevice(device.Address, device.DeviceType).WithField("mode", string(mode))
	return session.New(device, sc.SessionConfig(), plugin, factory(topts),
		session.WithConverter(d.conv),
		session.WithLogger(entry),
	), nil
}

// Open 构造并打开会话：登录、识别提示符、厂商初始化，opts.Enable 时再提权。
// 失败时会话已关闭。
func (d *Dispatcher) Open(ctx context.Context, device session.Device, opts OpenOptions) (*session.Session, error) {
	s, err := d.NewSession(device, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	if opts.Enable {
		if err := s.Enable(ctx); err != nil {
			s.Disconnect()
			return nil, err
		}
	}
	return s, nil
}

func (d *Dispatcher) mode(opts OpenOptions, deviceType string) transport.Mode {
	if opts.Mode != "" {
		return opts.Mode
	}
	if d.cfg == nil {
		return transport.ModeBlocking
	}
	mode, err := transport.ParseMode(d.cfg.SessionFor(deviceType).Mode)
	if err != nil {
		return transport.ModeBlocking
	}
	return mode
}
