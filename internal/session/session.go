// Package session 实现与网络设备的交互式会话：登录握手、按空闲超时读取匹配、
// 提示符识别、输出清理以及厂商相关的初始化与提权。
//
// 同一个 Session 上的操作严格串行，不做并发保护；不同 Session 之间没有共享状态。
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netsession/internal/util"
	"github.com/sshcollectorpro/netsession/pkg/logger"
	"github.com/sshcollectorpro/netsession/pkg/transport"
)

// Record 结构化解析得到的一行，字段名小写
type Record = map[string]interface{}

// Converter 结构化输出解析器。没有模板匹配时返回空结果。
type Converter interface {
	Convert(raw, platform, command, template string) ([]Record, error)
}

// Output 命令执行结果：Records 非空表示结构化解析成功
type Output struct {
	Text    string   `json:"text"`
	Records []Record `json:"records,omitempty"`
}

// Structured 是否得到了结构化结果
func (o Output) Structured() bool { return len(o.Records) > 0 }

// CommandOptions SendCommand 的可选参数
type CommandOptions struct {
	// Structured 为真时尝试结构化解析
	Structured bool
	// Timeout 空闲超时，0 使用会话配置
	Timeout time.Duration
	// Prompt 覆盖默认匹配的提示符
	Prompt string
	// Regex 为真时 Prompt 按正则匹配
	Regex bool
	// Template 显式指定解析模板文件
	Template string
}

// Option Session 构造选项
type Option func(*Session)

// WithConverter 设置结构化输出解析器
func WithConverter(c Converter) Option {
	return func(s *Session) { s.conv = c }
}

// WithLogger 设置会话日志条目
func WithLogger(entry *logrus.Entry) Option {
	return func(s *Session) { s.log = entry }
}

// Session 会话引擎。New 只构造，Connect/Open 才打开通道。
type Session struct {
	device  Device
	cfg     Config
	profile Profile
	dial    transport.Dialer
	conv    Converter
	log     *logrus.Entry
	sink    *logger.LineSink

	tr         transport.Transport
	window     []byte
	hostname   string
	prompt     string
	terminator string
	privileged bool

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// New 构造未连接的会话。profile 为 nil 时使用 Generic。
func New(device Device, cfg Config, profile Profile, dial transport.Dialer, opts ...Option) *Session {
	if profile == nil {
		profile = Generic{}
	}
	cfg = cfg.withDefaults()
	if lp := profile.LoginPrompt(); lp != "" {
		cfg.LoginPrompt = lp
	}
	s := &Session{
		device:  device,
		cfg:     cfg,
		profile: profile,
		dial:    dial,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.ForDevice(device.Address, device.DeviceType)
	}
	s.sink = logger.NewLineSink(s.log.WithField("stream", "read"))
	return s
}

// Device 会话绑定的设备
func (s *Session) Device() Device { return s.device }

// Config 会话参数
func (s *Session) Config() Config { return s.cfg }

// Profile 厂商实现
func (s *Session) Profile() Profile { return s.profile }

// Hostname FindPrompt 得到的主机名
func (s *Session) Hostname() string { return s.hostname }

// Prompt 当前完整提示符（主机名 + 结束符）
func (s *Session) Prompt() string { return s.prompt }

// Terminator 当前提示符结束符
func (s *Session) Terminator() string { return s.terminator }

// Privileged 是否已进入特权模式
func (s *Session) Privileged() bool { return s.privileged }

// Connected 通道已建立且未关闭
func (s *Session) Connected() bool { return s.tr != nil && !s.closed }

// Buffer 最近收到的数据（最多 4096 字节），仅用于诊断
func (s *Session) Buffer() string {
	return util.DecodeBytes(s.window, s.cfg.Encoding)
}

// Open 完整建立会话：Connect、按用户模式结束符识别提示符、执行厂商初始化。
// 任一步失败都会关闭通道。
func (s *Session) Open(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.Disconnect()
		}
	}()
	if err = s.Connect(ctx); err != nil {
		return err
	}
	if _, err = s.FindPrompt(ctx, s.cfg.UserPrompt); err != nil {
		return err
	}
	if err = s.profile.Initialize(ctx, s); err != nil {
		return fmt.Errorf("initialize %s: %w", s.profile.Name(), err)
	}
	return nil
}

// Connect 打开通道并完成登录握手，不做重试。
// 等不到登录（或密码）提示视为连接失败，提交凭据后等不到提示视为认证失败。
func (s *Session) Connect(ctx context.Context) error {
	if s.closed {
		return s.unavailable(errors.New("session closed"))
	}
	if s.tr != nil {
		return fmt.Errorf("session to %s already connected", s.device.Address)
	}
	if s.dial == nil {
		return s.unavailable(errors.New("no dialer configured"))
	}
	tr, err := s.dial(ctx, s.device.Address)
	if err != nil {
		return s.unavailable(err)
	}
	s.tr = tr
	s.log.Debug("transport opened")

	if a, ok := tr.(transport.Authenticated); ok && a.Authenticated() {
		s.log.Debug("transport pre-authenticated, skip credential prompts")
		// 读掉横幅与首个提示符，等不到时不报错
		if _, err := s.Expect(ctx, s.cfg.UserPrompt, s.cfg.Timeout, false); err != nil && !IsKind(err, KindIdleTimeout) {
			return err
		}
		return nil
	}

	first := s.cfg.LoginPrompt
	if !s.cfg.UsesUsername {
		first = s.cfg.PasswordPrompt
	}
	if _, err := s.Expect(ctx, first, s.cfg.Timeout, false); err != nil {
		return s.reinterpret(err, KindConnectionFailure)
	}

	if s.cfg.UsesUsername {
		if err := s.SendLine(s.device.Username); err != nil {
			return err
		}
		if _, err := s.Expect(ctx, s.cfg.PasswordPrompt, s.cfg.Timeout, false); err != nil {
			return s.reinterpret(err, KindAuthenticationFailure)
		}
	}

	if err := s.SendLine(s.device.Password); err != nil {
		return err
	}
	if _, err := s.Expect(ctx, s.cfg.UserPrompt, s.cfg.Timeout, false); err != nil {
		return s.reinterpret(err, KindAuthenticationFailure)
	}
	s.log.Info("login succeeded")
	return nil
}

// reinterpret 把空闲超时换成握手阶段的具体类别，其它错误原样返回
func (s *Session) reinterpret(err error, kind Kind) error {
	var se *Error
	if !errors.As(err, &se) || se.Kind != KindIdleTimeout {
		return err
	}
	s.log.WithField("last_chunk", se.LastChunk).Warn(kind.String())
	return &Error{
		Kind:       kind,
		Address:    s.device.Address,
		DeviceType: s.device.DeviceType,
		LastChunk:  se.LastChunk,
		Err:        err,
	}
}

func (s *Session) unavailable(err error) error {
	return &Error{
		Kind:       KindTransportUnavailable,
		Address:    s.device.Address,
		DeviceType: s.device.DeviceType,
		Err:        err,
	}
}

// SendLine 写入一行，行尾按 CRLF 配置追加
func (s *Session) SendLine(text string) error {
	if !s.Connected() {
		return s.unavailable(errors.New("transport not established"))
	}
	if _, err := s.tr.Write([]byte(text + s.cfg.lineEnding())); err != nil {
		return fmt.Errorf("write to %s: %w", s.device.Address, err)
	}
	return nil
}

// Expect 读取直到某个数据块命中 pattern，返回本次调用累计收到的全部文本。
//
// 超时为空闲超时：每收到非空数据块就重新计时。匹配只针对单个数据块，
// 跨两个数据块的模式不会被识别，最终以超时结束。
// timeout 为 0 时使用会话配置。
func (s *Session) Expect(ctx context.Context, pattern string, timeout time.Duration, useRegex bool) (string, error) {
	if !s.Connected() {
		return "", s.unavailable(errors.New("transport not established"))
	}
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	var re *regexp.Regexp
	if useRegex {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return "", fmt.Errorf("invalid expect pattern %q: %w", pattern, err)
		}
	}
	literal := []byte(pattern)
	defer s.sink.Flush()

	var acc, last []byte
	anchor := time.Now()
	for {
		chunk, err := s.tr.ReadChunk(ctx, readSize)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", fmt.Errorf("expect %q: %w", pattern, ctxErr)
			}
			return "", &Error{
				Kind:       KindTransportUnavailable,
				Address:    s.device.Address,
				DeviceType: s.device.DeviceType,
				LastChunk:  util.DecodeBytes(last, s.cfg.Encoding),
				Err:        err,
			}
		}
		if len(chunk) > 0 {
			acc = append(acc, chunk...)
			s.remember(chunk)
			_, _ = s.sink.Write(chunk)
			last = chunk
			anchor = time.Now()

			var hit bool
			if re != nil {
				hit = re.Match(chunk)
			} else {
				hit = bytes.Contains(chunk, literal)
			}
			if hit {
				return util.DecodeBytes(acc, s.cfg.Encoding), nil
			}
		}
		if time.Since(anchor) > timeout {
			return "", &Error{
				Kind:       KindIdleTimeout,
				Address:    s.device.Address,
				DeviceType: s.device.DeviceType,
				LastChunk:  util.DecodeBytes(last, s.cfg.Encoding),
			}
		}
	}
}

// remember 维护最近 4096 字节的滚动窗口
func (s *Session) remember(chunk []byte) {
	s.window = append(s.window, chunk...)
	if over := len(s.window) - windowSize; over > 0 {
		s.window = append(s.window[:0], s.window[over:]...)
	}
}

// FindPrompt 发送空行并等待 terminator，把清理后的回显作为主机名，
// 之后 SendCommand 默认匹配 主机名+terminator。
func (s *Session) FindPrompt(ctx context.Context, terminator string) (string, error) {
	if err := s.SendLine(""); err != nil {
		return "", err
	}
	raw, err := s.Expect(ctx, terminator, s.cfg.Timeout, false)
	if err != nil {
		return "", err
	}
	s.hostname = util.Sanitize(raw, "", terminator, s.cfg.ANSI, true)
	s.terminator = terminator
	s.prompt = s.hostname + terminator
	s.privileged = terminator == s.cfg.EnablePrompt
	s.log.WithField("prompt", s.prompt).Debug("prompt detected")
	return s.prompt, nil
}

// CheckPrompt 发送空行并判断是否出现 terminator；超时返回 false 而不是错误
func (s *Session) CheckPrompt(ctx context.Context, terminator string) (bool, error) {
	if err := s.SendLine(""); err != nil {
		return false, err
	}
	if _, err := s.Expect(ctx, terminator, s.cfg.Timeout, false); err != nil {
		if IsKind(err, KindIdleTimeout) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SendCommand 发送命令，等待提示符并清理回显。
// 结构化解析失败或无匹配模板时返回清理后的原始文本，不返回错误。
func (s *Session) SendCommand(ctx context.Context, command string, opts CommandOptions) (Output, error) {
	prompt := opts.Prompt
	if prompt == "" {
		prompt = s.prompt
	}
	if err := s.SendLine(command); err != nil {
		return Output{}, err
	}
	raw, err := s.Expect(ctx, prompt, opts.Timeout, opts.Regex)
	if err != nil {
		return Output{}, err
	}
	out := Output{Text: util.Sanitize(raw, command, prompt, s.cfg.ANSI, true)}
	logger.DebugCommandOutput(s.log, command, out.Text, 5)

	if !opts.Structured {
		return out, nil
	}
	if s.conv == nil {
		s.log.WithField("command", command).Debug("no structured converter configured")
		return out, nil
	}
	records, err := s.conv.Convert(out.Text, s.device.DeviceType, command, opts.Template)
	if err != nil {
		s.log.WithError(err).WithField("command", command).Warn("structured conversion failed, returning text")
		return out, nil
	}
	out.Records = records
	return out, nil
}

// Enable 按厂商流程进入特权模式
func (s *Session) Enable(ctx context.Context) error {
	return s.profile.Enable(ctx, s)
}

// Disconnect 关闭通道，可重复调用，只关闭一次
func (s *Session) Disconnect() error {
	s.closeOnce.Do(func() {
		s.closed = true
		s.sink.Flush()
		if s.tr != nil {
			s.closeErr = s.tr.Close()
			s.log.Debug("transport closed")
		}
	})
	return s.closeErr
}
