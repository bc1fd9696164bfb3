// Package transport 提供会话引擎使用的双工字节通道。
//
// 两种执行模式共享同一个读取约定：ReadChunk 最多返回 max 字节，
// 在一个轮询周期内没有数据时返回 (nil, nil)。阻塞模式直接在连接上
// 设置读超时；挂起模式由后台 goroutine 读取，ReadChunk 在 channel 上等待，
// 同一进程里的其它会话在此期间照常运行。
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Mode 执行模式
type Mode string

const (
	ModeBlocking Mode = "blocking"
	ModeSuspend  Mode = "suspend"
)

// ParseMode 解析配置中的模式名称，空串视为阻塞模式
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "blocking", "sync":
		return ModeBlocking, nil
	case "suspend", "async":
		return ModeSuspend, nil
	}
	return "", fmt.Errorf("unknown execution mode %q", s)
}

// DefaultTelnetPort telnet 固定端口
const DefaultTelnetPort = 23

// DefaultPollInterval 单次读取的最长等待
const DefaultPollInterval = time.Second

// Transport 会话独占的双工通道
type Transport interface {
	Write(p []byte) (int, error)
	// ReadChunk 读取最多 max 字节；轮询周期内无数据返回 (nil, nil)
	ReadChunk(ctx context.Context, max int) ([]byte, error)
	Close() error
}

// Authenticated 由在建立通道时已完成认证的传输实现（例如 SSH），
// 会话引擎据此跳过用户名/密码交互。
type Authenticated interface {
	Authenticated() bool
}

// Dialer 打开到设备的通道
type Dialer func(ctx context.Context, address string) (Transport, error)

// Options 通道参数
type Options struct {
	Mode         Mode
	Port         int
	DialTimeout  time.Duration
	PollInterval time.Duration
	// SSH 使用
	Username  string
	Password  string
	KeepAlive time.Duration
}

func (o Options) poll() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return DefaultPollInterval
}

func (o Options) dialTimeout() time.Duration {
	if o.DialTimeout > 0 {
		return o.DialTimeout
	}
	return 10 * time.Second
}

// hostPort address 已含端口时原样返回
func hostPort(address string, port int) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, fmt.Sprintf("%d", port))
}

// deadlineConn 支持读超时的连接
type deadlineConn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Wrap 按模式包装已建立的连接。阻塞模式要求连接支持读超时，
// 不支持时退化为挂起模式。
func Wrap(conn io.ReadWriteCloser, mode Mode, poll time.Duration) Transport {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if mode == ModeBlocking {
		if dc, ok := conn.(deadlineConn); ok {
			return &blockingConn{conn: dc, poll: poll}
		}
	}
	return newSuspendConn(conn, poll)
}

// blockingConn 调用方在 Read 上阻塞，最长一个轮询周期
type blockingConn struct {
	conn deadlineConn
	poll time.Duration
	once sync.Once
	err  error
}

func (c *blockingConn) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

func (c *blockingConn) ReadChunk(ctx context.Context, max int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wait := c.poll
	if dl, ok := ctx.Deadline(); ok {
		if remain := time.Until(dl); remain < wait {
			wait = remain
		}
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return nil, err
	}
	buf := make([]byte, max)
	n, err := c.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	return nil, nil
}

func (c *blockingConn) Close() error {
	c.once.Do(func() { c.err = c.conn.Close() })
	return c.err
}

// suspendConn 后台 goroutine 读取，ReadChunk 在 channel 上挂起
type suspendConn struct {
	conn    io.ReadWriteCloser
	poll    time.Duration
	chunks  chan []byte
	done    chan struct{}
	pending []byte
	readErr error
	once    sync.Once
	err     error
}

func newSuspendConn(conn io.ReadWriteCloser, poll time.Duration) *suspendConn {
	c := &suspendConn{
		conn:   conn,
		poll:   poll,
		chunks: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *suspendConn) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			b := make([]byte, n)
			copy(b, buf[:n])
			select {
			case c.chunks <- b:
			case <-c.done:
				return
			}
		}
		if err != nil {
			// readErr 在 close 之前写入，消费方读到关闭后再读取
			c.readErr = err
			close(c.chunks)
			return
		}
	}
}

func (c *suspendConn) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

func (c *suspendConn) ReadChunk(ctx context.Context, max int) ([]byte, error) {
	if len(c.pending) > 0 {
		return c.take(max), nil
	}
	timer := time.NewTimer(c.poll)
	defer timer.Stop()
	select {
	case b, ok := <-c.chunks:
		if !ok {
			if c.readErr == nil {
				return nil, io.EOF
			}
			return nil, c.readErr
		}
		c.pending = b
		return c.take(max), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

func (c *suspendConn) take(max int) []byte {
	n := len(c.pending)
	if n > max {
		n = max
	}
	out := c.pending[:n]
	c.pending = c.pending[n:]
	return out
}

func (c *suspendConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.err = c.conn.Close()
	})
	return c.err
}
