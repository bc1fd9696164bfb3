// Package sessiontest 提供脚本化的内存通道，用于在没有真实设备时驱动会话。
package sessiontest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sshcollectorpro/netsession/pkg/transport"
)

// Responder 根据写入的一行（不含行尾）返回设备要回送的数据块
type Responder func(line string) []string

type pending struct {
	data  []byte
	ready time.Time
}

// Transport 脚本化通道。数据块按就绪时间排队，ReadChunk 只返回已就绪的数据。
type Transport struct {
	mu      sync.Mutex
	queue   []pending
	writes  []string
	partial string
	respond Responder
	poll    time.Duration
	closes  int
	authed  bool
}

// New 创建通道，poll 为无数据时单次 ReadChunk 的等待时长
func New(poll time.Duration, respond Responder) *Transport {
	if poll <= 0 {
		poll = 5 * time.Millisecond
	}
	return &Transport{poll: poll, respond: respond}
}

// Authenticate 标记为已认证通道（模拟 SSH）
func (t *Transport) Authenticate() *Transport {
	t.authed = true
	return t
}

// Push 立即排入数据块
func (t *Transport) Push(chunks ...string) {
	t.Schedule(0, chunks...)
}

// Schedule 依次排入数据块，相邻数据块之间间隔 gap
func (t *Transport) Schedule(gap time.Duration, chunks ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at := time.Now()
	if n := len(t.queue); n > 0 && t.queue[n-1].ready.After(at) {
		at = t.queue[n-1].ready
	}
	for _, c := range chunks {
		at = at.Add(gap)
		t.queue = append(t.queue, pending{data: []byte(c), ready: at})
	}
}

// Write 记录写入，按行调用 Responder
func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.writes = append(t.writes, string(p))
	t.partial += string(p)
	var lines []string
	for {
		i := strings.Index(t.partial, "\n")
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(t.partial[:i], "\r"))
		t.partial = t.partial[i+1:]
	}
	respond := t.respond
	t.mu.Unlock()

	if respond != nil {
		for _, line := range lines {
			t.Push(respond(line)...)
		}
	}
	return len(p), nil
}

// ReadChunk 实现 transport.Transport
func (t *Transport) ReadChunk(ctx context.Context, max int) ([]byte, error) {
	t.mu.Lock()
	wait := t.poll
	if len(t.queue) > 0 {
		head := &t.queue[0]
		if until := time.Until(head.ready); until <= 0 {
			n := len(head.data)
			if n > max {
				n = max
			}
			out := head.data[:n]
			head.data = head.data[n:]
			if len(head.data) == 0 {
				t.queue = t.queue[1:]
			}
			t.mu.Unlock()
			return out, nil
		} else if until < wait {
			wait = until
		}
	}
	t.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	}
}

// Close 记录关闭次数
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closes++
	t.mu.Unlock()
	return nil
}

// Authenticated 实现 transport.Authenticated
func (t *Transport) Authenticated() bool { return t.authed }

// Writes 已写入的原始数据
func (t *Transport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Closes 关闭次数
func (t *Transport) Closes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closes
}

// Dialer 返回总是给出该通道的拨号器
func (t *Transport) Dialer() transport.Dialer {
	return func(context.Context, string) (transport.Transport, error) {
		return t, nil
	}
}

// Device 一个按行应答的模拟设备：用户名/密码登录、空行回显提示符、
// enable 提权、固定命令输出。
type Device struct {
	Hostname string
	Username string
	Password string
	Secret   string
	// Outputs 命令 -> 输出
	Outputs map[string]string
	// Silent 为真的阶段不作应答（模拟失败）
	SilentLogin    bool
	SilentPassword bool
	SilentPrompt   bool

	mu         sync.Mutex
	stage      string
	privileged bool
	t          *Transport
}

// Attach 创建绑定该设备的通道，并立即送出登录提示
func (d *Device) Attach(poll time.Duration) *Transport {
	d.t = New(poll, d.respond)
	d.stage = "username"
	if !d.SilentLogin {
		d.t.Push("\r\nUser Access Verification\r\n\r\nUsername: ")
	}
	return d.t
}

func (d *Device) prompt() string {
	if d.privileged {
		return d.Hostname + "#"
	}
	return d.Hostname + ">"
}

func (d *Device) respond(line string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.stage {
	case "username":
		d.stage = "password"
		if d.SilentPassword {
			return []string{line + "\r\n"}
		}
		return []string{line + "\r\n", "Password: "}
	case "password":
		if line != d.Password || d.SilentPrompt {
			d.stage = "username"
			return []string{"\r\n% Authentication failed\r\n"}
		}
		d.stage = "exec"
		return []string{"\r\n" + d.prompt()}
	case "enable":
		d.stage = "exec"
		if line != d.Secret {
			return []string{"\r\n% Bad secrets\r\n\r\n" + d.prompt()}
		}
		d.privileged = true
		return []string{"\r\n" + d.prompt()}
	}

	cmd := strings.TrimSpace(line)
	switch {
	case cmd == "":
		return []string{"\r\n" + d.prompt()}
	case cmd == "enable":
		d.stage = "enable"
		return []string{cmd + "\r\n", "Password: "}
	case strings.HasPrefix(cmd, "terminal "):
		return []string{cmd + "\r\n" + d.prompt()}
	}
	out, ok := d.Outputs[cmd]
	if !ok {
		out = "% Invalid input detected at '^' marker.\r\n"
	}
	return []string{cmd + "\r\n", out, d.prompt()}
}
