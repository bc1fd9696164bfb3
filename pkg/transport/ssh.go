package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultSSHPort SSH 默认端口
const DefaultSSHPort = 22

// SSH 返回打开交互 shell 的拨号器。认证在握手阶段完成，
// 通道实现 Authenticated，会话引擎不再等待登录提示。
func SSH(opts Options) Dialer {
	port := opts.Port
	if port <= 0 {
		port = DefaultSSHPort
	}
	return func(ctx context.Context, address string) (Transport, error) {
		target := hostPort(address, port)
		cfg := clientConfig(opts)

		d := &net.Dialer{Timeout: opts.dialTimeout()}
		nc, err := d.DialContext(ctx, "tcp", target)
		if err != nil {
			return nil, fmt.Errorf("failed to dial: %w", err)
		}
		sshConn, chans, reqs, err := ssh.NewClientConn(nc, target, cfg)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create SSH connection: %w", err)
		}
		client := ssh.NewClient(sshConn, chans, reqs)

		shell, err := openShell(client)
		if err != nil {
			client.Close()
			return nil, err
		}
		if opts.KeepAlive > 0 {
			go shell.keepAlive(opts.KeepAlive)
		}
		// SSH 输出管道不支持读超时，统一走挂起模式
		return &sshTransport{Transport: newSuspendConn(shell, opts.poll())}, nil
	}
}

func clientConfig(opts Options) *ssh.ClientConfig {
	cfg := &ssh.ClientConfig{
		User:            opts.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         opts.dialTimeout(),
		Config: ssh.Config{
			// 兼容老旧设备的密钥交换与加密算法
			KeyExchanges: []string{
				"curve25519-sha256",
				"diffie-hellman-group14-sha256",
				"diffie-hellman-group14-sha1",
				"diffie-hellman-group1-sha1",
				"ecdh-sha2-nistp256",
				"ecdh-sha2-nistp384",
				"ecdh-sha2-nistp521",
			},
			Ciphers: []string{
				"aes128-gcm@openssh.com",
				"aes256-gcm@openssh.com",
				"aes128-ctr",
				"aes192-ctr",
				"aes256-ctr",
				"aes128-cbc",
				"3des-cbc",
			},
		},
	}
	// password 与 keyboard-interactive 同时提供，设备常只支持其一
	cfg.Auth = []ssh.AuthMethod{
		ssh.Password(opts.Password),
		ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = opts.Password
			}
			return answers, nil
		}),
	}
	return cfg
}

// shellConn 把 PTY shell 的 stdin/stdout 组合为一个连接
type shellConn struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	once    sync.Once
	closed  chan struct{}
}

func openShell(client *ssh.Client) (*shellConn, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	var ptyErr error
	for _, term := range []string{"vt100", "xterm", "ansi", "dumb"} {
		if ptyErr = session.RequestPty(term, 80, 24, modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		session.Close()
		return nil, fmt.Errorf("failed to request pty: %w", ptyErr)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}
	return &shellConn{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		closed:  make(chan struct{}),
	}, nil
}

func (c *shellConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *shellConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *shellConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		_ = c.stdin.Close()
		_ = c.session.Close()
		err = c.client.Close()
	})
	return err
}

// keepAlive 定期发送 keepalive 请求，连接断开后退出
func (c *shellConn) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if _, _, err := c.client.SendRequest("keepalive@openssh.com", false, nil); err != nil {
				return
			}
		}
	}
}

type sshTransport struct {
	Transport
}

func (t *sshTransport) Authenticated() bool { return true }
