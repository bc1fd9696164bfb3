package simulate

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/sshcollectorpro/netsession/pkg/logger"
)

var hostKeys sync.Map // baseDir -> ssh.Signer

// loadOrCreateHostKey 加载或生成持久化的 host key：<base_dir>/_hostkey_ed25519.pem
func loadOrCreateHostKey(baseDir string) (ssh.Signer, error) {
	if v, ok := hostKeys.Load(baseDir); ok {
		return v.(ssh.Signer), nil
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure simulate dir: %w", err)
	}
	keyPath := filepath.Join(baseDir, "_hostkey_ed25519.pem")

	if bs, err := os.ReadFile(keyPath); err == nil {
		signer, err := ssh.ParsePrivateKey(bs)
		if err == nil {
			hostKeys.Store(baseDir, signer)
			return signer, nil
		}
		logger.WithField("error", err).Warn("Simulate: host key parse failed, regenerating")
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(key, "netsession-simulate")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal host key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(block)
	if err := os.WriteFile(keyPath, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated host key: %w", err)
	}
	hostKeys.Store(baseDir, signer)
	logger.WithField("file", keyPath).Info("Simulate: host key generated")
	return signer, nil
}

// serveSSH 密码或 keyboard-interactive 认证，用户名即设备名
func (s *namespaceServer) serveSSH(nc net.Conn, signer ssh.Signer) {
	cfg := s.manager.config()
	log := logger.WithFields(logrus.Fields{"namespace": s.name, "remote": nc.RemoteAddr().String()})

	check := func(user, password string) (*ssh.Permissions, error) {
		if strings.TrimSpace(password) == cfg.resolve(user).password {
			return nil, nil
		}
		log.WithField("user", user).Debug("Simulate: auth failed (ssh)")
		return nil, fmt.Errorf("access denied")
	}
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(md ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return check(md.User(), string(password))
		},
		KeyboardInteractiveCallback: func(md ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(md.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) == 0 {
				return nil, fmt.Errorf("access denied")
			}
			return check(md.User(), answers[0])
		},
	}
	srvCfg.AddHostKey(signer)

	conn, chans, reqs, err := ssh.NewServerConn(nc, srvCfg)
	if err != nil {
		log.WithError(err).Debug("Simulate: SSH handshake failed")
		return
	}
	defer conn.Close()
	go ssh.DiscardRequests(reqs)

	dev := cfg.resolve(conn.User())
	log = log.WithField("device", dev.name)
	for ch := range chans {
		if ch.ChannelType() != "session" {
			_ = ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			log.WithError(err).Error("Simulate: channel accept failed")
			continue
		}
		go s.handleChannel(nc, channel, requests, cfg, dev, log)
	}
}

func (s *namespaceServer) handleChannel(nc net.Conn, channel ssh.Channel, requests <-chan *ssh.Request, cfg *Config, dev device, log *logrus.Entry) {
	defer channel.Close()
	touch, stopIdle := s.idleTimer(nc)
	defer stopIdle()

	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go ssh.DiscardRequests(requests)
			sh := &shell{w: channel, r: newLineReader(channel, false), ns: s.name, baseDir: cfg.BaseDir, dev: dev, touch: touch, log: log}
			sh.run()
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			return
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				return
			}
			_ = req.Reply(true, nil)
			sh := &shell{ns: s.name, baseDir: cfg.BaseDir, dev: dev, log: log}
			out := sh.output(strings.TrimSpace(payload.Command))
			if out == "" {
				out = "% Invalid input detected at '^' marker.\r\n"
			}
			_, _ = channel.Write([]byte(out))
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			return
		default:
			_ = req.Reply(false, nil)
		}
	}
}
