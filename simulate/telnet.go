package simulate

import (
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netsession/pkg/logger"
)

const maxLoginAttempts = 3

// serveTelnet 用户名/密码登录对话后进入 shell；用户名即设备名
func (s *namespaceServer) serveTelnet(c net.Conn) {
	touch, stopIdle := s.idleTimer(c)
	defer stopIdle()

	cfg := s.manager.config()
	r := newLineReader(c, true)
	log := logger.WithFields(logrus.Fields{"namespace": s.name, "remote": c.RemoteAddr().String()})

	var dev device
	banner := "\r\nUser Access Verification\r\n\r\n"
	for attempt := 0; ; attempt++ {
		if attempt >= maxLoginAttempts {
			_, _ = c.Write([]byte("% Login invalid\r\n"))
			return
		}
		if _, err := c.Write([]byte(banner + s.snapshot().loginPrompt())); err != nil {
			return
		}
		banner = ""
		user, err := r.ReadLine()
		if err != nil {
			return
		}
		touch()
		user = strings.TrimSpace(user)
		dev = cfg.resolve(user)
		if _, err := c.Write([]byte(user + "\r\nPassword: ")); err != nil {
			return
		}
		pass, err := r.ReadLine()
		if err != nil {
			return
		}
		touch()
		if user != "" && strings.TrimSpace(pass) == dev.password {
			break
		}
		log.WithField("user", user).Debug("Simulate: auth failed (telnet)")
		if _, err := c.Write([]byte("\r\n% Authentication failed\r\n\r\n")); err != nil {
			return
		}
	}
	if dev.typ.Banner != "" {
		_, _ = c.Write([]byte("\r\n" + ensureCRLF(dev.typ.Banner)))
	}
	log = log.WithField("device", dev.name)
	log.Debug("Simulate: auth success (telnet)")

	sh := &shell{w: c, r: r, ns: s.name, baseDir: cfg.BaseDir, dev: dev, touch: touch, log: log}
	sh.run()
}
