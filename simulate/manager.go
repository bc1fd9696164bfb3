package simulate

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netsession/pkg/logger"
)

// Manager 管理多个 namespace 的模拟服务，每个 namespace 独占一个端口。
// 登录用户名即设备名，决定设备类型、提示符与命令输出。
type Manager struct {
	mu        sync.Mutex
	cfg       atomic.Pointer[Config]
	nsServers map[string]*namespaceServer
}

// Start 启动所有 namespace；单个 namespace 启动失败只记录日志
func Start(simCfg *Config) (*Manager, error) {
	if simCfg == nil {
		return nil, errors.New("simulate config is nil")
	}
	if err := simCfg.Validate(); err != nil {
		return nil, err
	}
	if err := EnsureDirs(simCfg); err != nil {
		logger.WithField("error", err).Error("Simulate: ensure dirs failed")
		return nil, err
	}
	m := &Manager{nsServers: make(map[string]*namespaceServer)}
	m.cfg.Store(simCfg)
	m.mu.Lock()
	defer m.mu.Unlock()
	for ns, nsCfg := range simCfg.Namespace {
		m.startLocked(ns, nsCfg)
	}
	return m, nil
}

// EnsureDirs 按 namespace 与 device_name 创建输出目录
// <base_dir>/namespace/<ns>/<device_name>
func EnsureDirs(simCfg *Config) error {
	base := filepath.Join(simCfg.BaseDir, "namespace")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("failed to create base namespace directory: %w", err)
	}
	for ns := range simCfg.Namespace {
		for dev := range simCfg.DeviceName {
			dir := filepath.Join(base, ns, dev)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", dir, err)
			}
		}
	}
	return nil
}

func (m *Manager) startLocked(ns string, nsCfg NamespaceConfig) {
	srv := &namespaceServer{name: ns, cfg: nsCfg, manager: m}
	log := logger.WithFields(logrus.Fields{"namespace": ns, "protocol": nsCfg.protocol(), "port": nsCfg.Port})
	if err := srv.start(); err != nil {
		log.WithError(err).Error("Simulate: start namespace server failed")
		return
	}
	m.nsServers[ns] = srv
	log.WithField("addr", srv.Addr()).Info("Simulate: namespace server started")
}

// Stop 停止所有模拟服务
func (m *Manager) Stop() {
	m.mu.Lock()
	servers := m.nsServers
	m.nsServers = make(map[string]*namespaceServer)
	m.mu.Unlock()
	for ns, srv := range servers {
		srv.stop()
		logger.WithField("namespace", ns).Info("Simulate: namespace server stopped")
	}
}

// Reload 热更新：设备配置立即生效，端口或协议变化的 namespace 重启
func (m *Manager) Reload(simCfg *Config) error {
	if err := simCfg.Validate(); err != nil {
		return err
	}
	if err := EnsureDirs(simCfg); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Store(simCfg)
	for ns, srv := range m.nsServers {
		next, ok := simCfg.Namespace[ns]
		if cur := srv.snapshot(); ok && next.protocol() == cur.protocol() && next.addr() == cur.addr() {
			srv.setConfig(next)
			continue
		}
		srv.stop()
		delete(m.nsServers, ns)
		logger.WithField("namespace", ns).Info("Simulate: namespace server stopped by reload")
	}
	for ns, nsCfg := range simCfg.Namespace {
		if _, ok := m.nsServers[ns]; !ok {
			m.startLocked(ns, nsCfg)
		}
	}
	return nil
}

// Addr 返回 namespace 实际监听地址，未运行时返回空串
func (m *Manager) Addr(ns string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if srv, ok := m.nsServers[ns]; ok {
		return srv.Addr()
	}
	return ""
}

// Namespaces 运行中的 namespace 及其地址
func (m *Manager) Namespaces() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.nsServers))
	for ns, srv := range m.nsServers {
		out[ns] = srv.Addr()
	}
	return out
}

func (m *Manager) config() *Config { return m.cfg.Load() }

type namespaceServer struct {
	name     string
	manager  *Manager
	listener net.Listener
	wg       sync.WaitGroup

	mu     sync.Mutex
	cfg    NamespaceConfig
	active int
	conns  map[net.Conn]struct{}
}

func (s *namespaceServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *namespaceServer) setConfig(cfg NamespaceConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *namespaceServer) snapshot() NamespaceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *namespaceServer) start() error {
	var handle func(net.Conn)
	switch s.cfg.protocol() {
	case ProtocolSSH:
		signer, err := loadOrCreateHostKey(s.manager.config().BaseDir)
		if err != nil {
			return fmt.Errorf("failed to init host key: %w", err)
		}
		handle = func(c net.Conn) { s.serveSSH(c, signer) }
	default:
		handle = s.serveTelnet
	}

	ln, err := net.Listen("tcp", s.cfg.addr())
	if err != nil {
		return err
	}
	s.listener = ln
	s.conns = make(map[net.Conn]struct{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logger.WithField("error", err).Warn("Simulate: accept error")
				time.Sleep(200 * time.Millisecond)
				continue
			}
			if !s.track(conn) {
				_ = conn.Close()
				logger.WithField("namespace", s.name).Warn("Simulate: reject connection, max_conn exceeded")
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrack(c)
				handle(c)
			}(conn)
		}
	}()
	return nil
}

func (s *namespaceServer) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.MaxConn > 0 && s.active >= s.cfg.MaxConn {
		return false
	}
	s.active++
	s.conns[c] = struct{}{}
	return true
}

func (s *namespaceServer) untrack(c net.Conn) {
	_ = c.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		s.active--
	}
}

// stop 关闭监听与所有连接并等待处理协程退出
func (s *namespaceServer) stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// idleTimer 空闲 idle_seconds 后关闭连接；返回重置与停止函数
func (s *namespaceServer) idleTimer(c net.Conn) (touch func(), stop func()) {
	idle := s.snapshot().IdleSeconds
	if idle <= 0 {
		return func() {}, func() {}
	}
	d := time.Duration(idle) * time.Second
	t := time.AfterFunc(d, func() {
		_, _ = c.Write([]byte("\r\nSession closed due to idle timeout.\r\n"))
		_ = c.Close()
	})
	return func() { t.Reset(d) }, func() { t.Stop() }
}
