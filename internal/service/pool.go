package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/sshcollectorpro/netsession/internal/config"
	"github.com/sshcollectorpro/netsession/internal/session"
	"github.com/sshcollectorpro/netsession/pkg/logger"
)

// Pool 会话池：按 地址@用户#设备类型 加凭据指纹复用已登录的会话，
// 只复用特权状态与请求一致的会话
type Pool struct {
	dispatcher  *Dispatcher
	sessions    map[string][]*pooledSession
	mutex       sync.Mutex
	maxIdle     int
	maxActive   int
	idleTimeout time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// pooledSession 池化的会话
type pooledSession struct {
	session  *session.Session
	opts     OpenOptions
	lastUsed time.Time
	inUse    bool
	created  time.Time
}

// NewPool 创建会话池并启动清理协程
func NewPool(dispatcher *Dispatcher, cfg config.PoolConfig) *Pool {
	p := &Pool{
		dispatcher:  dispatcher,
		sessions:    make(map[string][]*pooledSession),
		maxIdle:     cfg.MaxIdle,
		maxActive:   cfg.MaxActive,
		idleTimeout: cfg.IdleTimeout,
		stop:        make(chan struct{}),
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go p.cleanup(interval)
	return p
}

// Acquire 获取会话：优先复用空闲会话，否则新建并登录
func (p *Pool) Acquire(ctx context.Context, device session.Device, opts OpenOptions) (*session.Session, error) {
	key := sessionKey(device)

	p.mutex.Lock()
	for _, ps := range p.sessions[key] {
		if !ps.inUse && ps.session.Connected() && ps.opts.equal(opts) && ps.session.Privileged() == opts.Enable {
			ps.inUse = true
			ps.lastUsed = time.Now()
			p.mutex.Unlock()
			return ps.session, nil
		}
	}
	if p.maxActive > 0 {
		if active := p.activeCount(); active >= p.maxActive {
			p.mutex.Unlock()
			return nil, fmt.Errorf("session pool is full, active sessions: %d", active)
		}
	}
	// 占位，登录期间不持锁
	ps := &pooledSession{opts: opts, inUse: true, created: time.Now(), lastUsed: time.Now()}
	p.sessions[key] = append(p.sessions[key], ps)
	p.mutex.Unlock()

	s, err := p.dispatcher.Open(ctx, device, opts)
	if err != nil {
		p.mutex.Lock()
		p.remove(key, ps)
		p.mutex.Unlock()
		return nil, err
	}
	p.mutex.Lock()
	ps.session = s
	p.mutex.Unlock()
	return s, nil
}

// Release 归还会话；会话已断开时直接移出
func (p *Pool) Release(s *session.Session) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	key, ps := p.find(s)
	if ps == nil {
		return
	}
	if !s.Connected() {
		p.remove(key, ps)
		return
	}
	ps.inUse = false
	ps.lastUsed = time.Now()
}

// Discard 关闭并移出会话，用于执行出错后不再复用
func (p *Pool) Discard(s *session.Session) {
	p.mutex.Lock()
	key, ps := p.find(s)
	if ps != nil {
		p.remove(key, ps)
	}
	p.mutex.Unlock()
	s.Disconnect()
}

// Close 关闭会话池
func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })

	p.mutex.Lock()
	defer p.mutex.Unlock()
	var lastErr error
	for key, list := range p.sessions {
		for _, ps := range list {
			if ps.session == nil {
				continue
			}
			if err := ps.session.Disconnect(); err != nil {
				lastErr = err
			}
		}
		delete(p.sessions, key)
	}
	return lastErr
}

// GetStats 获取会话池统计信息
func (p *Pool) GetStats() map[string]interface{} {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	total := 0
	for _, list := range p.sessions {
		total += len(list)
	}
	return map[string]interface{}{
		"total_sessions":  total,
		"active_sessions": p.activeCount(),
		"idle_sessions":   total - p.activeCount(),
		"max_idle":        p.maxIdle,
		"max_active":      p.maxActive,
	}
}

func (o OpenOptions) equal(other OpenOptions) bool {
	if o.Mode != other.Mode || o.Timeout != other.Timeout || o.Port != other.Port || o.Enable != other.Enable {
		return false
	}
	if o.UsesUsername == nil || other.UsesUsername == nil {
		return o.UsesUsername == other.UsesUsername
	}
	return *o.UsesUsername == *other.UsesUsername
}

// sessionKey 密码与 secret 以摘要参与，凭据不同的请求不会拿到别人登录的会话
func sessionKey(d session.Device) string {
	sum := sha256.Sum256([]byte(d.Password + "\x00" + d.Secret))
	return fmt.Sprintf("%s@%s#%s/%s", d.Address, d.Username, d.DeviceType, hex.EncodeToString(sum[:8]))
}

func (p *Pool) find(s *session.Session) (string, *pooledSession) {
	for key, list := range p.sessions {
		for _, ps := range list {
			if ps.session == s {
				return key, ps
			}
		}
	}
	return "", nil
}

func (p *Pool) remove(key string, target *pooledSession) {
	list := p.sessions[key]
	for i, ps := range list {
		if ps == target {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(p.sessions, key)
		return
	}
	p.sessions[key] = list
}

func (p *Pool) activeCount() int {
	count := 0
	for _, list := range p.sessions {
		for _, ps := range list {
			if ps.inUse {
				count++
			}
		}
	}
	return count
}

// cleanup 定期清理过期会话
func (p *Pool) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.cleanupExpired()
		}
	}
}

// cleanupExpired 关闭超时的空闲会话与已断开的会话，并把空闲数量压到 maxIdle 以内
func (p *Pool) cleanupExpired() {
	p.mutex.Lock()
	var closing []*session.Session
	now := time.Now()
	idle := 0
	for key, list := range p.sessions {
		for _, ps := range append([]*pooledSession(nil), list...) {
			if ps.inUse || ps.session == nil {
				continue
			}
			expired := p.idleTimeout > 0 && now.Sub(ps.lastUsed) > p.idleTimeout
			if expired || !ps.session.Connected() || (p.maxIdle > 0 && idle >= p.maxIdle) {
				p.remove(key, ps)
				closing = append(closing, ps.session)
				continue
			}
			idle++
		}
	}
	p.mutex.Unlock()

	for _, s := range closing {
		s.Disconnect()
	}
	if len(closing) > 0 {
		logger.Debugf("session pool: closed %d idle sessions", len(closing))
	}
}
