// Package platform 维护设备类型到厂商插件的注册表。
// 每种执行方式（阻塞/挂起）各有一张表，插件在 init 中自行注册。
package platform

import (
	"sort"
	"sync"

	"github.com/sshcollectorpro/netsession/internal/session"
	"github.com/sshcollectorpro/netsession/pkg/transport"
)

// 注册中心，按执行方式与设备类型获取插件
var (
	registryMu sync.RWMutex
	registry   = map[transport.Mode]map[string]Plugin{
		transport.ModeBlocking: {},
		transport.ModeSuspend:  {},
	}
)

// Register 在指定执行方式下注册插件，同名覆盖
func Register(mode transport.Mode, key string, plugin Plugin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	m, ok := registry[mode]
	if !ok {
		m = map[string]Plugin{}
		registry[mode] = m
	}
	m[key] = plugin
}

// RegisterAll 在所有执行方式下注册
func RegisterAll(key string, plugin Plugin) {
	Register(transport.ModeBlocking, key, plugin)
	Register(transport.ModeSuspend, key, plugin)
}

// Lookup 获取插件，不存在时返回列出全部已支持类型的 UnsupportedDeviceType 错误
func Lookup(mode transport.Mode, key string) (Plugin, error) {
	registryMu.RLock()
	p, ok := registry[mode][key]
	registryMu.RUnlock()
	if ok {
		return p, nil
	}
	return nil, &session.Error{
		Kind:       session.KindUnsupportedDeviceType,
		DeviceType: key,
		Requested:  key,
		Supported:  Platforms(mode),
	}
}

// Platforms 指定执行方式下已注册的设备类型，按字典序
func Platforms(mode transport.Mode) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry[mode]))
	for k := range registry[mode] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
