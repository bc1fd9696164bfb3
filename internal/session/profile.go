package session

import "context"

// Profile 厂商差异：登录提示、登录后初始化与提权流程。
// 厂商实现只覆盖不同之处，连接、读取与清理由 Session 完成。
type Profile interface {
	Name() string
	// LoginPrompt 登录提示文本，空串表示沿用会话配置
	LoginPrompt() string
	// Initialize 认证完成并确定提示符后执行一次
	Initialize(ctx context.Context, s *Session) error
	// Enable 进入特权模式
	Enable(ctx context.Context, s *Session) error
}

// Generic 通用设备：两个钩子均为空操作。厂商类型嵌入它后按需覆盖。
type Generic struct{}

func (Generic) Name() string        { return "generic" }
func (Generic) LoginPrompt() string { return "" }

func (Generic) Initialize(context.Context, *Session) error { return nil }

func (Generic) Enable(context.Context, *Session) error { return nil }
