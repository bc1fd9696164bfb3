package session

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 会话错误类别
type Kind int

const (
	// KindTransportUnavailable 通道未建立或无法建立
	KindTransportUnavailable Kind = iota + 1
	// KindConnectionFailure 握手阶段等不到登录/密码提示
	KindConnectionFailure
	// KindAuthenticationFailure 发送密码后等不到用户模式提示符
	KindAuthenticationFailure
	// KindIdleTimeout 空闲超时
	KindIdleTimeout
	// KindUnsupportedDeviceType 设备类型未注册
	KindUnsupportedDeviceType
	// KindConfigurationFault 结构化解析模板目录配置错误
	KindConfigurationFault
)

func (k Kind) String() string {
	switch k {
	case KindTransportUnavailable:
		return "transport unavailable"
	case KindConnectionFailure:
		return "connection failure"
	case KindAuthenticationFailure:
		return "authentication failure"
	case KindIdleTimeout:
		return "idle timeout"
	case KindUnsupportedDeviceType:
		return "unsupported device type"
	case KindConfigurationFault:
		return "configuration fault"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error 带类别与上下文字段的会话错误，调用方用 errors.As 判断类别
type Error struct {
	Kind       Kind
	Address    string
	DeviceType string
	// LastChunk 超时前最后一次读到的数据
	LastChunk string
	// Requested/Supported 用于 KindUnsupportedDeviceType
	Requested string
	Supported []string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	switch e.Kind {
	case KindConnectionFailure, KindAuthenticationFailure:
		fmt.Fprintf(&b, ": address=%s device_type=%s", e.Address, e.DeviceType)
	case KindIdleTimeout:
		fmt.Fprintf(&b, "; last chunk: %q", e.LastChunk)
	case KindUnsupportedDeviceType:
		fmt.Fprintf(&b, ": %s; supported:\n%s", e.Requested, strings.Join(e.Supported, "\n"))
	case KindTransportUnavailable:
		if e.Address != "" {
			fmt.Fprintf(&b, ": address=%s", e.Address)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind err 链中是否存在指定类别的会话错误
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}
