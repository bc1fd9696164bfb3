package util

import (
	"regexp"
	"strings"
)

// ansiEscape 匹配 ESC 开头的控制序列（CSI 及单字符序列）
var ansiEscape = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[0-?]*[ -/]*[@-~])`)

// StripANSI 移除 ANSI 控制序列
func StripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

// Sanitize 清理设备回显：
//  1. stripANSI 为真时移除 ANSI 控制序列
//  2. removeEcho 为真时移除命令回显、提示符以及带 "!"/"!!" 前缀的提示符残留
//  3. 去除首尾空白
//
// 替换顺序固定为 command、"!"+pattern、"!!"+pattern、pattern。
func Sanitize(raw, command, pattern string, stripANSI, removeEcho bool) string {
	out := raw
	if stripANSI {
		out = StripANSI(out)
	}
	if removeEcho {
		out = removeAll(out, command)
		if pattern != "" {
			out = removeAll(out, "!"+pattern)
			out = removeAll(out, "!!"+pattern)
			out = removeAll(out, pattern)
		}
	}
	return strings.TrimSpace(out)
}

func removeAll(s, sub string) string {
	if sub == "" {
		return s
	}
	return strings.ReplaceAll(s, sub, "")
}
