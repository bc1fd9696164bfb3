package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// OutputLines 命令输出的头部和尾部行
type OutputLines struct {
	HeadLines []string `json:"head_lines"`
	TailLines []string `json:"tail_lines"`
	Total     int      `json:"total"`
}

// ParseOutputLines 提取输出的前后各 maxLines 行，maxLines<=0 时取 5
func ParseOutputLines(output string, maxLines int) OutputLines {
	if maxLines <= 0 {
		maxLines = 5
	}
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "\n")
	if output == "" {
		return OutputLines{}
	}
	lines := strings.Split(output, "\n")
	n := len(lines)

	head := lines
	if n > maxLines {
		head = lines[:maxLines]
	}
	tail := lines
	if n > maxLines {
		tail = lines[n-maxLines:]
	}
	return OutputLines{
		HeadLines: append([]string(nil), head...),
		TailLines: append([]string(nil), tail...),
		Total:     n,
	}
}

// FormatOutputLines 格式化为单行日志文本，头尾相同只输出一次
func FormatOutputLines(lines OutputLines) string {
	var parts []string
	if len(lines.HeadLines) > 0 {
		parts = append(parts, "head-lines: ["+strings.Join(lines.HeadLines, " ⟩ ")+"]")
	}
	if len(lines.TailLines) > 0 && lines.Total > len(lines.HeadLines) {
		parts = append(parts, "tail-lines: ["+strings.Join(lines.TailLines, " ⟩ ")+"]")
	}
	return strings.Join(parts, ", ")
}

// DebugCommandOutput 在 debug 级别记录命令输出摘要
func DebugCommandOutput(entry *logrus.Entry, command string, output string, maxLines int) {
	if entry == nil {
		entry = logrus.NewEntry(GetLogger())
	}
	if !entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	lines := ParseOutputLines(output, maxLines)
	if lines.Total == 0 {
		return
	}
	entry.WithFields(logrus.Fields{
		"command": command,
		"lines":   lines.Total,
	}).Debug(FormatOutputLines(lines))
}
