package logger

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// LineSink 缓存设备读到的片段，遇到换行时把整段缓冲以 debug 级别输出。
// 片段可能在行中间截断，所以只有整行才落日志；Flush 输出剩余的半行。
// 每个会话独占一个 LineSink，不做并发保护。
type LineSink struct {
	entry *logrus.Entry
	buf   strings.Builder
}

// NewLineSink entry 为 nil 时使用全局日志
func NewLineSink(entry *logrus.Entry) *LineSink {
	if entry == nil {
		entry = logrus.NewEntry(GetLogger())
	}
	return &LineSink{entry: entry}
}

// Write 实现 io.Writer
func (s *LineSink) Write(p []byte) (int, error) {
	s.WriteString(string(p))
	return len(p), nil
}

// WriteString 追加片段，片段含换行时输出整个缓冲并清空
func (s *LineSink) WriteString(fragment string) {
	s.buf.WriteString(fragment)
	if strings.Contains(fragment, "\n") {
		s.emit()
	}
}

// Flush 输出缓冲中未换行的剩余内容
func (s *LineSink) Flush() {
	if s.buf.Len() > 0 {
		s.emit()
	}
}

// Buffered 当前缓冲中尚未输出的内容
func (s *LineSink) Buffered() string {
	return s.buf.String()
}

func (s *LineSink) emit() {
	s.entry.Debug(s.buf.String())
	s.buf.Reset()
}
