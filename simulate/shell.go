package simulate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// telnet 命令字节
const (
	iac  = 255
	dont = 254
	do   = 253
	wont = 252
	will = 251
	sb   = 250
	se   = 240
)

// lineReader 按 \r、\n、\r\n 或 \r\0 切分输入行，telnet 模式下丢弃选项协商
type lineReader struct {
	br     *bufio.Reader
	telnet bool
	skipLF bool
}

func newLineReader(r io.Reader, telnet bool) *lineReader {
	return &lineReader{br: bufio.NewReader(r), telnet: telnet}
}

func (l *lineReader) ReadLine() (string, error) {
	var buf []byte
	for {
		b, err := l.br.ReadByte()
		if err != nil {
			return string(buf), err
		}
		if l.skipLF {
			l.skipLF = false
			if b == '\n' || b == 0 {
				continue
			}
		}
		switch {
		case l.telnet && b == iac:
			if err := l.skipCommand(); err != nil {
				return string(buf), err
			}
		case b == '\r':
			l.skipLF = true
			return string(buf), nil
		case b == '\n':
			return string(buf), nil
		default:
			buf = append(buf, b)
		}
	}
}

func (l *lineReader) skipCommand() error {
	cmd, err := l.br.ReadByte()
	if err != nil {
		return err
	}
	switch cmd {
	case will, wont, do, dont:
		_, err = l.br.ReadByte()
		return err
	case sb:
		for {
			b, err := l.br.ReadByte()
			if err != nil {
				return err
			}
			if b != iac {
				continue
			}
			if b, err = l.br.ReadByte(); err != nil || b == se {
				return err
			}
		}
	}
	return nil
}

// shell 一个已登录会话：回显命令、处理 enable、从配置或文件返回命令输出
type shell struct {
	w          io.Writer
	r          *lineReader
	ns         string
	baseDir    string
	dev        device
	privileged bool
	// touch 每收到一行调用一次，用于重置空闲计时
	touch func()
	log   *logrus.Entry
}

func (s *shell) prompt() string {
	if s.privileged {
		return s.dev.name + s.dev.typ.EnableModeSuffix
	}
	return s.dev.name + s.dev.typ.PromptSuffix
}

func (s *shell) write(parts ...string) error {
	_, err := io.WriteString(s.w, strings.Join(parts, ""))
	return err
}

func (s *shell) readLine() (string, error) {
	line, err := s.r.ReadLine()
	if err == nil && s.touch != nil {
		s.touch()
	}
	return line, err
}

// run 打印提示符并处理命令直到 exit 或连接断开
func (s *shell) run() {
	if err := s.write("\r\n", s.prompt()); err != nil {
		return
	}
	for {
		line, err := s.readLine()
		if err != nil {
			s.log.WithError(err).Debug("Simulate: session closed")
			return
		}
		cmd := strings.TrimSpace(line)
		s.log.WithField("cmd", cmd).Debug("Simulate: input")
		if cmd == "" {
			if s.write("\r\n", s.prompt()) != nil {
				return
			}
			continue
		}
		if s.write(cmd, "\r\n") != nil {
			return
		}

		switch {
		case equalAny(cmd, "exit", "quit", "logout"):
			s.log.Debug("Simulate: session exit")
			return
		case strings.EqualFold(cmd, "enable") && s.dev.typ.EnableModeRequired:
			if !s.enable() {
				return
			}
			continue
		case strings.EqualFold(cmd, "disable") && s.privileged:
			s.privileged = false
		case strings.HasPrefix(strings.ToLower(cmd), "terminal "):
		default:
			out := s.output(cmd)
			if out == "" {
				s.log.WithField("cmd", cmd).Debug("Simulate: command unmatched")
				out = "% Invalid input detected at '^' marker.\r\n"
			}
			if s.write(out) != nil {
				return
			}
		}
		if s.write(s.prompt()) != nil {
			return
		}
	}
}

// enable 提权对话；返回 false 表示连接已断开
func (s *shell) enable() bool {
	if s.write("Password: ") != nil {
		return false
	}
	pwd, err := s.readLine()
	if err != nil {
		return false
	}
	if strings.TrimSpace(pwd) != s.dev.secret {
		s.log.Debug("Simulate: enable failed")
		return s.write("\r\n% Bad secrets\r\n\r\n", s.prompt()) == nil
	}
	s.privileged = true
	s.log.Debug("Simulate: enable success")
	return s.write("\r\n", s.prompt()) == nil
}

// output 先查配置中的内联输出，再查 <base>/namespace/<ns>/<device>/ 下的文件
func (s *shell) output(cmd string) string {
	if out, ok := s.dev.outputs[strings.ToLower(cmd)]; ok {
		return ensureCRLF(out)
	}
	base := filepath.Join(s.baseDir, "namespace", s.ns, s.dev.name)
	for _, name := range []string{cmd, strings.ReplaceAll(cmd, " ", "_")} {
		p := filepath.Join(base, fmt.Sprintf("%s.txt", name))
		if bs, err := os.ReadFile(p); err == nil {
			s.log.WithField("file", p).Debug("Simulate: load output")
			return ensureCRLF(string(bs))
		}
	}
	return ""
}

// ensureCRLF 统一为 CRLF 行尾并保证以换行结束
func ensureCRLF(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}

func equalAny(s string, opts ...string) bool {
	for _, o := range opts {
		if strings.EqualFold(strings.TrimSpace(s), o) {
			return true
		}
	}
	return false
}
