package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netsession/internal/service"
	"github.com/sshcollectorpro/netsession/internal/session"
	"github.com/sshcollectorpro/netsession/pkg/logger"
	"github.com/sshcollectorpro/netsession/pkg/transport"
)

// 控制台 websocket 关闭码
const (
	consoleStatusBadRequest = 4400
	consoleStatusOpenFailed = 4502
)

// consoleMessage 客户端消息：首条必须为 open，之后为 command / enable / close
type consoleMessage struct {
	Type string `json:"type"`
	service.DeviceJob
	Mode    string `json:"mode"`
	Command string `json:"command"`
	Prompt  string `json:"prompt"`
	Regex   bool   `json:"regex"`
}

// consoleReply 服务端消息
type consoleReply struct {
	Type      string           `json:"type"`
	Hostname  string           `json:"hostname,omitempty"`
	Prompt    string           `json:"prompt,omitempty"`
	Command   string           `json:"command,omitempty"`
	Output    string           `json:"output,omitempty"`
	Records   []session.Record `json:"records,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
}

// ConsoleHandler 基于 websocket 的交互会话：一个连接对应一个设备会话
type ConsoleHandler struct {
	dispatcher *service.Dispatcher
	origins    []string
}

// NewConsoleHandler 创建控制台处理器。浏览器请求的 Origin 必须同源或匹配 origins，
// 其它站点的页面不能借控制台连接任意设备。
func NewConsoleHandler(dispatcher *service.Dispatcher, origins []string) *ConsoleHandler {
	return &ConsoleHandler{dispatcher: dispatcher, origins: origins}
}

// Console 交互控制台
// @Router /api/v1/console [get]
func (h *ConsoleHandler) Console(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		logger.WithField("error", err).Warn("Failed to accept console websocket")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(64 * 1024)

	ctx := c.Request.Context()
	var open consoleMessage
	if err := readJSON(ctx, conn, &open); err != nil || open.Type != "open" {
		conn.Close(consoleStatusBadRequest, "first message must be open")
		return
	}

	opts := service.OpenOptions{UsesUsername: open.UsesUsername, Port: open.Port, Enable: open.Enable}
	if open.Timeout > 0 {
		opts.Timeout = time.Duration(open.Timeout) * time.Second
	}
	if open.Mode != "" {
		mode, err := transport.ParseMode(open.Mode)
		if err != nil {
			_ = writeJSON(ctx, conn, errorReply("error", "", err))
			conn.Close(consoleStatusBadRequest, "invalid mode")
			return
		}
		opts.Mode = mode
	}
	s, err := h.dispatcher.Open(ctx, open.Device, opts)
	if err != nil {
		_ = writeJSON(ctx, conn, errorReply("error", "", err))
		conn.Close(consoleStatusOpenFailed, "open failed")
		return
	}
	defer s.Disconnect()

	log := logger.ForDevice(open.Address, open.DeviceType).WithField("remote", c.ClientIP())
	log.Info("console session opened")
	if err := writeJSON(ctx, conn, consoleReply{Type: "opened", Hostname: s.Hostname(), Prompt: s.Prompt()}); err != nil {
		return
	}

	for {
		var msg consoleMessage
		if err := readJSON(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 {
				log.WithError(err).Debug("console read failed")
			}
			return
		}
		var reply consoleReply
		switch msg.Type {
		case "command":
			reply = h.command(ctx, s, msg)
		case "enable":
			if err := s.Enable(ctx); err != nil {
				reply = errorReply("error", "enable", err)
			} else {
				reply = consoleReply{Type: "prompt", Prompt: s.Prompt()}
			}
		case "close":
			log.Info("console session closed by client")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		default:
			reply = consoleReply{Type: "error", Error: "unknown message type: " + msg.Type}
		}
		if err := writeJSON(ctx, conn, reply); err != nil {
			return
		}
		if !s.Connected() {
			conn.Close(websocket.StatusNormalClosure, "session closed")
			return
		}
	}
}

func (h *ConsoleHandler) command(ctx context.Context, s *session.Session, msg consoleMessage) consoleReply {
	opts := session.CommandOptions{
		Structured: msg.Structured,
		Template:   msg.Template,
		Prompt:     msg.Prompt,
		Regex:      msg.Regex,
	}
	if msg.Timeout > 0 {
		opts.Timeout = time.Duration(msg.Timeout) * time.Second
	}
	out, err := s.SendCommand(ctx, msg.Command, opts)
	if err != nil {
		if session.IsKind(err, session.KindTransportUnavailable) {
			s.Disconnect()
		}
		return errorReply("error", msg.Command, err)
	}
	return consoleReply{Type: "output", Command: msg.Command, Output: out.Text, Records: out.Records}
}

func errorReply(typ, command string, err error) consoleReply {
	r := consoleReply{Type: typ, Command: command, Error: err.Error()}
	var se *session.Error
	if errors.As(err, &se) {
		r.ErrorKind = se.Kind.String()
	}
	return r
}

func readJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		logger.WithFields(logrus.Fields{"error": err}).Debug("console write failed")
		return err
	}
	return nil
}
