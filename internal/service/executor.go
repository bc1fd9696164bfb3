package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sshcollectorpro/netsession/internal/config"
	"github.com/sshcollectorpro/netsession/internal/model"
	"github.com/sshcollectorpro/netsession/internal/session"
	"github.com/sshcollectorpro/netsession/pkg/logger"
	"github.com/sshcollectorpro/netsession/pkg/transport"
)

// DeviceJob 单台设备的执行请求
type DeviceJob struct {
	session.Device `mapstructure:",squash" yaml:",inline"`
	Commands       []string `json:"commands" yaml:"commands" mapstructure:"commands"`
	// Enable 执行命令前进入特权模式
	Enable     bool   `json:"enable" yaml:"enable" mapstructure:"enable"`
	Structured bool   `json:"structured" yaml:"structured" mapstructure:"structured"`
	Template   string `json:"template" yaml:"template" mapstructure:"template"`
	// Timeout 空闲超时（秒），0 使用配置
	Timeout      int   `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	UsesUsername *bool `json:"use_username" yaml:"use_username" mapstructure:"use_username"`
	Port         int   `json:"port" yaml:"port" mapstructure:"port"`
}

// BatchRequest 批量执行请求
type BatchRequest struct {
	TaskID      string      `json:"task_id"`
	Source      string      `json:"source"`
	Mode        string      `json:"mode"`
	Concurrency int         `json:"concurrency"`
	Retries     *int        `json:"retries"`
	Archive     *bool       `json:"archive"`
	Devices     []DeviceJob `json:"devices" binding:"required,min=1"`
}

// CommandResult 单条命令结果
type CommandResult struct {
	Command    string           `json:"command" yaml:"command"`
	Output     string           `json:"output" yaml:"output"`
	Records    []session.Record `json:"records,omitempty" yaml:"records,omitempty"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	ArchiveURI string           `json:"archive_uri,omitempty" yaml:"archive_uri,omitempty"`
	DurationMS int64            `json:"duration_ms" yaml:"duration_ms"`
}

// DeviceResult 单台设备结果
type DeviceResult struct {
	Address    string          `json:"address" yaml:"address"`
	DeviceType string          `json:"device_type" yaml:"device_type"`
	Hostname   string          `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Prompt     string          `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Success    bool            `json:"success" yaml:"success"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Attempts   int             `json:"attempts" yaml:"attempts"`
	Commands   []CommandResult `json:"commands" yaml:"commands"`
	DurationMS int64           `json:"duration_ms" yaml:"duration_ms"`
}

// BatchResult 批量执行结果
type BatchResult struct {
	TaskID     string         `json:"task_id" yaml:"task_id"`
	Status     string         `json:"status" yaml:"status"`
	Succeeded  int            `json:"succeeded" yaml:"succeeded"`
	Failed     int            `json:"failed" yaml:"failed"`
	Devices    []DeviceResult `json:"devices" yaml:"devices"`
	DurationMS int64          `json:"duration_ms" yaml:"duration_ms"`
}

// Executor 批量执行器：按并发上限为每台设备获取会话并顺序执行命令
type Executor struct {
	cfg     *config.Config
	pool    *Pool
	storage StorageWriter
	history *History
}

// ExecutorOption 构造选项
type ExecutorOption func(*Executor)

// WithStorage 启用输出归档
func WithStorage(w StorageWriter) ExecutorOption {
	return func(e *Executor) { e.storage = w }
}

// WithHistory 启用执行记录
func WithHistory(h *History) ExecutorOption {
	return func(e *Executor) { e.history = h }
}

// NewExecutor 创建执行器
func NewExecutor(cfg *config.Config, pool *Pool, opts ...ExecutorOption) *Executor {
	e := &Executor{cfg: cfg, pool: pool}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute 执行批量请求。单台设备失败记录在结果中，不影响其它设备；
// 只有请求本身无效或 ctx 取消时返回错误。
func (e *Executor) Execute(ctx context.Context, req *BatchRequest) (*BatchResult, error) {
	if req == nil || len(req.Devices) == 0 {
		return nil, errors.New("no devices to execute")
	}
	var mode transport.Mode
	if req.Mode != "" {
		m, err := transport.ParseMode(req.Mode)
		if err != nil {
			return nil, err
		}
		mode = m
	}
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		taskID = uuid.NewString()
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = e.cfg.Batch.Concurrency
	}
	retries := e.cfg.Batch.Retries
	if req.Retries != nil && *req.Retries >= 0 {
		retries = *req.Retries
	}
	archive := e.cfg.Batch.Archive
	if req.Archive != nil {
		archive = *req.Archive
	}

	start := time.Now()
	task := &model.Task{
		ID:          taskID,
		Source:      req.Source,
		Mode:        string(mode),
		DeviceCount: len(req.Devices),
		Status:      model.TaskStatusRunning,
		StartTime:   start,
	}
	if task.Source == "" {
		task.Source = "api"
	}
	e.saveTask(task)

	log := logger.WithFields(logrus.Fields{"task_id": taskID, "devices": len(req.Devices)})
	log.Info("batch started")

	results := make([]DeviceResult, len(req.Devices))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range req.Devices {
		i, job := i, req.Devices[i]
		g.Go(func() error {
			results[i] = e.runDevice(gctx, taskID, mode, job, retries, archive)
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{TaskID: taskID, Devices: results}
	for _, r := range results {
		if r.Success {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	switch {
	case res.Failed == 0:
		res.Status = model.TaskStatusSuccess
	case res.Succeeded == 0:
		res.Status = model.TaskStatusFailed
	default:
		res.Status = model.TaskStatusPartial
	}
	res.DurationMS = time.Since(start).Milliseconds()

	task.Status = res.Status
	task.Succeeded = res.Succeeded
	task.Failed = res.Failed
	task.EndTime = time.Now()
	task.Duration = res.DurationMS
	e.saveTask(task)
	e.record(taskID, results)

	log.WithFields(logrus.Fields{"succeeded": res.Succeeded, "failed": res.Failed, "duration_ms": res.DurationMS}).Info("batch finished")
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// runDevice 建立会话（按 retries 重试）后顺序执行命令；命令失败不重试
func (e *Executor) runDevice(ctx context.Context, taskID string, mode transport.Mode, job DeviceJob, retries int, archive bool) DeviceResult {
	start := time.Now()
	res := DeviceResult{Address: job.Address, DeviceType: job.DeviceType}
	defer func() { res.DurationMS = time.Since(start).Milliseconds() }()

	opts := OpenOptions{
		Mode:         mode,
		Timeout:      time.Duration(job.Timeout) * time.Second,
		UsesUsername: job.UsesUsername,
		Port:         job.Port,
		Enable:       job.Enable,
	}

	var (
		s   *session.Session
		err error
	)
	for attempt := 0; attempt <= retries; attempt++ {
		res.Attempts = attempt + 1
		if attempt > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
			if err = ctx.Err(); err != nil {
				break
			}
		}
		s, err = e.pool.Acquire(ctx, job.Device, opts)
		if err == nil || !retryable(err) {
			break
		}
		logger.ForDevice(job.Address, job.DeviceType).WithError(err).Warnf("attempt %d failed", attempt+1)
	}
	if err != nil {
		res.Error, res.ErrorKind = err.Error(), errorKind(err)
		return res
	}
	res.Hostname, res.Prompt = s.Hostname(), s.Prompt()

	healthy := true
	for _, cmd := range job.Commands {
		cr := CommandResult{Command: cmd}
		cmdStart := time.Now()
		out, cerr := s.SendCommand(ctx, cmd, session.CommandOptions{
			Structured: job.Structured,
			Template:   job.Template,
		})
		cr.DurationMS = time.Since(cmdStart).Milliseconds()
		if cerr != nil {
			cr.Error = cerr.Error()
			res.Commands = append(res.Commands, cr)
			res.Error, res.ErrorKind = cerr.Error(), errorKind(cerr)
			healthy = false
			break
		}
		cr.Output, cr.Records = out.Text, out.Records
		if archive && e.storage != nil {
			cr.ArchiveURI = e.archive(ctx, taskID, s, cmd, out.Text, start)
		}
		res.Commands = append(res.Commands, cr)
	}

	if healthy {
		e.pool.Release(s)
		res.Success = true
	} else {
		// 会话状态未知，不再复用
		e.pool.Discard(s)
	}
	return res
}

func (e *Executor) archive(ctx context.Context, taskID string, s *session.Session, cmd, output string, started time.Time) string {
	obj, err := e.storage.Write(ctx, StorageMeta{
		TaskID:   taskID,
		Hostname: s.Hostname(),
		Address:  s.Device().Address,
		Command:  cmd,
		Started:  started,
	}, output, "")
	if err != nil {
		logger.ForDevice(s.Device().Address, s.Device().DeviceType).WithError(err).Warn("archive output")
	}
	return obj.URI
}

func (e *Executor) saveTask(task *model.Task) {
	if e.history == nil || !e.cfg.Batch.PersistHistory {
		return
	}
	if err := e.history.SaveTask(task); err != nil {
		logger.WithField("task_id", task.ID).WithError(err).Error("Failed to save task")
	}
}

func (e *Executor) record(taskID string, results []DeviceResult) {
	if e.history == nil || !e.cfg.Batch.PersistHistory {
		return
	}
	var logs []model.CommandLog
	for _, r := range results {
		if len(r.Commands) == 0 {
			logs = append(logs, model.CommandLog{
				TaskID:     taskID,
				Address:    r.Address,
				DeviceType: r.DeviceType,
				Command:    "(connect)",
				Status:     model.CommandStatusFailed,
				ErrorKind:  r.ErrorKind,
				ErrorMsg:   r.Error,
				Duration:   r.DurationMS,
			})
			continue
		}
		for _, c := range r.Commands {
			entry := model.CommandLog{
				TaskID:     taskID,
				Address:    r.Address,
				DeviceType: r.DeviceType,
				Hostname:   r.Hostname,
				Command:    c.Command,
				Output:     c.Output,
				Status:     model.CommandStatusSuccess,
				ArchiveURI: c.ArchiveURI,
				Duration:   c.DurationMS,
			}
			if len(c.Records) > 0 {
				if b, err := json.Marshal(c.Records); err == nil {
					entry.Records = string(b)
				}
			}
			if c.Error != "" {
				entry.Status = model.CommandStatusFailed
				entry.ErrorKind = r.ErrorKind
				entry.ErrorMsg = c.Error
			}
			logs = append(logs, entry)
		}
	}
	if err := e.history.Record(logs); err != nil {
		logger.WithField("task_id", taskID).WithError(err).Error("Failed to save command logs")
	}
}

// retryable 认证失败与不支持的设备类型重试无意义
func retryable(err error) bool {
	var se *session.Error
	if errors.As(err, &se) {
		switch se.Kind {
		case session.KindAuthenticationFailure, session.KindUnsupportedDeviceType, session.KindConfigurationFault:
			return false
		}
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func errorKind(err error) string {
	var se *session.Error
	if errors.As(err, &se) {
		return se.Kind.String()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "error"
}

// String 便于日志输出
func (r DeviceResult) String() string {
	if r.Success {
		return fmt.Sprintf("%s (%s): %d commands", r.Address, r.Hostname, len(r.Commands))
	}
	return fmt.Sprintf("%s: %s", r.Address, r.Error)
}
