package model

import (
	"time"
)

// Task 批量执行任务
type Task struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Source      string    `json:"source" gorm:"type:varchar(16);not null;default:'api'"`
	Mode        string    `json:"mode" gorm:"type:varchar(16);not null"`
	DeviceCount int       `json:"device_count"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Status      string    `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Duration    int64     `json:"duration"` // 执行时长，毫秒
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 表名
func (Task) TableName() string {
	return "tasks"
}

// TaskStatus 任务状态枚举
const (
	TaskStatusPending = "pending"
	TaskStatusRunning = "running"
	TaskStatusSuccess = "success"
	TaskStatusPartial = "partial"
	TaskStatusFailed  = "failed"
)

// CommandLog 单条命令的执行记录
type CommandLog struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	TaskID     string    `json:"task_id" gorm:"type:varchar(64);not null;index"`
	Address    string    `json:"address" gorm:"type:varchar(128);not null;index"`
	DeviceType string    `json:"device_type" gorm:"type:varchar(64);not null"`
	Hostname   string    `json:"hostname" gorm:"type:varchar(128)"`
	Command    string    `json:"command" gorm:"type:text;not null"`
	Output     string    `json:"output" gorm:"type:text"`
	Records    string    `json:"records" gorm:"type:text"` // 结构化结果 JSON
	Status     string    `json:"status" gorm:"type:varchar(16);not null"`
	ErrorKind  string    `json:"error_kind" gorm:"type:varchar(32)"`
	ErrorMsg   string    `json:"error_msg" gorm:"type:text"`
	ArchiveURI string    `json:"archive_uri" gorm:"type:varchar(512)"`
	Duration   int64     `json:"duration"` // 毫秒
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName 表名
func (CommandLog) TableName() string {
	return "command_logs"
}

// CommandLog 状态
const (
	CommandStatusSuccess = "success"
	CommandStatusFailed  = "failed"
)
