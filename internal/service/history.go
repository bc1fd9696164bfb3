package service

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sshcollectorpro/netsession/internal/database"
	"github.com/sshcollectorpro/netsession/internal/model"
)

// History 任务与命令执行记录
type History struct {
	db *gorm.DB
}

// HistoryQuery 查询条件
type HistoryQuery struct {
	TaskID  string `form:"task_id"`
	Address string `form:"address"`
	Command string `form:"command"`
	Status  string `form:"status"`
	Limit   int    `form:"limit"`
	Offset  int    `form:"offset"`
}

// NewHistory 创建记录器，db 为 nil 时使用全局数据库
func NewHistory(db *gorm.DB) *History {
	if db == nil {
		db = database.GetDB()
	}
	return &History{db: db}
}

// SaveTask 保存任务（主键存在时更新）
func (h *History) SaveTask(task *model.Task) error {
	return h.retry(func() error {
		return h.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(task).Error
	})
}

// Record 批量写入命令记录
func (h *History) Record(logs []model.CommandLog) error {
	if len(logs) == 0 {
		return nil
	}
	return h.retry(func() error {
		return h.db.CreateInBatches(logs, 100).Error
	})
}

// Task 按 ID 查询任务
func (h *History) Task(id string) (*model.Task, error) {
	var task model.Task
	if err := h.db.First(&task, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// List 按条件分页查询命令记录，按时间倒序
func (h *History) List(q HistoryQuery) ([]model.CommandLog, int64, error) {
	tx := h.db.Model(&model.CommandLog{})
	if q.TaskID != "" {
		tx = tx.Where("task_id = ?", q.TaskID)
	}
	if q.Address != "" {
		tx = tx.Where("address = ?", q.Address)
	}
	if q.Command != "" {
		tx = tx.Where("command LIKE ?", "%"+q.Command+"%")
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", q.Status)
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count command logs: %w", err)
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var logs []model.CommandLog
	if err := tx.Order("id DESC").Limit(limit).Offset(q.Offset).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("list command logs: %w", err)
	}
	return logs, total, nil
}

// retry SQLite 忙时短暂重试
func (h *History) retry(fn func() error) error {
	sleep := 50 * time.Millisecond
	var err error
	for i := 0; i < 5; i++ {
		if err = fn(); err == nil || !database.IsBusyError(err) {
			return err
		}
		time.Sleep(sleep)
		sleep *= 2
	}
	return err
}
