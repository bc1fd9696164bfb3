package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netsession/internal/database"
	"github.com/sshcollectorpro/netsession/internal/service"
	"github.com/sshcollectorpro/netsession/pkg/logger"
	"github.com/sshcollectorpro/netsession/pkg/transport"
)

// SessionHandler 会话执行处理器
type SessionHandler struct {
	executor   *service.Executor
	dispatcher *service.Dispatcher
	pool       *service.Pool
	history    *service.History
}

// NewSessionHandler 创建会话执行处理器；history 为 nil 时历史查询返回 503
func NewSessionHandler(executor *service.Executor, dispatcher *service.Dispatcher, pool *service.Pool, history *service.History) *SessionHandler {
	return &SessionHandler{executor: executor, dispatcher: dispatcher, pool: pool, history: history}
}

// Health 健康检查
// @Router /api/v1/health [get]
func (h *SessionHandler) Health(c *gin.Context) {
	data := gin.H{"pool": h.pool.GetStats()}
	if err := database.Health(); err != nil {
		data["database"] = err.Error()
	} else {
		data["database"] = database.GetStats()
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "服务正常", Data: data})
}

// Platforms 支持的设备类型
// @Param mode query string false "blocking | suspend"
// @Router /api/v1/platforms [get]
func (h *SessionHandler) Platforms(c *gin.Context) {
	var mode transport.Mode
	if q := strings.TrimSpace(c.Query("mode")); q != "" {
		m, err := transport.ParseMode(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: err.Error()})
			return
		}
		mode = m
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: h.dispatcher.Platforms(mode)})
}

// Execute 批量执行命令
// @Accept json
// @Param request body service.BatchRequest true "执行请求"
// @Success 200 {object} service.BatchResult
// @Router /api/v1/execute [post]
func (h *SessionHandler) Execute(c *gin.Context) {
	var request service.BatchRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		logger.WithField("error", err).Warn("Invalid request parameters")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_PARAMS",
			Message: "请求参数无效: " + err.Error(),
		})
		return
	}
	for i, d := range request.Devices {
		if strings.TrimSpace(d.Address) == "" || strings.TrimSpace(d.DeviceType) == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Code:    "VALIDATION_FAILED",
				Message: "devices[" + itoa(i) + "]: address 与 device_type 不能为空",
			})
			return
		}
	}
	if request.Source == "" {
		request.Source = "api"
	}

	result, err := h.executor.Execute(c.Request.Context(), &request)
	if err != nil && result == nil {
		logger.WithFields(logrus.Fields{"task_id": request.TaskID, "error": err}).Error("Failed to execute batch")
		abortSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// History 查询命令执行记录
// @Router /api/v1/history [get]
func (h *SessionHandler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "HISTORY_DISABLED", Message: "执行记录未启用"})
		return
	}
	var q service.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: err.Error()})
		return
	}
	logs, total, err := h.history.List(q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: gin.H{"total": total, "items": logs}})
}

// Task 查询任务
// @Router /api/v1/tasks/{task_id} [get]
func (h *SessionHandler) Task(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "HISTORY_DISABLED", Message: "执行记录未启用"})
		return
	}
	task, err := h.history.Task(c.Param("task_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "TASK_NOT_FOUND", Message: "任务不存在: " + c.Param("task_id")})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: task})
}
