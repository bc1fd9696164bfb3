package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/netsession/internal/model"
	"github.com/sshcollectorpro/netsession/internal/service"
	"github.com/sshcollectorpro/netsession/internal/session"
)

// DeviceHandler 设备清单处理器
type DeviceHandler struct {
	db         *gorm.DB
	dispatcher *service.Dispatcher
}

// NewDeviceHandler 创建设备处理器
func NewDeviceHandler(db *gorm.DB, dispatcher *service.Dispatcher) *DeviceHandler {
	return &DeviceHandler{db: db, dispatcher: dispatcher}
}

type deviceRequest struct {
	model.Device
	Password string `json:"password"`
	Secret   string `json:"secret"`
}

// CreateDevice 创建设备
// @Router /api/v1/devices [post]
func (h *DeviceHandler) CreateDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMS", Message: "设备参数无效: " + err.Error()})
		return
	}
	device := req.Device
	device.Password, device.Secret = req.Password, req.Secret
	device.Name = strings.TrimSpace(device.Name)
	if device.Name == "" || strings.TrimSpace(device.Address) == "" || device.DeviceType == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_FAILED", Message: "name、address、device_type 不能为空"})
		return
	}
	if _, err := h.dispatcher.NewSession(toSessionDevice(device), service.OpenOptions{}); err != nil {
		abortSessionError(c, err)
		return
	}

	var existing model.Device
	if err := h.db.Where("name = ?", device.Name).First(&existing).Error; err == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "DEVICE_EXISTS", Message: "设备已存在: " + device.Name})
		return
	}
	device.ID = 0
	device.Enabled = true
	if err := h.db.Create(&device).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "CREATE_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Code: "SUCCESS", Message: "设备创建成功", Data: device})
}

// ListDevices 获取设备列表
// @Router /api/v1/devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	tx := h.db.Model(&model.Device{})
	if dt := c.Query("device_type"); dt != "" {
		tx = tx.Where("device_type = ?", dt)
	}
	var devices []model.Device
	if err := tx.Order("name").Find(&devices).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "QUERY_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: devices})
}

// GetDevice 获取设备详情
// @Router /api/v1/devices/{id} [get]
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	device, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "ok", Data: device})
}

// DeleteDevice 删除设备
// @Router /api/v1/devices/{id} [delete]
func (h *DeviceHandler) DeleteDevice(c *gin.Context) {
	device, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.db.Delete(&model.Device{}, device.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "DELETE_FAILED", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "设备已删除"})
}

// TestConnection 登录设备并返回识别到的提示符
// @Router /api/v1/devices/{id}/test [post]
func (h *DeviceHandler) TestConnection(c *gin.Context) {
	device, ok := h.load(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()
	start := time.Now()
	s, err := h.dispatcher.Open(ctx, toSessionDevice(*device), service.OpenOptions{})
	if err != nil {
		abortSessionError(c, err)
		return
	}
	defer s.Disconnect()
	c.JSON(http.StatusOK, SuccessResponse{Code: "SUCCESS", Message: "连接成功", Data: gin.H{
		"hostname":    s.Hostname(),
		"prompt":      s.Prompt(),
		"duration_ms": time.Since(start).Milliseconds(),
	}})
}

func (h *DeviceHandler) load(c *gin.Context) (*model.Device, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_ID", Message: "设备ID无效"})
		return nil, false
	}
	var device model.Device
	if err := h.db.First(&device, id).Error; err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "DEVICE_NOT_FOUND", Message: "设备不存在"})
		return nil, false
	}
	return &device, true
}

func toSessionDevice(d model.Device) session.Device {
	return session.Device{
		Address:    d.Address,
		Username:   d.Username,
		Password:   d.Password,
		Secret:     d.Secret,
		DeviceType: d.DeviceType,
	}
}

func itoa(i int) string { return strconv.Itoa(i) }
