package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/sshcollectorpro/netsession/api/handler"
	"github.com/sshcollectorpro/netsession/internal/service"
	"github.com/sshcollectorpro/netsession/pkg/logger"
)

// Services 路由依赖的服务
type Services struct {
	Executor   *service.Executor
	Dispatcher *service.Dispatcher
	Pool       *service.Pool
	History    *service.History
	// DB 为 nil 时不注册设备清单接口
	DB *gorm.DB
	// ConsoleOrigins 控制台允许的跨域来源
	ConsoleOrigins []string
}

// SetupRouter 设置路由
func SetupRouter(svc Services) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())

	sessionHandler := handler.NewSessionHandler(svc.Executor, svc.Dispatcher, svc.Pool, svc.History)
	consoleHandler := handler.NewConsoleHandler(svc.Dispatcher, svc.ConsoleOrigins)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":    "NetSession",
			"version": "1.0.0",
			"status":  "running",
		})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", sessionHandler.Health)
		v1.GET("/platforms", sessionHandler.Platforms)
		v1.POST("/execute", sessionHandler.Execute)
		v1.GET("/history", sessionHandler.History)
		v1.GET("/tasks/:task_id", sessionHandler.Task)
		v1.GET("/console", consoleHandler.Console)

		if svc.DB != nil {
			deviceHandler := handler.NewDeviceHandler(svc.DB, svc.Dispatcher)
			devices := v1.Group("/devices")
			{
				devices.POST("", deviceHandler.CreateDevice)
				devices.GET("", deviceHandler.ListDevices)
				devices.GET("/:id", deviceHandler.GetDevice)
				devices.DELETE("/:id", deviceHandler.DeleteDevice)
				devices.POST("/:id/test", deviceHandler.TestConnection)
			}
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "接口不存在",
			"path":    c.Request.URL.Path,
		})
	})

	return r
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware 请求ID中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// LoggingMiddleware 日志中间件
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		statusCode := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     statusCode,
			"duration":   time.Since(start),
			"client_ip":  c.ClientIP(),
		})
		if statusCode >= http.StatusBadRequest {
			entry.Warn("HTTP Error")
			return
		}
		entry.Info("HTTP Request")
	}
}
