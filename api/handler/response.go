package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/netsession/internal/session"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SuccessResponse 成功响应
type SuccessResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// abortSessionError 按会话错误类别返回对应状态码
func abortSessionError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "EXECUTION_FAILED"
	var se *session.Error
	if errors.As(err, &se) {
		switch se.Kind {
		case session.KindUnsupportedDeviceType:
			status, code = http.StatusBadRequest, "UNSUPPORTED_DEVICE_TYPE"
		case session.KindAuthenticationFailure:
			status, code = http.StatusUnauthorized, "AUTHENTICATION_FAILURE"
		case session.KindConnectionFailure, session.KindTransportUnavailable:
			status, code = http.StatusBadGateway, "CONNECTION_FAILURE"
		case session.KindIdleTimeout:
			status, code = http.StatusGatewayTimeout, "IDLE_TIMEOUT"
		case session.KindConfigurationFault:
			status, code = http.StatusInternalServerError, "CONFIGURATION_FAULT"
		}
	}
	c.JSON(status, ErrorResponse{Code: code, Message: err.Error()})
}
