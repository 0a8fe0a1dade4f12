// internal/api/response_helpers.go
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Corphon/SceneForge/internal/errors"
	"github.com/Corphon/SceneForge/internal/utils"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Details    string   `json:"details,omitempty"`
	Field      string   `json:"field,omitempty"`
	Dimensions []string `json:"dimensions,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct {
	metrics *utils.APIMetrics
}

// NewResponseHelper 创建响应助手
func NewResponseHelper(metrics *utils.APIMetrics) *ResponseHelper {
	return &ResponseHelper{metrics: metrics}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(http.StatusOK, response)
}

// sanitizeErrorMessage 包含密钥类字样的消息整体替换
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "apikey", "secret", "token", "authorization"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}
	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}
	rh.writeError(c, statusCode, apiError)
}

func (rh *ResponseHelper) writeError(c *gin.Context, statusCode int, apiError *APIError) {
	c.AbortWithStatusJSON(statusCode, &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	})
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusNotFound, ErrorNotFound, message, details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// StatusFor 错误类型对应的HTTP状态码
func StatusFor(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeLockConflict, apperrors.ErrorTypeStale, apperrors.ErrorTypeVersionConflict:
		return http.StatusConflict
	case apperrors.ErrorTypeGenerationFailure:
		return http.StatusBadGateway
	case apperrors.ErrorTypePersistence:
		return http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HandleError 把服务层错误转换为标准错误响应
func (rh *ResponseHelper) HandleError(c *gin.Context, err error) {
	status := StatusFor(err)
	code, message, field, dimensions := apperrors.Describe(err)
	apiError := &APIError{
		Code:       code,
		Message:    sanitizeErrorMessage(message),
		Field:      field,
		Dimensions: dimensions,
	}

	switch {
	case apperrors.TypeOf(err) == "" && status == http.StatusServiceUnavailable:
		apiError.Code = ErrorRequestCancelled
		apiError.Message = "request was cancelled before it completed"
	case apperrors.TypeOf(err) == "":
		apiError.Code = ErrorInternalError
		apiError.Message = "An internal error occurred"
	}

	// 底层原因只在服务端日志中出现
	if status >= http.StatusInternalServerError {
		utils.GetLogger().Error("request failed", map[string]interface{}{
			"path":       c.FullPath(),
			"status":     status,
			"error":      err.Error(),
			"request_id": rh.getRequestID(c),
		})
	}
	if rh.metrics != nil {
		errType := string(apperrors.TypeOf(err))
		if errType == "" {
			errType = "internal"
		}
		rh.metrics.RecordError(errType, "api")
	}
	rh.writeError(c, status, apiError)
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
