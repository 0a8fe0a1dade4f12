// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "validation_error"
	ErrorTypeLockConflict      ErrorType = "lock_conflict"
	ErrorTypeStale             ErrorType = "stale"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeGenerationFailure ErrorType = "generation_failure"
	ErrorTypePersistence       ErrorType = "persistence_error"
	ErrorTypeVersionConflict   ErrorType = "version_conflict"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码

	// Field 指出出错的请求字段或资源（例如 "blockType"、"scene-2"）
	Field string
	// Dimensions 列出过期的版本维度（background / characters / macroSnapshot）
	Dimensions []string
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// WithField 记录出错的字段
func (e *AppError) WithField(field string) *AppError {
	e.Field = field
	return e
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewLockConflictError 缺少前置锁时返回
func NewLockConflictError(reason string) *AppError {
	return NewAppError(ErrorTypeLockConflict, reason, nil)
}

// NewStalenessError 版本快照已过期
func NewStalenessError(message string, dimensions []string) *AppError {
	e := NewAppError(ErrorTypeStale, message, nil)
	e.Dimensions = append([]string(nil), dimensions...)
	return e
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewGenerationFailure 生成服务没有返回可用结果
func NewGenerationFailure(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeGenerationFailure, message, originalError)
}

// NewPersistenceError 存储读写失败
func NewPersistenceError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypePersistence, message, originalError)
}

// NewVersionConflictError 写入时基础版本已过期
func NewVersionConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeVersionConflict, message, originalError)
}

// TypeOf 返回错误类型，非 AppError 返回空字符串
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

// IsLockConflictError 检查是否为锁冲突
func IsLockConflictError(err error) bool {
	return TypeOf(err) == ErrorTypeLockConflict
}

// IsStalenessError 检查是否为过期错误
func IsStalenessError(err error) bool {
	return TypeOf(err) == ErrorTypeStale
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// IsGenerationFailure 检查是否为生成失败
func IsGenerationFailure(err error) bool {
	return TypeOf(err) == ErrorTypeGenerationFailure
}

// IsPersistenceError 检查是否为存储错误
func IsPersistenceError(err error) bool {
	return TypeOf(err) == ErrorTypePersistence
}

// IsVersionConflictError 检查是否为版本冲突
func IsVersionConflictError(err error) bool {
	return TypeOf(err) == ErrorTypeVersionConflict
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeLockConflict:
		return "LOCK_CONFLICT"
	case ErrorTypeStale:
		return "STALE_CONTEXT"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeGenerationFailure:
		return "GENERATION_FAILED"
	case ErrorTypePersistence:
		return "PERSISTENCE_ERROR"
	case ErrorTypeVersionConflict:
		return "VERSION_CONFLICT"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:       appError.Type,
			Message:    fmt.Sprintf("%s: %s", message, appError.Message),
			Err:        appError,
			Code:       appError.Code,
			Field:      appError.Field,
			Dimensions: appError.Dimensions,
		}
	}

	return NewAppError(errType, message, err)
}

// Describe 把错误整理为客户端可读的字段
func Describe(err error) (code, message, field string, dimensions []string) {
	var appError *AppError
	if !errors.As(err, &appError) {
		return "UNKNOWN_ERROR", err.Error(), "", nil
	}
	return appError.Code, strings.TrimSpace(appError.Message), appError.Field, appError.Dimensions
}
