// internal/api/error_codes.go
package api

// API错误代码常量。服务层错误的代码来自 internal/errors。
const (
	// 通用错误
	ErrorBadRequest       = "BAD_REQUEST"
	ErrorNotFound         = "NOT_FOUND"
	ErrorInternalError    = "INTERNAL_ERROR"
	ErrorRequestCancelled = "REQUEST_CANCELLED"
	ErrorRateLimited      = "RATE_LIMIT_EXCEEDED"
	ErrorPayloadTooLarge  = "PAYLOAD_TOO_LARGE"
)
