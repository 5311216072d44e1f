package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码定义
const (
	CodeSuccess          = 0
	CodeParamError       = 1000
	CodeAuthFailed       = 1001
	CodePermissionDenied = 1002
	CodeResourceNotFound = 1003
	CodeQuotaExceeded    = 1004
	CodeRateLimited      = 1006
	CodeServerError      = 5000
	CodeUnavailable      = 5003
)

// 错误码对应的默认消息
var codeMessages = map[int]string{
	CodeSuccess:          "success",
	CodeParamError:       "Invalid request",
	CodeAuthFailed:       "Authentication required",
	CodePermissionDenied: "Permission denied",
	CodeResourceNotFound: "Resource not found",
	CodeQuotaExceeded:    "Usage limit reached",
	CodeRateLimited:      "Too many requests. Please retry later.",
	CodeServerError:      "Internal server error",
	CodeUnavailable:      "Service temporarily unavailable",
}

// Response 统一响应结构
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	ErrorCode string      `json:"error_code,omitempty"`
	Data      interface{} `json:"data"`
	Details   interface{} `json:"details,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// CodedError 带 HTTP 状态码和机器可读错误码的错误响应
func CodedError(c *gin.Context, httpStatus, code int, errorCode, message string, details interface{}) {
	if message == "" {
		message = codeMessages[code]
	}
	c.JSON(httpStatus, Response{
		Code:      code,
		Message:   message,
		ErrorCode: errorCode,
		Data:      nil,
		Details:   details,
	})
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

// AuthError 认证失败
func AuthError(c *gin.Context, message string) {
	if message == "" {
		message = codeMessages[CodeAuthFailed]
	}
	CodedError(c, http.StatusUnauthorized, CodeAuthFailed, "", message, nil)
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) {
	Error(c, CodeResourceNotFound, message)
}

// RateLimitError 请求过于频繁
func RateLimitError(c *gin.Context, errorCode, message string, retryAfterMs int64) {
	CodedError(c, http.StatusTooManyRequests, CodeRateLimited, errorCode, message, gin.H{"retryAfterMs": retryAfterMs})
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	if message == "" {
		message = codeMessages[CodeServerError]
	}
	CodedError(c, http.StatusInternalServerError, CodeServerError, "", message, nil)
}
