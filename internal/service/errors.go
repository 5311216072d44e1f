package service

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidMode  = errors.New("invalid mode")
)

// ErrorKind 聊天错误分类
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindQuota       ErrorKind = "quota"
	KindAuth        ErrorKind = "auth"
	KindUnavailable ErrorKind = "unavailable"
	KindIntegrity   ErrorKind = "integrity"
	KindInternal    ErrorKind = "internal"
)

// 机器可读错误码
const (
	CodeMessageRequired        = "MESSAGE_REQUIRED"
	CodeMessageTooLong         = "MESSAGE_TOO_LONG"
	CodeInvalidMode            = "INVALID_MODE"
	CodeInvalidVoiceMode       = "INVALID_VOICE_MODE"
	CodeInvalidVoiceDuration   = "INVALID_VOICE_DURATION"
	CodeVoiceLoginRequired     = "VOICE_LOGIN_REQUIRED"
	CodeModeLimitReached       = "MODE_LIMIT_REACHED"
	CodeDailyVoiceLimitReached = "DAILY_VOICE_LIMIT_REACHED"
	CodeAIResponseUnavailable  = "AI_RESPONSE_UNAVAILABLE"
	CodeAIRequestRejected      = "AI_REQUEST_REJECTED"
	CodeMessageIntegrityFailed = "MESSAGE_INTEGRITY_FAILED"
	CodeGuestIdentityMissing   = "GUEST_IDENTITY_UNRESOLVED"
)

// ChatError 带 HTTP 状态码和错误码的业务错误
type ChatError struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *ChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ChatError) Unwrap() error {
	return e.Err
}

// AsChatError 提取 ChatError
func AsChatError(err error) (*ChatError, bool) {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func validationError(code, message string, details map[string]interface{}) *ChatError {
	return &ChatError{Kind: KindValidation, Status: http.StatusBadRequest, Code: code, Message: message, Details: details}
}

func quotaError(code, message string, details map[string]interface{}) *ChatError {
	return &ChatError{Kind: KindQuota, Status: http.StatusForbidden, Code: code, Message: message, Details: details}
}

func authError(code, message string) *ChatError {
	return &ChatError{Kind: KindAuth, Status: http.StatusUnauthorized, Code: code, Message: message}
}

func integrityError(err error) *ChatError {
	return &ChatError{
		Kind:    KindIntegrity,
		Status:  http.StatusInternalServerError,
		Code:    CodeMessageIntegrityFailed,
		Message: "Stored message could not be verified.",
		Err:     err,
	}
}
