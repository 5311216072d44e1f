package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/kanchana_server/internal/pkg/response"
	"github.com/qs3c/kanchana_server/internal/service"
)

var kindCodes = map[service.ErrorKind]int{
	service.KindValidation:  response.CodeParamError,
	service.KindQuota:       response.CodeQuotaExceeded,
	service.KindAuth:        response.CodeAuthFailed,
	service.KindUnavailable: response.CodeUnavailable,
	service.KindIntegrity:   response.CodeServerError,
	service.KindInternal:    response.CodeServerError,
}

// respondError 业务错误转为统一响应
func respondError(c *gin.Context, err error) {
	if ce, ok := service.AsChatError(err); ok {
		code, known := kindCodes[ce.Kind]
		if !known {
			code = response.CodeServerError
		}
		var details interface{}
		if len(ce.Details) > 0 {
			details = ce.Details
		}
		if ce.Status >= http.StatusInternalServerError && ce.Err != nil {
			log.Printf("Chat request failed: %v", ce)
		}
		response.CodedError(c, ce.Status, code, ce.Code, ce.Message, details)
		return
	}

	switch {
	case errors.Is(err, service.ErrUserNotFound):
		response.CodedError(c, http.StatusNotFound, response.CodeResourceNotFound, "", "User not found.", nil)
	case errors.Is(err, service.ErrInvalidMode):
		response.ParamError(c, "Invalid mode.")
	default:
		log.Printf("Unhandled request error: %v", err)
		response.ServerError(c, "")
	}
}
