package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/kanchana_server/internal/pkg/response"
	"github.com/qs3c/kanchana_server/internal/service"
)

type QuotaHandler struct {
	chatService *service.ChatService
}

func NewQuotaHandler(chatService *service.ChatService) *QuotaHandler {
	return &QuotaHandler{
		chatService: chatService,
	}
}

// GetUsage 获取当前调用方在某模式下的用量
// GET /api/v1/chat/usage?mode=
func (h *QuotaHandler) GetUsage(c *gin.Context) {
	usage, err := h.chatService.Usage(callerFrom(c), c.Query("mode"))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, usage)
}
