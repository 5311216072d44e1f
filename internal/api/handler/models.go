package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/kanchana_server/internal/pkg/response"
	"github.com/qs3c/kanchana_server/internal/service"
)

type ModesHandler struct {
	chatService *service.ChatService
	defaultMode string
}

func NewModesHandler(chatService *service.ChatService, defaultMode string) *ModesHandler {
	return &ModesHandler{chatService: chatService, defaultMode: defaultMode}
}

// List 获取可用聊天模式
// GET /api/v1/chat/modes
func (h *ModesHandler) List(c *gin.Context) {
	response.Success(c, gin.H{
		"modes":       h.chatService.Modes(),
		"defaultMode": h.defaultMode,
	})
}
