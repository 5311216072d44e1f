package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/kanchana_server/config"
	"github.com/qs3c/kanchana_server/internal/api/middleware"
	"github.com/qs3c/kanchana_server/internal/model/dto"
	"github.com/qs3c/kanchana_server/internal/pkg/response"
	"github.com/qs3c/kanchana_server/internal/service"
)

const maxHistoryLimit = 200

type ChatHandler struct {
	chatService *service.ChatService
	cfg         config.ChatConfig
}

func NewChatHandler(chatService *service.ChatService, cfg config.ChatConfig) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		cfg:         cfg,
	}
}

// SendMessage 发送消息并返回回复
// POST /api/v1/chat/message
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "Request body must be valid JSON.")
		return
	}

	voiceMode, err := service.ParseVoiceMode(req.VoiceMode)
	if err != nil {
		respondError(c, err)
		return
	}
	voiceSeconds, err := service.ParseVoiceDuration(req.VoiceDurationSeconds, h.cfg.DefaultVoiceSecond, h.cfg.MaxVoiceSeconds)
	if err != nil {
		respondError(c, err)
		return
	}

	resp, err := h.chatService.SendMessage(c.Request.Context(), callerFrom(c), service.SendInput{
		Mode:                 req.Mode,
		Text:                 req.Text,
		VoiceMode:            voiceMode,
		VoiceDurationSeconds: voiceSeconds,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, resp)
}

// GetHistory 获取某模式的历史消息
// GET /api/v1/chat/history?mode=&limit=
func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	// 非数字使用默认条数，数字收敛到 [1,200]
	limit := 0
	if parsed, err := strconv.Atoi(strings.TrimSpace(c.Query("limit"))); err == nil {
		limit = clampHistoryLimit(parsed)
	}

	history, err := h.chatService.GetHistory(userID, c.Query("mode"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, history)
}

// ClearHistory 清空某模式的历史消息
// DELETE /api/v1/chat/history?mode=
func (h *ChatHandler) ClearHistory(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	result, err := h.chatService.ClearHistory(userID, c.Query("mode"))
	if err != nil {
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "History cleared", result)
}

// callerFrom 组装请求方身份
func callerFrom(c *gin.Context) service.Caller {
	caller := service.Caller{RequestID: middleware.GetRequestID(c)}
	if userID, ok := middleware.GetUserID(c); ok {
		caller.UserID = userID
		return caller
	}
	caller.Guest = middleware.GetGuest(c)
	return caller
}

func clampHistoryLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
