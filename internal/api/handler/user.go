package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/kanchana_server/internal/api/middleware"
	"github.com/qs3c/kanchana_server/internal/model/dto"
	"github.com/qs3c/kanchana_server/internal/pkg/response"
	"github.com/qs3c/kanchana_server/internal/service"
)

type UserHandler struct {
	userService *service.UserService
}

func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// GetProfile 获取当前用户信息
// GET /api/v1/user/profile
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	profile, err := h.userService.GetProfile(userID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, profile)
}

// UpdateProfile 更新偏好模式
// PUT /api/v1/user/profile
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	profile, err := h.userService.UpdateProfile(userID, &req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMode) {
			response.ParamError(c, "Invalid preferred mode.")
			return
		}
		respondError(c, err)
		return
	}

	response.SuccessWithMessage(c, "Profile updated", profile)
}
