package service

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/kanchana_server/config"
	"github.com/qs3c/kanchana_server/internal/model"
	"github.com/qs3c/kanchana_server/internal/model/dto"
	"github.com/qs3c/kanchana_server/internal/repository"
)

type UserService struct {
	userRepo *repository.UserRepository
	modeRepo *repository.ModeUsageRepository
	cfg      *config.Config
	now      func() time.Time
}

func NewUserService(userRepo *repository.UserRepository, modeRepo *repository.ModeUsageRepository, cfg *config.Config) *UserService {
	return &UserService{
		userRepo: userRepo,
		modeRepo: modeRepo,
		cfg:      cfg,
		now:      time.Now,
	}
}

// GetProfile 获取用户详情及各模式计数
func (s *UserService) GetProfile(userID int64) (*dto.UserInfo, error) {
	user, err := s.getUser(userID)
	if err != nil {
		return nil, err
	}
	return s.buildUserInfo(user)
}

// UpdateProfile 更新偏好模式
func (s *UserService) UpdateProfile(userID int64, req *dto.UpdateProfileRequest) (*dto.UserInfo, error) {
	if _, err := s.getUser(userID); err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if req.PreferredMode != nil {
		mode := strings.TrimSpace(*req.PreferredMode)
		if mode != "" && !s.cfg.Chat.IsValidMode(mode) {
			return nil, ErrInvalidMode
		}
		updates["preferred_mode"] = mode
	}

	if len(updates) > 0 {
		if err := s.userRepo.UpdateFields(userID, updates); err != nil {
			return nil, err
		}
	}

	return s.GetProfile(userID)
}

func (s *UserService) getUser(userID int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *UserService) buildUserInfo(user *model.User) (*dto.UserInfo, error) {
	usages, err := s.modeRepo.ListByUser(user.ID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(usages))
	for _, u := range usages {
		counts[u.Mode] = u.MessageCount
	}

	info := &dto.UserInfo{
		ID:                user.ID,
		Username:          user.Username,
		AvatarURL:         user.AvatarURL,
		Tier:              user.Tier,
		Role:              user.Role,
		IsHost:            user.HasHostRole(),
		IsPremium:         user.IsPremium(),
		PreferredMode:     user.PreferredMode,
		MessageCount:      user.MessageCount,
		CreatedAt:         user.CreatedAt.Format(time.RFC3339),
		ModeMessageCounts: counts,
		VoiceSecondsToday: VoiceSecondsOnDate(user, DateKey(s.now())),
	}
	if user.Email != nil {
		info.Email = *user.Email
	}
	return info, nil
}
