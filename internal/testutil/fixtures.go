package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/kanchana_server/internal/model"
)

var userSeq int64

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	seq := atomic.AddInt64(&userSeq, 1)
	email := fmt.Sprintf("test_%d_%d@example.com", time.Now().UnixNano(), seq)
	user := &model.User{
		Username: fmt.Sprintf("testuser_%d", seq),
		Email:    &email,
		Tier:     model.TierFree,
		Role:     model.RoleUser,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithUsername 设置用户名
func WithUsername(username string) func(*model.User) {
	return func(u *model.User) {
		u.Username = username
	}
}

// WithTier 设置订阅等级
func WithTier(tier string) func(*model.User) {
	return func(u *model.User) {
		u.Tier = tier
	}
}

// WithHost 设置为 host
func WithHost() func(*model.User) {
	return func(u *model.User) {
		u.IsHost = true
		u.Role = model.RoleHost
	}
}

// WithPreferredMode 设置偏好模式
func WithPreferredMode(mode string) func(*model.User) {
	return func(u *model.User) {
		u.PreferredMode = mode
	}
}

// WithVoiceUsage 设置当日语音用量
func WithVoiceUsage(dateKey string, seconds int) func(*model.User) {
	return func(u *model.User) {
		u.VoiceDateKey = dateKey
		u.VoiceSecondsUsed = seconds
	}
}

// TestModeUsage 创建注册用户的模式计数
func TestModeUsage(t *testing.T, db *gorm.DB, userID int64, mode string, count int) *model.UserModeUsage {
	t.Helper()

	usage := &model.UserModeUsage{
		UserID:       userID,
		Mode:         mode,
		MessageCount: count,
	}

	if err := db.Create(usage).Error; err != nil {
		t.Fatalf("Failed to create test mode usage: %v", err)
	}

	return usage
}

// TestGuestUsage 创建访客用量记录
func TestGuestUsage(t *testing.T, db *gorm.DB, fingerprintHash, mode string, count int) *model.GuestUsage {
	t.Helper()

	usage := &model.GuestUsage{
		FingerprintHash: fingerprintHash,
		Mode:            mode,
		MessageCount:    count,
		LastSeenAt:      time.Now().UTC(),
	}

	if err := db.Create(usage).Error; err != nil {
		t.Fatalf("Failed to create test guest usage: %v", err)
	}

	return usage
}
