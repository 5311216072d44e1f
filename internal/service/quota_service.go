package service

import (
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/kanchana_server/config"
	"github.com/qs3c/kanchana_server/internal/model"
	"github.com/qs3c/kanchana_server/internal/model/dto"
	"github.com/qs3c/kanchana_server/internal/pkg/fingerprint"
	"github.com/qs3c/kanchana_server/internal/repository"
)

// 用量类别
const (
	CategoryGuest   = "guest"
	CategoryFree    = "free"
	CategoryPremium = "premium"
	CategoryHost    = "host"
)

// QuotaProfile 调用方适用的额度
type QuotaProfile struct {
	Category  string
	Ceiling   int // IsLimited=false 时无意义
	IsLimited bool
	IsPremium bool
	IsHost    bool
}

// Unlimited premium 或 host
func (p QuotaProfile) Unlimited() bool {
	return !p.IsLimited
}

// ResolveQuotaProfile user 为 nil 表示访客；host 优先于订阅
func ResolveQuotaProfile(user *model.User, cfg *config.QuotaConfig) QuotaProfile {
	if user == nil {
		return QuotaProfile{Category: CategoryGuest, Ceiling: cfg.GuestModeLimit, IsLimited: true}
	}

	isPremium := user.IsPremium()
	if user.HasHostRole() {
		return QuotaProfile{Category: CategoryHost, IsPremium: isPremium, IsHost: true}
	}
	if isPremium {
		return QuotaProfile{Category: CategoryPremium, IsPremium: true}
	}
	return QuotaProfile{Category: CategoryFree, Ceiling: cfg.FreeModeLimit, IsLimited: true}
}

// Summary 生成用量摘要
func (p QuotaProfile) Summary(messageCount int) dto.UsageSummary {
	summary := dto.UsageSummary{
		MessageCount: messageCount,
		LimitType:    p.Category,
		IsPremium:    p.IsPremium,
		IsHost:       p.IsHost,
	}
	if p.IsLimited {
		ceiling := p.Ceiling
		remaining := ceiling - messageCount
		if remaining < 0 {
			remaining = 0
		}
		summary.ModeLimit = &ceiling
		summary.RemainingMessages = &remaining
	}
	return summary
}

// DateKey UTC 日期 YYYY-MM-DD
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// UsageLedger 按 (身份, 模式) 记录消息数，按日记录语音秒数
type UsageLedger struct {
	userRepo  *repository.UserRepository
	modeRepo  *repository.ModeUsageRepository
	guestRepo *repository.GuestUsageRepository
}

func NewUsageLedger(userRepo *repository.UserRepository, modeRepo *repository.ModeUsageRepository, guestRepo *repository.GuestUsageRepository) *UsageLedger {
	return &UsageLedger{
		userRepo:  userRepo,
		modeRepo:  modeRepo,
		guestRepo: guestRepo,
	}
}

// UserModeCount 读取失败按 0 处理
func (l *UsageLedger) UserModeCount(userID int64, mode string) int {
	count, err := l.modeRepo.GetCount(userID, mode)
	if err != nil {
		log.Printf("Failed to read mode count for user %d mode %s: %v", userID, mode, err)
		return 0
	}
	return count
}

// TouchGuest 获取或创建访客记录并刷新哈希元数据，返回当前计数
func (l *UsageLedger) TouchGuest(guest *fingerprint.Guest, mode string) (int, error) {
	usage, err := l.guestRepo.Touch(guest.FingerprintHash, mode, repository.GuestMetadata{
		IPHash:        guest.IPHash,
		UserAgentHash: guest.UserAgentHash,
		DeviceHash:    guest.DeviceHash,
		SessionHash:   guest.SessionHash,
	})
	if err != nil {
		return 0, err
	}
	return usage.MessageCount, nil
}

// GuestModeCount 只读，不创建记录
func (l *UsageLedger) GuestModeCount(fingerprintHash, mode string) int {
	usage, err := l.guestRepo.Get(fingerprintHash, mode)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("Failed to read guest usage for mode %s: %v", mode, err)
		}
		return 0
	}
	return usage.MessageCount
}

// IncrementUser 模式计数和总消息数各自原子 +1，返回模式计数
func (l *UsageLedger) IncrementUser(userID int64, mode string) (int, error) {
	if err := l.userRepo.IncrementMessageCount(userID); err != nil {
		return 0, err
	}
	return l.modeRepo.Increment(userID, mode)
}

// IncrementGuest 访客模式计数原子 +1
func (l *UsageLedger) IncrementGuest(fingerprintHash, mode string) (int, error) {
	return l.guestRepo.IncrementMessageCount(fingerprintHash, mode)
}

// VoiceSecondsOnDate 记录日期不同视为当日未使用
func VoiceSecondsOnDate(user *model.User, dateKey string) int {
	if user == nil || user.VoiceDateKey != dateKey {
		return 0
	}
	return user.VoiceSecondsUsed
}

// AddUserVoiceSeconds 跨日时先归零再累加
func (l *UsageLedger) AddUserVoiceSeconds(userID int64, dateKey string, seconds int) (int, error) {
	return l.userRepo.AddVoiceSeconds(userID, dateKey, seconds)
}
