package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/kanchana_server/internal/model"
)

var ErrGuestUsageConflict = errors.New("guest usage upsert kept conflicting")

// GuestMetadata 访客请求元数据的哈希
type GuestMetadata struct {
	IPHash        string
	UserAgentHash string
	DeviceHash    string
	SessionHash   string
}

type GuestUsageRepository struct {
	db *gorm.DB
}

func NewGuestUsageRepository(db *gorm.DB) *GuestUsageRepository {
	return &GuestUsageRepository{db: db}
}

func (r *GuestUsageRepository) Get(fingerprintHash, mode string) (*model.GuestUsage, error) {
	var usage model.GuestUsage
	err := r.db.Where("fingerprint_hash = ? AND mode = ?", fingerprintHash, mode).First(&usage).Error
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// Touch 获取或创建访客记录并刷新元数据；并发创建冲突时重新读取
func (r *GuestUsageRepository) Touch(fingerprintHash, mode string, meta GuestMetadata) (*model.GuestUsage, error) {
	now := time.Now().UTC()

	for attempt := 0; attempt < 3; attempt++ {
		usage, err := r.Get(fingerprintHash, mode)
		if err == nil {
			err = r.db.Model(&model.GuestUsage{}).Where("id = ?", usage.ID).Updates(map[string]interface{}{
				"ip_hash":         meta.IPHash,
				"user_agent_hash": meta.UserAgentHash,
				"device_hash":     meta.DeviceHash,
				"session_hash":    meta.SessionHash,
				"last_seen_at":    now,
			}).Error
			if err != nil {
				return nil, err
			}
			return usage, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		usage = &model.GuestUsage{
			FingerprintHash: fingerprintHash,
			Mode:            mode,
			IPHash:          meta.IPHash,
			UserAgentHash:   meta.UserAgentHash,
			DeviceHash:      meta.DeviceHash,
			SessionHash:     meta.SessionHash,
			LastSeenAt:      now,
		}
		err = r.db.Create(usage).Error
		if err == nil {
			return usage, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		// 另一个请求先创建了记录，重新读取
	}

	return nil, ErrGuestUsageConflict
}

// IncrementMessageCount 原子地 +1（不存在则创建），返回最新计数
func (r *GuestUsageRepository) IncrementMessageCount(fingerprintHash, mode string) (int, error) {
	now := time.Now().UTC()
	usage := &model.GuestUsage{
		FingerprintHash: fingerprintHash,
		Mode:            mode,
		MessageCount:    1,
		LastSeenAt:      now,
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "fingerprint_hash"}, {Name: "mode"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"message_count": gorm.Expr("message_count + 1"),
			"last_seen_at":  now,
			"updated_at":    now,
		}),
	}).Create(usage).Error
	if err != nil {
		return 0, err
	}

	current, err := r.Get(fingerprintHash, mode)
	if err != nil {
		return 0, err
	}
	return current.MessageCount, nil
}

// CountIdleBefore 统计在 cutoff 之前最后活跃的访客记录数
func (r *GuestUsageRepository) CountIdleBefore(cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&model.GuestUsage{}).Where("last_seen_at < ?", cutoff).Count(&count).Error
	return count, err
}

// DeleteIdleBefore 删除在 cutoff 之前最后活跃的访客记录
func (r *GuestUsageRepository) DeleteIdleBefore(cutoff time.Time) (int64, error) {
	result := r.db.Where("last_seen_at < ?", cutoff).Delete(&model.GuestUsage{})
	return result.RowsAffected, result.Error
}
