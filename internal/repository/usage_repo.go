package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/kanchana_server/internal/model"
)

type ModeUsageRepository struct {
	db *gorm.DB
}

func NewModeUsageRepository(db *gorm.DB) *ModeUsageRepository {
	return &ModeUsageRepository{db: db}
}

// GetCount 查询模式计数，记录不存在时返回 0
func (r *ModeUsageRepository) GetCount(userID int64, mode string) (int, error) {
	var usage model.UserModeUsage
	err := r.db.Where("user_id = ? AND mode = ?", userID, mode).First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return usage.MessageCount, nil
}

// Increment 原子地 +1（不存在则创建），返回最新计数
func (r *ModeUsageRepository) Increment(userID int64, mode string) (int, error) {
	usage := &model.UserModeUsage{
		UserID:       userID,
		Mode:         mode,
		MessageCount: 1,
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "mode"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"message_count": gorm.Expr("message_count + 1"),
			"updated_at":    time.Now().UTC(),
		}),
	}).Create(usage).Error
	if err != nil {
		return 0, err
	}

	return r.GetCount(userID, mode)
}

// ListByUser 查询用户所有模式的计数
func (r *ModeUsageRepository) ListByUser(userID int64) ([]model.UserModeUsage, error) {
	var usages []model.UserModeUsage
	err := r.db.Where("user_id = ?", userID).Order("mode ASC").Find(&usages).Error
	return usages, err
}
