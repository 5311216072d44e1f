package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/kanchana_server/internal/model"
)

const (
	minRecentLimit = 1
	maxRecentLimit = 200
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(msg *model.Message) error {
	return r.db.Create(msg).Error
}

func (r *MessageRepository) GetByID(id string) (*model.Message, error) {
	var msg model.Message
	err := r.db.Where("id = ?", id).First(&msg).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListRecent 返回最近 limit 条消息，按时间正序
func (r *MessageRepository) ListRecent(ownerKey, mode string, limit int) ([]model.Message, error) {
	limit = clampLimit(limit)

	var messages []model.Message
	err := r.db.Where("owner_key = ? AND mode = ?", ownerKey, mode).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}

// ListRecentGlobal 返回全站最近 limit 条消息，按时间正序
func (r *MessageRepository) ListRecentGlobal(limit int) ([]model.Message, error) {
	limit = clampLimit(limit)

	var messages []model.Message
	err := r.db.Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}

// ListByIDs 按 ID 查询归属于 ownerKey 的消息，按时间倒序
func (r *MessageRepository) ListByIDs(ownerKey string, ids []string) ([]model.Message, error) {
	if len(ids) == 0 {
		return []model.Message{}, nil
	}

	var messages []model.Message
	err := r.db.Where("owner_key = ? AND id IN ?", ownerKey, ids).
		Order("created_at DESC").
		Order("id DESC").
		Find(&messages).Error
	return messages, err
}

// DeleteByOwnerMode 删除某身份某模式下的全部消息，返回删除条数
func (r *MessageRepository) DeleteByOwnerMode(ownerKey, mode string) (int64, error) {
	result := r.db.Where("owner_key = ? AND mode = ?", ownerKey, mode).Delete(&model.Message{})
	return result.RowsAffected, result.Error
}

func (r *MessageRepository) UpdateVectorID(id, vectorID string) error {
	return r.db.Model(&model.Message{}).Where("id = ?", id).Update("vector_id", vectorID).Error
}

func clampLimit(limit int) int {
	if limit < minRecentLimit {
		return minRecentLimit
	}
	if limit > maxRecentLimit {
		return maxRecentLimit
	}
	return limit
}

func reverse(messages []model.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
