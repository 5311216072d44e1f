package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/kanchana_server/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

func (r *UserRepository) GetByID(id int64) (*model.User, error) {
	var user model.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Updates(fields).Error
}

// IncrementMessageCount 总消息数 +1
func (r *UserRepository) IncrementMessageCount(id int64) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).
		Update("message_count", gorm.Expr("message_count + 1")).Error
}

// AddVoiceSeconds 累加当日语音秒数，日期变化时先归零；返回累加后的值
func (r *UserRepository) AddVoiceSeconds(id int64, dateKey string, seconds int) (int, error) {
	// voice_seconds_used 必须先于 voice_date_key 赋值，MySQL 按顺序求值
	result := r.db.Exec(
		"UPDATE users SET voice_seconds_used = CASE WHEN voice_date_key = ? THEN voice_seconds_used + ? ELSE ? END, "+
			"voice_date_key = ?, updated_at = ? WHERE id = ?",
		dateKey, seconds, seconds, dateKey, time.Now().UTC(), id,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}

	var user model.User
	if err := r.db.Select("voice_seconds_used").Where("id = ?", id).First(&user).Error; err != nil {
		return 0, err
	}
	return user.VoiceSecondsUsed, nil
}
