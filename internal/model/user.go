package model

import (
	"strings"
	"time"
)

const (
	TierFree    = "Free"
	TierPremium = "Premium"

	RoleUser = "user"
	RoleHost = "host"
)

type User struct {
	ID               int64     `gorm:"primaryKey" json:"id"`
	Username         string    `gorm:"size:50;uniqueIndex;not null" json:"username"`
	Email            *string   `gorm:"size:100;uniqueIndex" json:"email,omitempty"`
	PasswordHash     *string   `gorm:"size:255" json:"-"`
	AvatarURL        string    `gorm:"size:500" json:"avatar_url"`
	Tier             string    `gorm:"size:20;default:Free" json:"tier"`
	Role             string    `gorm:"size:20;default:user" json:"role"`
	IsHost           bool      `gorm:"default:false" json:"is_host"`
	PreferredMode    string    `gorm:"size:20" json:"preferred_mode"`
	MessageCount     int64     `gorm:"default:0" json:"message_count"`
	VoiceDateKey     string    `gorm:"size:10" json:"-"`
	VoiceSecondsUsed int       `gorm:"default:0" json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// IsPremium 是否为付费用户
func (u *User) IsPremium() bool {
	return u.Tier == TierPremium
}

// HasHostRole host 身份可能来自标记位或角色字段
func (u *User) HasHostRole() bool {
	return u.IsHost || strings.EqualFold(strings.TrimSpace(u.Role), RoleHost)
}
