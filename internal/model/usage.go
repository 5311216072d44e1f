package model

import "time"

// UserModeUsage 注册用户在某个模式下的消息计数
type UserModeUsage struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	UserID       int64     `gorm:"not null;uniqueIndex:idx_user_mode" json:"user_id"`
	Mode         string    `gorm:"size:20;not null;uniqueIndex:idx_user_mode" json:"mode"`
	MessageCount int       `gorm:"default:0" json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (UserModeUsage) TableName() string {
	return "user_mode_usages"
}

// GuestUsage 访客（指纹）在某个模式下的用量，只保存哈希后的请求元数据
type GuestUsage struct {
	ID               int64     `gorm:"primaryKey" json:"id"`
	FingerprintHash  string    `gorm:"size:64;not null;uniqueIndex:idx_guest_mode" json:"-"`
	Mode             string    `gorm:"size:20;not null;uniqueIndex:idx_guest_mode" json:"mode"`
	MessageCount     int       `gorm:"default:0" json:"message_count"`
	IPHash           string    `gorm:"size:64" json:"-"`
	UserAgentHash    string    `gorm:"size:64" json:"-"`
	DeviceHash       string    `gorm:"size:64" json:"-"`
	SessionHash      string    `gorm:"size:64" json:"-"`
	LastSeenAt       time.Time `gorm:"index" json:"last_seen_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (GuestUsage) TableName() string {
	return "guest_usages"
}
