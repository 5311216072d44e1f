package model

import "time"

const (
	RoleUserTurn      = "user"
	RoleAssistantTurn = "assistant"
)

// Message 加密存储的一条对话
type Message struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerKey    string    `gorm:"size:64;not null;index:idx_owner_mode_created,priority:1" json:"-"`
	Mode        string    `gorm:"size:20;not null;index:idx_owner_mode_created,priority:2" json:"mode"`
	Role        string    `gorm:"size:20;not null" json:"role"`
	CipherText  string    `gorm:"type:text;not null" json:"-"`
	IV          string    `gorm:"size:64;not null" json:"-"`
	AuthTag     string    `gorm:"size:64;not null" json:"-"`
	ContentHash string    `gorm:"size:64;index" json:"-"`
	ImageURL    string    `gorm:"size:1000" json:"image_url,omitempty"`
	VectorID    string    `gorm:"size:128" json:"-"`
	CreatedAt   time.Time `gorm:"index:idx_owner_mode_created,priority:3" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// MessageVector 长期记忆的向量索引条目，ID 与消息 ID 相同
type MessageVector struct {
	ID        string            `gorm:"primaryKey;size:36" json:"id"`
	Namespace string            `gorm:"size:128;not null;index" json:"namespace"`
	Vector    []float32         `gorm:"type:text;serializer:json" json:"-"`
	Metadata  map[string]string `gorm:"type:text;serializer:json" json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

func (MessageVector) TableName() string {
	return "message_vectors"
}

// All 返回需要迁移的全部模型
func All() []interface{} {
	return []interface{}{
		&User{},
		&UserModeUsage{},
		&GuestUsage{},
		&Message{},
		&MessageVector{},
	}
}
