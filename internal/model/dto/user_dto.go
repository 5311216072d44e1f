package dto

// UserInfo 用户信息（返回给前端）
type UserInfo struct {
	ID            int64  `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email,omitempty"`
	AvatarURL     string `json:"avatar_url"`
	Tier          string `json:"tier"`
	Role          string `json:"role"`
	IsHost        bool   `json:"is_host"`
	IsPremium     bool   `json:"is_premium"`
	PreferredMode string `json:"preferred_mode"`
	MessageCount  int64  `json:"message_count"`
	CreatedAt     string `json:"created_at,omitempty"`

	ModeMessageCounts map[string]int `json:"mode_message_counts"`
	VoiceSecondsToday int            `json:"voice_seconds_today"`
}

// UpdateProfileRequest 更新用户信息请求
type UpdateProfileRequest struct {
	PreferredMode *string `json:"preferred_mode,omitempty" binding:"omitempty,max=20"`
}
