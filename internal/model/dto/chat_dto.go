package dto

// SendMessageRequest 发送消息请求
// voiceMode / voiceDurationSeconds 兼容布尔、数字和字符串
type SendMessageRequest struct {
	Mode                 string      `json:"mode"`
	Text                 string      `json:"text"`
	VoiceMode            interface{} `json:"voiceMode"`
	VoiceDurationSeconds interface{} `json:"voiceDurationSeconds"`
}

// ChatMessage 解密后的一条消息
type ChatMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	ImageURL  string `json:"imageUrl,omitempty"`
	Mode      string `json:"mode"`
	CreatedAt string `json:"createdAt"`
	Timestamp int64  `json:"timestamp"` // 毫秒
}

// UsageSummary 用量摘要
type UsageSummary struct {
	MessageCount      int    `json:"messageCount"`
	ModeLimit         *int   `json:"modeLimit"`
	LimitType         string `json:"limitType"`
	IsPremium         bool   `json:"isPremium"`
	IsHost            bool   `json:"isHost"`
	RemainingMessages *int   `json:"remainingMessages,omitempty"`
}

// SendMessageResponse 发送消息响应
type SendMessageResponse struct {
	UserMessage      ChatMessage  `json:"userMessage"`
	AssistantMessage ChatMessage  `json:"assistantMessage"`
	Usage            UsageSummary `json:"usage"`
	Mode             string       `json:"mode"`
}

// HistoryResponse 历史消息
type HistoryResponse struct {
	Mode     string        `json:"mode"`
	Messages []ChatMessage `json:"messages"`
}

// ClearHistoryResponse 清空历史结果
type ClearHistoryResponse struct {
	Mode         string `json:"mode"`
	DeletedCount int64  `json:"deletedCount"`
}

// UsageResponse 当前模式用量及语音额度
type UsageResponse struct {
	UsageSummary
	Mode                  string `json:"mode"`
	VoiceSecondsUsed      int    `json:"voiceSecondsUsed"`
	VoiceDailyLimit       *int   `json:"voiceDailyLimitSeconds"`
	RemainingVoiceSeconds *int   `json:"remainingVoiceSeconds,omitempty"`
}

// ModeInfo 模式说明
type ModeInfo struct {
	Name     string `json:"name"`
	Guidance string `json:"guidance"`
}
