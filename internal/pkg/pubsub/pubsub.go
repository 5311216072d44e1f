package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelChatEvents = "chat_events"
)

// ChatEvent 聊天流程阶段事件
type ChatEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	OwnerKey  string `json:"owner_key"`
	UserID    int64  `json:"user_id,omitempty"`
	Mode      string `json:"mode"`
	Stage     string `json:"stage"`
	Provider  string `json:"provider,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// 流程阶段常量
const (
	StageUserMessageSaved = "user_message_saved"
	StageGenerating       = "generating"
	StageCompleted        = "completed"
	StageFailed           = "failed"
)

// 阶段对应的默认提示
var StageMessages = map[string]string{
	StageUserMessageSaved: "Message received",
	StageGenerating:       "Kanchana is typing",
	StageCompleted:        "Reply ready",
	StageFailed:           "Reply failed",
}

// EventPublisher 发布聊天事件
type EventPublisher interface {
	PublishChatEvent(ctx context.Context, evt *ChatEvent) error
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishChatEvent 发布聊天事件
func (p *Publisher) PublishChatEvent(ctx context.Context, evt *ChatEvent) error {
	fill(evt)

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal chat event: %w", err)
	}

	return p.client.Publish(ctx, ChannelChatEvents, data).Err()
}

// Local 未配置 Redis 时在进程内直接投递
type Local struct {
	handler func(*ChatEvent)
}

func NewLocal(handler func(*ChatEvent)) *Local {
	return &Local{handler: handler}
}

func (l *Local) PublishChatEvent(ctx context.Context, evt *ChatEvent) error {
	fill(evt)
	if l.handler != nil {
		l.handler(evt)
	}
	return nil
}

func fill(evt *ChatEvent) {
	evt.Type = "chat_event"
	if evt.Message == "" && evt.Stage != "" {
		if message, ok := StageMessages[evt.Stage]; ok {
			evt.Message = message
		}
	}
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅聊天事件
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ChatEvent)) error {
	pubsub := s.client.Subscribe(ctx, ChannelChatEvents)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var evt ChatEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue // 忽略解析错误
			}

			handler(&evt)
		}
	}
}
