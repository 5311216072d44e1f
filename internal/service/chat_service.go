package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/kanchana_server/config"
	"github.com/qs3c/kanchana_server/internal/model"
	"github.com/qs3c/kanchana_server/internal/model/dto"
	"github.com/qs3c/kanchana_server/internal/pkg/chatlog"
	"github.com/qs3c/kanchana_server/internal/pkg/fingerprint"
	"github.com/qs3c/kanchana_server/internal/pkg/provider"
	"github.com/qs3c/kanchana_server/internal/pkg/pubsub"
	"github.com/qs3c/kanchana_server/internal/pkg/queue"
	"github.com/qs3c/kanchana_server/internal/repository"
)

const (
	defaultHistoryLimit = 40
	fallbackMode        = "Lovely"
	indexTimeout        = 30 * time.Second
)

// Generator 按调用方权限生成回复
type Generator interface {
	Route(ctx context.Context, req provider.RouteRequest) (*provider.Reply, error)
}

// JobQueue 长期记忆索引任务队列
type JobQueue interface {
	Push(ctx context.Context, job *queue.MemoryIndexJob) error
}

// Caller 请求方身份，UserID 为 0 时使用访客指纹
type Caller struct {
	UserID    int64
	Guest     *fingerprint.Guest
	RequestID string
}

// SendInput 已解析的发送参数
type SendInput struct {
	Mode                 string
	Text                 string
	VoiceMode            bool
	VoiceDurationSeconds int
}

type ChatService struct {
	cfg      *config.Config
	userRepo *repository.UserRepository
	ledger   *UsageLedger
	store    *ConversationStore
	memory   *MemoryService
	router   Generator
	jobs     JobQueue
	events   pubsub.EventPublisher
	now      func() time.Time
	runAsync func(func())
}

// NewChatService jobs / events 可为 nil
func NewChatService(
	cfg *config.Config,
	userRepo *repository.UserRepository,
	ledger *UsageLedger,
	store *ConversationStore,
	memory *MemoryService,
	router Generator,
	jobs JobQueue,
	events pubsub.EventPublisher,
) *ChatService {
	return &ChatService{
		cfg:      cfg,
		userRepo: userRepo,
		ledger:   ledger,
		store:    store,
		memory:   memory,
		router:   router,
		jobs:     jobs,
		events:   events,
		now:      time.Now,
		runAsync: func(f func()) { go f() },
	}
}

// sendContext 单次发送的已解析状态
type sendContext struct {
	caller   Caller
	user     *model.User
	mode     string
	ownerKey string
	profile  QuotaProfile
	log      *chatlog.Logger
}

// SendMessage 校验额度、保存用户消息、生成并保存回复
func (s *ChatService) SendMessage(ctx context.Context, caller Caller, in SendInput) (*dto.SendMessageResponse, error) {
	user, err := s.loadUser(caller.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil && (caller.Guest == nil || caller.Guest.FingerprintHash == "") {
		return nil, &ChatError{
			Kind:    KindInternal,
			Status:  http.StatusInternalServerError,
			Code:    CodeGuestIdentityMissing,
			Message: "Guest identity could not be resolved.",
		}
	}

	mode, err := s.resolveMode(in.Mode, user)
	if err != nil {
		return nil, err
	}

	sc := &sendContext{
		caller:   caller,
		user:     user,
		mode:     mode,
		ownerKey: ownerKeyFor(user, caller.Guest),
		profile:  ResolveQuotaProfile(user, &s.cfg.Quota),
	}
	sc.log = chatlog.New(s.cfg.Chat.DebugLogs, caller.RequestID, sc.ownerKey, mode, "chat.send")

	resp, err := s.send(ctx, sc, in)
	if err != nil {
		sc.log.Error("message_flow_failed", map[string]interface{}{
			"duration_ms": sc.log.Elapsed().Milliseconds(),
			"error":       err.Error(),
		})
		s.publish(ctx, sc, &pubsub.ChatEvent{Stage: pubsub.StageFailed, Error: err.Error()})
		return nil, err
	}

	sc.log.Event("message_flow_completed", map[string]interface{}{
		"duration_ms":   sc.log.Elapsed().Milliseconds(),
		"message_count": resp.Usage.MessageCount,
		"limit_type":    resp.Usage.LimitType,
	})
	return resp, nil
}

func (s *ChatService) send(ctx context.Context, sc *sendContext, in SendInput) (*dto.SendMessageResponse, error) {
	text := strings.TrimSpace(in.Text)
	voiceSeconds := in.VoiceDurationSeconds
	if voiceSeconds <= 0 {
		voiceSeconds = s.cfg.Chat.DefaultVoiceSecond
	}

	sc.log.Event("validation_started", map[string]interface{}{
		"text_length":   len(text),
		"text_preview":  chatlog.Preview(text),
		"voice_mode":    in.VoiceMode,
		"voice_seconds": voiceSeconds,
		"limit_type":    sc.profile.Category,
	})

	if text == "" {
		return nil, validationError(CodeMessageRequired, "Message text is required.", nil)
	}
	if len([]rune(text)) > s.cfg.Chat.MaxTextLength {
		return nil, validationError(CodeMessageTooLong, "Message is too long.", map[string]interface{}{
			"maxLength": s.cfg.Chat.MaxTextLength,
		})
	}
	if in.VoiceMode && sc.user == nil {
		return nil, authError(CodeVoiceLoginRequired, "Voice is available only after login.")
	}

	// 额度检查
	var modeCount int
	if sc.user != nil {
		modeCount = s.ledger.UserModeCount(sc.user.ID, sc.mode)
	} else {
		count, err := s.ledger.TouchGuest(sc.caller.Guest, sc.mode)
		if err != nil {
			return nil, fmt.Errorf("touch guest usage: %w", err)
		}
		modeCount = count
	}

	if sc.profile.IsLimited && modeCount >= sc.profile.Ceiling {
		return nil, quotaError(CodeModeLimitReached,
			"Message limit reached for this mode. Upgrade to continue unlimited chat.",
			map[string]interface{}{
				"mode":              sc.mode,
				"modeLimit":         sc.profile.Ceiling,
				"messageCount":      modeCount,
				"remainingMessages": 0,
				"limitType":         sc.profile.Category,
			})
	}

	dateKey := DateKey(s.now())
	appliesVoiceLimit := sc.user != nil && sc.profile.Category == CategoryFree && in.VoiceMode
	voiceUsed := 0
	if appliesVoiceLimit {
		voiceUsed = VoiceSecondsOnDate(sc.user, dateKey)
		dailyLimit := s.cfg.Quota.FreeDailyVoiceSecond
		if voiceUsed+voiceSeconds > dailyLimit {
			remaining := dailyLimit - voiceUsed
			if remaining < 0 {
				remaining = 0
			}
			return nil, quotaError(CodeDailyVoiceLimitReached, "Daily voice limit reached for free users.",
				map[string]interface{}{
					"dailyLimitSeconds":     dailyLimit,
					"secondsUsed":           voiceUsed,
					"remainingVoiceSeconds": remaining,
					"requestedVoiceSeconds": voiceSeconds,
					"limitType":             sc.profile.Category,
				})
		}
	}

	sc.log.Event("validation_passed", map[string]interface{}{
		"limit_type":         sc.profile.Category,
		"mode_message_count": modeCount,
		"daily_voice_used":   voiceUsed,
		"memory_enabled":     s.memory.Enabled(),
	})

	// 先落库用户消息，之后再计数
	userTurn, err := s.store.Append(sc.ownerKey, sc.mode, model.RoleUserTurn, text, "")
	if err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}
	sc.log.Event("user_message_saved", map[string]interface{}{"message_id": userTurn.ID})
	s.publish(ctx, sc, &pubsub.ChatEvent{Stage: pubsub.StageUserMessageSaved, MessageID: userTurn.ID})

	if sc.user != nil {
		modeCount, err = s.ledger.IncrementUser(sc.user.ID, sc.mode)
		if err != nil {
			return nil, fmt.Errorf("increment usage: %w", err)
		}
		if appliesVoiceLimit {
			if _, err := s.ledger.AddUserVoiceSeconds(sc.user.ID, dateKey, voiceSeconds); err != nil {
				return nil, fmt.Errorf("add voice usage: %w", err)
			}
		}
	} else {
		modeCount, err = s.ledger.IncrementGuest(sc.caller.Guest.FingerprintHash, sc.mode)
		if err != nil {
			return nil, fmt.Errorf("increment guest usage: %w", err)
		}
	}

	history, err := s.buildHistory(sc, userTurn.ID)
	if err != nil {
		return nil, err
	}
	var memory []string
	if sc.profile.Unlimited() {
		memory = s.memory.Augment(ctx, sc.ownerKey, sc.mode, text)
	}

	sc.log.Event("context_built", map[string]interface{}{
		"history_count": len(history),
		"memory_count":  len(memory),
		"unlimited":     sc.profile.Unlimited(),
	})
	s.publish(ctx, sc, &pubsub.ChatEvent{Stage: pubsub.StageGenerating})

	reply, err := s.router.Route(ctx, s.routeRequest(sc, in.VoiceMode, text, history, memory))
	if err != nil {
		return nil, mapRouteError(err)
	}
	if len(reply.Failures) > 0 {
		sc.log.Warn("provider_failover", map[string]interface{}{
			"provider": reply.Provider,
			"failures": len(reply.Failures),
		})
	}

	assistantTurn, err := s.store.Append(sc.ownerKey, sc.mode, model.RoleAssistantTurn, reply.Text, reply.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("save assistant message: %w", err)
	}
	sc.log.Event("assistant_message_saved", map[string]interface{}{
		"message_id":    assistantTurn.ID,
		"provider":      reply.Provider,
		"has_image_url": reply.ImageURL != "",
	})

	if sc.profile.Unlimited() && s.memory.Enabled() {
		s.scheduleIndex(ctx, sc, []string{userTurn.ID, assistantTurn.ID})
	}

	s.publish(ctx, sc, &pubsub.ChatEvent{
		Stage:     pubsub.StageCompleted,
		Provider:  reply.Provider,
		MessageID: assistantTurn.ID,
	})

	return &dto.SendMessageResponse{
		UserMessage:      userTurn.ToClient(),
		AssistantMessage: assistantTurn.ToClient(),
		Usage:            sc.profile.Summary(modeCount),
		Mode:             sc.mode,
	}, nil
}

// buildHistory 最近历史，去掉刚保存的用户消息
func (s *ChatService) buildHistory(sc *sendContext, excludeID string) ([]provider.Turn, error) {
	turns, err := s.store.RecentContext(sc.ownerKey, sc.mode, s.cfg.Chat.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	history := make([]provider.Turn, 0, len(turns))
	for _, t := range turns {
		if t.ID == excludeID {
			continue
		}
		role := provider.RoleUser
		if t.Role == model.RoleAssistantTurn {
			role = provider.RoleAssistant
		}
		history = append(history, provider.Turn{ID: t.ID, Role: role, Text: t.Text})
	}
	return history, nil
}

func (s *ChatService) routeRequest(sc *sendContext, voiceMode bool, text string, history []provider.Turn, memory []string) provider.RouteRequest {
	req := provider.RouteRequest{
		Unlimited: sc.profile.Unlimited(),
		VoiceMode: voiceMode,
		Mode:      sc.mode,
		Tier:      model.TierFree,
		Input:     text,
		History:   history,
		Memory:    memory,
		OwnerKey:  sc.ownerKey,
		Log:       sc.log,
	}
	if sc.user != nil {
		req.Tier = sc.user.Tier
		req.UserName = sc.user.Username
		req.MessageCount = sc.user.MessageCount + 1
		req.HasAvatar = sc.user.AvatarURL != ""
	}
	return req
}

func (s *ChatService) scheduleIndex(ctx context.Context, sc *sendContext, ids []string) {
	job := &queue.MemoryIndexJob{OwnerKey: sc.ownerKey, Mode: sc.mode, MessageIDs: ids}

	if s.jobs != nil {
		if err := s.jobs.Push(ctx, job); err != nil {
			sc.log.Warn("vector_memory_enqueue_failed", map[string]interface{}{"error": err.Error()})
			return
		}
		sc.log.Event("vector_memory_enqueued", map[string]interface{}{"message_ids": strings.Join(ids, ",")})
		return
	}

	logger := sc.log
	s.runAsync(func() {
		indexCtx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()

		indexed, err := s.memory.IndexMessages(indexCtx, job.OwnerKey, job.Mode, job.MessageIDs)
		if err != nil {
			logger.Warn("vector_memory_upsert_failed", map[string]interface{}{"error": err.Error()})
			return
		}
		logger.Event("vector_memory_upserted", map[string]interface{}{"indexed": indexed})
	})
}

func (s *ChatService) publish(ctx context.Context, sc *sendContext, evt *pubsub.ChatEvent) {
	if s.events == nil {
		return
	}
	evt.RequestID = sc.caller.RequestID
	evt.OwnerKey = sc.ownerKey
	evt.Mode = sc.mode
	if sc.user != nil {
		evt.UserID = sc.user.ID
	}
	if err := s.events.PublishChatEvent(ctx, evt); err != nil {
		log.Printf("Failed to publish chat event %s: %v", evt.Stage, err)
	}
}

// mapRouteError provider 错误转为对外错误
func mapRouteError(err error) error {
	var unavailable *provider.UnavailableError
	if errors.As(err, &unavailable) {
		return &ChatError{
			Kind:    KindUnavailable,
			Status:  http.StatusServiceUnavailable,
			Code:    CodeAIResponseUnavailable,
			Message: provider.UnavailableMessage,
			Details: map[string]interface{}{"failures": unavailable.Failures},
			Err:     err,
		}
	}

	var failure *provider.Failure
	if errors.As(err, &failure) && failure.StatusCode == http.StatusBadRequest {
		return &ChatError{
			Kind:    KindValidation,
			Status:  http.StatusBadRequest,
			Code:    CodeAIRequestRejected,
			Message: failure.Message,
			Details: map[string]interface{}{"provider": failure.Provider, "reason": failure.Reason},
			Err:     err,
		}
	}

	return fmt.Errorf("generate reply: %w", err)
}

// GetHistory 注册用户某模式的历史消息
func (s *ChatService) GetHistory(userID int64, mode string, limit int) (*dto.HistoryResponse, error) {
	user, err := s.requireUser(userID)
	if err != nil {
		return nil, err
	}
	safeMode, err := s.resolveMode(mode, user)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	turns, err := s.store.RecentHistory(ownerKeyFor(user, nil), safeMode, limit)
	if err != nil {
		return nil, err
	}

	messages := make([]dto.ChatMessage, 0, len(turns))
	for i := range turns {
		messages = append(messages, turns[i].ToClient())
	}
	return &dto.HistoryResponse{Mode: safeMode, Messages: messages}, nil
}

// ClearHistory 删除历史消息，不影响用量计数
func (s *ChatService) ClearHistory(userID int64, mode string) (*dto.ClearHistoryResponse, error) {
	user, err := s.requireUser(userID)
	if err != nil {
		return nil, err
	}
	safeMode, err := s.resolveMode(mode, user)
	if err != nil {
		return nil, err
	}

	deleted, err := s.store.DeleteAll(ownerKeyFor(user, nil), safeMode)
	if err != nil {
		return nil, err
	}
	return &dto.ClearHistoryResponse{Mode: safeMode, DeletedCount: deleted}, nil
}

// Usage 当前模式的用量摘要和当日语音额度
func (s *ChatService) Usage(caller Caller, mode string) (*dto.UsageResponse, error) {
	user, err := s.loadUser(caller.UserID)
	if err != nil {
		return nil, err
	}
	safeMode, err := s.resolveMode(mode, user)
	if err != nil {
		return nil, err
	}

	profile := ResolveQuotaProfile(user, &s.cfg.Quota)
	count := 0
	switch {
	case user != nil:
		count = s.ledger.UserModeCount(user.ID, safeMode)
	case caller.Guest != nil:
		count = s.ledger.GuestModeCount(caller.Guest.FingerprintHash, safeMode)
	}

	resp := &dto.UsageResponse{
		UsageSummary: profile.Summary(count),
		Mode:         safeMode,
	}
	if user != nil && profile.Category == CategoryFree {
		used := VoiceSecondsOnDate(user, DateKey(s.now()))
		limit := s.cfg.Quota.FreeDailyVoiceSecond
		remaining := limit - used
		if remaining < 0 {
			remaining = 0
		}
		resp.VoiceSecondsUsed = used
		resp.VoiceDailyLimit = &limit
		resp.RemainingVoiceSeconds = &remaining
	}
	return resp, nil
}

// Modes 可用模式及说明
func (s *ChatService) Modes() []dto.ModeInfo {
	modes := make([]dto.ModeInfo, 0, len(s.cfg.Chat.Modes))
	for _, m := range s.cfg.Chat.Modes {
		modes = append(modes, dto.ModeInfo{Name: m, Guidance: provider.ModeGuidance[m]})
	}
	return modes
}

// resolveMode 空值回退到偏好模式，再回退到默认模式
func (s *ChatService) resolveMode(mode string, user *model.User) (string, error) {
	requested := strings.TrimSpace(mode)
	if requested != "" {
		if !s.cfg.Chat.IsValidMode(requested) {
			return "", validationError(CodeInvalidMode, "Invalid mode.", map[string]interface{}{
				"allowedModes": s.cfg.Chat.Modes,
			})
		}
		return requested, nil
	}

	if user != nil {
		if preferred := strings.TrimSpace(user.PreferredMode); s.cfg.Chat.IsValidMode(preferred) {
			return preferred, nil
		}
	}
	if s.cfg.Chat.IsValidMode(fallbackMode) {
		return fallbackMode, nil
	}
	return s.cfg.Chat.DefaultMode, nil
}

func (s *ChatService) loadUser(userID int64) (*model.User, error) {
	if userID <= 0 {
		return nil, nil
	}
	return s.requireUser(userID)
}

func (s *ChatService) requireUser(userID int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// ownerKeyFor 注册用户用 ID，访客用 guest_ 前缀 ID
func ownerKeyFor(user *model.User, guest *fingerprint.Guest) string {
	if user != nil {
		return strconv.FormatInt(user.ID, 10)
	}
	if guest != nil {
		return guest.GuestUserID
	}
	return "guest_unknown"
}
