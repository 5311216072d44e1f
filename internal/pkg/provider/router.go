package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/qs3c/kanchana_server/config"
	"github.com/qs3c/kanchana_server/internal/pkg/chatlog"
)

// SupportedFreeProviders 免费链路允许的 provider
var SupportedFreeProviders = []string{NameGroq, NameExternal}

var providerLabels = map[string]string{
	NameGroq:     "Groq",
	NameExternal: "Kanchana External Chat API",
	NameGemini:   "Gemini",
}

var knownLabels = map[string]string{
	NameGroq:     "Groq OpenAI-compatible chat completions",
	NameExternal: "Kanchana External Chat API (/v1/chat)",
	NameGemini:   "Gemini via Google Generative AI",
}

// AssetStore 持久化生成图片的对象存储
type AssetStore interface {
	UploadBlob(ctx context.Context, data []byte, contentType, fileName, folder string, tags []string) (string, error)
}

// UnavailableError 所有 provider 均失败
type UnavailableError struct {
	Failures []Failure
}

func (e *UnavailableError) Error() string {
	return UnavailableMessage
}

// ErrInvalidImageData 图片 data URI 无法解析
var ErrInvalidImageData = errors.New("invalid inline image data")

type RouterOptions struct {
	Order         []string
	Free          []TextProvider
	Premium       TextProvider
	Image         ImageProvider
	Classifier    Classifier
	Assets        AssetStore
	Backoff       *Backoff
	Timeout       time.Duration
	Budgets       BudgetSet
	AssistantName string
	Now           func() time.Time
}

// BudgetSet 各 provider 的历史窗口和 token 预算
type BudgetSet struct {
	Free     config.ProviderBudget
	Premium  config.ProviderBudget
	External config.ProviderBudget
}

// RouteRequest 一次生成请求的调用方上下文
type RouteRequest struct {
	Unlimited    bool
	VoiceMode    bool
	Mode         string
	Tier         string
	Input        string
	History      []Turn
	Memory       []string
	UserName     string
	MessageCount int64
	HasAvatar    bool
	OwnerKey     string
	Log          *chatlog.Logger
}

// Reply 生成结果
type Reply struct {
	Text     string
	ImageURL string
	Provider string
	Failures []Failure
}

type Router struct {
	order      []string
	free       map[string]TextProvider
	premium    TextProvider
	image      ImageProvider
	classifier Classifier
	assets     AssetStore
	backoff    *Backoff
	timeout    time.Duration
	budgets    BudgetSet
	assistant  string
	now        func() time.Time
}

func NewRouter(opts RouterOptions) *Router {
	free := make(map[string]TextProvider, len(opts.Free))
	for _, p := range opts.Free {
		if p != nil {
			free[p.Name()] = p
		}
	}

	r := &Router{
		order:      NormalizeOrder(opts.Order),
		free:       free,
		premium:    opts.Premium,
		image:      opts.Image,
		classifier: opts.Classifier,
		assets:     opts.Assets,
		backoff:    opts.Backoff,
		timeout:    opts.Timeout,
		budgets:    opts.Budgets,
		assistant:  opts.AssistantName,
		now:        opts.Now,
	}
	if r.classifier == nil {
		r.classifier = NewKeywordClassifier(nil)
	}
	if r.backoff == nil {
		r.backoff = NewBackoff()
	}
	if r.timeout <= 0 {
		r.timeout = 30 * time.Second
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// NormalizeOrder 小写、过滤、去重，结果为空时回退默认链路
func NormalizeOrder(order []string) []string {
	seen := make(map[string]bool, len(order))
	out := make([]string, 0, len(order))
	for _, name := range order {
		name = strings.ToLower(strings.TrimSpace(name))
		if !isSupportedFree(name) || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return append([]string(nil), SupportedFreeProviders...)
	}
	return out
}

func isSupportedFree(name string) bool {
	for _, s := range SupportedFreeProviders {
		if s == name {
			return true
		}
	}
	return false
}

// Order 当前生效的免费链路
func (r *Router) Order() []string {
	return append([]string(nil), r.order...)
}

// HasFreeProviders 免费链路中是否至少有一个已配置
func (r *Router) HasFreeProviders() bool {
	for _, name := range r.order {
		if p, ok := r.free[name]; ok && p.Configured() {
			return true
		}
	}
	return false
}

// Route 按调用方权限选择 provider 并生成回复
func (r *Router) Route(ctx context.Context, req RouteRequest) (*Reply, error) {
	imageRequested := r.classifier.IsImageRequest(req.Input)

	switch {
	case imageRequested && req.Unlimited && r.image != nil:
		return r.routeImage(ctx, req)
	case req.Unlimited || req.VoiceMode:
		if imageRequested {
			req.Log.Event("image_request_redirected_to_chat", map[string]interface{}{
				"reason": "image_reserved_for_unlimited",
			})
		}
		return r.routePremium(ctx, req)
	default:
		if imageRequested {
			req.Log.Event("image_request_redirected_to_chat", map[string]interface{}{
				"reason": "free_chain_no_image_generation",
			})
		}
		return r.RouteFree(ctx, req)
	}
}

// RouteFree 依次尝试免费链路，400 立即终止
func (r *Router) RouteFree(ctx context.Context, req RouteRequest) (*Reply, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, &Failure{Provider: "free_provider_router", StatusCode: http.StatusBadRequest, Reason: "empty_input", Message: "Message text is required."}
	}

	var failures []Failure
	for _, name := range r.order {
		req.Log.Event("free_provider_attempt_started", map[string]interface{}{
			"provider":      name,
			"input_length":  len(req.Input),
			"history_count": len(req.History),
			"voice_mode":    req.VoiceMode,
		})

		p, ok := r.free[name]
		if !ok {
			failures = append(failures, Failure{
				Provider:   name,
				StatusCode: http.StatusServiceUnavailable,
				Reason:     "not_registered",
				Message:    UnavailableMessage,
			})
			continue
		}

		res := r.attempt(ctx, p, r.buildFreeRequest(name, req))
		if res.Failure == nil {
			req.Log.Event("free_provider_attempt_succeeded", map[string]interface{}{
				"provider":      name,
				"output_length": len(res.Text),
			})
			return &Reply{Text: res.Text, Provider: name, Failures: failures}, nil
		}

		failures = append(failures, *res.Failure)
		req.Log.Warn("provider_attempt_failed", map[string]interface{}{
			"provider":    name,
			"status_code": res.Failure.StatusCode,
			"reason":      res.Failure.Reason,
			"message":     res.Failure.Message,
		})
		if res.Failure.StatusCode == http.StatusBadRequest {
			return nil, res.Failure
		}
	}

	req.Log.Error("all_providers_failed", map[string]interface{}{
		"failures": len(failures),
	})
	return nil, &UnavailableError{Failures: failures}
}

func (r *Router) routePremium(ctx context.Context, req RouteRequest) (*Reply, error) {
	if r.premium == nil {
		return nil, &UnavailableError{Failures: []Failure{{
			Provider:   NameGemini,
			StatusCode: http.StatusServiceUnavailable,
			Reason:     "not_registered",
			Message:    UnavailableMessage,
		}}}
	}

	name := r.premium.Name()
	req.Log.Event("chat_generation_started", map[string]interface{}{
		"provider":      name,
		"history_count": len(req.History),
		"memory_count":  len(req.Memory),
		"voice_mode":    req.VoiceMode,
	})

	budget := r.budgets.Free
	if req.Unlimited {
		budget = r.budgets.Premium
	}
	maxTokens := budget.MaxTokens
	if req.VoiceMode {
		maxTokens = budget.VoiceMaxTokens
	}
	history := lastTurns(req.History, budget.HistoryWindow)

	prompt := BuildSystemInstruction(r.promptOptions(name, req, history, req.Memory, maxTokens,
		fmt.Sprintf("history_window=%d; max_tokens=%d; voice_mode=%t; user_tier=%s; provider=%s",
			budget.HistoryWindow, maxTokens, req.VoiceMode, tierLabel(req.Unlimited), name)))

	res := r.attempt(ctx, r.premium, Request{
		SystemPrompt: prompt,
		History:      history,
		Input:        req.Input,
		MaxTokens:    maxTokens,
	})
	if res.Failure != nil {
		req.Log.Warn("provider_attempt_failed", map[string]interface{}{
			"provider":    name,
			"status_code": res.Failure.StatusCode,
			"reason":      res.Failure.Reason,
			"message":     res.Failure.Message,
		})
		if res.Failure.StatusCode == http.StatusBadRequest {
			return nil, res.Failure
		}
		return nil, &UnavailableError{Failures: []Failure{*res.Failure}}
	}

	req.Log.Event("chat_generation_completed", map[string]interface{}{
		"provider":      name,
		"output_length": len(res.Text),
		"preview":       chatlog.Preview(res.Text),
	})
	return &Reply{Text: res.Text, Provider: name}, nil
}

func (r *Router) routeImage(ctx context.Context, req RouteRequest) (*Reply, error) {
	name := r.image.Name()
	req.Log.Event("image_generation_started", map[string]interface{}{
		"provider":       name,
		"prompt_preview": chatlog.Preview(req.Input),
	})

	var img ImageResult
	if wait, blocked := r.backoff.Blocked(name); blocked {
		img.Failure = backoffFailure(name, wait)
	} else {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		img = r.image.GenerateImage(callCtx, req.Input)
		cancel()
		if img.Failure != nil && img.Failure.StatusCode == http.StatusTooManyRequests {
			r.backoff.Trip(name, img.Failure.RetryAfter)
		}
	}
	if img.Failure != nil {
		req.Log.Warn("image_generation_failed", map[string]interface{}{
			"provider":    name,
			"status_code": img.Failure.StatusCode,
			"reason":      img.Failure.Reason,
		})
		return nil, &UnavailableError{Failures: []Failure{*img.Failure}}
	}

	caption := img.Caption
	if strings.TrimSpace(caption) == "" {
		caption = "Tasveer tayyar hai."
	}
	imageURL := img.URL
	req.Log.Event("image_generation_completed", map[string]interface{}{
		"has_image_data": imageURL != "",
		"caption_length": len(caption),
	})

	if strings.HasPrefix(imageURL, "data:") && r.assets != nil {
		data, contentType, err := DecodeDataURI(imageURL)
		if err != nil {
			return nil, err
		}
		ms := r.now().UnixMilli()
		url, err := r.assets.UploadBlob(ctx, data, contentType,
			fmt.Sprintf("chat-image-%s-%d", req.OwnerKey, ms),
			fmt.Sprintf("kanchana-ai/users/%s/chat-images", req.OwnerKey),
			[]string{"chat-image", req.OwnerKey, req.Mode},
		)
		if err != nil {
			req.Log.Error("image_upload_failed", map[string]interface{}{"error": err.Error()})
			return nil, fmt.Errorf("upload chat image: %w", err)
		}
		imageURL = url
		req.Log.Event("image_upload_completed", map[string]interface{}{
			"image_url_preview": chatlog.Preview(imageURL),
		})
	}

	return &Reply{Text: caption, ImageURL: imageURL, Provider: name}, nil
}

// attempt 单次调用，带冷却检查和独立超时
func (r *Router) attempt(ctx context.Context, p TextProvider, req Request) Result {
	name := p.Name()
	if wait, blocked := r.backoff.Blocked(name); blocked {
		return Result{Failure: backoffFailure(name, wait)}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res := p.Generate(callCtx, req)
	if res.Failure == nil && strings.TrimSpace(res.Text) == "" {
		res = fail(name, http.StatusServiceUnavailable, "empty_reply", UnavailableMessage)
	}
	if res.Failure != nil && res.Failure.StatusCode == http.StatusTooManyRequests {
		r.backoff.Trip(name, res.Failure.RetryAfter)
	}
	return res
}

func backoffFailure(name string, wait time.Duration) *Failure {
	return &Failure{
		Provider:   name,
		StatusCode: http.StatusTooManyRequests,
		Reason:     "backoff_active",
		Message:    fmt.Sprintf("%s temporarily paused due to previous rate limit.", providerLabels[name]),
		RetryAfter: wait,
	}
}

func (r *Router) buildFreeRequest(name string, req RouteRequest) Request {
	switch name {
	case NameExternal:
		budget := r.budgets.External
		maxTokens := budget.MaxTokens
		if req.VoiceMode {
			maxTokens = budget.VoiceMaxTokens
		}
		history := lastTurns(req.History, budget.HistoryWindow)
		prompt := BuildSystemInstruction(r.promptOptions(name, req, history, nil, maxTokens,
			fmt.Sprintf("provider_chain=%s; active=%s", strings.Join(r.order, "->"), name)))
		tier := req.Tier
		if tier == "" {
			tier = "Free"
		}
		return Request{
			SystemPrompt: prompt,
			History:      history,
			Input:        req.Input,
			MaxTokens:    maxTokens,
			Context: map[string]interface{}{
				"mode":          req.Mode,
				"tier":          tier,
				"voiceMode":     req.VoiceMode,
				"providerChain": r.Order(),
			},
		}
	default:
		budget := r.budgets.Free
		if req.Unlimited {
			budget = r.budgets.Premium
		}
		maxTokens := budget.MaxTokens
		if req.VoiceMode {
			maxTokens = budget.VoiceMaxTokens
		}
		history := lastTurns(req.History, budget.HistoryWindow)
		prompt := BuildSystemInstruction(r.promptOptions(name, req, history, nil, maxTokens,
			fmt.Sprintf("history_window=%d; max_tokens=%d; voice_mode=%t; provider=%s",
				budget.HistoryWindow, maxTokens, req.VoiceMode, name)))
		return Request{
			SystemPrompt: prompt,
			History:      history,
			Input:        req.Input,
			MaxTokens:    maxTokens,
		}
	}
}

func (r *Router) promptOptions(name string, req RouteRequest, history []Turn, memory []string, maxTokens int, limits string) PromptOptions {
	return PromptOptions{
		AssistantName: r.assistant,
		UserName:      req.UserName,
		Mode:          req.Mode,
		Unlimited:     req.Unlimited,
		MessageCount:  req.MessageCount,
		HasAvatar:     req.HasAvatar,
		History:       history,
		Memory:        memory,
		Input:         req.Input,
		ProviderName:  providerLabels[name],
		Known:         r.known(),
		VoiceMode:     req.VoiceMode,
		MaxTokens:     maxTokens,
		LimitsInfo:    limits,
	}
}

func (r *Router) known() []KnownProvider {
	known := make([]KnownProvider, 0, len(r.order)+1)
	for _, name := range r.order {
		p, ok := r.free[name]
		known = append(known, KnownProvider{Label: knownLabels[name], Configured: ok && p.Configured()})
	}
	if r.premium != nil {
		known = append(known, KnownProvider{Label: knownLabels[r.premium.Name()], Configured: r.premium.Configured()})
	}
	return known
}

func tierLabel(unlimited bool) string {
	if unlimited {
		return "premium"
	}
	return "normal"
}

// DecodeDataURI 解析 data:<mime>;base64,<payload>
func DecodeDataURI(uri string) ([]byte, string, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, "", ErrInvalidImageData
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, "", ErrInvalidImageData
	}
	contentType := strings.TrimSuffix(meta, ";base64")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImageData, err)
	}
	return data, contentType, nil
}
