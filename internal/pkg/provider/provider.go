package provider

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	NameGroq     = "groq"
	NameExternal = "kanchana_external"
	NameGemini   = "gemini"
)

// UnavailableMessage 所有 provider 失败时对外的统一提示
const UnavailableMessage = "AI response unavailable right now. Please retry in a moment."

const defaultRetryAfter = 60 * time.Second

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn 对话历史中的一条
type Turn struct {
	ID   string
	Role string
	Text string
}

// Request 一次文本生成请求
type Request struct {
	SystemPrompt string
	History      []Turn
	Input        string
	MaxTokens    int
	Context      map[string]interface{}
}

// Failure 单次调用失败的归一化描述
type Failure struct {
	Provider       string        `json:"provider"`
	StatusCode     int           `json:"statusCode"`
	Reason         string        `json:"reason"`
	Message        string        `json:"message"`
	UpstreamStatus int           `json:"upstreamStatus,omitempty"`
	RetryAfter     time.Duration `json:"-"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failed (%d %s): %s", f.Provider, f.StatusCode, f.Reason, f.Message)
}

// Result 要么有文本，要么有 Failure
type Result struct {
	Text    string
	Failure *Failure
}

func success(text string) Result {
	return Result{Text: text}
}

func fail(provider string, status int, reason, message string) Result {
	return Result{Failure: &Failure{
		Provider:   provider,
		StatusCode: status,
		Reason:     reason,
		Message:    message,
	}}
}

// TextProvider 文本生成
type TextProvider interface {
	Name() string
	Configured() bool
	Generate(ctx context.Context, req Request) Result
}

// ImageResult 图片生成结果，URL 可能是 data: URI
type ImageResult struct {
	Caption string
	URL     string
	Failure *Failure
}

// ImageProvider 图片生成
type ImageProvider interface {
	Name() string
	Configured() bool
	GenerateImage(ctx context.Context, prompt string) ImageResult
}

var retryHintPattern = regexp.MustCompile(`(?i)(?:retry|try again).*?([\d.]+)\s*s`)

// parseRetryHint 从错误消息中提取重试秒数
func parseRetryHint(message string) time.Duration {
	match := retryHintPattern.FindStringSubmatch(message)
	if len(match) < 2 {
		return defaultRetryAfter
	}
	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds * float64(time.Second))
}

func lastTurns(history []Turn, n int) []Turn {
	if n <= 0 {
		n = 1
	}
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}
