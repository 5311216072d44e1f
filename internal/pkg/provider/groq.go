package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/qs3c/kanchana_server/config"
)

const groqTemperature = 0.85

// Groq 免费链路上的 OpenAI 兼容 provider
type Groq struct {
	client *openai.Client
	model  string
	apiKey string
}

func NewGroq(cfg *config.GroqConfig, httpClient *http.Client) *Groq {
	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		oc.BaseURL = base
	}
	oc.HTTPClient = withRateLimitCapture(httpClient)

	return &Groq{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		apiKey: cfg.APIKey,
	}
}

func (g *Groq) Name() string { return NameGroq }

func (g *Groq) Configured() bool { return g.apiKey != "" }

func (g *Groq) Generate(ctx context.Context, req Request) Result {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return fail(NameGroq, http.StatusBadRequest, "empty_input", "Message text is required.")
	}
	if g.apiKey == "" {
		return fail(NameGroq, http.StatusServiceUnavailable, "missing_api_key", UnavailableMessage)
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
	}
	for _, turn := range req.History {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if turn.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: text})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: input,
	})

	capture := &rateLimitBody{}
	resp, err := g.client.CreateChatCompletion(context.WithValue(ctx, rateLimitBodyKey{}, capture), openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: groqTemperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return g.classify(ctx, err, capture.data)
	}

	if len(resp.Choices) == 0 {
		return fail(NameGroq, http.StatusServiceUnavailable, "empty_reply", UnavailableMessage)
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return fail(NameGroq, http.StatusServiceUnavailable, "empty_reply", UnavailableMessage)
	}
	return success(reply)
}

func (g *Groq) classify(ctx context.Context, err error, body []byte) Result {
	status, message := 0, err.Error()

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status, message = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		if len(reqErr.Body) > 0 {
			message = string(reqErr.Body)
			if len(body) == 0 {
				body = reqErr.Body
			}
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		res := fail(NameGroq, http.StatusTooManyRequests, "rate_limited", "Groq rate limit reached.")
		res.Failure.UpstreamStatus = status
		res.Failure.RetryAfter = retryAfterFromBody(body, message)
		return res
	case status > 0:
		res := fail(NameGroq, http.StatusServiceUnavailable, "upstream_non_ok", UnavailableMessage)
		res.Failure.UpstreamStatus = status
		return res
	}
	return transportFailure(ctx, NameGroq, err)
}

// retryAfterFromBody 优先读取响应体的 retry_after（秒），其次 error.message，最后是错误文本
func retryAfterFromBody(body []byte, message string) time.Duration {
	var payload struct {
		RetryAfter json.Number `json:"retry_after"`
		Error      struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		if secs, err := payload.RetryAfter.Float64(); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
		if payload.Error.Message != "" {
			message = payload.Error.Message
		}
	}
	return parseRetryHint(message)
}

type rateLimitBodyKey struct{}

// rateLimitBody 保存单次请求的 429 响应体
type rateLimitBody struct {
	data []byte
}

// rateLimitCapture 在 SDK 解析之前复制 429 响应体
type rateLimitCapture struct {
	base http.RoundTripper
}

func withRateLimitCapture(httpClient *http.Client) *http.Client {
	client := &http.Client{}
	if httpClient != nil {
		*client = *httpClient
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = &rateLimitCapture{base: base}
	return client
}

func (t *rateLimitCapture) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	capture, ok := req.Context().Value(rateLimitBodyKey{}).(*rateLimitBody)
	if !ok {
		return resp, nil
	}

	data, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	capture.data = data
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}

// transportFailure 归类没有 HTTP 状态码的错误
func transportFailure(ctx context.Context, provider string, err error) Result {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fail(provider, http.StatusGatewayTimeout, "timeout", UnavailableMessage)
	}
	return fail(provider, http.StatusServiceUnavailable, "request_failed", UnavailableMessage)
}
