package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/qs3c/kanchana_server/config"
)

const (
	geminiTemperature = 0.9
	geminiTopP        = 0.95
	geminiAPIVersion  = "v1beta"

	imagePromptPrefix    = "Create a single cinematic image with mysterious poetic tone. Prompt: "
	defaultImageCaption  = "Tumhari khwahish ko maine tasveer de di hai."
	retryInfoType        = "type.googleapis.com/google.rpc.RetryInfo"
	geminiUnavailableMsg = "Gemini request failed."
)

var (
	retryDelayPattern   = regexp.MustCompile(`(?i)^([\d.]+)s$`)
	retryMessagePattern = regexp.MustCompile(`(?i)retry in ([\d.]+)s`)
)

// Gemini 高质量对话、图片生成和向量化
type Gemini struct {
	client         *genai.Client
	chatModel      string
	imageModel     string
	embeddingModel string
}

// NewGemini 未配置 API key 时返回未配置状态的实例
func NewGemini(cfg *config.GeminiConfig, httpClient *http.Client) *Gemini {
	g := &Gemini{
		chatModel:      cfg.ChatModel,
		imageModel:     cfg.ImageModel,
		embeddingModel: cfg.EmbeddingModel,
	}
	if cfg.APIKey == "" {
		return g
	}

	version := cfg.APIVersion
	if version == "" {
		version = geminiAPIVersion
	}
	baseURL := strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/"+version)

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    baseURL,
			APIVersion: version,
		},
	})
	if err != nil {
		log.Printf("Warning: Failed to init Gemini client: %v", err)
		return g
	}
	g.client = client
	return g
}

func (g *Gemini) Name() string { return NameGemini }

func (g *Gemini) Configured() bool { return g.client != nil }

func (g *Gemini) Generate(ctx context.Context, req Request) Result {
	input := strings.TrimSpace(req.Input)
	if input == "" {
		return fail(NameGemini, http.StatusBadRequest, "empty_input", "Message text is required.")
	}
	if g.client == nil {
		return Result{Failure: missingGeminiKey()}
	}

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if turn.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	contents = append(contents, genai.NewContentFromText(input, genai.RoleUser))

	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](geminiTemperature),
		TopP:            genai.Ptr[float32](geminiTopP),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.chatModel, contents, genCfg)
	if err != nil {
		return Result{Failure: classifyGeminiError(ctx, err)}
	}

	text := joinCandidateText(resp)
	if text == "" {
		return fail(NameGemini, http.StatusServiceUnavailable, "empty_reply", UnavailableMessage)
	}
	return success(text)
}

// GenerateImage 生成图片，返回的 URL 为 data: URI
func (g *Gemini) GenerateImage(ctx context.Context, prompt string) ImageResult {
	if g.client == nil {
		return ImageResult{Failure: missingGeminiKey()}
	}

	contents := []*genai.Content{genai.NewContentFromText(imagePromptPrefix+prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.imageModel, contents, nil)
	if err != nil {
		return ImageResult{Failure: classifyGeminiError(ctx, err)}
	}

	var caption strings.Builder
	var imageURL string
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				caption.WriteString(part.Text)
				caption.WriteString("\n")
			}
			if blob := part.InlineData; blob != nil && len(blob.Data) > 0 && blob.MIMEType != "" {
				imageURL = fmt.Sprintf("data:%s;base64,%s", blob.MIMEType, base64.StdEncoding.EncodeToString(blob.Data))
			}
		}
	}

	text := strings.TrimSpace(caption.String())
	if text == "" {
		text = defaultImageCaption
	}
	return ImageResult{Caption: text, URL: imageURL}
}

// Embed 文本向量化
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.client == nil {
		return nil, missingGeminiKey()
	}

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, contents, nil)
	if err != nil {
		return nil, classifyGeminiError(ctx, err)
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("gemini returned empty embedding")
	}
	return resp.Embeddings[0].Values, nil
}

func missingGeminiKey() *Failure {
	return &Failure{
		Provider:   NameGemini,
		StatusCode: http.StatusServiceUnavailable,
		Reason:     "missing_api_key",
		Message:    "Gemini API key is not configured on server.",
	}
}

// classifyGeminiError 上游 5xx 记为 502，429 记录重试时间，其余 4xx 按可重试处理
func classifyGeminiError(ctx context.Context, err error) *Failure {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return transportFailure(ctx, NameGemini, err).Failure
	}

	failure := &Failure{
		Provider:       NameGemini,
		StatusCode:     http.StatusServiceUnavailable,
		Reason:         "upstream_non_ok",
		Message:        geminiUnavailableMsg,
		UpstreamStatus: apiErr.Code,
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		failure.StatusCode = http.StatusTooManyRequests
		failure.Reason = "rate_limited"
		failure.RetryAfter = geminiRetryDelay(apiErr)
	case apiErr.Code >= 500:
		failure.StatusCode = http.StatusBadGateway
	}
	return failure
}

// geminiRetryDelay 优先读取 RetryInfo.retryDelay，其次解析错误消息
func geminiRetryDelay(apiErr genai.APIError) time.Duration {
	for _, d := range apiErr.Details {
		if t, _ := d["@type"].(string); t != retryInfoType {
			continue
		}
		delay, _ := d["retryDelay"].(string)
		if m := retryDelayPattern.FindStringSubmatch(delay); len(m) == 2 {
			if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
				return time.Duration(secs * float64(time.Second))
			}
		}
	}

	if m := retryMessagePattern.FindStringSubmatch(apiErr.Message); len(m) == 2 {
		if secs, err := strconv.ParseFloat(m[1], 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultRetryAfter
}

func joinCandidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	parts := make([]string, 0, len(resp.Candidates[0].Content.Parts))
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
