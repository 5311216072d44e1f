package embedding

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/qs3c/kanchana_server/config"
)

// Embedder 文本向量化
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrEmptyEmbedding 返回了空向量
var ErrEmptyEmbedding = errors.New("no embedding returned")

// OpenAIEmbedder 走 OpenAI 兼容的 /embeddings 接口
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedder(cfg *config.MemoryConfig, httpClient *http.Client) *OpenAIEmbedder {
	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		oc.BaseURL = base
	}
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(oc),
		model:  model,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return resp.Data[0].Embedding, nil
}

// New 按配置选择向量化实现，未启用时返回 nil
func New(cfg *config.MemoryConfig, gemini Embedder, httpClient *http.Client) Embedder {
	if !cfg.Enabled {
		return nil
	}
	switch strings.ToLower(cfg.Embedder) {
	case "openai":
		if cfg.APIKey == "" {
			return nil
		}
		return NewOpenAIEmbedder(cfg, httpClient)
	default:
		return gemini
	}
}

// CosineSimilarity 余弦相似度，长度不一致或零向量返回 0
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
