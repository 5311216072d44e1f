package vector

import (
	"errors"
	"sort"

	"github.com/qs3c/kanchana_server/internal/model"
	"github.com/qs3c/kanchana_server/internal/pkg/embedding"
	"github.com/qs3c/kanchana_server/internal/repository"
)

// ErrEmptyVector 空向量不入库
var ErrEmptyVector = errors.New("empty vector")

// Match 检索命中
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Index 基于数据库的向量索引，按 namespace 全量扫描计算余弦相似度
type Index struct {
	repo *repository.VectorRepository
}

func NewIndex(repo *repository.VectorRepository) *Index {
	return &Index{repo: repo}
}

// Namespace 每个 owner 一个命名空间
func Namespace(ownerKey string) string {
	return "kanchana-user-" + ownerKey
}

func (i *Index) Upsert(namespace, id string, values []float32, metadata map[string]string) error {
	if len(values) == 0 {
		return ErrEmptyVector
	}
	return i.repo.Upsert(&model.MessageVector{
		ID:        id,
		Namespace: namespace,
		Vector:    values,
		Metadata:  metadata,
	})
}

// Query 返回与 values 最相近的 topK 个 ID，filter 中的键值需全部匹配
func (i *Index) Query(namespace string, values []float32, topK int, filter map[string]string) ([]Match, error) {
	if len(values) == 0 || topK <= 0 {
		return nil, nil
	}

	entries, err := i.repo.ListByNamespace(namespace)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		if !matchesFilter(e.Metadata, filter) {
			continue
		}
		matches = append(matches, Match{
			ID:       e.ID,
			Score:    embedding.CosineSimilarity(values, e.Vector),
			Metadata: e.Metadata,
		})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}
