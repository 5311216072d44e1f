package service

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/qs3c/kanchana_server/internal/pkg/embedding"
	"github.com/qs3c/kanchana_server/internal/pkg/vector"
)

// MemoryService 长期记忆：向量化历史消息并在生成前检索相关内容
type MemoryService struct {
	embedder embedding.Embedder
	index    *vector.Index
	store    *ConversationStore
	topK     int
	now      func() time.Time
}

// NewMemoryService embedder 为 nil 时记忆功能关闭
func NewMemoryService(embedder embedding.Embedder, index *vector.Index, store *ConversationStore, topK int) *MemoryService {
	if topK <= 0 {
		topK = 4
	}
	return &MemoryService{
		embedder: embedder,
		index:    index,
		store:    store,
		topK:     topK,
		now:      time.Now,
	}
}

// Enabled 向量化和索引均已配置
func (s *MemoryService) Enabled() bool {
	return s != nil && s.embedder != nil && s.index != nil
}

// Augment 返回与 text 相关的历史消息 "<role>: <text>"，任何失败都返回空
func (s *MemoryService) Augment(ctx context.Context, ownerKey, mode, text string) []string {
	if !s.Enabled() || text == "" {
		return nil
	}

	values, err := s.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("Memory embed failed for %s: %v", ownerKey, err)
		return nil
	}

	matches, err := s.index.Query(vector.Namespace(ownerKey), values, s.topK, map[string]string{"mode": mode})
	if err != nil {
		log.Printf("Memory query failed for %s: %v", ownerKey, err)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}

	turns, err := s.store.FetchByIDs(ownerKey, ids)
	if err != nil {
		log.Printf("Memory fetch failed for %s: %v", ownerKey, err)
		return nil
	}

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		if len(lines) >= s.topK {
			break
		}
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Text))
	}
	return lines
}

// IndexMessages 解密指定消息后向量化写入索引，单条失败不影响其余
func (s *MemoryService) IndexMessages(ctx context.Context, ownerKey, mode string, ids []string) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}

	turns, err := s.store.FetchByIDs(ownerKey, ids)
	if err != nil {
		return 0, fmt.Errorf("fetch messages: %w", err)
	}

	namespace := vector.Namespace(ownerKey)
	indexed := 0
	for _, t := range turns {
		if t.Text == "" {
			continue
		}
		values, err := s.embedder.Embed(ctx, t.Text)
		if err != nil {
			log.Printf("Embed message %s failed: %v", t.ID, err)
			continue
		}
		turnMode := t.Mode
		if turnMode == "" {
			turnMode = mode
		}
		err = s.index.Upsert(namespace, t.ID, values, map[string]string{
			"mode": turnMode,
			"role": t.Role,
			"ts":   strconv.FormatInt(s.now().UnixMilli(), 10),
		})
		if err != nil {
			log.Printf("Upsert vector %s failed: %v", t.ID, err)
			continue
		}
		if err := s.store.MarkIndexed(t.ID, t.ID); err != nil {
			log.Printf("Mark message %s indexed failed: %v", t.ID, err)
		}
		indexed++
	}
	return indexed, nil
}
