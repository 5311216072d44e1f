package service

import (
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/qs3c/kanchana_server/internal/model"
	"github.com/qs3c/kanchana_server/internal/model/dto"
	"github.com/qs3c/kanchana_server/internal/pkg/crypto"
	"github.com/qs3c/kanchana_server/internal/repository"
)

// StoredTurn 解密后的一条消息
type StoredTurn struct {
	ID        string
	Role      string
	Text      string
	ImageURL  string
	Mode      string
	CreatedAt time.Time
}

// ToClient 转为接口返回结构
func (t *StoredTurn) ToClient() dto.ChatMessage {
	return dto.ChatMessage{
		ID:        t.ID,
		Role:      t.Role,
		Text:      t.Text,
		ImageURL:  t.ImageURL,
		Mode:      t.Mode,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		Timestamp: t.CreatedAt.UnixMilli(),
	}
}

// ConversationStore 按 (owner, mode) 加密存取消息
type ConversationStore struct {
	repo   *repository.MessageRepository
	cipher *crypto.Cipher
	now    func() time.Time
}

func NewConversationStore(repo *repository.MessageRepository, cipher *crypto.Cipher) *ConversationStore {
	return &ConversationStore{
		repo:   repo,
		cipher: cipher,
		now:    time.Now,
	}
}

// Append 加密并保存一条消息
func (s *ConversationStore) Append(ownerKey, mode, role, text, imageURL string) (*StoredTurn, error) {
	sealed, err := s.cipher.Encrypt(text, crypto.OwnerAAD(ownerKey))
	if err != nil {
		return nil, err
	}

	// v7 按生成顺序递增，同一毫秒内的消息也能按 id 排序
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:          id.String(),
		OwnerKey:    ownerKey,
		Mode:        mode,
		Role:        role,
		CipherText:  sealed.CipherText,
		IV:          sealed.IV,
		AuthTag:     sealed.AuthTag,
		ContentHash: crypto.ContentHash(text),
		ImageURL:    imageURL,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(msg); err != nil {
		return nil, err
	}

	return &StoredTurn{
		ID:        msg.ID,
		Role:      role,
		Text:      text,
		ImageURL:  imageURL,
		Mode:      mode,
		CreatedAt: msg.CreatedAt,
	}, nil
}

// RecentHistory 最近 limit 条，按时间正序；任一条解密失败即返回错误
func (s *ConversationStore) RecentHistory(ownerKey, mode string, limit int) ([]StoredTurn, error) {
	records, err := s.repo.ListRecent(ownerKey, mode, limit)
	if err != nil {
		return nil, err
	}

	turns := make([]StoredTurn, 0, len(records))
	for i := range records {
		turn, err := s.decrypt(ownerKey, &records[i])
		if err != nil {
			return nil, integrityError(err)
		}
		turns = append(turns, *turn)
	}
	return turns, nil
}

// RecentContext 同 RecentHistory，但跳过解密失败的记录
func (s *ConversationStore) RecentContext(ownerKey, mode string, limit int) ([]StoredTurn, error) {
	records, err := s.repo.ListRecent(ownerKey, mode, limit)
	if err != nil {
		return nil, err
	}
	return s.decryptAll(ownerKey, records), nil
}

// FetchByIDs 按 ID 读取，按时间倒序；空输入不访问存储
func (s *ConversationStore) FetchByIDs(ownerKey string, ids []string) ([]StoredTurn, error) {
	if len(ids) == 0 {
		return []StoredTurn{}, nil
	}

	records, err := s.repo.ListByIDs(ownerKey, ids)
	if err != nil {
		return nil, err
	}
	return s.decryptAll(ownerKey, records), nil
}

// DeleteAll 删除 (owner, mode) 的全部消息
func (s *ConversationStore) DeleteAll(ownerKey, mode string) (int64, error) {
	return s.repo.DeleteByOwnerMode(ownerKey, mode)
}

// MarkIndexed 记录消息对应的向量 ID
func (s *ConversationStore) MarkIndexed(id, vectorID string) error {
	return s.repo.UpdateVectorID(id, vectorID)
}

func (s *ConversationStore) decryptAll(ownerKey string, records []model.Message) []StoredTurn {
	turns := make([]StoredTurn, 0, len(records))
	for i := range records {
		turn, err := s.decrypt(ownerKey, &records[i])
		if err != nil {
			log.Printf("Skipping message %s: %v", records[i].ID, err)
			continue
		}
		turns = append(turns, *turn)
	}
	return turns
}

func (s *ConversationStore) decrypt(ownerKey string, msg *model.Message) (*StoredTurn, error) {
	text, err := s.cipher.Decrypt(crypto.Sealed{
		CipherText: msg.CipherText,
		IV:         msg.IV,
		AuthTag:    msg.AuthTag,
	}, crypto.OwnerAAD(ownerKey))
	if err != nil {
		return nil, err
	}
	return &StoredTurn{
		ID:        msg.ID,
		Role:      msg.Role,
		Text:      text,
		ImageURL:  msg.ImageURL,
		Mode:      msg.Mode,
		CreatedAt: msg.CreatedAt,
	}, nil
}

