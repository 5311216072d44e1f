package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/kanchana_server/internal/model"
)

type VectorRepository struct {
	db *gorm.DB
}

func NewVectorRepository(db *gorm.DB) *VectorRepository {
	return &VectorRepository{db: db}
}

// Upsert 写入或覆盖向量条目
func (r *VectorRepository) Upsert(v *model.MessageVector) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"namespace", "vector", "metadata"}),
	}).Create(v).Error
}

func (r *VectorRepository) ListByNamespace(namespace string) ([]model.MessageVector, error) {
	var vectors []model.MessageVector
	err := r.db.Where("namespace = ?", namespace).Find(&vectors).Error
	return vectors, err
}

// ListOrphanIDs 查询对应消息已不存在的向量 ID
func (r *VectorRepository) ListOrphanIDs(limit int) ([]string, error) {
	var ids []string
	err := r.db.Table("message_vectors AS v").
		Joins("LEFT JOIN messages AS m ON m.id = v.id").
		Where("m.id IS NULL").
		Limit(limit).
		Pluck("v.id", &ids).Error
	return ids, err
}

func (r *VectorRepository) DeleteByIDs(ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.Where("id IN ?", ids).Delete(&model.MessageVector{})
	return result.RowsAffected, result.Error
}
