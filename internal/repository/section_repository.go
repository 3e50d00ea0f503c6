package repository

import (
	"context"

	"gorm.io/gorm"

	"pai-context-go/internal/model"
)

// SectionRepository 定义了对 file_sections 表的数据操作接口。
type SectionRepository interface {
	BatchCreate(ctx context.Context, sections []*model.Section) error
	DeleteByPath(ctx context.Context, sourceID, path string) error
}

type sectionRepository struct {
	db *gorm.DB
}

// NewSectionRepository 创建一个新的 SectionRepository 实例。
func NewSectionRepository(db *gorm.DB) SectionRepository {
	return &sectionRepository{db: db}
}

// BatchCreate 批量创建分块记录。
func (r *sectionRepository) BatchCreate(ctx context.Context, sections []*model.Section) error {
	if len(sections) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(sections, 100).Error // 每100条记录一批
}

// DeleteByPath 删除某个文件的全部分块。
func (r *sectionRepository) DeleteByPath(ctx context.Context, sourceID, path string) error {
	return r.db.WithContext(ctx).
		Where("source_id = ? AND path = ?", sourceID, path).
		Delete(&model.Section{}).Error
}
