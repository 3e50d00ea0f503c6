// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pai-context-go/internal/model"
)

// SourceRepository 定义了对 sources 表的数据操作接口。
type SourceRepository interface {
	// GetOrCreate 按 (project, type, name) 查找数据源，不存在时创建。
	GetOrCreate(ctx context.Context, projectID string, sourceType model.SourceType, name string) (*model.Source, error)
}

type sourceRepository struct {
	db *gorm.DB
}

// NewSourceRepository 创建一个新的 SourceRepository 实例。
func NewSourceRepository(db *gorm.DB) SourceRepository {
	return &sourceRepository{db: db}
}

func (r *sourceRepository) GetOrCreate(ctx context.Context, projectID string, sourceType model.SourceType, name string) (*model.Source, error) {
	src := &model.Source{ID: uuid.NewString(), ProjectID: projectID, Type: sourceType, Name: name}
	// 并发创建同一个数据源时依赖唯一索引，冲突方回退为查询
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(src).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}

	var found model.Source
	err = r.db.WithContext(ctx).
		Where("project_id = ? AND type = ? AND name = ?", projectID, sourceType, name).
		First(&found).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}
	return &found, nil
}
