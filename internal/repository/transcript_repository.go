package repository

import (
	"context"

	"gorm.io/gorm"

	"pai-context-go/internal/model"
)

// TranscriptRepository 定义了对 query_transcripts 表的数据操作接口。
type TranscriptRepository interface {
	Create(ctx context.Context, t *model.Transcript) error
	ListByProject(ctx context.Context, projectID string, limit int) ([]model.Transcript, error)
}

type transcriptRepository struct {
	db *gorm.DB
}

// NewTranscriptRepository 创建一个新的 TranscriptRepository 实例。
func NewTranscriptRepository(db *gorm.DB) TranscriptRepository {
	return &transcriptRepository{db: db}
}

func (r *transcriptRepository) Create(ctx context.Context, t *model.Transcript) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// ListByProject 按时间倒序返回最近的 limit 条记录。
func (r *transcriptRepository) ListByProject(ctx context.Context, projectID string, limit int) ([]model.Transcript, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []model.Transcript
	err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
