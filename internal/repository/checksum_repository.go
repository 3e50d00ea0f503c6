package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pai-context-go/internal/model"
)

// ChecksumRepository 是校验和账本，记录每个数据源下文件的内容摘要。
// 读取后比较不加锁，同一数据源的并发摄取以最后一次写入为准。
type ChecksumRepository interface {
	List(ctx context.Context, sourceID string) ([]model.Checksum, error)
	Upsert(ctx context.Context, sourceID, path, checksum string) error
}

type checksumRepository struct {
	db *gorm.DB
}

// NewChecksumRepository 创建一个新的 ChecksumRepository 实例。
func NewChecksumRepository(db *gorm.DB) ChecksumRepository {
	return &checksumRepository{db: db}
}

func (r *checksumRepository) List(ctx context.Context, sourceID string) ([]model.Checksum, error) {
	var sums []model.Checksum
	err := r.db.WithContext(ctx).Where("source_id = ?", sourceID).Find(&sums).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list checksums: %w", err)
	}
	return sums, nil
}

func (r *checksumRepository) Upsert(ctx context.Context, sourceID, path, checksum string) error {
	row := model.Checksum{SourceID: sourceID, Path: path, Checksum: checksum}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_id"}, {Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"checksum", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert checksum: %w", err)
	}
	return nil
}
