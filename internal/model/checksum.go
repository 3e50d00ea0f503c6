package model

import "time"

// Checksum 记录某个数据源下已索引文件的内容摘要，用于跳过未变更的文件。
type Checksum struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	SourceID  string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_source_path" json:"sourceId"`
	Path      string    `gorm:"type:varchar(512);not null;uniqueIndex:idx_source_path" json:"path"`
	Checksum  string    `gorm:"type:varchar(64);not null" json:"checksum"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Checksum) TableName() string {
	return "source_checksums"
}
