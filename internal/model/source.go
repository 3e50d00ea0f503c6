package model

import "time"

// SourceType 标识一个数据源的来源集成。
type SourceType string

const (
	SourceFileUpload   SourceType = "file-upload"
	SourceJSONUpload   SourceType = "json-upload"
	SourceRepoSnapshot SourceType = "repo-snapshot"
)

// Valid 判断来源类型是否受支持。
func (t SourceType) Valid() bool {
	switch t {
	case SourceFileUpload, SourceJSONUpload, SourceRepoSnapshot:
		return true
	}
	return false
}

// Source 将同一集成下的文件归为一组。由摄取流程按需创建，本服务从不删除。
type Source struct {
	ID        string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	ProjectID string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_project_source" json:"projectId"`
	Type      SourceType `gorm:"type:varchar(32);not null;uniqueIndex:idx_project_source" json:"type"`
	Name      string     `gorm:"type:varchar(255);not null;uniqueIndex:idx_project_source" json:"name"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Source) TableName() string {
	return "sources"
}
