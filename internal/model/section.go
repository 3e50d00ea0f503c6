package model

// Section 对应于数据库中的 file_sections 表，保存切块后的文本。
// 向量本身只写入 Elasticsearch（见 EsSection）。
type Section struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceID   string `gorm:"type:varchar(36);not null;index:idx_section_source_path" json:"sourceId"`
	ProjectID  string `gorm:"type:varchar(64);not null;index" json:"projectId"`
	Path       string `gorm:"type:varchar(512);not null;index:idx_section_source_path" json:"path"`
	ChunkID    int    `gorm:"not null" json:"chunkId"`
	Content    string `gorm:"type:text" json:"content"`
	TokenCount int    `gorm:"not null;default:0" json:"tokenCount"`
	Checksum   string `gorm:"type:varchar(64)" json:"checksum"`
}

func (Section) TableName() string {
	return "file_sections"
}

// EsSection 定义了存储在 Elasticsearch 中的分块文档结构。
type EsSection struct {
	SectionID    string    `json:"section_id"` // sourceID + path + chunkID 的组合
	ProjectID    string    `json:"project_id"`
	SourceID     string    `json:"source_id"`
	Path         string    `json:"path"`
	ChunkID      int       `json:"chunk_id"`
	Content      string    `json:"content"`
	TokenCount   int       `json:"token_count"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}

// RetrievedSection 是一次检索返回的排序结果，按 Similarity 降序排列。
type RetrievedSection struct {
	Path       string  `json:"path"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	TokenCount int     `json:"token_count"`
}
