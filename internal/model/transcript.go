package model

import (
	"time"

	"gorm.io/datatypes"
)

// Transcript 是一次完整问答的持久化记录，每个 completion 请求恰好写入一次。
type Transcript struct {
	ID        uint                         `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID string                       `gorm:"type:varchar(64);not null;index" json:"projectId"`
	Prompt    string                       `gorm:"type:text;not null" json:"prompt"`
	Response  *string                      `gorm:"type:mediumtext" json:"response"`
	Embedding datatypes.JSONSlice[float32] `gorm:"type:json" json:"-"`
	NoAnswer  bool                         `gorm:"not null;default:false" json:"noAnswer"`
	CreatedAt time.Time                    `gorm:"autoCreateTime" json:"createdAt"`
}

func (Transcript) TableName() string {
	return "query_transcripts"
}

// TranscriptDTO 是返回给前端的问答记录，时间按本地格式输出。
type TranscriptDTO struct {
	ID        uint      `json:"id"`
	Prompt    string    `json:"prompt"`
	Response  *string   `json:"response"`
	NoAnswer  bool      `json:"noAnswer"`
	CreatedAt LocalTime `json:"createdAt"`
}

// ToDTO 将持久化模型转换为对外结构。
func (t Transcript) ToDTO() TranscriptDTO {
	return TranscriptDTO{
		ID:        t.ID,
		Prompt:    t.Prompt,
		Response:  t.Response,
		NoAnswer:  t.NoAnswer,
		CreatedAt: LocalTime(t.CreatedAt),
	}
}
