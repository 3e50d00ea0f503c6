package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pai-context-go/internal/model"
	"pai-context-go/pkg/log"
)

// TranscriptLister 读取项目最近的问答记录。
type TranscriptLister interface {
	ListByProject(ctx context.Context, projectID string, limit int) ([]model.Transcript, error)
}

// TranscriptHandler 处理问答记录相关的 API 请求。
type TranscriptHandler struct {
	transcripts TranscriptLister
}

// NewTranscriptHandler 创建一个新的 TranscriptHandler。
func NewTranscriptHandler(transcripts TranscriptLister) *TranscriptHandler {
	return &TranscriptHandler{transcripts: transcripts}
}

// List 返回当前项目最近的问答记录，按时间倒序。
func (h *TranscriptHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit")) // 非法值交给仓库层使用默认值
	projectID := c.GetString(ProjectIDKey)

	records, err := h.transcripts.ListByProject(c.Request.Context(), projectID, limit)
	if err != nil {
		log.Errorf("[TranscriptHandler] 查询问答记录失败, project: %s, error: %v", projectID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "Failed to retrieve transcripts",
			"data":    nil,
		})
		return
	}

	dtos := make([]model.TranscriptDTO, 0, len(records))
	for _, r := range records {
		dtos = append(dtos, r.ToDTO())
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    dtos,
	})
}
