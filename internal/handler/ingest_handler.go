// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pai-context-go/internal/decoder"
	"pai-context-go/internal/model"
	"pai-context-go/internal/pipeline"
	"pai-context-go/internal/service"
	"pai-context-go/pkg/log"
)

// ProjectIDKey 是 AuthMiddleware 写入 gin 上下文的键。
const ProjectIDKey = "projectID"

const contentQuotaErrorName = "CONTENT_TOKEN_QUOTA_EXCEEDED"

// IngestHandler 负责处理数据源的摄取请求。
type IngestHandler struct {
	ingestService service.IngestService
	maxBodyBytes  int64
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。maxBodyBytes 为 0 表示不限制请求体大小。
func NewIngestHandler(ingestService service.IngestService, maxBodyBytes int64) *IngestHandler {
	return &IngestHandler{ingestService: ingestService, maxBodyBytes: maxBodyBytes}
}

func (h *IngestHandler) readRequest(c *gin.Context) (service.IngestRequest, bool) {
	body := c.Request.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(c.Writer, body, h.maxBodyBytes)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"status": "Payload too large"})
			return service.IngestRequest{}, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"status": "Failed to read request body"})
		return service.IngestRequest{}, false
	}

	force, _ := strconv.ParseBool(c.GetHeader("X-Force-Retrain")) // 解析失败视为 false
	return service.IngestRequest{
		ProjectID:    c.GetString(ProjectIDKey),
		SourceType:   model.SourceType(c.Param("sourceType")),
		SourceName:   c.GetHeader("X-Source-Name"),
		ContentType:  c.GetHeader("Content-Type"),
		Payload:      payload,
		ForceRetrain: force,
	}, true
}

// Ingest 同步执行一次摄取，返回批次结果。
func (h *IngestHandler) Ingest(c *gin.Context) {
	req, ok := h.readRequest(c)
	if !ok {
		return
	}

	res, err := h.ingestService.Ingest(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, pipeline.ErrQuotaExceeded) {
			// 配额耗尽前已处理的文件仍计入结果
			body := gin.H{
				"error":        "Content token quota exceeded for this project",
				"name":         contentQuotaErrorName,
				"successCount": 0,
			}
			if res != nil {
				body["error"] = res.Message
				body["successCount"] = res.SuccessCount
			}
			c.JSON(http.StatusForbidden, body)
			return
		}
		if writeRequestError(c, err) {
			return
		}
		log.Errorf("[IngestHandler] 摄取失败, project: %s, error: %v", req.ProjectID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       res.Outcome,
		"message":      res.Message,
		"successCount": res.SuccessCount,
	})
}

// IngestAsync 保存载荷并投递异步任务。
func (h *IngestHandler) IngestAsync(c *gin.Context) {
	req, ok := h.readRequest(c)
	if !ok {
		return
	}

	objectName, err := h.ingestService.Enqueue(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrAsyncDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "Async ingestion is not available"})
			return
		}
		if writeRequestError(c, err) {
			return
		}
		log.Errorf("[IngestHandler] 异步摄取入队失败, project: %s, error: %v", req.ProjectID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "Internal server error"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "objectName": objectName})
}

// writeRequestError 处理调用方可以修正的错误，返回是否已写入响应。
func writeRequestError(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, service.ErrUnknownSourceType):
		c.JSON(http.StatusBadRequest, gin.H{"status": "Unknown source type: " + c.Param("sourceType")})
	case errors.Is(err, decoder.ErrUnsupportedContentType):
		c.JSON(http.StatusBadRequest, gin.H{"status": "Unsupported content type"})
	case errors.Is(err, decoder.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"status": "Failed to decode payload: " + err.Error()})
	default:
		return false
	}
	return true
}
