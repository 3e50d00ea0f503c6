package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"pai-context-go/internal/service"
	"pai-context-go/pkg/llm"
	"pai-context-go/pkg/log"
)

// CompletionRequest 定义了问答 API 的请求体结构。
type CompletionRequest struct {
	Prompt                 string   `json:"prompt"`
	Model                  string   `json:"model"`
	Stream                 bool     `json:"stream"`
	IDontKnowMessage       string   `json:"i_dont_know_message"`
	PromptTemplate         string   `json:"promptTemplate"`
	Temperature            *float64 `json:"temperature"`
	TopP                   *float64 `json:"topP"`
	FrequencyPenalty       *float64 `json:"frequencyPenalty"`
	PresencePenalty        *float64 `json:"presencePenalty"`
	MaxTokens              *int     `json:"maxTokens"`
	SectionsMatchCount     int      `json:"sectionsMatchCount"`
	SectionsMatchThreshold float64  `json:"sectionsMatchThreshold"`
	ContextTokenBudget     int      `json:"contextTokenBudget"`
}

func (r CompletionRequest) toService(projectID, apiKey string) service.CompletionRequest {
	var params *llm.GenerationParams
	if r.Temperature != nil || r.TopP != nil || r.FrequencyPenalty != nil || r.PresencePenalty != nil || r.MaxTokens != nil {
		params = &llm.GenerationParams{
			Temperature:      r.Temperature,
			TopP:             r.TopP,
			FrequencyPenalty: r.FrequencyPenalty,
			PresencePenalty:  r.PresencePenalty,
			MaxTokens:        r.MaxTokens,
		}
	}
	return service.CompletionRequest{
		ProjectID:          projectID,
		Prompt:             r.Prompt,
		Model:              r.Model,
		Stream:             r.Stream,
		IDontKnowMessage:   r.IDontKnowMessage,
		PromptTemplate:     r.PromptTemplate,
		Params:             params,
		MatchCount:         r.SectionsMatchCount,
		MatchThreshold:     r.SectionsMatchThreshold,
		ContextTokenBudget: r.ContextTokenBudget,
		APIKey:             apiKey,
	}
}

// CompletionHandler 负责 HTTP 问答请求，流式时以 chunked 字节流返回。
type CompletionHandler struct {
	completionService service.CompletionService
}

// NewCompletionHandler 创建一个新的 CompletionHandler 实例。
func NewCompletionHandler(completionService service.CompletionService) *CompletionHandler {
	return &CompletionHandler{completionService: completionService}
}

// httpFrameWriter 把帧直接写入响应并立即 flush。
type httpFrameWriter struct {
	c       *gin.Context
	started bool
}

func (w *httpFrameWriter) WriteHeader(header []byte) error {
	w.started = true
	w.c.Header("Content-Type", "application/octet-stream")
	w.c.Header("Cache-Control", "no-cache")
	w.c.Header("X-Accel-Buffering", "no")
	w.c.Status(http.StatusOK)
	if _, err := w.c.Writer.Write(header); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func (w *httpFrameWriter) WriteChunk(chunk string) error {
	if _, err := w.c.Writer.WriteString(chunk); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

// Complete 处理问答请求。
func (h *CompletionHandler) Complete(c *gin.Context) {
	var body CompletionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.String(http.StatusBadRequest, "Invalid request body")
		return
	}
	req := body.toService(c.GetString(ProjectIDKey), c.GetHeader("X-OpenAI-Key"))

	if !req.Stream {
		res, err := h.completionService.Complete(c.Request.Context(), req, nil)
		if err != nil {
			writeCompletionError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	w := &httpFrameWriter{c: c}
	_, err := h.completionService.Complete(c.Request.Context(), req, w)
	if err == nil {
		return
	}
	if w.started {
		// 头帧已发出，状态码无法再修改，只能断开
		log.Warnf("[CompletionHandler] 流式响应中途失败, project: %s, error: %v", req.ProjectID, err)
		return
	}
	writeCompletionError(c, err)
}

// writeCompletionError 透传错误状态码，响应体为纯文本。
func writeCompletionError(c *gin.Context, err error) {
	status, message := completionErrorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("[CompletionHandler] 问答失败: %v", err)
	}
	c.String(status, message)
}

func completionErrorStatus(err error) (int, string) {
	var apiErr *service.ApiError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus(), apiErr.Message
	}
	var upstream *llm.UpstreamError
	if errors.As(err, &upstream) {
		status := upstream.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		return status, upstream.Body
	}
	return http.StatusInternalServerError, "There was an error processing your request"
}
