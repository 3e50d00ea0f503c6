package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"pai-context-go/internal/config"
	"pai-context-go/internal/model"
	"pai-context-go/internal/prompt"
	"pai-context-go/pkg/llm"
	"pai-context-go/pkg/log"
)

// FrameWriter 是流式补全的下游。
type FrameWriter interface {
	// WriteHeader 写入引用列表与分隔符组成的头帧，每个请求恰好一次，先于任何模型文本。
	WriteHeader(header []byte) error
	WriteChunk(chunk string) error
}

// TranscriptWriter 持久化问答记录。
type TranscriptWriter interface {
	Create(ctx context.Context, t *model.Transcript) error
}

// CompletionUsageWriter 记录补全 token 用量。
type CompletionUsageWriter interface {
	AddCompletionTokens(ctx context.Context, projectID string, n int64) error
}

// CompletionRequest 是一次问答请求。零值字段使用配置默认值。
type CompletionRequest struct {
	ProjectID          string
	Prompt             string
	Model              string
	Stream             bool
	IDontKnowMessage   string
	PromptTemplate     string
	Params             *llm.GenerationParams
	MatchCount         int
	MatchThreshold     float64
	ContextTokenBudget int
	// APIKey 是调用方自带的密钥，非空时不在本服务计量。
	APIKey string
}

// DebugInfo 是非流式响应中附带的检索细节。
type DebugInfo struct {
	Sections      []model.RetrievedSection `json:"sections"`
	ContextTokens int                      `json:"contextTokens"`
}

// CompletionResult 是非流式补全的结果；流式时 Text 为累计的响应。
type CompletionResult struct {
	Text       string     `json:"text"`
	References []string   `json:"references"`
	DebugInfo  *DebugInfo `json:"debugInfo,omitempty"`
}

// CompletionService 定义了问答操作的接口。
type CompletionService interface {
	// Complete 执行检索与补全。Stream 为 true 时通过 w 转发，否则 w 可以为 nil。
	Complete(ctx context.Context, req CompletionRequest, w FrameWriter) (*CompletionResult, error)
}

type completionService struct {
	retrieval   RetrievalService
	llmClient   llm.Client
	transcripts TranscriptWriter
	usage       CompletionUsageWriter
	cfg         config.CompletionConfig
}

// NewCompletionService 创建一个新的 CompletionService 实例。
func NewCompletionService(retrieval RetrievalService, llmClient llm.Client, transcripts TranscriptWriter, usage CompletionUsageWriter, cfg config.CompletionConfig) CompletionService {
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = 4
	}
	return &completionService{
		retrieval:   retrieval,
		llmClient:   llmClient,
		transcripts: transcripts,
		usage:       usage,
		cfg:         cfg,
	}
}

// transcriptRecorder 保证每个请求只写入一次问答记录。
type transcriptRecorder struct {
	once sync.Once
	repo TranscriptWriter
	base model.Transcript
}

func (r *transcriptRecorder) record(ctx context.Context, response *string, noAnswer bool) {
	r.once.Do(func() {
		t := r.base
		t.Response = response
		t.NoAnswer = noAnswer
		// 客户端断开后仍需落库
		if err := r.repo.Create(context.WithoutCancel(ctx), &t); err != nil {
			log.Errorf("[CompletionService] 保存问答记录失败, project: %s, error: %v", t.ProjectID, err)
		}
	})
}

func (s *completionService) Complete(ctx context.Context, req CompletionRequest, w FrameWriter) (*CompletionResult, error) {
	query := prompt.SanitizeQuery(req.Prompt)
	if query == "" {
		return nil, &ApiError{Code: CodeInvalidQuery, Message: "Missing query in request data", Err: ErrEmptyPrompt}
	}
	if req.Stream && w == nil {
		return nil, errors.New("stream requested without a frame writer")
	}
	idk := req.IDontKnowMessage
	if idk == "" {
		idk = s.cfg.IDontKnowMessage
	}

	rec := &transcriptRecorder{
		repo: s.transcripts,
		base: model.Transcript{ProjectID: req.ProjectID, Prompt: query},
	}

	// 1. 检索
	retrieved, err := s.retrieval.Search(ctx, RetrievalRequest{
		ProjectID:      req.ProjectID,
		Query:          query,
		MatchCount:     firstPositive(req.MatchCount, s.cfg.MatchCount),
		MatchThreshold: firstNonZero(req.MatchThreshold, s.cfg.MatchThreshold),
		SelfFunded:     req.APIKey == "",
	})
	if err != nil {
		rec.record(ctx, nil, true)
		return nil, err
	}
	rec.base.Embedding = retrieved.QueryEmbedding

	// 2. 组装上下文与提示词
	assembled := prompt.Assemble(retrieved.Sections, firstPositive(req.ContextTokenBudget, s.cfg.ContextTokenBudget))
	tpl := req.PromptTemplate
	if tpl == "" {
		tpl = s.cfg.PromptTemplate
	}
	rendered := prompt.Render(tpl, prompt.Vars{
		IDontKnowMessage: idk,
		Context:          assembled.Text,
		Prompt:           query,
	})

	chatReq := llm.ChatRequest{
		Model:    req.Model,
		Messages: []llm.Message{{Role: "user", Content: rendered}},
		Params:   req.Params,
		APIKey:   req.APIKey,
	}

	if !req.Stream {
		return s.completeBuffered(ctx, req, chatReq, rec, idk, assembled, retrieved.Sections)
	}
	return s.completeStream(ctx, req, chatReq, rec, idk, rendered, assembled.References, w)
}

func (s *completionService) completeBuffered(ctx context.Context, req CompletionRequest, chatReq llm.ChatRequest, rec *transcriptRecorder, idk string, assembled prompt.Context, sections []model.RetrievedSection) (*CompletionResult, error) {
	resp, err := s.llmClient.Complete(ctx, chatReq)
	if err != nil {
		log.Errorf("[CompletionService] 调用 LLM 失败, project: %s, error: %v", req.ProjectID, err)
		rec.record(ctx, nil, true)
		return nil, err
	}

	if req.APIKey == "" {
		s.meter(ctx, req.ProjectID, int64(resp.TotalTokens))
	}
	text := resp.Text
	rec.record(ctx, &text, isNoAnswer(text, idk))

	return &CompletionResult{
		Text:       text,
		References: assembled.References,
		DebugInfo:  &DebugInfo{Sections: sections, ContextTokens: assembled.TokenCount},
	}, nil
}

func (s *completionService) completeStream(ctx context.Context, req CompletionRequest, chatReq llm.ChatRequest, rec *transcriptRecorder, idk, rendered string, references []string, w FrameWriter) (*CompletionResult, error) {
	stream, err := s.llmClient.Stream(ctx, chatReq)
	if err != nil {
		log.Errorf("[CompletionService] 打开 LLM 流失败, project: %s, error: %v", req.ProjectID, err)
		rec.record(ctx, nil, true)
		return nil, err
	}
	defer stream.Close()

	header, err := json.Marshal(references)
	if err != nil {
		rec.record(ctx, nil, true)
		return nil, fmt.Errorf("failed to encode references: %w", err)
	}
	header = append(header, s.cfg.Separator...)

	var (
		response   strings.Builder
		headerSent bool
		forwarded  int
		streamErr  error
	)
	sendHeader := func() error {
		headerSent = true
		return w.WriteHeader(header)
	}

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if !headerSent {
			if err := sendHeader(); err != nil {
				streamErr = fmt.Errorf("write header: %w", err)
				break
			}
		}
		if ev.Done {
			break
		}
		if ev.Delta == "" {
			continue
		}
		// 部分模型会在开头输出空行
		if forwarded < s.cfg.NewlineSuppressChunks && isNewlineOnly(ev.Delta) {
			continue
		}
		response.WriteString(ev.Delta)
		forwarded++
		if err := w.WriteChunk(ev.Delta); err != nil {
			streamErr = fmt.Errorf("write chunk: %w", err)
			break
		}
	}
	if !headerSent && streamErr == nil {
		if err := sendHeader(); err != nil {
			streamErr = fmt.Errorf("write header: %w", err)
		}
	}

	text := response.String()
	if streamErr != nil {
		log.Warnf("[CompletionService] 流式响应中断, project: %s, received: %d chars, error: %v", req.ProjectID, len(text), streamErr)
		rec.record(ctx, &text, isNoAnswer(text, idk))
		return &CompletionResult{Text: text, References: references}, streamErr
	}

	if req.APIKey == "" {
		chars := utf8.RuneCountInString(rendered) + utf8.RuneCountInString(text)
		s.meter(ctx, req.ProjectID, int64(chars/s.cfg.CharsPerToken))
	}
	rec.record(ctx, &text, isNoAnswer(text, idk))
	return &CompletionResult{Text: text, References: references}, nil
}

func (s *completionService) meter(ctx context.Context, projectID string, tokens int64) {
	if s.usage == nil || tokens <= 0 {
		return
	}
	if err := s.usage.AddCompletionTokens(context.WithoutCancel(ctx), projectID, tokens); err != nil {
		log.Warnf("[CompletionService] 记录补全用量失败, project: %s, error: %v", projectID, err)
	}
}

// isNoAnswer 空响应或恰好以兜底语句结尾的响应视为未回答，不做任何裁剪。
func isNoAnswer(response, sentinel string) bool {
	if response == "" {
		return true
	}
	return sentinel != "" && strings.HasSuffix(response, sentinel)
}

func isNewlineOnly(s string) bool {
	return strings.Trim(s, "\r\n") == ""
}

func firstPositive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func firstNonZero(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}
