package service

import (
	"context"
	"strings"

	"pai-context-go/internal/model"
	"pai-context-go/pkg/embedding"
	"pai-context-go/pkg/es"
	"pai-context-go/pkg/log"
)

// SectionSearcher 在向量索引中做 kNN 检索。
type SectionSearcher interface {
	Search(ctx context.Context, req es.SearchRequest) ([]model.RetrievedSection, error)
}

// CompletionUsageReader 读取项目已消耗的补全 token。
type CompletionUsageReader interface {
	CompletionTokens(ctx context.Context, projectID string) (int64, error)
}

// RetrievalRequest 是一次检索的参数。
type RetrievalRequest struct {
	ProjectID      string
	Query          string
	MatchCount     int
	MatchThreshold float64
	// SelfFunded 为 true 时检查项目的补全 token 配额。
	SelfFunded bool
}

// RetrievalResult 是按相似度降序排列的分块以及查询向量。
type RetrievalResult struct {
	Sections       []model.RetrievedSection
	QueryEmbedding []float32
}

// RetrievalService 接口定义了检索操作。失败时返回 *ApiError。
type RetrievalService interface {
	Search(ctx context.Context, req RetrievalRequest) (*RetrievalResult, error)
}

type retrievalService struct {
	embedder embedding.Client
	searcher SectionSearcher
	usage    CompletionUsageReader
	quota    int64
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。quota 为 0 表示不限制。
func NewRetrievalService(embedder embedding.Client, searcher SectionSearcher, usage CompletionUsageReader, quota int64) RetrievalService {
	return &retrievalService{embedder: embedder, searcher: searcher, usage: usage, quota: quota}
}

func (s *retrievalService) Search(ctx context.Context, req RetrievalRequest) (*RetrievalResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, &ApiError{Code: CodeInvalidQuery, Message: "Missing query in request data"}
	}

	if req.SelfFunded && s.quota > 0 && s.usage != nil {
		used, err := s.usage.CompletionTokens(ctx, req.ProjectID)
		if err != nil {
			log.Warnf("[RetrievalService] 读取补全用量失败, project: %s, error: %v", req.ProjectID, err)
		} else if used >= s.quota {
			return nil, &ApiError{
				Code:    CodeCompletionTokenQuotaExceeded,
				Message: "Completion token quota exceeded for this project",
			}
		}
	}

	vector, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[RetrievalService] 向量化查询失败: %v", err)
		return nil, &ApiError{Code: CodeEmbeddingFailed, Message: "Failed to create embedding for query", Err: err}
	}

	sections, err := s.searcher.Search(ctx, es.SearchRequest{
		ProjectID:     req.ProjectID,
		Vector:        vector,
		K:             req.MatchCount,
		MinSimilarity: req.MatchThreshold,
	})
	if err != nil {
		log.Errorf("[RetrievalService] 检索分块失败: %v", err)
		return nil, &ApiError{Code: CodeSearchFailed, Message: "Failed to retrieve relevant sections", Err: err}
	}

	log.Infof("[RetrievalService] 检索完成, project: %s, matched: %d", req.ProjectID, len(sections))
	return &RetrievalResult{Sections: sections, QueryEmbedding: vector}, nil
}
