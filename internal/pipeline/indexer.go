package pipeline

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"pai-context-go/internal/model"
	"pai-context-go/pkg/log"
)

// TextExtractor 从二进制文档（pdf、docx 等）中提取纯文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// Embedder 把一段文本转为向量。
type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// VectorStore 保存分块向量。
type VectorStore interface {
	IndexSection(ctx context.Context, doc model.EsSection) error
	DeleteByPath(ctx context.Context, sourceID, path string) error
}

// SectionStore 保存分块文本。
type SectionStore interface {
	DeleteByPath(ctx context.Context, sourceID, path string) error
	BatchCreate(ctx context.Context, sections []*model.Section) error
}

// ChecksumWriter 在文件索引成功后更新账本。
type ChecksumWriter interface {
	Upsert(ctx context.Context, sourceID, path, checksum string) error
}

// UsageMeter 记录项目的内容 token 用量。
type UsageMeter interface {
	ContentTokens(ctx context.Context, projectID string) (int64, error)
	AddContentTokens(ctx context.Context, projectID string, n int64) error
}

// IndexerDeps 是 Indexer 的外部依赖。Extractor 可以为 nil，此时二进制文档会报 EXTRACTION_FAILED。
type IndexerDeps struct {
	Extractor TextExtractor
	Embedder  Embedder
	Vectors   VectorStore
	Sections  SectionStore
	Checksums ChecksumWriter
	Usage     UsageMeter
}

// IndexerConfig 控制切块与配额。
type IndexerConfig struct {
	ChunkSize     int
	ChunkOverlap  int
	CharsPerToken int
	// ContentTokenQuota 为 0 表示不限制。
	ContentTokenQuota int64
	ModelVersion      string
}

// Indexer 是 SectionIndexer 的默认实现：提取 -> 切块 -> 配额检查 -> 向量化 -> 写入 ES 与 MySQL -> 更新账本。
type Indexer struct {
	deps     IndexerDeps
	cfg      IndexerConfig
	splitter *Splitter
}

// NewIndexer 创建一个新的 Indexer 实例。
func NewIndexer(deps IndexerDeps, cfg IndexerConfig) *Indexer {
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = 4
	}
	return &Indexer{
		deps:     deps,
		cfg:      cfg,
		splitter: NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
	}
}

var binaryExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
	".xls": true, ".xlsx": true, ".odt": true, ".rtf": true, ".epub": true,
}

// Index 处理单个文件。
func (x *Indexer) Index(ctx context.Context, req IndexRequest) []model.EmbeddingError {
	p := req.File.Path
	fail := func(kind model.ErrorKind, format string, args ...any) []model.EmbeddingError {
		msg := fmt.Sprintf(format, args...)
		log.Warnf("[Indexer] 文件处理失败, source: %s, path: %s, kind: %s, error: %s", req.SourceID, p, kind, msg)
		return []model.EmbeddingError{{ID: kind, Path: p, Message: msg}}
	}

	// 1. 提取文本
	text := req.File.Content
	if binaryExtensions[strings.ToLower(path.Ext(p))] {
		if x.deps.Extractor == nil {
			return fail(model.ErrorExtraction, "no text extractor configured for %s", path.Ext(p))
		}
		extracted, err := x.deps.Extractor.ExtractText(ctx, strings.NewReader(text), req.File.Name)
		if err != nil {
			return fail(model.ErrorExtraction, "text extraction failed: %v", err)
		}
		text = extracted
	}

	// 2. 切块
	chunks, err := x.splitter.Split(p, text)
	if err != nil {
		return fail(model.ErrorExtraction, "splitting failed: %v", err)
	}
	tokenCounts := make([]int, len(chunks))
	var total int64
	for i, c := range chunks {
		tokenCounts[i] = x.estimateTokens(c)
		total += int64(tokenCounts[i])
	}

	// 3. 配额检查
	if x.cfg.ContentTokenQuota > 0 && total > 0 && x.deps.Usage != nil {
		used, err := x.deps.Usage.ContentTokens(ctx, req.ProjectID)
		if err != nil {
			return fail(model.ErrorStorage, "failed to read token usage: %v", err)
		}
		if used+total > x.cfg.ContentTokenQuota {
			return fail(model.ErrorQuotaExceeded, "content token quota exceeded (%d used, %d requested, limit %d)",
				used, total, x.cfg.ContentTokenQuota)
		}
	}

	// 4. 向量化。先全部完成再写入，避免半成品
	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		v, err := x.deps.Embedder.CreateEmbedding(ctx, c)
		if err != nil {
			return fail(model.ErrorEmbedding, "embedding chunk %d failed: %v", i, err)
		}
		vectors[i] = v
	}

	// 5. 清理旧分块后写入新分块（幂等）
	if err := x.deps.Sections.DeleteByPath(ctx, req.SourceID, p); err != nil {
		return fail(model.ErrorStorage, "failed to delete old sections: %v", err)
	}
	if err := x.deps.Vectors.DeleteByPath(ctx, req.SourceID, p); err != nil {
		return fail(model.ErrorStorage, "failed to delete old vectors: %v", err)
	}

	rows := make([]*model.Section, 0, len(chunks))
	for i, c := range chunks {
		doc := model.EsSection{
			SectionID:    sectionID(req.SourceID, p, i),
			ProjectID:    req.ProjectID,
			SourceID:     req.SourceID,
			Path:         p,
			ChunkID:      i,
			Content:      c,
			TokenCount:   tokenCounts[i],
			Vector:       vectors[i],
			ModelVersion: x.cfg.ModelVersion,
		}
		if err := x.deps.Vectors.IndexSection(ctx, doc); err != nil {
			return fail(model.ErrorStorage, "failed to index chunk %d: %v", i, err)
		}
		rows = append(rows, &model.Section{
			SourceID:   req.SourceID,
			ProjectID:  req.ProjectID,
			Path:       p,
			ChunkID:    i,
			Content:    c,
			TokenCount: tokenCounts[i],
			Checksum:   req.Checksum,
		})
	}
	if len(rows) > 0 {
		if err := x.deps.Sections.BatchCreate(ctx, rows); err != nil {
			return fail(model.ErrorStorage, "failed to save sections: %v", err)
		}
	}

	// 6. 记账与更新账本
	if total > 0 && x.deps.Usage != nil {
		if err := x.deps.Usage.AddContentTokens(ctx, req.ProjectID, total); err != nil {
			log.Warnf("[Indexer] 记录 token 用量失败, project: %s, error: %v", req.ProjectID, err)
		}
	}
	if err := x.deps.Checksums.Upsert(ctx, req.SourceID, p, req.Checksum); err != nil {
		return fail(model.ErrorStorage, "failed to update checksum: %v", err)
	}

	log.Infof("[Indexer] 文件索引完成, source: %s, path: %s, sections: %d, tokens: %d", req.SourceID, p, len(chunks), total)
	return nil
}

func (x *Indexer) estimateTokens(s string) int {
	n := utf8.RuneCountInString(s) / x.cfg.CharsPerToken
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

// sectionID 是 ES 文档 ID，同一 (source, path, chunk) 每次得到相同的值。
func sectionID(sourceID, p string, chunk int) string {
	return fmt.Sprintf("%s_%s_%d", sourceID, Checksum(p)[:16], chunk)
}
