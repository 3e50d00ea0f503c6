package pipeline

import (
	"path"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Splitter 根据文件类型选择 langchaingo 的切块器。
type Splitter struct {
	markdown textsplitter.TextSplitter
	plain    textsplitter.TextSplitter
}

// NewSplitter 创建切块器。chunkOverlap 不小于 chunkSize 时不做重叠。
func NewSplitter(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Splitter{
		markdown: textsplitter.NewMarkdownTextSplitter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
		plain: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}
}

// Split 切分 text，忽略只含空白的分块。
func (s *Splitter) Split(filePath, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	sp := s.plain
	switch strings.ToLower(path.Ext(filePath)) {
	case ".md", ".mdx", ".markdown":
		sp = s.markdown
	}
	chunks, err := sp.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
