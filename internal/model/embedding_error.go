package model

// ErrorKind 是 Section Indexer 上报的单文件错误类型。
type ErrorKind string

const (
	// ErrorQuotaExceeded 会终止整个批次的后续派发。
	ErrorQuotaExceeded ErrorKind = "QUOTA_EXCEEDED"
	ErrorExtraction    ErrorKind = "EXTRACTION_FAILED"
	ErrorEmbedding     ErrorKind = "EMBEDDING_FAILED"
	ErrorStorage       ErrorKind = "STORAGE_FAILED"
	ErrorDispatch      ErrorKind = "DISPATCH_FAILED"
)

// EmbeddingError 描述一个文件在索引过程中的失败原因。
type EmbeddingError struct {
	ID      ErrorKind `json:"id"`
	Path    string    `json:"path"`
	Message string    `json:"message"`
}
