package pipeline

import "errors"

var (
	// ErrQuotaExceeded 表示批次因内容 token 配额耗尽而提前终止。
	ErrQuotaExceeded = errors.New("content token quota exceeded")

	ErrIndexerRequired = errors.New("section indexer is required")
	ErrLedgerRequired  = errors.New("checksum ledger is required")
)
