package pipeline

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"pai-context-go/internal/model"
)

// Checksum 返回内容的 BLAKE2b-256 十六进制摘要。
func Checksum(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ledgerIndex 把账本条目转为 path -> checksum。
func ledgerIndex(entries []model.Checksum) map[string]string {
	idx := make(map[string]string, len(entries))
	for _, e := range entries {
		idx[e.Path] = e.Checksum
	}
	return idx
}

// shouldSkip 仅当不强制重建且账本中的摘要与新内容一致时跳过。
func shouldSkip(ledger map[string]string, path, sum string) bool {
	if ledger == nil {
		return false
	}
	prev, ok := ledger[path]
	return ok && prev == sum
}
