package decoder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"pai-context-go/internal/model"
)

// EncodeCapped 把记录编码为 gzip 压缩的 v1 JSON 快照。
// 每次追加一个文件后重新压缩整个载荷并检查大小，压缩结果超过 maxBytes 前停止。
// 返回最后一个未超限的快照以及其中包含的记录数。
func EncodeCapped(records []model.FileRecord, maxBytes int) ([]byte, int, error) {
	best, err := compressRecords(records[:0])
	if err != nil {
		return nil, 0, err
	}
	if len(best) > maxBytes {
		return nil, 0, ErrSnapshotTooSmall
	}

	n := 0
	for i := range records {
		candidate, err := compressRecords(records[:i+1])
		if err != nil {
			return nil, 0, err
		}
		if len(candidate) > maxBytes {
			break
		}
		best, n = candidate, i+1
	}
	return best, n, nil
}

// DecodeSnapshot 读取 EncodeCapped 生成的快照。
func DecodeSnapshot(data []byte) ([]model.FileRecord, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, invalid("unreadable snapshot", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, invalid("unreadable snapshot", err)
	}
	return Decode(raw, KindStructuredJSON, AcceptAll)
}

func compressRecords(records []model.FileRecord) ([]byte, error) {
	payload, err := json.Marshal(structuredPayload{Files: records})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
