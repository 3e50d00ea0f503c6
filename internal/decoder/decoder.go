// Package decoder 把三种上传格式（zip 归档、v1 结构化 JSON、v0 扁平 JSON）
// 统一解码为有序的 FileRecord 序列。
package decoder

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"sort"
	"strings"

	"pai-context-go/internal/model"
	"pai-context-go/pkg/log"
)

// PayloadKind 是请求声明的载荷格式。
type PayloadKind int

const (
	KindArchive PayloadKind = iota + 1
	// KindJSON 根据内容自动识别 v1（带 files 数组）或 v0（扁平对象）。
	KindJSON
	KindStructuredJSON
	KindFlatJSON
)

func (k PayloadKind) String() string {
	switch k {
	case KindArchive:
		return "archive"
	case KindJSON:
		return "json"
	case KindStructuredJSON:
		return "structured-json"
	case KindFlatJSON:
		return "legacy-flat-json"
	}
	return "unknown"
}

// ParseContentType 把 HTTP Content-Type 映射为载荷格式。
func ParseContentType(header string) (PayloadKind, error) {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedContentType, header)
	}
	switch mediaType {
	case "application/zip", "application/x-zip-compressed", "application/octet-stream":
		return KindArchive, nil
	case "application/json":
		return KindJSON, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedContentType, mediaType)
}

// Options 控制归档解码的细节。
type Options struct {
	// StripRootDir 去掉所有条目共享的顶层目录（仓库快照通常带一层 "<repo>-<sha>/"）。
	StripRootDir bool
	// MaxEntryBytes 单个条目解压后的上限，超出的条目被丢弃。0 表示不限制。
	MaxEntryBytes int64
}

type Option func(*Options)

func WithStripRootDir() Option {
	return func(o *Options) { o.StripRootDir = true }
}

func WithMaxEntryBytes(n int64) Option {
	return func(o *Options) { o.MaxEntryBytes = n }
}

// Decode 解码 buf。空的或无法解析的载荷返回 INVALID_PAYLOAD 错误，而不是空列表。
// 被 filter 拒绝的路径、缺少 path/content 的记录、解压失败的归档条目都会被静默丢弃。
func Decode(buf []byte, kind PayloadKind, filter Filter, opts ...Option) ([]model.FileRecord, error) {
	if filter == nil {
		filter = AcceptAll
	}
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return nil, invalid("empty payload", nil)
	}

	switch kind {
	case KindArchive:
		return decodeArchive(buf, filter, o)
	case KindJSON, KindStructuredJSON, KindFlatJSON:
		return decodeJSON(buf, kind, filter)
	}
	return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedContentType, kind)
}

func decodeArchive(buf []byte, filter Filter, o Options) ([]model.FileRecord, error) {
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	// 绝对路径或 ".." 条目仍可读取，normalizePath 会把它们收敛到根目录下
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, invalid("unreadable archive", err)
	}

	entries := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		entries = append(entries, f)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	root := ""
	if o.StripRootDir {
		root = commonRoot(entries)
	}

	records := make([]model.FileRecord, 0, len(entries))
	for _, f := range entries {
		p := normalizePath(strings.TrimPrefix(f.Name, root))
		if p == "/" || !filter.Match(p) {
			continue
		}
		content, err := readEntry(f, o.MaxEntryBytes)
		if err != nil {
			log.Debugf("[Decoder] 丢弃无法解压的归档条目 %s: %v", f.Name, err)
			continue
		}
		records = append(records, newRecord(p, content))
	}
	return records, nil
}

func readEntry(f *zip.File, maxBytes int64) (string, error) {
	if maxBytes > 0 && f.UncompressedSize64 > uint64(maxBytes) {
		return "", fmt.Errorf("entry exceeds %d bytes", maxBytes)
	}
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var r io.Reader = rc
	if maxBytes > 0 {
		r = io.LimitReader(rc, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("entry exceeds %d bytes", maxBytes)
	}
	return string(data), nil
}

// commonRoot 返回所有条目共享的顶层目录（含结尾 "/"），没有则返回空串。
func commonRoot(entries []*zip.File) string {
	if len(entries) == 0 {
		return ""
	}
	first := entries[0].Name
	i := strings.IndexByte(first, '/')
	if i < 0 {
		return ""
	}
	root := first[:i+1]
	for _, f := range entries[1:] {
		if !strings.HasPrefix(f.Name, root) {
			return ""
		}
	}
	return root
}

type structuredFile struct {
	Path    string  `json:"path"`
	ID      string  `json:"id"`
	Content *string `json:"content"`
}

type structuredPayload struct {
	Files []model.FileRecord `json:"files"`
}

func decodeJSON(buf []byte, kind PayloadKind, filter Filter) ([]model.FileRecord, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(buf, &top); err != nil {
		return nil, invalid("malformed JSON", err)
	}
	if top == nil {
		return nil, invalid("JSON payload must be an object", nil)
	}

	if kind == KindJSON {
		kind = KindFlatJSON
		if raw, ok := top["files"]; ok && isArray(raw) {
			kind = KindStructuredJSON
		}
	}

	if kind == KindStructuredJSON {
		raw, ok := top["files"]
		if !ok || !isArray(raw) {
			return nil, invalid("missing files array", nil)
		}
		return decodeStructured(raw, filter)
	}
	return decodeFlat(top, filter), nil
}

func decodeStructured(raw json.RawMessage, filter Filter) ([]model.FileRecord, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, invalid("malformed files array", err)
	}
	records := make([]model.FileRecord, 0, len(items))
	for _, item := range items {
		var f structuredFile
		if err := json.Unmarshal(item, &f); err != nil {
			continue
		}
		// id 是旧客户端使用的 path 别名
		p := f.Path
		if p == "" {
			p = f.ID
		}
		if p == "" || f.Content == nil {
			continue
		}
		p = normalizePath(p)
		if !filter.Match(p) {
			continue
		}
		records = append(records, newRecord(p, *f.Content))
	}
	return records, nil
}

func decodeFlat(top map[string]json.RawMessage, filter Filter) []model.FileRecord {
	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]model.FileRecord, 0, len(keys))
	for _, k := range keys {
		var content string
		if err := json.Unmarshal(top[k], &content); err != nil {
			continue
		}
		if strings.TrimSpace(k) == "" {
			continue
		}
		p := normalizePath(k)
		if !filter.Match(p) {
			continue
		}
		records = append(records, newRecord(p, content))
	}
	return records
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// normalizePath 把路径规范成以 "/" 开头的形式。
func normalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean("/" + p)
}

func newRecord(p, content string) model.FileRecord {
	return model.FileRecord{Path: p, Name: path.Base(p), Content: content}
}
