// Package tika 通过 Apache Tika 服务把二进制文档（pdf、office、epub）转为纯文本。
package tika

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"pai-context-go/internal/config"
	"pai-context-go/pkg/log"
)

const (
	defaultTimeout  = 2 * time.Minute
	defaultMaxBytes = 4 << 20
)

var (
	// ErrExtractionFailed 匹配所有提取失败（errors.Is）。
	ErrExtractionFailed = errors.New("text extraction failed")
	// ErrNoText 表示文档可以解析但不含任何文字（例如扫描版 pdf）。
	ErrNoText = fmt.Errorf("%w: document contains no text", ErrExtractionFailed)
)

// ExtractionError 描述一次被 Tika 拒绝或中断的提取。StatusCode 为 0 表示请求没有得到响应。
type ExtractionError struct {
	FileName   string
	StatusCode int
	Reason     string
}

func (e *ExtractionError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("extract %s: %s", e.FileName, e.Reason)
	}
	return fmt.Sprintf("extract %s: tika status %d: %s", e.FileName, e.StatusCode, e.Reason)
}

func (e *ExtractionError) Is(target error) bool { return target == ErrExtractionFailed }

// 部分环境的 mime 表缺少 office 类型，这里固定下来。
var documentTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".odt":  "application/vnd.oasis.opendocument.text",
	".rtf":  "application/rtf",
	".epub": "application/epub+zip",
}

// Client 调用 Tika 的 PUT /tika 接口。
type Client struct {
	serverURL string
	maxBytes  int64
	http      *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBytes := cfg.MaxTextBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Client{
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		maxBytes:  maxBytes,
		http:      &http.Client{Timeout: timeout},
	}
}

// ExtractText 提取文档文本。超出 MaxTextBytes 的部分被截断，空白文档返回 ErrNoText。
func (c *Client) ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", r)
	if err != nil {
		return "", &ExtractionError{FileName: fileName, Reason: err.Error()}
	}
	req.Header.Set("Accept", "text/plain; charset=UTF-8")
	req.Header.Set("Content-Type", contentType(fileName))
	// 文件名帮助 Tika 在魔数不足时判断类型
	req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(fileName)))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &ExtractionError{FileName: fileName, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &ExtractionError{FileName: fileName, StatusCode: resp.StatusCode, Reason: strings.TrimSpace(string(body))}
	}

	var sb strings.Builder
	n, err := io.Copy(&sb, io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return "", &ExtractionError{FileName: fileName, StatusCode: resp.StatusCode, Reason: "read response: " + err.Error()}
	}
	text := sb.String()
	if n > c.maxBytes {
		log.Warnf("[Tika] 提取文本超出上限已截断, file: %s, limit: %d", fileName, c.maxBytes)
		text = strings.ToValidUTF8(text[:c.maxBytes], "")
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	log.Debugf("[Tika] 提取完成, file: %s, chars: %d, 耗时: %v", fileName, len(text), time.Since(start))
	return text, nil
}

func contentType(fileName string) string {
	if ct, ok := documentTypes[strings.ToLower(path.Ext(fileName))]; ok {
		return ct
	}
	return "application/octet-stream"
}
