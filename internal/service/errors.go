// Package service 包含了应用的业务逻辑层。
package service

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnknownSourceType 表示路由中的数据源类型不受支持。
	ErrUnknownSourceType = errors.New("unknown source type")
	// ErrEmptyPrompt 表示问题为空。
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrAsyncDisabled 表示未配置对象存储或消息队列，无法异步摄取。
	ErrAsyncDisabled = errors.New("async ingestion is not configured")
)

const (
	CodeInvalidQuery                 = "INVALID_QUERY"
	CodeEmbeddingFailed              = "EMBEDDING_FAILED"
	CodeSearchFailed                 = "SEARCH_FAILED"
	CodeCompletionTokenQuotaExceeded = "COMPLETION_TOKEN_QUOTA_EXCEEDED"
)

// ApiError 是检索阶段的业务错误，Code 决定 HTTP 状态码。
type ApiError struct {
	Code    string
	Message string
	Err     error
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ApiError) Unwrap() error { return e.Err }

// HTTPStatus 把错误码映射为状态码。
func (e *ApiError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidQuery:
		return http.StatusBadRequest
	case CodeCompletionTokenQuotaExceeded:
		return http.StatusForbidden
	case CodeEmbeddingFailed, CodeSearchFailed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
