package decoder

import (
	"errors"
	"fmt"
)

// CodeInvalidPayload 是解码失败时对外暴露的错误码。
const CodeInvalidPayload = "INVALID_PAYLOAD"

var (
	// ErrInvalidPayload 匹配所有解码失败（errors.Is）。
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrUnsupportedContentType 表示请求声明了不支持的 Content-Type。
	ErrUnsupportedContentType = errors.New("unsupported content type")
	// ErrSnapshotTooSmall 表示快照上限连一个空载荷都放不下。
	ErrSnapshotTooSmall = errors.New("snapshot size limit too small")
)

// Error 是带错误码的解码失败。
type Error struct {
	Code   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 让所有 INVALID_PAYLOAD 错误都能匹配 ErrInvalidPayload。
func (e *Error) Is(target error) bool {
	return target == ErrInvalidPayload && e.Code == CodeInvalidPayload
}

func invalid(reason string, err error) error {
	return &Error{Code: CodeInvalidPayload, Reason: reason, Err: err}
}
