package llm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Event 是流中的一个增量。Done 为 true 表示收到了 [DONE]。
type Event struct {
	Delta string
	Done  bool
}

// EventStream 逐个读取事件。流结束（[DONE] 之后或连接关闭）时 Next 返回 io.EOF。
type EventStream interface {
	Next() (Event, error)
	Close() error
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{body: body, reader: bufio.NewReader(body)}
}

// NewEventStream 把一个 SSE 响应体包装为 EventStream。
func NewEventStream(body io.ReadCloser) EventStream {
	return newSSEStream(body)
}

func (s *sseStream) Next() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				s.done = true
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("failed to read from stream: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// 空行、注释和 event: 等字段
			if err == io.EOF {
				s.done = true
				return Event{}, io.EOF
			}
			continue
		}
		data = strings.TrimPrefix(data, " ")
		if strings.TrimSpace(data) == "[DONE]" {
			s.done = true
			return Event{Done: true}, nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.done = true
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		var ev Event
		if len(chunk.Choices) > 0 {
			ev.Delta = chunk.Choices[0].Delta.Content
		}
		return ev, nil
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
