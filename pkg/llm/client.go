// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"pai-context-go/internal/config"
)

// ErrMalformedEvent 表示流中的某个事件无法解析。
var ErrMalformedEvent = errors.New("malformed stream event")

// UpstreamError 是上游返回的非 200 响应，状态码会透传给调用方。
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("chat api returned non-200 status: %d, body: %s", e.StatusCode, e.Body)
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为，nil 字段使用配置默认值。
type GenerationParams struct {
	Temperature      *float64
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	MaxTokens        *int
}

// ChatRequest 是一次补全调用。APIKey 非空时覆盖配置中的密钥（调用方自付费）。
type ChatRequest struct {
	Model    string
	Messages []Message
	Params   *GenerationParams
	APIKey   string
}

// ChatResponse 是非流式补全的结果。
type ChatResponse struct {
	Text        string
	TotalTokens int
}

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 等待完整响应。
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Stream 返回增量事件流，调用方负责 Close。
	Stream(ctx context.Context, req ChatRequest) (EventStream, error)
}

type openAICompatibleClient struct {
	cfg     config.LLMConfig
	client  *http.Client
	timeout time.Duration
}

// NewClient creates a new LLM client based on the provider in the config.
// 超时只约束建连和等待响应头，流式响应体的读取时长不受限制，由调用方的 ctx 控制。
func NewClient(cfg config.LLMConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return &openAICompatibleClient{
		cfg:     cfg,
		client:  &http.Client{Transport: transport},
		timeout: timeout,
	}
}

type chatRequest struct {
	Model            string    `json:"model"`
	Messages         []Message `json:"messages"`
	Stream           bool      `json:"stream"`
	Temperature      *float64  `json:"temperature,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
	MaxTokens        *int      `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *openAICompatibleClient) buildBody(req ChatRequest, stream bool) chatRequest {
	body := chatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   stream,
	}
	if body.Model == "" {
		body.Model = c.cfg.Model
	}
	// 从全局配置注入（若非零值），传参优先生效
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		body.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		body.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		body.MaxTokens = &m
	}
	if gen := req.Params; gen != nil {
		if gen.Temperature != nil {
			body.Temperature = gen.Temperature
		}
		if gen.TopP != nil {
			body.TopP = gen.TopP
		}
		if gen.MaxTokens != nil {
			body.MaxTokens = gen.MaxTokens
		}
		body.FrequencyPenalty = gen.FrequencyPenalty
		body.PresencePenalty = gen.PresencePenalty
	}
	return body
}

func (c *openAICompatibleClient) do(ctx context.Context, req ChatRequest, stream bool) (*http.Response, error) {
	reqBytes, err := json.Marshal(c.buildBody(req, stream))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	key := c.cfg.APIKey
	if req.APIKey != "" {
		key = req.APIKey
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

func (c *openAICompatibleClient) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	// 非流式响应需要整体读完，读取响应体同样受超时约束
	ctx, cancel := context.WithTimeout(ctx, 2*c.timeout)
	defer cancel()

	resp, err := c.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	out := &ChatResponse{TotalTokens: parsed.Usage.TotalTokens}
	if len(parsed.Choices) > 0 {
		out.Text = parsed.Choices[0].Message.Content
	}
	return out, nil
}

func (c *openAICompatibleClient) Stream(ctx context.Context, req ChatRequest) (EventStream, error) {
	resp, err := c.do(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return newSSEStream(resp.Body), nil
}
