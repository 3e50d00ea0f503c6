// Package es 提供了与 Elasticsearch 交互的客户端功能：分块向量的索引、删除、kNN 检索与刷新。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"pai-context-go/internal/config"
	"pai-context-go/internal/model"
	"pai-context-go/pkg/log"
)

// Client 封装了分块索引相关的 Elasticsearch 操作。
type Client struct {
	es    *elasticsearch.Client
	index string
	dims  int
}

// NewClient 创建 Elasticsearch 客户端。dims 是向量维度，用于建索引。
func NewClient(esCfg config.ElasticsearchConfig, dims int) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Elasticsearch 客户端失败: %w", err)
	}
	return &Client{es: client, index: esCfg.IndexName, dims: dims}, nil
}

// Index 返回分块所在的索引名。
func (c *Client) Index() string { return c.index }

// EnsureIndex 检查索引是否存在，如果不存在则创建它。
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if res.StatusCode == http.StatusOK {
		log.Infof("[ES] 索引 '%s' 已存在", c.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"section_id": { "type": "keyword" },
				"project_id": { "type": "keyword" },
				"source_id": { "type": "keyword" },
				"path": { "type": "keyword" },
				"chunk_id": { "type": "integer" },
				"content": { "type": "text" },
				"token_count": { "type": "integer" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, c.dims)

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithBody(strings.NewReader(mapping)),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", c.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("创建索引时 Elasticsearch 返回错误: %s", res.String())
	}

	log.Infof("[ES] 索引 '%s' 创建成功", c.index)
	return nil
}

// IndexSection 写入一个分块。写入后不立即刷新，批次结束时统一 Refresh。
func (c *Client) IndexSection(ctx context.Context, doc model.EsSection) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: doc.SectionID,
		Body:       bytes.NewReader(docBytes),
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("failed to index section %s: %s", doc.SectionID, res.String())
	}
	return nil
}

// DeleteByPath 删除某个数据源下指定文件的全部分块。
func (c *Client) DeleteByPath(ctx context.Context, sourceID, path string) error {
	query := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"source_id": sourceID}},
					{"term": map[string]any{"path": path}},
				},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return err
	}

	res, err := c.es.DeleteByQuery(
		[]string{c.index},
		&buf,
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithConflicts("proceed"),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to delete sections of %s: %s", path, res.String())
	}
	return nil
}

// SearchRequest 是一次 kNN 检索的参数。
type SearchRequest struct {
	ProjectID string
	Vector    []float32
	K         int
	// MinSimilarity 是余弦相似度下限，取值 [-1, 1]。
	MinSimilarity float64
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64         `json:"_score"`
			Source model.EsSection `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 在项目内做 kNN 检索，结果按相似度降序。
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]model.RetrievedSection, error) {
	k := req.K
	if k <= 0 {
		k = 10
	}
	query := map[string]any{
		"knn": map[string]any{
			"field":          "vector",
			"query_vector":   req.Vector,
			"k":              k,
			"num_candidates": k * 10,
			"filter": map[string]any{
				"term": map[string]any{"project_id": req.ProjectID},
			},
		},
		"_source": map[string]any{"excludes": []string{"vector"}},
		"size":    k,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("elasticsearch returned an error: %s %s", res.Status(), string(body))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	out := make([]model.RetrievedSection, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		// cosine 的 _score 为 (1 + cos) / 2
		sim := 2*h.Score - 1
		if sim < req.MinSimilarity {
			continue
		}
		out = append(out, model.RetrievedSection{
			Path:       h.Source.Path,
			Content:    h.Source.Content,
			Similarity: sim,
			TokenCount: h.Source.TokenCount,
		})
	}
	return out, nil
}

// Refresh 刷新给定索引，使新写入的分块对检索可见。
func (c *Client) Refresh(ctx context.Context, views []string) error {
	if len(views) == 0 {
		return nil
	}
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(views...),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to refresh %v: %s", views, res.String())
	}
	return nil
}
