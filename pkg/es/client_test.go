package es

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-context-go/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// go-elasticsearch 会校验该响应头
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(config.ElasticsearchConfig{Addresses: srv.URL, IndexName: "file_sections"}, 4)
	require.NoError(t, err)
	return c
}

func TestSearchConvertsScoreToSimilarity(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/file_sections/_search", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = io.WriteString(w, `{"hits":{"hits":[
			{"_score":0.95,"_source":{"path":"/a.md","content":"alpha","token_count":12}},
			{"_score":0.80,"_source":{"path":"/b.md","content":"beta","token_count":7}},
			{"_score":0.55,"_source":{"path":"/c.md","content":"gamma","token_count":3}}
		]}}`)
	})

	got, err := c.Search(context.Background(), SearchRequest{ProjectID: "proj", Vector: []float32{1, 0, 0, 0}, K: 3, MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/a.md", got[0].Path)
	assert.InDelta(t, 0.9, got[0].Similarity, 1e-9)
	assert.Equal(t, 12, got[0].TokenCount)
	assert.InDelta(t, 0.6, got[1].Similarity, 1e-9)

	knn := body["knn"].(map[string]any)
	assert.Equal(t, float64(3), knn["k"])
	filter := knn["filter"].(map[string]any)["term"].(map[string]any)
	assert.Equal(t, "proj", filter["project_id"])
}

func TestSearchUpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"boom"}`)
	})
	_, err := c.Search(context.Background(), SearchRequest{ProjectID: "p", Vector: []float32{1}})
	assert.Error(t, err)
}

func TestRefreshTargetsViews(t *testing.T) {
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = io.WriteString(w, `{"_shards":{"total":1,"successful":1,"failed":0}}`)
	})
	require.NoError(t, c.Refresh(context.Background(), []string{"file_sections"}))
	assert.Equal(t, "/file_sections/_refresh", path)

	path = ""
	require.NoError(t, c.Refresh(context.Background(), nil))
	assert.Empty(t, path)
}
