package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-context-go/internal/decoder"
	"pai-context-go/internal/model"
	"pai-context-go/internal/pipeline"
	"pai-context-go/internal/service"
	"pai-context-go/pkg/llm"
	"pai-context-go/pkg/tasks"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// withProject 模拟 AuthMiddleware 写入项目 ID。
func withProject(projectID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ProjectIDKey, projectID)
		c.Next()
	}
}

type fakeIngestService struct {
	last       service.IngestRequest
	result     *pipeline.Result
	err        error
	enqueueErr error
}

func (f *fakeIngestService) Ingest(_ context.Context, req service.IngestRequest) (*pipeline.Result, error) {
	f.last = req
	return f.result, f.err
}

func (f *fakeIngestService) Enqueue(_ context.Context, req service.IngestRequest) (string, error) {
	f.last = req
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	return "ingest/" + req.ProjectID + "/obj", nil
}

func (f *fakeIngestService) Process(context.Context, tasks.IngestTask) error { return nil }

func newIngestRouter(svc service.IngestService, maxBody int64) *gin.Engine {
	r := gin.New()
	h := NewIngestHandler(svc, maxBody)
	r.POST("/sources/:sourceType/ingest", withProject("p1"), h.Ingest)
	r.POST("/sources/:sourceType/ingest/async", withProject("p1"), h.IngestAsync)
	return r
}

func doIngest(r *gin.Engine, url, contentType, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestIngestSuccess(t *testing.T) {
	svc := &fakeIngestService{result: &pipeline.Result{
		Outcome:      pipeline.OutcomeOK,
		SuccessCount: 2,
		Message:      "Successfully processed 2 files.",
	}}
	r := newIngestRouter(svc, 0)

	w := doIngest(r, "/sources/json-upload/ingest", "application/json", `{"a.md":"x"}`, map[string]string{
		"X-Force-Retrain": "true",
		"X-Source-Name":   "faq",
	})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "Successfully processed 2 files.", body["message"])
	assert.EqualValues(t, 2, body["successCount"])

	assert.Equal(t, "p1", svc.last.ProjectID)
	assert.Equal(t, model.SourceJSONUpload, svc.last.SourceType)
	assert.Equal(t, "faq", svc.last.SourceName)
	assert.True(t, svc.last.ForceRetrain)
	assert.Equal(t, `{"a.md":"x"}`, string(svc.last.Payload))
}

func TestIngestErrorMapping(t *testing.T) {
	quotaResult := &pipeline.Result{
		State:        pipeline.StateFinalizing,
		Outcome:      pipeline.OutcomeQuotaExceeded,
		SuccessCount: 3,
		Message:      "Successfully processed 3 files.\n\nThe following errors occurred:\n* In '/d.md': quota exhausted",
	}
	cases := []struct {
		name   string
		err    error
		result *pipeline.Result
		status int
		key    string
	}{
		{name: "invalid payload", err: &decoder.Error{Code: decoder.CodeInvalidPayload, Reason: "empty payload"}, status: http.StatusBadRequest, key: "status"},
		{name: "content type", err: fmt.Errorf("%w: %q", decoder.ErrUnsupportedContentType, "text/html"), status: http.StatusBadRequest, key: "status"},
		{name: "source type", err: service.ErrUnknownSourceType, status: http.StatusBadRequest, key: "status"},
		{name: "quota", err: pipeline.ErrQuotaExceeded, result: quotaResult, status: http.StatusForbidden, key: "error"},
		{name: "quota without result", err: pipeline.ErrQuotaExceeded, status: http.StatusForbidden, key: "error"},
		{name: "internal", err: errors.New("db down"), status: http.StatusInternalServerError, key: "status"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newIngestRouter(&fakeIngestService{err: tc.err, result: tc.result}, 0)
			w := doIngest(r, "/sources/file-upload/ingest", "application/zip", "PK", nil)
			assert.Equal(t, tc.status, w.Code)
			body := decodeBody(t, w)
			assert.Contains(t, body, tc.key)
			if tc.status == http.StatusForbidden {
				assert.Equal(t, "CONTENT_TOKEN_QUOTA_EXCEEDED", body["name"])
				if tc.result != nil {
					assert.Equal(t, tc.result.Message, body["error"])
					assert.EqualValues(t, tc.result.SuccessCount, body["successCount"])
				} else {
					assert.Equal(t, "Content token quota exceeded for this project", body["error"])
					assert.EqualValues(t, 0, body["successCount"])
				}
			}
			if tc.status == http.StatusInternalServerError {
				assert.NotContains(t, body["status"], "db down")
			}
		})
	}
}

func TestIngestBodyTooLarge(t *testing.T) {
	svc := &fakeIngestService{}
	r := newIngestRouter(svc, 4)
	w := doIngest(r, "/sources/file-upload/ingest", "application/zip", "0123456789", nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, svc.last.ProjectID)
}

func TestIngestAsync(t *testing.T) {
	r := newIngestRouter(&fakeIngestService{}, 0)
	w := doIngest(r, "/sources/json-upload/ingest/async", "application/json", `{}`, nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "ingest/p1/obj", body["objectName"])

	r = newIngestRouter(&fakeIngestService{enqueueErr: service.ErrAsyncDisabled}, 0)
	w = doIngest(r, "/sources/json-upload/ingest/async", "application/json", `{}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type fakeCompletionService struct {
	last   service.CompletionRequest
	chunks []string
	result *service.CompletionResult
	err    error
}

func (f *fakeCompletionService) Complete(_ context.Context, req service.CompletionRequest, w service.FrameWriter) (*service.CompletionResult, error) {
	f.last = req
	if f.err != nil && len(f.chunks) == 0 {
		return nil, f.err
	}
	if req.Stream {
		if err := w.WriteHeader([]byte(`["/a.md"]SEP`)); err != nil {
			return nil, err
		}
		for _, c := range f.chunks {
			if err := w.WriteChunk(c); err != nil {
				return nil, err
			}
		}
	}
	return f.result, f.err
}

func newCompletionRouter(svc service.CompletionService) *gin.Engine {
	r := gin.New()
	r.POST("/completions", withProject("p1"), NewCompletionHandler(svc).Complete)
	return r
}

func postCompletion(r *gin.Engine, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCompletionStreamWritesHeaderThenChunks(t *testing.T) {
	svc := &fakeCompletionService{chunks: []string{"Hel", "lo"}, result: &service.CompletionResult{}}
	r := newCompletionRouter(svc)

	w := postCompletion(r, `{"prompt":"hi","stream":true,"temperature":0.2,"sectionsMatchCount":4}`, map[string]string{"X-OpenAI-Key": "sk-own"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, `["/a.md"]SEPHello`, w.Body.String())

	assert.Equal(t, "p1", svc.last.ProjectID)
	assert.Equal(t, "sk-own", svc.last.APIKey)
	assert.Equal(t, 4, svc.last.MatchCount)
	require.NotNil(t, svc.last.Params)
	require.NotNil(t, svc.last.Params.Temperature)
	assert.Equal(t, 0.2, *svc.last.Params.Temperature)
}

func TestCompletionNonStreamJSON(t *testing.T) {
	svc := &fakeCompletionService{result: &service.CompletionResult{Text: "answer", References: []string{"/a.md"}}}
	w := postCompletion(newCompletionRouter(svc), `{"prompt":"hi"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "answer", body["text"])
	assert.Equal(t, []any{"/a.md"}, body["references"])
	assert.Nil(t, svc.last.Params)
}

func TestCompletionErrorStatusPropagation(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{name: "invalid query", err: &service.ApiError{Code: service.CodeInvalidQuery, Message: "Missing query in request data"}, status: http.StatusBadRequest, body: "Missing query in request data"},
		{name: "quota", err: &service.ApiError{Code: service.CodeCompletionTokenQuotaExceeded, Message: "quota"}, status: http.StatusForbidden, body: "quota"},
		{name: "upstream", err: &llm.UpstreamError{StatusCode: http.StatusTooManyRequests, Body: "slow down"}, status: http.StatusTooManyRequests, body: "slow down"},
		{name: "internal", err: errors.New("boom"), status: http.StatusInternalServerError, body: "There was an error processing your request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postCompletion(newCompletionRouter(&fakeCompletionService{err: tc.err}), `{"prompt":"hi","stream":true}`, nil)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.body, w.Body.String())
			assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
		})
	}
}

func TestCompletionStreamErrorAfterHeaderKeepsStatus(t *testing.T) {
	svc := &fakeCompletionService{chunks: []string{"part"}, err: errors.New("stream broke")}
	w := postCompletion(newCompletionRouter(svc), `{"prompt":"hi","stream":true}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `["/a.md"]SEPpart`, w.Body.String())
}

func TestCompletionInvalidBody(t *testing.T) {
	w := postCompletion(newCompletionRouter(&fakeCompletionService{}), `{`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type fakeTranscripts struct {
	limit int
	rows  []model.Transcript
}

func (f *fakeTranscripts) ListByProject(_ context.Context, _ string, limit int) ([]model.Transcript, error) {
	f.limit = limit
	return f.rows, nil
}

func TestTranscriptList(t *testing.T) {
	answer := "yes"
	repo := &fakeTranscripts{rows: []model.Transcript{
		{ID: 2, ProjectID: "p1", Prompt: "q2", Response: &answer, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)},
		{ID: 1, ProjectID: "p1", Prompt: "q1", NoAnswer: true},
	}}
	r := gin.New()
	r.GET("/transcripts", withProject("p1"), NewTranscriptHandler(repo).List)

	req := httptest.NewRequest(http.MethodGet, "/transcripts?limit=5", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, repo.limit)

	var body struct {
		Data []struct {
			Prompt    string  `json:"prompt"`
			Response  *string `json:"response"`
			NoAnswer  bool    `json:"noAnswer"`
			CreatedAt *string `json:"createdAt"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "q2", body.Data[0].Prompt)
	assert.True(t, body.Data[1].NoAnswer)
	assert.Nil(t, body.Data[1].Response)
	require.NotNil(t, body.Data[0].CreatedAt)
	assert.Equal(t, "2026-01-02 03:04:05", *body.Data[0].CreatedAt)
}
