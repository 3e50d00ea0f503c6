package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceTypeValid(t *testing.T) {
	assert.True(t, SourceFileUpload.Valid())
	assert.True(t, SourceJSONUpload.Valid())
	assert.True(t, SourceRepoSnapshot.Valid())
	assert.False(t, SourceType("github").Valid())
}

func TestTranscriptDTOFormatsCreatedAt(t *testing.T) {
	resp := "hello"
	tr := Transcript{
		ID:        7,
		Prompt:    "hi",
		Response:  &resp,
		CreatedAt: time.Date(2024, 3, 9, 8, 7, 6, 0, time.UTC),
	}

	b, err := json.Marshal(tr.ToDTO())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"prompt":"hi","response":"hello","noAnswer":false,"createdAt":"2024-03-09 08:07:06"}`, string(b))
}

func TestLocalTimeZeroIsNull(t *testing.T) {
	b, err := json.Marshal(LocalTime{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}
