package decoder

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-context-go/internal/model"
)

func sampleRecords(n int) []model.FileRecord {
	records := make([]model.FileRecord, n)
	for i := range records {
		p := fmt.Sprintf("/doc-%03d.md", i)
		// 内容互不相同，避免被压缩得过小
		records[i] = model.FileRecord{Path: p, Name: p[1:], Content: strings.Repeat(fmt.Sprintf("%x", i*7919), 200)}
	}
	return records
}

func TestEncodeCappedKeepsEverythingWhenItFits(t *testing.T) {
	records := sampleRecords(3)
	data, n, err := EncodeCapped(records, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, records, decoded)
}

func TestEncodeCappedStopsBeforeLimit(t *testing.T) {
	records := sampleRecords(50)
	full, _, err := EncodeCapped(records, 1<<20)
	require.NoError(t, err)

	limit := len(full) / 2
	data, n, err := EncodeCapped(records, limit)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), limit)
	assert.Greater(t, n, 0)
	assert.Less(t, n, len(records))

	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, records[:n], decoded)
}

func TestEncodeCappedLimitTooSmall(t *testing.T) {
	_, _, err := EncodeCapped(sampleRecords(1), 4)
	assert.ErrorIs(t, err, ErrSnapshotTooSmall)
}
