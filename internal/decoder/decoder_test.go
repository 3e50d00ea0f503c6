package decoder

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pai-context-go/internal/model"
)

func buildZip(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		if _, isDir := files[name]; !isDir {
			continue
		}
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParseContentType(t *testing.T) {
	cases := map[string]PayloadKind{
		"application/zip":                 KindArchive,
		"application/octet-stream":        KindArchive,
		"application/x-zip-compressed":    KindArchive,
		"application/json":                KindJSON,
		"application/json; charset=utf-8": KindJSON,
	}
	for header, want := range cases {
		got, err := ParseContentType(header)
		require.NoError(t, err, header)
		assert.Equal(t, want, got, header)
	}

	_, err := ParseContentType("text/plain")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
	_, err = ParseContentType("")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}

func TestDecodeStructuredJSON(t *testing.T) {
	records, err := Decode([]byte(`{"files":[{"path":"/a.md","content":"hi"}]}`), KindJSON, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.FileRecord{{Path: "/a.md", Name: "a.md", Content: "hi"}}, records)
}

func TestDecodeStructuredJSONDropsIncompleteEntries(t *testing.T) {
	body := `{"files":[
		{"path":"docs/x.md","content":"x"},
		{"id":"/legacy.md","content":"old"},
		{"path":"/no-content.md"},
		{"content":"no path"},
		{"path":"/bad.md","content":42},
		{"path":"/empty.md","content":""}
	]}`
	records, err := Decode([]byte(body), KindStructuredJSON, nil)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "/docs/x.md", records[0].Path)
	assert.Equal(t, "x.md", records[0].Name)
	assert.Equal(t, "/legacy.md", records[1].Path)
	assert.Equal(t, "/empty.md", records[2].Path)
	assert.Equal(t, "", records[2].Content)
}

func TestDecodeFlatJSONSortedByKey(t *testing.T) {
	body := `{"/b.md":"bee","/a.md":"ay","/n.md":7,"c/d.md":"dee"}`
	records, err := Decode([]byte(body), KindJSON, nil)
	require.NoError(t, err)
	assert.Equal(t, []model.FileRecord{
		{Path: "/a.md", Name: "a.md", Content: "ay"},
		{Path: "/b.md", Name: "b.md", Content: "bee"},
		{Path: "/c/d.md", Name: "d.md", Content: "dee"},
	}, records)
}

func TestDecodeInvalidPayloads(t *testing.T) {
	cases := []struct {
		name string
		buf  string
		kind PayloadKind
	}{
		{"empty", "", KindJSON},
		{"whitespace", "  \n", KindArchive},
		{"malformed json", `{"files":`, KindJSON},
		{"json array", `[{"path":"/a"}]`, KindJSON},
		{"json null", `null`, KindJSON},
		{"structured without files", `{"/a.md":"x"}`, KindStructuredJSON},
		{"not a zip", "definitely not a zip", KindArchive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records, err := Decode([]byte(tc.buf), tc.kind, nil)
			assert.Nil(t, records)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPayload)

			var de *Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, CodeInvalidPayload, de.Code)
		})
	}
}

func TestDecodeArchiveSortsAndNormalizes(t *testing.T) {
	files := map[string]string{
		"repo-main/z.md":      "zed",
		"repo-main/docs/a.md": "ay",
		"repo-main/README.md": "readme",
	}
	buf := buildZip(t, files, "repo-main/", "repo-main/z.md", "repo-main/docs/", "repo-main/docs/a.md", "repo-main/README.md")

	records, err := Decode(buf, KindArchive, nil)
	require.NoError(t, err)
	paths := make([]string, 0, len(records))
	for _, r := range records {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"/repo-main/README.md", "/repo-main/docs/a.md", "/repo-main/z.md"}, paths)

	records, err = Decode(buf, KindArchive, nil, WithStripRootDir())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "/README.md", records[0].Path)
	assert.Equal(t, "/docs/a.md", records[1].Path)
	assert.Equal(t, "a.md", records[1].Name)
	assert.Equal(t, "ay", records[1].Content)
}

func TestDecodeArchiveDropsOversizedEntries(t *testing.T) {
	files := map[string]string{"small.md": "ok", "big.md": "0123456789"}
	buf := buildZip(t, files, "small.md", "big.md")

	records, err := Decode(buf, KindArchive, nil, WithMaxEntryBytes(5))
	require.NoError(t, err)
	assert.Equal(t, []model.FileRecord{{Path: "/small.md", Name: "small.md", Content: "ok"}}, records)
}

func TestDecodeAppliesFilter(t *testing.T) {
	body := `{"files":[
		{"path":"/docs/a.md","content":"a"},
		{"path":"/docs/deep/b.md","content":"b"},
		{"path":"/src/main.go","content":"package main"},
		{"path":"/node_modules/x.md","content":"x"}
	]}`
	filter := GlobFilter{Include: []string{"**/*.md"}, Exclude: []string{"node_modules/**"}}
	records, err := Decode([]byte(body), KindJSON, filter)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "/docs/a.md", records[0].Path)
	assert.Equal(t, "/docs/deep/b.md", records[1].Path)
}

func TestGlobFilter(t *testing.T) {
	f := GlobFilter{Include: []string{"*.md", "*.mdx"}}
	assert.True(t, f.Match("/a/b/c.md"))
	assert.True(t, f.Match("/x.mdx"))
	assert.False(t, f.Match("/x.txt"))

	assert.True(t, GlobFilter{}.Match("/anything"))
	assert.False(t, GlobFilter{Exclude: []string{"secret/**"}}.Match("/secret/key.md"))
}

func TestGlobFilterNestedDoubleStar(t *testing.T) {
	f := GlobFilter{Exclude: []string{"**/node_modules/**", "**/.git/**"}}
	cases := map[string]bool{
		"/node_modules/x.js":             false,
		"/node_modules/pkg/index.js":     false,
		"/web/node_modules/pkg/lib/a.js": false,
		"/.git/objects/ab/cd":            false,
		"/.git/HEAD":                     false,
		"/docs/node_modules.md":          true,
		"/web/src/app.js":                true,
		"/gitignore/readme.md":           true,
	}
	for p, want := range cases {
		assert.Equal(t, want, f.Match(p), p)
	}

	include := GlobFilter{Include: []string{"docs/**/*.md"}}
	assert.True(t, include.Match("/docs/a.md"))
	assert.True(t, include.Match("/docs/guide/deep/b.md"))
	assert.False(t, include.Match("/src/docs/a.md"))
}

func TestGlobFilterValidate(t *testing.T) {
	require.NoError(t, GlobFilter{Include: []string{"**/*.md"}, Exclude: []string{"/vendor/**"}}.Validate())

	err := GlobFilter{Exclude: []string{"[abc"}}.Validate()
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
