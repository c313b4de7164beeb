package loader

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapleportal/internal/vectorstore"
)

const christmasJSON = `{
  "name": "크리스마스 이벤트",
  "event_period": "12월 25일까지",
  "icon": "x.png",
  "banner_url": "http://cdn.example/banner.png",
  "rewards": [{"item_name": "눈꽃 모자", "count": 1}, "경험치", ""],
  "detail": {"boss_hp": 0, "note": "None", "summary": " 보스 "},
  "empty": {"image": "a.png"},
  "link": "https://maplestory.example/events/1",
  "n": null
}`

func TestConvertJSON(t *testing.T) {
	text, _, err := NewConverter(nil).ConvertJSON([]byte(christmasJSON))
	require.NoError(t, err)

	want := strings.Join([]string{
		"- **Name**: 크리스마스 이벤트",
		"- **Event Period**: 12월 25일까지",
		"# Rewards",
		"- **Item Name**: 눈꽃 모자",
		"- **Count**: 1",
		"- 경험치",
		"# Detail",
		"- **Summary**: 보스",
	}, "\n")
	assert.Equal(t, want, text)
}

func TestConvertCapsHeadingDepth(t *testing.T) {
	text, _, err := NewConverter(nil).ConvertJSON([]byte(`{"a":{"b":{"c":{"d":{"e":{"f":{"g":{"h":"x"}}}}}}}}`))
	require.NoError(t, err)
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "# A", lines[0])
	assert.Equal(t, "###### F", lines[5])
	assert.Equal(t, "###### G", lines[6])
	assert.Equal(t, "- **H**: x", lines[7])
}

func TestConvertCustomSkipKeys(t *testing.T) {
	c := NewConverter([]string{"Secret"})
	text, _, err := c.ConvertJSON([]byte(`{"secret":"s","date":"2024-01-01","level":"200"}`))
	require.NoError(t, err)
	assert.Equal(t, "- **Date**: 2024-01-01\n- **Level**: 200", text)
}

func TestConvertPreservesKeyOrder(t *testing.T) {
	text, _, err := NewConverter(nil).ConvertJSON([]byte(`{"zeta":"1a","alpha":"2b","mid":["x","y"]}`))
	require.NoError(t, err)
	assert.Equal(t, "- **Zeta**: 1a\n- **Alpha**: 2b\n# Mid\n- x\n- y", text)
}

func TestConvertRejectsInvalidJSON(t *testing.T) {
	_, _, err := NewConverter(nil).ConvertJSON([]byte(`{"a":`))
	assert.Error(t, err)
	_, _, err = NewConverter(nil).ConvertJSON([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notice", "christmas.json"), christmasJSON)
	writeFile(t, filepath.Join(root, "broken", "bad.json"), `{"oops":`)
	writeFile(t, filepath.Join(root, "guide", "readme.txt"), "ignored")

	l := New(Options{}, zap.NewNop())
	chunks, err := l.LoadDirectory(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, DocumentID("notice/christmas.json"), c.DocumentID)
	assert.Equal(t, vectorstore.ChunkID(c.DocumentID, 0), c.ID)
	assert.Equal(t, 0, c.Index)
	assert.Contains(t, c.Content, "12월 25일까지")
	assert.Empty(t, c.Embedding)

	assert.Equal(t, "notice", c.Metadata[vectorstore.MetaCategory])
	assert.Equal(t, "notice", c.Metadata[vectorstore.MetaContentType])
	assert.Equal(t, "크리스마스 이벤트", c.Metadata[vectorstore.MetaTitle])
	assert.Equal(t, "https://maplestory.example/events/1", c.Metadata[vectorstore.MetaLink])
	assert.Equal(t, FormatMarkdown, c.Metadata[MetaFormat])
	assert.Equal(t, "0", c.Metadata[vectorstore.MetaChunkIndex])
	assert.True(t, strings.HasSuffix(c.Metadata[vectorstore.MetaSource], "notice/christmas.json"))
	assert.NotEmpty(t, c.Metadata[MetaModifiedTime])
}

func TestLinkForPrefersExactKeys(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"link after banner", `{"banner_url":"http://cdn/b.png","link":"https://m/e/1"}`, "https://m/e/1"},
		{"link wins over url and href", `{"href":"https://m/h","url":"https://m/u","link":"https://m/l"}`, "https://m/l"},
		{"suffix fallback", `{"thumb_image_url":"http://cdn/t.png","detail_url":"https://m/d"}`, "https://m/d"},
		{"only assets", `{"banner_url":"http://cdn/b.png","job_icon_url":"http://cdn/i.png"}`, ""},
		{"non http link", `{"link":"/relative","page_url":"https://m/p"}`, "https://m/p"},
		{"case insensitive", `{"URL":" https://m/u "}`, "https://m/u"},
		{"not an object", `["https://m/x"]`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := decodeOrdered([]byte(tc.doc))
			require.NoError(t, err)
			assert.Equal(t, tc.want, linkFor(v))
		})
	}
}

func TestLoadDirectoryMissingRoot(t *testing.T) {
	_, err := New(Options{}, nil).LoadDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, ErrIngestion)
}

func TestSplitIsDeterministicAndBounded(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("# 섹션\n- **항목**: 메이플스토리 보스 공략 내용 ")
		b.WriteString(strings.Repeat("가", i%7))
		b.WriteString("\n")
	}
	text := b.String()

	l := New(Options{ChunkSize: 60, ChunkOverlap: 10}, zap.NewNop())
	first, err := l.Split(text)
	require.NoError(t, err)
	second, err := l.Split(text)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Greater(t, len(first), 1)
	for _, c := range first {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 60)
		assert.NotEmpty(t, c)
	}
}

func TestChunkIndicesAreDense(t *testing.T) {
	root := t.TempDir()
	var b strings.Builder
	b.WriteString(`{"title":"긴 가이드","sections":[`)
	for i := 0; i < 30; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"heading":"단계","body":"아케인 심볼을 모아서 강화하는 방법을 설명합니다"}`)
	}
	b.WriteString(`]}`)
	writeFile(t, filepath.Join(root, "guide", "long.json"), b.String())

	chunks, err := New(Options{ChunkSize: 80, ChunkOverlap: 10}, zap.NewNop()).LoadDirectory(context.Background(), root)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, chunks[0].DocumentID, c.DocumentID)
		assert.Equal(t, "guide", c.Metadata[vectorstore.MetaContentType])
		assert.Equal(t, "긴 가이드", c.Metadata[vectorstore.MetaTitle])
	}
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "notice", contentTypeFor("이벤트"))
	assert.Equal(t, "skill", contentTypeFor("Skills"))
	assert.Equal(t, "quest", contentTypeFor("quest"))
	assert.Equal(t, "other", contentTypeFor("misc"))
}
