package frontmatter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantKeys []string
		wantMeta map[string]any
		wantBody string
	}{
		{
			name:     "no frontmatter",
			content:  "Summarize X",
			wantKeys: nil,
			wantMeta: map[string]any{},
			wantBody: "Summarize X",
		},
		{
			name:     "integer and string values",
			content:  "---\niteration: 2\nstatus: done\nlast_run: 2024-05-01T10:11:12\n---\n\nBody text\n",
			wantKeys: []string{"iteration", "status", "last_run"},
			wantMeta: map[string]any{"iteration": 2, "status": "done", "last_run": "2024-05-01T10:11:12"},
			wantBody: "Body text\n",
		},
		{
			name:     "lines without colon are ignored",
			content:  "---\ntags\nowner: sam\n---\nhello",
			wantKeys: []string{"owner"},
			wantMeta: map[string]any{"owner": "sam"},
			wantBody: "hello",
		},
		{
			name:     "splits on first colon only",
			content:  "---\nurl: http://example.com:8080\n---\n",
			wantKeys: []string{"url"},
			wantMeta: map[string]any{"url": "http://example.com:8080"},
			wantBody: "",
		},
		{
			name:     "negative numbers stay strings",
			content:  "---\noffset: -3\n---\nx",
			wantKeys: []string{"offset"},
			wantMeta: map[string]any{"offset": "-3"},
			wantBody: "x",
		},
		{
			name:     "unterminated block degrades to body",
			content:  "---\niteration: 1\nno closing fence",
			wantKeys: nil,
			wantMeta: map[string]any{},
			wantBody: "---\niteration: 1\nno closing fence",
		},
		{
			name:     "leading newlines stripped from body",
			content:  "---\na: b\n---\n\n\n\nstart",
			wantKeys: []string{"a"},
			wantMeta: map[string]any{"a": "b"},
			wantBody: "start",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, body := Decode(tt.content)
			assert.Equal(t, tt.wantKeys, meta.Keys())
			assert.Equal(t, tt.wantMeta, meta.Map())
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	meta := New()
	meta.Set("iteration", 1)
	meta.Set("status", "done")

	got := Encode(meta, "Summarize X")
	assert.Equal(t, "---\niteration: 1\nstatus: done\n---\n\nSummarize X", got)
}

func TestEncodeEmptyMetadata(t *testing.T) {
	assert.Equal(t, "---\n---\n\nbody", Encode(New(), "body"))
	assert.Equal(t, "---\n---\n\nbody", Encode(nil, "body"))
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		meta [][2]any
		body string
	}{
		{name: "empty", body: ""},
		{name: "recognized keys", meta: [][2]any{{"iteration", 3}, {"status", "failed"}, {"last_run", "2024-01-02T03:04:05"}}, body: "Do the thing\n"},
		{name: "unknown keys keep order", meta: [][2]any{{"zeta", "z"}, {"alpha", 7}, {"mid", "m m"}}, body: "# Title\n\n> [!quote] quoted\n"},
		{name: "body with later delimiter", meta: [][2]any{{"k", "v"}}, body: "text\n\n---\n\nmore"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta := New()
			for _, kv := range tc.meta {
				meta.Set(kv[0].(string), kv[1])
			}

			gotMeta, gotBody := Decode(Encode(meta, tc.body))
			require.Equal(t, meta.Keys(), gotMeta.Keys())
			assert.Equal(t, meta.Map(), gotMeta.Map())
			assert.Equal(t, tc.body, gotBody)
		})
	}
}

func TestMetadataSetKeepsPosition(t *testing.T) {
	meta := New()
	meta.Set("a", 1)
	meta.Set("b", "two")
	meta.Set("a", 3)
	meta.Set("c", 1.5) // unsupported type, dropped

	assert.Equal(t, []string{"a", "b"}, meta.Keys())
	assert.Equal(t, 3, meta.Int("a", 0))
	assert.Equal(t, 9, meta.Int("b", 9))
	assert.Equal(t, "two", meta.String("b"))
	assert.Equal(t, "", meta.String("a"))
}

func TestMetadataClone(t *testing.T) {
	meta := New()
	meta.Set("iteration", 1)

	clone := meta.Clone()
	clone.Set("iteration", 2)
	clone.Set("status", "done")

	assert.Equal(t, 1, meta.Int("iteration", 0))
	assert.Equal(t, 1, meta.Len())
	assert.Equal(t, 2, clone.Len())
}
