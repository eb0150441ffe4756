package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "nested", "report.md")
	require.NoError(t, Save(path, "# Report"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Report", string(data))

	require.NoError(t, Save(path, "# Second"))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Second", string(data))
}

func TestSaveIntoFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	assert.Error(t, Save(filepath.Join(blocker, "report.md"), "x"))
}

func TestRenderPlain(t *testing.T) {
	out, err := Render("# Incidents\n\nBranch **3** sold insurance.", "notty", 80)
	require.NoError(t, err)
	assert.Contains(t, out, "Incidents")
	assert.Contains(t, out, "sold insurance")
}

func TestRenderUnknownStyle(t *testing.T) {
	_, err := Render("text", "no-such-style", 80)
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{name: "empty", text: "", max: 10, want: nil},
		{name: "blank", text: "  \n ", max: 10, want: nil},
		{name: "fits", text: "short", max: 10, want: []string{"short"}},
		{
			name: "paragraphs first",
			text: "first para\n\nsecond para",
			max:  15,
			want: []string{"first para", "second para"},
		},
		{
			name: "lines before sentences",
			text: "one. two\nthree four",
			max:  12,
			want: []string{"one. two", "three four"},
		},
		{
			name: "sentences",
			text: "Alpha beta. Gamma delta.",
			max:  14,
			want: []string{"Alpha beta.", "Gamma delta."},
		},
		{
			name: "words",
			text: "aaa bbb ccc",
			max:  8,
			want: []string{"aaa bbb", "ccc"},
		},
		{
			name: "forced",
			text: "abcdefghij",
			max:  4,
			want: []string{"abcd", "efgh", "ij"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.max)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Split mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplitKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("операционный", 5)
	chunks := Split(text, 7)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c), "chunk %q", c)
		assert.LessOrEqual(t, len(c), 7)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitRespectsLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("Branch review mentions a hidden fee. ")
		if i%7 == 0 {
			b.WriteString("\n\n")
		}
	}
	chunks := Split(b.String(), DefaultChunkSize)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), DefaultChunkSize)
		assert.Equal(t, strings.TrimSpace(c), c)
	}
}

func TestSplitDefaultSize(t *testing.T) {
	assert.Equal(t, []string{"x"}, Split("x", 0))
}
