package validation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "scene-1.mp4", "scene-1.mp4"},
		{"spaces kept", "my first cartoon", "my first cartoon"},
		{"unicode kept", "dessin animé", "dessin animé"},
		{"japanese kept", "アニメ", "アニメ"},
		{"quote", `hero"final`, "hero_final"},
		{"slash", "../../etc/passwd", "_.._etc_passwd"},
		{"backslash", `a\b`, "a_b"},
		{"colon", "c:drive", "c_drive"},
		{"newline", "line\nbreak", "line_break"},
		{"control char", "bell\x07", "bell_"},
		{"leading dots", "..hidden", "hidden"},
		{"empty", "", "fallback"},
		{"whitespace only", "   ", "fallback"},
		{"only separators", "///", "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input, "fallback"))
		})
	}
}

func TestSanitizeFilename_Truncates(t *testing.T) {
	long := strings.Repeat("a", 300) + ".mp4"
	got := SanitizeFilename(long, "x")
	assert.Len(t, got, maxFilenameLength)
	assert.True(t, strings.HasSuffix(got, ".mp4"))

	multi := strings.Repeat("é", 200)
	got = SanitizeFilename(multi, "x")
	assert.LessOrEqual(t, len(got), maxFilenameLength)
	assert.True(t, utf8.ValidString(got))
}

func TestExportFilename(t *testing.T) {
	assert.Equal(t, "trailer.mp4", ExportFilename("trailer", "export", ".mp4"))
	assert.Equal(t, "trailer.mp4", ExportFilename("trailer.mp4", "export", ".mp4"))
	assert.Equal(t, "export.gif", ExportFilename("", "export", ".gif"))
	assert.Equal(t, "frames", ExportFilename("frames", "export", ""))

	got := ExportFilename(strings.Repeat("b", 400), "export", ".webm")
	assert.Len(t, got, maxFilenameLength)
	assert.True(t, strings.HasSuffix(got, ".webm"))
}
