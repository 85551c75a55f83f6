package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "CUDA out of memory on gpu-0", "CUDA out of memory on gpu-0"},
		{"empty", "", ""},
		{"unicode kept", "personnage animé 🎬", "personnage animé 🎬"},
		{"forged log line", "failed\nINFO: pipeline succeeded", `failed\nINFO: pipeline succeeded`},
		{"crlf", "a\r\nb", `a\r\nb`},
		{"tab", "a\tb", `a\tb`},
		{"null byte", "a\x00b", `a\x00b`},
		{"ansi escape", "\x1b[31mred", `\x1b[31mred`},
		{"delete", "a\x7fb", `a\x7fb`},
		{"invalid utf8", "a\xffb", `a�b`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeForLog(tt.input))
		})
	}
}

func TestSanitizeForLog_Truncates(t *testing.T) {
	long := strings.Repeat("traceback line ", 100)
	got := SanitizeForLog(long)

	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), MaxFieldBytes+8)
	assert.True(t, strings.HasPrefix(long, strings.TrimSuffix(got, "...")))

	exact := strings.Repeat("x", MaxFieldBytes)
	assert.Equal(t, exact, SanitizeForLog(exact))
}
