package logger

import (
	"fmt"
	"strings"
)

// MaxFieldBytes caps a single sanitized field. Remote backends may return
// whole tracebacks as error messages.
const MaxFieldBytes = 512

// SanitizeForLog escapes control characters so backend and user supplied
// text cannot forge log lines or drive the terminal. Printable Unicode is
// kept. Fields longer than MaxFieldBytes are cut on a rune boundary and
// marked with an ellipsis.
func SanitizeForLog(s string) string {
	var sb strings.Builder
	sb.Grow(min(len(s), MaxFieldBytes) + 8)

	for _, r := range s {
		if sb.Len() >= MaxFieldBytes {
			sb.WriteString("...")
			break
		}
		switch r {
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 32 || r == 127 {
				fmt.Fprintf(&sb, `\x%02x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	return sb.String()
}
