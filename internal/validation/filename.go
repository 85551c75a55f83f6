package validation

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// maxFilenameLength is the common filesystem limit.
const maxFilenameLength = 255

// dangerousChars break Content-Disposition quoting or escape the export
// directory.
var dangerousChars = map[rune]bool{
	'"':  true,
	'\\': true,
	'/':  true,
	':':  true,
	'\n': true,
	'\r': true,
}

// SanitizeFilename makes a user supplied export name safe for the filesystem
// and HTTP headers. Dangerous and control characters become underscores,
// Unicode is preserved, and long names are cut to 255 bytes keeping the
// extension. Empty names become fallback.
func SanitizeFilename(name, fallback string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if r < 32 || r == 127 || dangerousChars[r] {
			sb.WriteRune('_')
			continue
		}
		sb.WriteRune(r)
	}

	result := strings.TrimSpace(sb.String())
	result = strings.TrimLeft(result, ".")
	if strings.Trim(result, "_") == "" {
		return fallback
	}

	if len(result) > maxFilenameLength {
		result = truncatePreservingExtension(result)
	}
	return result
}

// ExportFilename returns the sanitized base name with ext appended unless it
// already carries it.
func ExportFilename(name, fallback, ext string) string {
	base := SanitizeFilename(strings.TrimSuffix(name, ext), fallback)
	if ext == "" {
		return base
	}
	if len(base)+len(ext) > maxFilenameLength {
		base = TruncateUTF8(base, maxFilenameLength-len(ext))
	}
	return base + ext
}

func truncatePreservingExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || len(ext) >= maxFilenameLength {
		return TruncateUTF8(name, maxFilenameLength)
	}
	base := name[:len(name)-len(ext)]
	return TruncateUTF8(base, maxFilenameLength-len(ext)) + ext
}

// TruncateUTF8 cuts s to at most maxBytes without splitting a rune.
func TruncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
