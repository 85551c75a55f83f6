// Package validation checks stage inputs and user supplied names before they
// reach a backend or the filesystem.
package validation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
)

// ErrDisallowedFileType is returned when a file type is not in the allowlist.
var ErrDisallowedFileType = errors.New("file type not allowed")

// Category groups the MIME types a stage accepts as input.
type Category string

const (
	CategoryImage Category = "image"
	CategoryAudio Category = "audio"
	CategoryVideo Category = "video"
)

var allowedMIMETypes = map[Category]map[string]bool{
	CategoryImage: {
		"image/jpeg": true,
		"image/png":  true,
		"image/webp": true,
	},
	CategoryAudio: {
		"audio/mpeg":      true,
		"audio/ogg":       true,
		"application/ogg": true,
		"audio/wav":       true,
		"audio/wave":      true,
		"audio/x-wav":     true,
		"audio/flac":      true,
		"audio/x-flac":    true,
	},
	CategoryVideo: {
		"video/mp4":       true,
		"video/webm":      true,
		"video/quicktime": true,
	},
}

// magicBytesBufferSize is the number of bytes to read for content type detection.
const magicBytesBufferSize = 512

// DetectMIME reads up to 512 bytes, detects the MIME type and rewinds the
// reader. Empty input is reported as application/octet-stream.
func DetectMIME(reader io.ReadSeeker) (string, error) {
	buf := make([]byte, magicBytesBufferSize)
	n, err := reader.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	if n == 0 {
		return "application/octet-stream", nil
	}
	buf = buf[:n]

	if mime := detectCustomMagicBytes(buf); mime != "" {
		return mime, nil
	}
	return http.DetectContentType(buf), nil
}

// Allowed reports whether mime is accepted for the category.
func Allowed(category Category, mime string) bool {
	return allowedMIMETypes[category][mime]
}

// ValidateFile sniffs the file at path and returns its MIME type, or an error
// wrapping ErrDisallowedFileType when the category does not accept it.
func ValidateFile(path string, category Category) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck

	mime, err := DetectMIME(f)
	if err != nil {
		return "", err
	}
	if !Allowed(category, mime) {
		return mime, fmt.Errorf("%w: %s is not a valid %s input", ErrDisallowedFileType, mime, category)
	}
	return mime, nil
}

// detectCustomMagicBytes handles detection of file types that http.DetectContentType
// may not recognize correctly.
func detectCustomMagicBytes(buf []byte) string {
	if len(buf) < 4 {
		return ""
	}

	// WebM/Matroska: EBML header (0x1A 0x45 0xDF 0xA3)
	if buf[0] == 0x1A && buf[1] == 0x45 && buf[2] == 0xDF && buf[3] == 0xA3 {
		return "video/webm"
	}

	// FLAC: starts with "fLaC"
	if buf[0] == 'f' && buf[1] == 'L' && buf[2] == 'a' && buf[3] == 'C' {
		return "audio/flac"
	}

	// MP3 without ID3: MPEG Audio Layer III frame sync
	if buf[0] == 0xFF {
		switch buf[1] & 0xFE {
		case 0xFA, 0xF2:
			return "audio/mpeg"
		}
	}

	// ID3 tag (common for MP3)
	if buf[0] == 'I' && buf[1] == 'D' && buf[2] == '3' {
		return "audio/mpeg"
	}

	if len(buf) >= 12 {
		// WebP: RIFF....WEBP
		if string(buf[0:4]) == "RIFF" && string(buf[8:12]) == "WEBP" {
			return "image/webp"
		}

		// MP4/QuickTime: [4 bytes size]["ftyp"][brand]
		if string(buf[4:8]) == "ftyp" {
			if string(buf[8:12]) == "qt  " {
				return "video/quicktime"
			}
			return "video/mp4"
		}
	}

	return ""
}
