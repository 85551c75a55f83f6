package validation

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	gifMagic  = []byte{0x47, 0x49, 0x46, 0x38, 0x39, 0x61}
	webpMagic = []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0x00, 0x00, 0x00, 0x57, 0x45, 0x42, 0x50}
	mp4Magic  = []byte{0x00, 0x00, 0x00, 0x18, 0x66, 0x74, 0x79, 0x70, 0x69, 0x73, 0x6F, 0x6D}
	movMagic  = []byte{0x00, 0x00, 0x00, 0x14, 0x66, 0x74, 0x79, 0x70, 0x71, 0x74, 0x20, 0x20}
	webmMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}
	mp3Magic  = []byte{0xFF, 0xFB, 0x90, 0x00}
	mp3ID3    = []byte{0x49, 0x44, 0x33, 0x04, 0x00, 0x00}
	wavMagic  = []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0x00, 0x00, 0x00, 0x57, 0x41, 0x56, 0x45}
	flacMagic = []byte{0x66, 0x4C, 0x61, 0x43}

	htmlMagic = []byte("<!DOCTYPE html><html><body></body></html>")
	exeMagic  = []byte{0x4D, 0x5A, 0x90, 0x00, 0x03, 0x00, 0x00, 0x00}
)

// padBytes pads the magic bytes to ensure enough data for detection
func padBytes(magic []byte, size int) []byte {
	if len(magic) >= size {
		return magic
	}
	result := make([]byte, size)
	copy(result, magic)
	return result
}

func TestDetectMIME(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		category Category
		mime     string
		allowed  bool
	}{
		{"jpeg image", jpegMagic, CategoryImage, "image/jpeg", true},
		{"png image", pngMagic, CategoryImage, "image/png", true},
		{"webp image", webpMagic, CategoryImage, "image/webp", true},
		{"gif is not a drawing input", gifMagic, CategoryImage, "image/gif", false},
		{"png is not audio", pngMagic, CategoryAudio, "image/png", false},
		{"mp3 frame sync", mp3Magic, CategoryAudio, "audio/mpeg", true},
		{"mp3 id3", mp3ID3, CategoryAudio, "audio/mpeg", true},
		{"wav", wavMagic, CategoryAudio, "audio/wave", true},
		{"flac", flacMagic, CategoryAudio, "audio/flac", true},
		{"mp4", mp4Magic, CategoryVideo, "video/mp4", true},
		{"quicktime", movMagic, CategoryVideo, "video/quicktime", true},
		{"webm", webmMagic, CategoryVideo, "video/webm", true},
		{"html", htmlMagic, CategoryImage, "text/html; charset=utf-8", false},
		{"executable", exeMagic, CategoryImage, "application/octet-stream", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mime, err := DetectMIME(bytes.NewReader(padBytes(tt.data, 512)))
			require.NoError(t, err)
			assert.Equal(t, tt.mime, mime)
			assert.Equal(t, tt.allowed, Allowed(tt.category, mime))
		})
	}
}

func TestDetectMIME_Empty(t *testing.T) {
	mime, err := DetectMIME(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", mime)
	assert.False(t, Allowed(CategoryImage, mime))
}

func TestDetectMIME_RewindsReader(t *testing.T) {
	data := padBytes(pngMagic, 1024)
	reader := bytes.NewReader(data)

	_, err := DetectMIME(reader)
	require.NoError(t, err)

	all, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, data, all)
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "drawing.png")
	bad := filepath.Join(dir, "drawing.html")
	require.NoError(t, os.WriteFile(good, padBytes(pngMagic, 64), 0600))
	require.NoError(t, os.WriteFile(bad, htmlMagic, 0600))

	mime, err := ValidateFile(good, CategoryImage)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	_, err = ValidateFile(bad, CategoryImage)
	assert.ErrorIs(t, err, ErrDisallowedFileType)

	_, err = ValidateFile(filepath.Join(dir, "missing.png"), CategoryImage)
	assert.Error(t, err)
}
