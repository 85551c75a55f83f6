package proc

import (
	"bytes"
	"sync"
)

// MaxStderrBytes bounds how much subprocess stderr is kept for error reports.
const MaxStderrBytes = 8 * 1024

// TailBuffer is an io.Writer that keeps only the last Limit bytes.
type TailBuffer struct {
	Limit int

	mu  sync.Mutex
	buf bytes.Buffer
}

func NewTailBuffer(limit int) *TailBuffer {
	return &TailBuffer{Limit: limit}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	t.buf.Write(p)
	if t.Limit > 0 && t.buf.Len() > t.Limit {
		// Keep only the tail
		b := t.buf.Bytes()
		tail := append([]byte(nil), b[len(b)-t.Limit:]...)
		t.buf.Reset()
		t.buf.Write(tail)
	}
	return n, nil
}

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

// Truncate shortens s to its last maxLen bytes for log lines.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}
