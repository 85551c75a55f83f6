package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeResult(t *testing.T) {
	p := &ProbeResult{
		Format: ProbeFormat{Duration: "12.480000", Size: "1048576"},
		Streams: []ProbeStream{
			{CodecType: "audio", CodecName: "aac"},
			{CodecType: "video", CodecName: "h264", Width: 1280, Height: 720, AvgFrameRate: "24/1"},
		},
	}

	w, h := p.Dimensions()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
	assert.InDelta(t, 12.48, p.DurationSeconds(), 0.001)
	assert.Equal(t, 24.0, p.FrameRate())
	assert.Equal(t, int64(1048576), p.SizeBytes())

	empty := &ProbeResult{Format: ProbeFormat{Duration: "N/A"}}
	assert.Nil(t, empty.VideoStream())
	assert.Zero(t, empty.DurationSeconds())
	assert.Zero(t, empty.FrameRate())
	assert.Zero(t, empty.SizeBytes())
}

func TestParseFrameRate(t *testing.T) {
	assert.InDelta(t, 29.97, ParseFrameRate("30000/1001"), 0.01)
	assert.Zero(t, ParseFrameRate("0/0"))
	assert.Zero(t, ParseFrameRate(""))
	assert.Zero(t, ParseFrameRate("garbage"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00", FormatDuration(0))
	assert.Equal(t, "0:42", FormatDuration(42.9))
	assert.Equal(t, "2:05", FormatDuration(125))
	assert.Equal(t, "1:01:01", FormatDuration(3661))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.5 KB", FormatSize(1536))
	assert.Equal(t, "2.0 MB", FormatSize(2*1024*1024))
	assert.Equal(t, "1.0 GB", FormatSize(1024*1024*1024))
}
