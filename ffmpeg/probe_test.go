package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const videoProbeJSON = `{
  "streams": [
    {"codec_type": "video", "width": 1920, "height": 1080, "duration": "12.480000"},
    {"codec_type": "audio", "duration": "12.500000"}
  ],
  "format": {"duration": "12.512000"}
}`

const imageProbeJSON = `{
  "streams": [
    {"codec_type": "video", "width": 641, "height": 361}
  ],
  "format": {}
}`

func TestParseProbeJSON(t *testing.T) {
	t.Run("video with audio", func(t *testing.T) {
		p, err := ParseProbeJSON([]byte(videoProbeJSON))
		require.NoError(t, err)
		assert.InDelta(t, 12.512, p.Duration, 0.001)
		assert.Equal(t, 1920, p.Width)
		assert.Equal(t, 1080, p.Height)
		assert.True(t, p.HasAudio)
	})

	t.Run("still image has no duration", func(t *testing.T) {
		p, err := ParseProbeJSON([]byte(imageProbeJSON))
		require.NoError(t, err)
		assert.Zero(t, p.Duration)
		assert.Equal(t, 641, p.Width)
		assert.Equal(t, 361, p.Height)
		assert.False(t, p.HasAudio)
	})

	t.Run("stream duration is the fallback", func(t *testing.T) {
		p, err := ParseProbeJSON([]byte(`{
  "streams": [{"codec_type": "video", "width": 640, "height": 480, "duration": "3.000000"}],
  "format": {}
}`))
		require.NoError(t, err)
		assert.InDelta(t, 3.0, p.Duration, 0.001)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		_, err := ParseProbeJSON([]byte("not json at all"))
		assert.Error(t, err)
	})
}
