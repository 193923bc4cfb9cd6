// vidcompose/config/config_test.go
package config_test // Use an external test package

import (
	"testing"
	"time"

	"vidcompose/config"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	t.Run("loads default values correctly", func(t *testing.T) {
		// Ensure no env vars are lingering from other tests
		t.Setenv("VIDCOMPOSE_PORT", "")
		t.Setenv("VIDCOMPOSE_WORKER_COUNT", "")
		t.Setenv("VIDCOMPOSE_AUTH_ENABLE", "")
		t.Setenv("VIDCOMPOSE_FF_TIMEOUT", "")
		t.Setenv("VIDCOMPOSE_MAX_INPUT_SIZE", "")

		cfg, err := config.Load()
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, 4, cfg.WorkerCount)
		assert.Equal(t, 100, cfg.QueueSize)
		assert.Equal(t, false, cfg.AuthEnable)
		assert.Equal(t, "ffmpeg", cfg.FFBin)
		assert.Equal(t, "ffprobe", cfg.FFProbeBin)
		assert.Equal(t, 10*time.Minute, cfg.FFTimeout)
		assert.Equal(t, 10*time.Second, cfg.ImageVideoDuration)
		assert.Equal(t, int64(500*1024*1024), cfg.MaxInputSize)
	})

	t.Run("overrides defaults with environment variables", func(t *testing.T) {
		t.Setenv("VIDCOMPOSE_PORT", "9999")
		t.Setenv("VIDCOMPOSE_WORKER_COUNT", "10")
		t.Setenv("VIDCOMPOSE_AUTH_ENABLE", "true")
		t.Setenv("VIDCOMPOSE_AUTH_KEY", "newsecret")
		t.Setenv("VIDCOMPOSE_MAX_INPUT_SIZE", "50MB")
		t.Setenv("VIDCOMPOSE_CONCAT_AUDIO", "/srv/media/track.mp3")

		cfg, err := config.Load()
		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "9999", cfg.Port)
		assert.Equal(t, 10, cfg.WorkerCount)
		assert.Equal(t, true, cfg.AuthEnable)
		assert.Equal(t, "newsecret", cfg.AuthKey)
		assert.Equal(t, int64(50*1024*1024), cfg.MaxInputSize)
		assert.Equal(t, "/srv/media/track.mp3", cfg.ConcatAudio)
	})
}
