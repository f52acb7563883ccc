package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and range validations.
func TestValidate(t *testing.T) {
	t.Parallel()

	// Missing camera source.
	cfg := &Config{FPS: 15, ClipSeconds: 6, DetectionFrames: 3}
	require.Error(t, Validate(cfg))

	// Bad fps.
	cfg = defaults()
	cfg.FPS = 0
	require.Error(t, Validate(cfg))

	// Telegram half-configured.
	cfg = defaults()
	cfg.TelegramBotToken = "123:abc"
	require.Error(t, Validate(cfg))

	// Fully valid.
	cfg = defaults()
	cfg.TelegramBotToken = "123:abc"
	cfg.TelegramChatID = "-100456"
	require.NoError(t, Validate(cfg))
}

// TestLoadFromFile ensures YAML settings are read and defaults fill the gaps.
func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	contents := []byte(`
camera_source: "rtsp://10.0.0.4:8554/cam"
fps: 30
clip_seconds: 5
cooldown_seconds: 10
movement_level_required: 800
`)
	require.NoError(t, os.WriteFile(path, contents, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "rtsp://10.0.0.4:8554/cam", cfg.CameraSource)
	require.Equal(t, 30, cfg.FPS)
	require.Equal(t, 150, cfg.ClipFrames())
	require.Equal(t, float64(800), cfg.MovementLevel)
	// Untouched fields keep their defaults.
	require.Equal(t, defaultDetectionFrames, cfg.DetectionFrames)
	require.Equal(t, defaultImageDir, cfg.ImageDir)
}

// TestEnvOverrides verifies environment variables take precedence over file
// values, matching the variable names the deployment scripts use.
func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("camera_source: \"0\"\nfps: 15\n"), 0o600))

	t.Setenv("CAMERA_SOURCE", "/dev/video2")
	t.Setenv("DETECTION_FRAMES_REQUIRED", "5")
	t.Setenv("COOLDOWN_SECONDS", "45")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/video2", cfg.CameraSource)
	require.Equal(t, 5, cfg.DetectionFrames)
	require.Equal(t, 45, cfg.CooldownSeconds)
}

// TestEnvInvalidOverrideFails ensures a malformed numeric override is fatal
// at load time instead of silently falling back to the default.
func TestEnvInvalidOverrideFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("camera_source: \"0\"\n"), 0o600))

	t.Setenv("FPS", "abc")
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "FPS")

	t.Setenv("FPS", "30")
	t.Setenv("MOVEMENT_LEVEL_REQUIRED", "high")
	_, err = Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "MOVEMENT_LEVEL_REQUIRED")
}

// TestLoadMissingFile fails for an explicit path but tolerates the default
// path so environment-only deployments work.
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
