package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the watcher process. Values are read from a
// YAML file and may be overridden by environment variables using the names
// listed next to each field.
type Config struct {
	// CameraSource is a V4L2 device index ("0"), a device path
	// ("/dev/video0") or a network URL (rtsp://, http://). CAMERA_SOURCE.
	CameraSource string `yaml:"camera_source"`
	// FPS is the capture and clip frame rate. FPS.
	FPS int `yaml:"fps"`

	// MinContourArea is the smallest connected changed region (in pixels of
	// the downscaled difference mask) that counts toward the movement
	// level. MIN_CONTOUR_AREA.
	MinContourArea int `yaml:"min_contour_area"`
	// MovementLevel is the score a frame must reach to count as movement.
	// MOVEMENT_LEVEL_REQUIRED.
	MovementLevel float64 `yaml:"movement_level_required"`
	// DetectionFrames is how many consecutive moving frames confirm an
	// alert. DETECTION_FRAMES_REQUIRED.
	DetectionFrames int `yaml:"detection_frames_required"`
	// CooldownSeconds is the minimum interval between dispatched alerts.
	// COOLDOWN_SECONDS.
	CooldownSeconds int `yaml:"cooldown_seconds"`
	// ClipSeconds is the total duration of a recorded clip. CLIP_SECONDS.
	ClipSeconds int `yaml:"clip_seconds"`

	// ImageDir and VideoDir receive snapshots and finalized clips.
	// IMAGE_DIR, VIDEO_DIR.
	ImageDir string `yaml:"image_dir"`
	VideoDir string `yaml:"video_dir"`
	// EventDBPath is the SQLite file for the alert event log. Empty
	// disables persistence. EVENT_DB_PATH.
	EventDBPath string `yaml:"event_db_path"`

	// Telegram credentials. TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID.
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`

	// AlertSoundPath is a local audio file played on each dispatched alert.
	// Empty disables the sound. ALERT_SOUND_PATH.
	AlertSoundPath string `yaml:"alert_sound_path"`

	// RelayURL is an optional RTMP(S) target the source stream is copied
	// to. Empty disables the relay. RELAY_URL.
	RelayURL string `yaml:"relay_url"`

	// ListenAddress serves /healthz and /metrics plus the live frame
	// WebSocket when set, e.g. ":8090". Empty disables the listener.
	// LISTEN_ADDRESS.
	ListenAddress string `yaml:"listen_address"`

	// ReconnectDelay is the base delay between capture reconnect attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	// MaxReconnects caps reconnect attempts; -1 retries forever.
	MaxReconnects int `yaml:"max_reconnects"`

	// LogLevel is one of debug, info, warn, error. LOG_LEVEL.
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultConfigFilename is used when no --config flag is given.
	DefaultConfigFilename = "vigil.yaml"

	defaultFPS             = 15
	defaultMinContourArea  = 400
	defaultMovementLevel   = 400
	defaultDetectionFrames = 3
	defaultCooldownSeconds = 20
	defaultClipSeconds     = 6
	defaultImageDir        = "./data/images"
	defaultVideoDir        = "./data/videos"
	defaultReconnectDelay  = 3 * time.Second
	defaultMaxReconnects   = -1
	defaultLogLevel        = "info"
)

var (
	errCameraSourceRequired = errors.New("camera source must be provided")
	errTelegramIncomplete   = errors.New("telegram bot token and chat id must both be set or both be empty")
)

// Load reads configuration from path, applies environment overrides and
// validates the result. A missing file is not an error when the path is the
// default: the environment alone can carry a full configuration.
func Load(path string) (*Config, error) {
	cfg := defaults()

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case os.IsNotExist(err) && path == DefaultConfigFilename:
		// Fall through to environment overrides.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		CameraSource:    "0",
		FPS:             defaultFPS,
		MinContourArea:  defaultMinContourArea,
		MovementLevel:   defaultMovementLevel,
		DetectionFrames: defaultDetectionFrames,
		CooldownSeconds: defaultCooldownSeconds,
		ClipSeconds:     defaultClipSeconds,
		ImageDir:        defaultImageDir,
		VideoDir:        defaultVideoDir,
		ReconnectDelay:  defaultReconnectDelay,
		MaxReconnects:   defaultMaxReconnects,
		LogLevel:        defaultLogLevel,
	}
}

// applyEnv overrides file values from the environment. A malformed numeric
// override is a configuration error, never silently ignored.
func (c *Config) applyEnv() error {
	setString(&c.CameraSource, "CAMERA_SOURCE")
	setString(&c.ImageDir, "IMAGE_DIR")
	setString(&c.VideoDir, "VIDEO_DIR")
	setString(&c.EventDBPath, "EVENT_DB_PATH")
	setString(&c.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setString(&c.TelegramChatID, "TELEGRAM_CHAT_ID")
	setString(&c.AlertSoundPath, "ALERT_SOUND_PATH")
	setString(&c.RelayURL, "RELAY_URL")
	setString(&c.ListenAddress, "LISTEN_ADDRESS")
	setString(&c.LogLevel, "LOG_LEVEL")

	ints := []struct {
		dst *int
		key string
	}{
		{&c.FPS, "FPS"},
		{&c.MinContourArea, "MIN_CONTOUR_AREA"},
		{&c.DetectionFrames, "DETECTION_FRAMES_REQUIRED"},
		{&c.CooldownSeconds, "COOLDOWN_SECONDS"},
		{&c.ClipSeconds, "CLIP_SECONDS"},
	}
	for _, e := range ints {
		if err := setInt(e.dst, e.key); err != nil {
			return err
		}
	}

	return setFloat(&c.MovementLevel, "MOVEMENT_LEVEL_REQUIRED")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %q is not an integer", key, v)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %q is not a number", key, v)
	}
	*dst = f
	return nil
}

// Validate checks required fields and value ranges. Failures here are fatal
// at startup: the frame loop never begins with a broken configuration.
func Validate(cfg *Config) error {
	if cfg.CameraSource == "" {
		return errCameraSourceRequired
	}

	if cfg.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %d", cfg.FPS)
	}

	if cfg.ClipSeconds <= 0 {
		return fmt.Errorf("clip_seconds must be positive, got %d", cfg.ClipSeconds)
	}

	if cfg.DetectionFrames <= 0 {
		return fmt.Errorf("detection_frames_required must be positive, got %d", cfg.DetectionFrames)
	}

	if cfg.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown_seconds cannot be negative, got %d", cfg.CooldownSeconds)
	}

	if cfg.MinContourArea < 0 {
		return fmt.Errorf("min_contour_area cannot be negative, got %d", cfg.MinContourArea)
	}

	if cfg.MovementLevel < 0 {
		return fmt.Errorf("movement_level_required cannot be negative, got %v", cfg.MovementLevel)
	}

	if (cfg.TelegramBotToken == "") != (cfg.TelegramChatID == "") {
		return errTelegramIncomplete
	}

	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}

	return nil
}

// Cooldown returns the cooldown interval as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// ClipFrames returns the total number of frames a finalized clip holds.
func (c *Config) ClipFrames() int {
	return c.ClipSeconds * c.FPS
}
