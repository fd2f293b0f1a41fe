package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	appName = "vcast"

	DefaultUUID     = "uuid:0199ffd9-6856-74cc-a2f2-4c74af0161b1"
	DefaultPort     = 8200
	DefaultUUIDFile = "dmr_uuid.txt"

	DefaultBufferingUpdateInterval = time.Second
	DefaultIdleTimeout             = 10 * time.Minute
)

type Config struct {
	UUIDPath               string `koanf:"uuid_path"`
	AllowSessionPreempt    bool   `koanf:"allow_session_preempt"`
	LinkSystemOutputVolume bool   `koanf:"link_system_volume"`
	HTTPPort               int    `koanf:"http_port"`

	MPV      MPVConfig      `koanf:"mpv"`
	Playback PlaybackConfig `koanf:"playback"`
}

// MPVConfig configures the mpv engine.
type MPVConfig struct {
	Binary     string   `koanf:"binary"`
	Fullscreen bool     `koanf:"fullscreen"`
	ExtraArgs  []string `koanf:"extra_args"`
	WindowID   int64    `koanf:"wid"`       // embed video into this native window when non-zero
	AssetDir   string   `koanf:"asset_dir"` // root for asset:/// sources
}

// PlaybackConfig holds the options every playback session is created with.
type PlaybackConfig struct {
	MixWithOthers           bool          `koanf:"mix_with_others"`
	UserAgent               string        `koanf:"user_agent"`
	BufferForPlayback       time.Duration `koanf:"buffer_for_playback"`
	BufferingUpdateInterval time.Duration `koanf:"buffering_update_interval"` // heartbeat for SendBufferingUpdate
	IdleTimeout             time.Duration `koanf:"idle_timeout"`              // paused sessions are dropped after this
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		UUIDPath:            defaultUUIDPath(),
		AllowSessionPreempt: true,
		HTTPPort:            DefaultPort,
		MPV:                 MPVConfig{Binary: "mpv"},
		Playback: PlaybackConfig{
			BufferingUpdateInterval: DefaultBufferingUpdateInterval,
			IdleTimeout:             DefaultIdleTimeout,
		},
	}
}

// Load layers defaults, config files and VCAST_* environment variables, later
// sources winning. extra is an explicit config file that must exist.
func Load(extra string) (Config, error) {
	k := koanf.New(".")

	for _, path := range configPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if extra != "" {
		if err := k.Load(file.Provider(extra), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", extra, err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	// Validate configuration
	cfg.validate()

	return cfg, nil
}

func configPaths() []string {
	return []string{
		// 1. $XDG_CONFIG_HOME/vcast/config.toml
		filepath.Join(xdg.ConfigHome, appName, "config.toml"),
		// 2. ./config.toml (pwd, highest priority)
		"config.toml",
	}
}

func defaultUUIDPath() string {
	path, err := xdg.DataFile(filepath.Join(appName, DefaultUUIDFile))
	if err != nil {
		return filepath.Join(os.TempDir(), appName, DefaultUUIDFile)
	}
	return path
}

func (c *Config) applyEnv() {
	c.UUIDPath = envVar("VCAST_UUID_PATH", c.UUIDPath)
	c.AllowSessionPreempt = envVar("VCAST_ALLOW_PREEMPT", c.AllowSessionPreempt)
	c.LinkSystemOutputVolume = envVar("VCAST_LINK_SYSTEM_VOLUME", c.LinkSystemOutputVolume)
	c.HTTPPort = envVar("VCAST_HTTP_PORT", c.HTTPPort)

	c.MPV.Binary = envVar("VCAST_MPV_BINARY", c.MPV.Binary)
	c.MPV.Fullscreen = envVar("VCAST_MPV_FULLSCREEN", c.MPV.Fullscreen)
	c.MPV.WindowID = envVar("VCAST_MPV_WID", c.MPV.WindowID)
	c.MPV.AssetDir = envVar("VCAST_MPV_ASSET_DIR", c.MPV.AssetDir)

	c.Playback.MixWithOthers = envVar("VCAST_MIX_WITH_OTHERS", c.Playback.MixWithOthers)
	c.Playback.UserAgent = envVar("VCAST_USER_AGENT", c.Playback.UserAgent)
	c.Playback.BufferForPlayback = envVar("VCAST_BUFFER_FOR_PLAYBACK", c.Playback.BufferForPlayback)
	c.Playback.BufferingUpdateInterval = envVar("VCAST_BUFFERING_UPDATE_INTERVAL", c.Playback.BufferingUpdateInterval)
	c.Playback.IdleTimeout = envVar("VCAST_IDLE_TIMEOUT", c.Playback.IdleTimeout)
}

func envVar[T ~string | ~bool | ~int | ~int64](key string, def T) T {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	switch any(def).(type) {
	case string:
		return any(v).(T)
	case bool:
		if b, err := strconv.ParseBool(v); err == nil {
			return any(b).(T)
		}
	case int:
		if i, err := strconv.Atoi(v); err == nil {
			return any(i).(T)
		}
	case time.Duration:
		if d, err := time.ParseDuration(v); err == nil {
			return any(d).(T)
		}
	case int64:
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return any(i).(T)
		}
	}
	return def
}

// validate repairs out-of-range values
func (c *Config) validate() {
	// Validate HTTP port range
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		c.HTTPPort = DefaultPort
	}

	if strings.TrimSpace(c.MPV.Binary) == "" {
		c.MPV.Binary = "mpv"
	}
	if c.Playback.BufferForPlayback < 0 {
		c.Playback.BufferForPlayback = 0
	}
	if c.Playback.BufferingUpdateInterval < 100*time.Millisecond {
		c.Playback.BufferingUpdateInterval = DefaultBufferingUpdateInterval
	}
	if c.Playback.IdleTimeout <= 0 {
		c.Playback.IdleTimeout = DefaultIdleTimeout
	}

	// Ensure UUID path directory exists
	if c.UUIDPath != "" {
		if dir := filepath.Dir(c.UUIDPath); dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				_ = os.MkdirAll(dir, 0o755)
			}
		}
	}
}
