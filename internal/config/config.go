// Package config loads runtime settings from .env, the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"presence-agent/internal/core/domain"
)

const EnvPrefix = "PRESENCE"

type Config struct {
	AgentID string

	Platform struct {
		Handle        string
		BaseURL       string
		Token         string
		MaxPostLength int
	}
	Poll struct {
		BatchSize   int
		MinInterval time.Duration
		MaxInterval time.Duration
	}
	ThreadMaxDepth int
	Post           struct {
		MinInterval time.Duration
		MaxInterval time.Duration
		Immediately bool
		WithImage   bool
	}
	Art struct {
		Enabled     bool
		MinInterval time.Duration
		MaxInterval time.Duration
	}
	Composer struct {
		MinDelay     time.Duration
		MaxDelay     time.Duration
		SplitReplies bool
		TraceDir     string
	}
	Image struct {
		Width  int
		Height int
		Count  int
		Model  string
	}
	Storage struct {
		Driver string
		Path   string
		DSN    string
	}
	GeminiAPIKey  string
	Telegram      struct{ Token, ChatID string }
	CharacterPath string
	Logging       struct{ Level, Format, File string }
}

// LoadDotEnv loads .env into the process environment. A missing file is fine.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// NewViper returns a viper instance with defaults and env binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	// Unprefixed names kept for existing deployments.
	_ = v.BindEnv("gemini.api_key", EnvPrefix+"_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("telegram.token", EnvPrefix+"_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("telegram.chat_id", EnvPrefix+"_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")
	_ = v.BindEnv("storage.dsn", EnvPrefix+"_STORAGE_DSN", "DATABASE_URL")
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("agent.id", "")

	v.SetDefault("platform.handle", "")
	v.SetDefault("platform.base_url", "https://api.twitter.com")
	v.SetDefault("platform.token", "")
	v.SetDefault("platform.max_post_length", 280)

	v.SetDefault("poll.batch_size", 40)
	v.SetDefault("poll.min_interval", 1*time.Minute)
	v.SetDefault("poll.max_interval", 2*time.Minute)
	v.SetDefault("thread.max_depth", 10)

	v.SetDefault("post.min_interval", 90*time.Minute)
	v.SetDefault("post.max_interval", 180*time.Minute)
	v.SetDefault("post.immediately", false)
	v.SetDefault("post.with_image", false)

	v.SetDefault("art.enabled", false)
	v.SetDefault("art.min_interval", 2*time.Hour)
	v.SetDefault("art.max_interval", 4*time.Hour)

	v.SetDefault("composer.min_delay", 20*time.Second)
	v.SetDefault("composer.max_delay", 40*time.Second)
	v.SetDefault("composer.split_replies", false)
	v.SetDefault("composer.trace_dir", "")

	v.SetDefault("image.width", 1024)
	v.SetDefault("image.height", 1024)
	v.SetDefault("image.count", 1)
	v.SetDefault("image.model", "")

	v.SetDefault("storage.driver", "json")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.dsn", "")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("character.path", "character.yaml")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
}

// ReadFile merges a YAML/JSON/TOML config file when path is set.
func ReadFile(v *viper.Viper, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load snapshots v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	c.Platform.Handle = strings.TrimPrefix(strings.TrimSpace(v.GetString("platform.handle")), "@")
	c.Platform.BaseURL = v.GetString("platform.base_url")
	c.Platform.Token = v.GetString("platform.token")
	c.Platform.MaxPostLength = v.GetInt("platform.max_post_length")

	c.AgentID = v.GetString("agent.id")
	if c.AgentID == "" && c.Platform.Handle != "" {
		c.AgentID = domain.StableID("agent:" + strings.ToLower(c.Platform.Handle))
	}

	c.Poll.BatchSize = v.GetInt("poll.batch_size")
	c.Poll.MinInterval = v.GetDuration("poll.min_interval")
	c.Poll.MaxInterval = v.GetDuration("poll.max_interval")
	c.ThreadMaxDepth = v.GetInt("thread.max_depth")

	c.Post.MinInterval = v.GetDuration("post.min_interval")
	c.Post.MaxInterval = v.GetDuration("post.max_interval")
	c.Post.Immediately = v.GetBool("post.immediately")
	c.Post.WithImage = v.GetBool("post.with_image")

	c.Art.Enabled = v.GetBool("art.enabled")
	c.Art.MinInterval = v.GetDuration("art.min_interval")
	c.Art.MaxInterval = v.GetDuration("art.max_interval")

	c.Composer.MinDelay = v.GetDuration("composer.min_delay")
	c.Composer.MaxDelay = v.GetDuration("composer.max_delay")
	c.Composer.SplitReplies = v.GetBool("composer.split_replies")
	c.Composer.TraceDir = v.GetString("composer.trace_dir")

	c.Image.Width = v.GetInt("image.width")
	c.Image.Height = v.GetInt("image.height")
	c.Image.Count = v.GetInt("image.count")
	c.Image.Model = v.GetString("image.model")

	c.Storage.Driver = strings.ToLower(v.GetString("storage.driver"))
	c.Storage.Path = v.GetString("storage.path")
	c.Storage.DSN = v.GetString("storage.dsn")

	c.GeminiAPIKey = v.GetString("gemini.api_key")
	c.Telegram.Token = v.GetString("telegram.token")
	c.Telegram.ChatID = v.GetString("telegram.chat_id")
	c.CharacterPath = v.GetString("character.path")

	c.Logging.Level = v.GetString("logging.level")
	c.Logging.Format = v.GetString("logging.format")
	c.Logging.File = v.GetString("logging.file")

	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Platform.Handle == "" {
		return fmt.Errorf("platform.handle is required")
	}
	if c.Platform.MaxPostLength <= 0 {
		return fmt.Errorf("platform.max_post_length must be positive")
	}
	if c.ThreadMaxDepth < 0 {
		return fmt.Errorf("thread.max_depth must not be negative")
	}
	for name, r := range map[string][2]time.Duration{
		"poll":     {c.Poll.MinInterval, c.Poll.MaxInterval},
		"post":     {c.Post.MinInterval, c.Post.MaxInterval},
		"art":      {c.Art.MinInterval, c.Art.MaxInterval},
		"composer": {c.Composer.MinDelay, c.Composer.MaxDelay},
	} {
		if r[0] < 0 || r[1] < r[0] {
			return fmt.Errorf("%s: min %s must be non-negative and not above max %s", name, r[0], r[1])
		}
	}
	switch c.Storage.Driver {
	case "json", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}

// TelegramEnabled reports whether operator approval is configured.
func (c Config) TelegramEnabled() bool {
	return c.Telegram.Token != "" && c.Telegram.ChatID != ""
}
