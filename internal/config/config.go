// Package config provides configuration management for reelgen using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envPrefix is the prefix for environment variable overrides.
const envPrefix = "REELGEN"

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultUploadAttempts      = 3
	defaultUploadRetryDelay    = 500 * time.Millisecond
	defaultAvailabilityWait    = 10 * time.Second
	defaultAvailabilityBase    = 200 * time.Millisecond
	defaultAvailabilityMax     = 2 * time.Second
	defaultLLMTimeout          = 90 * time.Second
	defaultImageTimeout        = 60 * time.Second
	defaultTTSTimeout          = 120 * time.Second
	defaultRenderTimeout       = 10 * time.Minute
	defaultFrameRate           = 30
	defaultFrameWidth          = 1080
	defaultFrameHeight         = 1920
	defaultImageConcurrency    = 3
	defaultRetryMaxAttempts    = 3
	defaultRetryInitialDelay   = 500 * time.Millisecond
	defaultRetryBackoffFactor  = 2.0
	defaultSchedulerInterval   = 5 * time.Minute
	defaultSchedulerStaleAfter = 30 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Render    RenderConfig    `mapstructure:"render"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds object store configuration.
type StorageConfig struct {
	// Endpoint is the object store base URL, e.g. https://x.supabase.co/storage/v1.
	Endpoint string `mapstructure:"endpoint"`
	// APIKey authenticates uploads and bucket management.
	APIKey  string        `mapstructure:"api_key"`
	Buckets BucketsConfig `mapstructure:"buckets"`
	// UploadAttempts is how many times an upload is tried before failing.
	UploadAttempts int `mapstructure:"upload_attempts"`
	// UploadRetryDelay is the base delay between upload attempts; attempt n
	// waits n times this value.
	UploadRetryDelay time.Duration      `mapstructure:"upload_retry_delay"`
	Availability     AvailabilityConfig `mapstructure:"availability"`
}

// BucketsConfig names the object store buckets per asset kind.
type BucketsConfig struct {
	Images   string `mapstructure:"images"`
	Audio    string `mapstructure:"audio"`
	Captions string `mapstructure:"captions"`
	Videos   string `mapstructure:"videos"`
}

// AvailabilityConfig bounds the post-upload visibility probe.
type AvailabilityConfig struct {
	MaxWait   time.Duration `mapstructure:"max_wait"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// ProvidersConfig groups the generation provider settings.
type ProvidersConfig struct {
	LLM   LLMConfig   `mapstructure:"llm"`
	Image ImageConfig `mapstructure:"image"`
	TTS   TTSConfig   `mapstructure:"tts"`
}

// LLMConfig holds script/storyboard model configuration.
type LLMConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"` // empty = provider default
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ImageConfig holds image model configuration.
type ImageConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`          // primary model
	Size          string        `mapstructure:"size"`           // primary size, WxH
	FallbackModel string        `mapstructure:"fallback_model"` // used after the primary is exhausted
	FallbackSize  string        `mapstructure:"fallback_size"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// TTSConfig holds voice synthesis configuration.
type TTSConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	VoiceID string        `mapstructure:"voice_id"`
	ModelID string        `mapstructure:"model_id"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RenderConfig holds transcoder configuration.
type RenderConfig struct {
	FFmpegPath  string        `mapstructure:"ffmpeg_path"`  // empty = auto-detect
	FFprobePath string        `mapstructure:"ffprobe_path"` // empty = auto-detect
	WorkDir     string        `mapstructure:"work_dir"`
	Timeout     time.Duration `mapstructure:"timeout"`
	FrameRate   int           `mapstructure:"frame_rate"`
	Width       int           `mapstructure:"width"`
	Height      int           `mapstructure:"height"`
}

// PipelineConfig holds asset pipeline tuning.
type PipelineConfig struct {
	// ImageConcurrency caps in-flight image generation calls.
	ImageConcurrency int         `mapstructure:"image_concurrency"`
	Retry            RetryConfig `mapstructure:"retry"`
}

// RetryConfig holds the provider retry schedule.
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
}

// SchedulerConfig holds the stale-record reaper configuration.
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with REELGEN_ and use underscores for
// nesting. Example: REELGEN_PROVIDERS_LLM_API_KEY=sk-....
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("reelgen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/reelgen")
		v.AddConfigPath("$HOME/.config/reelgen")
	}

	// Environment variable settings
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Effective unmarshals the given viper instance without validation, so
// a partially configured install can still be inspected. MaskSecrets is
// the usual companion before printing the result.
func Effective(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// MaskSecrets blanks credential values for display. Empty secrets stay
// empty so a template dump shows which keys are still unset.
func (c *Config) MaskSecrets() {
	for _, s := range []*string{
		&c.Storage.APIKey,
		&c.Providers.LLM.APIKey,
		&c.Providers.Image.APIKey,
		&c.Providers.TTS.APIKey,
	} {
		if *s != "" {
			*s = "***"
		}
	}
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults
// are in place. Secrets default to empty so their env overrides are picked
// up by AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "reelgen.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.api_key", "")
	v.SetDefault("storage.buckets.images", "renders-images")
	v.SetDefault("storage.buckets.audio", "renders-audio")
	v.SetDefault("storage.buckets.captions", "renders-captions")
	v.SetDefault("storage.buckets.videos", "renders-videos")
	v.SetDefault("storage.upload_attempts", defaultUploadAttempts)
	v.SetDefault("storage.upload_retry_delay", defaultUploadRetryDelay)
	v.SetDefault("storage.availability.max_wait", defaultAvailabilityWait)
	v.SetDefault("storage.availability.base_delay", defaultAvailabilityBase)
	v.SetDefault("storage.availability.max_delay", defaultAvailabilityMax)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Provider defaults
	v.SetDefault("providers.llm.api_key", "")
	v.SetDefault("providers.llm.base_url", "")
	v.SetDefault("providers.llm.model", "gpt-4o-mini")
	v.SetDefault("providers.llm.timeout", defaultLLMTimeout)
	v.SetDefault("providers.image.api_key", "")
	v.SetDefault("providers.image.base_url", "")
	v.SetDefault("providers.image.model", "dall-e-3")
	v.SetDefault("providers.image.size", "1024x1792")
	v.SetDefault("providers.image.fallback_model", "dall-e-2")
	v.SetDefault("providers.image.fallback_size", "1024x1024")
	v.SetDefault("providers.image.timeout", defaultImageTimeout)
	v.SetDefault("providers.tts.api_key", "")
	v.SetDefault("providers.tts.base_url", "https://api.elevenlabs.io")
	v.SetDefault("providers.tts.voice_id", "")
	v.SetDefault("providers.tts.model_id", "eleven_multilingual_v2")
	v.SetDefault("providers.tts.timeout", defaultTTSTimeout)

	// Render defaults
	v.SetDefault("render.ffmpeg_path", "")
	v.SetDefault("render.ffprobe_path", "")
	v.SetDefault("render.work_dir", "./data/work")
	v.SetDefault("render.timeout", defaultRenderTimeout)
	v.SetDefault("render.frame_rate", defaultFrameRate)
	v.SetDefault("render.width", defaultFrameWidth)
	v.SetDefault("render.height", defaultFrameHeight)

	// Pipeline defaults
	v.SetDefault("pipeline.image_concurrency", defaultImageConcurrency)
	v.SetDefault("pipeline.retry.max_attempts", defaultRetryMaxAttempts)
	v.SetDefault("pipeline.retry.initial_delay", defaultRetryInitialDelay)
	v.SetDefault("pipeline.retry.backoff_factor", defaultRetryBackoffFactor)

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.reap_interval", defaultSchedulerInterval)
	v.SetDefault("scheduler.stale_after", defaultSchedulerStaleAfter)
}

// EnvName returns the environment variable that overrides the given
// configuration key, e.g. "providers.llm.api_key" becomes
// "REELGEN_PROVIDERS_LLM_API_KEY".
func EnvName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Validate checks the configuration for errors. Required values are
// collected so a single failure reports every missing name at once.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// Render validation
	if c.Render.Width < 1 || c.Render.Height < 1 {
		return fmt.Errorf("render.width and render.height must be positive")
	}
	if c.Render.FrameRate < 1 {
		return fmt.Errorf("render.frame_rate must be positive")
	}

	// Pipeline validation
	if c.Pipeline.ImageConcurrency < 1 {
		return fmt.Errorf("pipeline.image_concurrency must be at least 1")
	}
	if c.Pipeline.Retry.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.retry.max_attempts must be at least 1")
	}
	if c.Storage.UploadAttempts < 1 {
		return fmt.Errorf("storage.upload_attempts must be at least 1")
	}

	// Required values: report all missing names in one error.
	required := []struct {
		key   string
		value string
	}{
		{"storage.endpoint", c.Storage.Endpoint},
		{"storage.api_key", c.Storage.APIKey},
		{"providers.llm.api_key", c.Providers.LLM.APIKey},
		{"providers.image.api_key", c.Providers.Image.APIKey},
		{"providers.tts.api_key", c.Providers.TTS.APIKey},
		{"providers.tts.voice_id", c.Providers.TTS.VoiceID},
	}
	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, fmt.Sprintf("%s (%s)", r.key, EnvName(r.key)))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Bucket returns the configured bucket name for an asset kind
// ("images", "audio", "captions", "videos").
func (c *StorageConfig) Bucket(kind string) string {
	switch kind {
	case "images":
		return c.Buckets.Images
	case "audio":
		return c.Buckets.Audio
	case "captions":
		return c.Buckets.Captions
	case "videos":
		return c.Buckets.Videos
	}
	return ""
}
