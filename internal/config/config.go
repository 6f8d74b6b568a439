// Package config provides configuration management for beatreel using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/beatreel/beatreel/pkg/bytesize"
	"github.com/beatreel/beatreel/pkg/duration"
)

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultMaxOpenConns        = 25
	defaultMaxIdleConns        = 10
	defaultConnMaxIdleTime     = 30 * time.Minute
	defaultTargetWidth         = 1920
	defaultTargetHeight        = 1080
	defaultTargetFPS           = 24
	defaultCRF                 = 23
	defaultMaxSongDurationSec  = 300
	defaultMinSectionSec       = 8.0
	defaultMinClipSec          = 3.0
	defaultMaxClipSec          = 6.0
	defaultClipConcurrency     = 4
	defaultNormalizeWorkers    = 4
	defaultMaxAttempts         = 3
	defaultInitialBackoff      = 2 * time.Second
	defaultBackoffMultiplier   = 2.0
	defaultGenerationTimeout   = 15 * time.Minute
	defaultCompositionTimeout  = 30 * time.Minute
	defaultEncodeTimeout       = 10 * time.Minute
	defaultGeneratorPoll       = 4 * time.Second
	defaultURLTTL              = 15 * time.Minute
	defaultSweepCron           = "0 0 3 * * *"
	defaultMaxUploadBytes      = 50 * bytesize.MB
	defaultWorkerCount         = 2
	defaultClipQueueTimeout    = 20 * time.Minute
	defaultDefaultQueueTimeout = 60 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Planning    PlanningConfig    `mapstructure:"planning"`
	Generator   GeneratorConfig   `mapstructure:"generator"`
	Composition CompositionConfig `mapstructure:"composition"`
	FFmpeg      FFmpegConfig      `mapstructure:"ffmpeg"`
	Workers     WorkersConfig     `mapstructure:"workers"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Sweeper     SweeperConfig     `mapstructure:"sweeper"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// MaxUploadBytes caps multipart upload size for POST /songs.
	// Accepts human-readable sizes like "50MB" in config files.
	MaxUploadBytes bytesize.Size `mapstructure:"max_upload_bytes"`
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

// StorageConfig holds blob storage configuration.
type StorageConfig struct {
	// BaseDir is the root of the on-disk blob store.
	BaseDir string `mapstructure:"base_dir"`
	// TempDir holds per-job scratch space, cleaned on completion.
	TempDir string `mapstructure:"temp_dir"`
	// SigningSecret signs short-lived read URLs. Required in production.
	SigningSecret string `mapstructure:"signing_secret"`
	// ReadURLTTL is the lifetime of signed read URLs.
	ReadURLTTL time.Duration `mapstructure:"read_url_ttl"`
	// PublicBaseURL is prepended to signed read paths (empty = relative).
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// AnalysisConfig holds audio analysis configuration.
type AnalysisConfig struct {
	// SampleRate is the mono PCM rate the engine decodes to.
	SampleRate int `mapstructure:"sample_rate"`
	// MinSectionSec is the minimum section duration; undersized sections
	// are merged into the shorter adjacent neighbor. Relaxed to 5s for
	// songs under 60s.
	MinSectionSec float64 `mapstructure:"min_section_sec"`
	// WaveformSamples is the target bucket count for the waveform summary.
	WaveformSamples int `mapstructure:"waveform_samples"`
	// StructureService is an optional external section-inference service.
	StructureService ServiceEndpoint `mapstructure:"structure_service"`
	// LyricsService is an optional external transcription service.
	LyricsService ServiceEndpoint `mapstructure:"lyrics_service"`
}

// ServiceEndpoint describes an optional external HTTP service.
type ServiceEndpoint struct {
	URL      string        `mapstructure:"url"`
	APIToken string        `mapstructure:"api_token"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Configured returns true when the endpoint has a URL set.
func (s ServiceEndpoint) Configured() bool {
	return s.URL != ""
}

// PlanningConfig holds clip planning configuration.
type PlanningConfig struct {
	MinClipSec float64 `mapstructure:"min_clip_sec"`
	MaxClipSec float64 `mapstructure:"max_clip_sec"`
}

// GeneratorConfig holds external video generator configuration.
type GeneratorConfig struct {
	URL      string `mapstructure:"url"`
	APIToken string `mapstructure:"api_token"`
	// PollInterval is the delay between status polls.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// GenerationTimeout is the wall-clock cap for a single clip generation.
	GenerationTimeout time.Duration `mapstructure:"generation_timeout"`
	// ConcurrencyPerSong caps in-flight clip generations per song.
	ConcurrencyPerSong int `mapstructure:"concurrency_per_song"`
}

// BeatEffectConfig configures the audio-reactive composition filter.
type BeatEffectConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Type is one of flash, color_burst, zoom_pulse, glitch.
	Type string `mapstructure:"type"`
	// Intensity scales the effect, 0..1.
	Intensity float64 `mapstructure:"intensity"`
}

// CompositionConfig holds composition pipeline configuration.
type CompositionConfig struct {
	TargetWidth  int    `mapstructure:"target_width"`
	TargetHeight int    `mapstructure:"target_height"`
	TargetFPS    int    `mapstructure:"target_fps"`
	CRF          int    `mapstructure:"crf"`
	Preset       string `mapstructure:"preset"`
	// MaxSongDurationSec is the hard cap for composed output.
	MaxSongDurationSec float64 `mapstructure:"max_song_duration_sec"`
	// MaxExtendSec is how far the last clip may be extended to cover audio.
	MaxExtendSec float64 `mapstructure:"max_extend_sec"`
	// NormalizeWorkers bounds parallel per-clip normalization.
	NormalizeWorkers int `mapstructure:"normalize_workers"`
	// BeatAlignedTransitions trims/extends normalized clips to planned
	// beat boundaries before concatenation.
	BeatAlignedTransitions bool             `mapstructure:"beat_aligned_transitions"`
	BeatEffect             BeatEffectConfig `mapstructure:"beat_effect"`
	// CompositionTimeout caps the whole composition job.
	CompositionTimeout time.Duration `mapstructure:"composition_timeout"`
	// EncodeTimeout caps each encoder subprocess.
	EncodeTimeout time.Duration `mapstructure:"encode_timeout"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// WorkersConfig holds job runner configuration.
type WorkersConfig struct {
	// Count is the number of concurrent job workers.
	Count int `mapstructure:"count"`
	// PollInterval is how often idle workers poll for jobs.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Environment prefixes queue names, e.g. "prod:clip-generation".
	Environment string `mapstructure:"environment"`
	// ClipQueueTimeout is the per-job timeout on the clip generation queue.
	ClipQueueTimeout time.Duration `mapstructure:"clip_queue_timeout"`
	// DefaultQueueTimeout is the per-job timeout on the default queue.
	DefaultQueueTimeout time.Duration `mapstructure:"default_queue_timeout"`
}

// QueueName returns the environment-prefixed name for a queue.
func (w WorkersConfig) QueueName(base string) string {
	if w.Environment == "" {
		return base
	}
	return w.Environment + ":" + base
}

// RetryConfig holds the retry policy for transient external failures.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialBackoff    time.Duration `mapstructure:"initial_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// SweeperConfig holds blob garbage sweeper configuration.
type SweeperConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Cron is a 6-field cron expression for sweep scheduling.
	Cron string `mapstructure:"cron"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with BEATREEL_, using underscores for nesting.
// Example: BEATREEL_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/beatreel")
		v.AddConfigPath("$HOME/.beatreel")
	}

	v.SetEnvPrefix("BEATREEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, DecodeHooks()); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DecodeHooks returns the viper decode hooks used when unmarshaling a
// Config. Durations accept extended units like "1d" or "2 weeks" and
// bytesize.Size fields accept human-readable sizes like "50MB".
func DecodeHooks() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToSizeHookFunc(),
	))
}

// stringToDurationHookFunc decodes duration strings, including extended
// units ("1d", "2 weeks") that time.ParseDuration rejects.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != durationType {
			return data, nil
		}
		return duration.Parse(data.(string))
	}
}

// stringToSizeHookFunc decodes strings like "50MB" into bytesize.Size.
func stringToSizeHookFunc() mapstructure.DecodeHookFunc {
	sizeType := reflect.TypeOf(bytesize.Size(0))
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != sizeType {
			return data, nil
		}
		return bytesize.Parse(data.(string))
	}
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_bytes", defaultMaxUploadBytes)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "beatreel.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data/blobs")
	v.SetDefault("storage.temp_dir", "./data/temp")
	v.SetDefault("storage.signing_secret", "")
	v.SetDefault("storage.read_url_ttl", defaultURLTTL)
	v.SetDefault("storage.public_base_url", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Analysis defaults
	v.SetDefault("analysis.sample_rate", 22050)
	v.SetDefault("analysis.min_section_sec", defaultMinSectionSec)
	v.SetDefault("analysis.waveform_samples", 1024)
	v.SetDefault("analysis.structure_service.url", "")
	v.SetDefault("analysis.structure_service.timeout", 60*time.Second)
	v.SetDefault("analysis.lyrics_service.url", "")
	v.SetDefault("analysis.lyrics_service.timeout", 120*time.Second)

	// Planning defaults
	v.SetDefault("planning.min_clip_sec", defaultMinClipSec)
	v.SetDefault("planning.max_clip_sec", defaultMaxClipSec)

	// Generator defaults
	v.SetDefault("generator.url", "")
	v.SetDefault("generator.poll_interval", defaultGeneratorPoll)
	v.SetDefault("generator.generation_timeout", defaultGenerationTimeout)
	v.SetDefault("generator.concurrency_per_song", defaultClipConcurrency)

	// Composition defaults
	v.SetDefault("composition.target_width", defaultTargetWidth)
	v.SetDefault("composition.target_height", defaultTargetHeight)
	v.SetDefault("composition.target_fps", defaultTargetFPS)
	v.SetDefault("composition.crf", defaultCRF)
	v.SetDefault("composition.preset", "medium")
	v.SetDefault("composition.max_song_duration_sec", float64(defaultMaxSongDurationSec))
	v.SetDefault("composition.max_extend_sec", 3.0)
	v.SetDefault("composition.normalize_workers", defaultNormalizeWorkers)
	v.SetDefault("composition.beat_aligned_transitions", false)
	v.SetDefault("composition.beat_effect.enabled", false)
	v.SetDefault("composition.beat_effect.type", "flash")
	v.SetDefault("composition.beat_effect.intensity", 0.6)
	v.SetDefault("composition.composition_timeout", defaultCompositionTimeout)
	v.SetDefault("composition.encode_timeout", defaultEncodeTimeout)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// Workers defaults
	v.SetDefault("workers.count", defaultWorkerCount)
	v.SetDefault("workers.poll_interval", 5*time.Second)
	v.SetDefault("workers.environment", "dev")
	v.SetDefault("workers.clip_queue_timeout", defaultClipQueueTimeout)
	v.SetDefault("workers.default_queue_timeout", defaultDefaultQueueTimeout)

	// Retry defaults
	v.SetDefault("retry.max_attempts", defaultMaxAttempts)
	v.SetDefault("retry.initial_backoff", defaultInitialBackoff)
	v.SetDefault("retry.backoff_multiplier", defaultBackoffMultiplier)

	// Sweeper defaults
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.cron", defaultSweepCron)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Analysis.SampleRate < 8000 {
		return fmt.Errorf("analysis.sample_rate must be at least 8000")
	}
	if c.Analysis.WaveformSamples < 512 || c.Analysis.WaveformSamples > 2048 {
		return fmt.Errorf("analysis.waveform_samples must be between 512 and 2048")
	}

	if c.Planning.MinClipSec <= 0 || c.Planning.MaxClipSec <= c.Planning.MinClipSec {
		return fmt.Errorf("planning clip bounds invalid: min=%.2f max=%.2f", c.Planning.MinClipSec, c.Planning.MaxClipSec)
	}

	if c.Generator.ConcurrencyPerSong < 1 {
		return fmt.Errorf("generator.concurrency_per_song must be at least 1")
	}

	if c.Composition.TargetFPS < 1 {
		return fmt.Errorf("composition.target_fps must be at least 1")
	}
	if c.Composition.CRF < 18 || c.Composition.CRF > 28 {
		return fmt.Errorf("composition.crf must be between 18 and 28")
	}
	if !validBeatEffect(c.Composition.BeatEffect.Type) {
		return fmt.Errorf("composition.beat_effect.type must be one of: flash, color_burst, zoom_pulse, glitch")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}

	return nil
}

func validBeatEffect(t string) bool {
	switch t {
	case "flash", "color_burst", "zoom_pulse", "glitch":
		return true
	}
	return false
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
