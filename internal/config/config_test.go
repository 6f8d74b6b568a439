package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatreel/beatreel/pkg/bytesize"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 50*bytesize.MB, cfg.Server.MaxUploadBytes)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 22050, cfg.Analysis.SampleRate)
	assert.InDelta(t, 8.0, cfg.Analysis.MinSectionSec, 0.001)
	assert.InDelta(t, 3.0, cfg.Planning.MinClipSec, 0.001)
	assert.InDelta(t, 6.0, cfg.Planning.MaxClipSec, 0.001)
	assert.Equal(t, 4, cfg.Generator.ConcurrencyPerSong)
	assert.Equal(t, 15*time.Minute, cfg.Generator.GenerationTimeout)
	assert.Equal(t, 1920, cfg.Composition.TargetWidth)
	assert.Equal(t, 1080, cfg.Composition.TargetHeight)
	assert.Equal(t, 24, cfg.Composition.TargetFPS)
	assert.Equal(t, 23, cfg.Composition.CRF)
	assert.InDelta(t, 300.0, cfg.Composition.MaxSongDurationSec, 0.001)
	assert.False(t, cfg.Composition.BeatEffect.Enabled)
	assert.Equal(t, "flash", cfg.Composition.BeatEffect.Type)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialBackoff)
	assert.True(t, cfg.Sweeper.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
  max_upload_bytes: 100MB
storage:
  read_url_ttl: 1 hour
database:
  driver: postgres
  dsn: "host=localhost user=beatreel dbname=beatreel"
generator:
  url: "https://gen.example.com"
  concurrency_per_song: 2
composition:
  target_fps: 30
  beat_aligned_transitions: true
  beat_effect:
    enabled: true
    type: zoom_pulse
    intensity: 0.8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "https://gen.example.com", cfg.Generator.URL)
	assert.Equal(t, 2, cfg.Generator.ConcurrencyPerSong)
	assert.Equal(t, 30, cfg.Composition.TargetFPS)
	assert.True(t, cfg.Composition.BeatAlignedTransitions)
	assert.True(t, cfg.Composition.BeatEffect.Enabled)
	assert.Equal(t, "zoom_pulse", cfg.Composition.BeatEffect.Type)
	assert.Equal(t, 100*bytesize.MB, cfg.Server.MaxUploadBytes)
	assert.Equal(t, time.Hour, cfg.Storage.ReadURLTTL)
	// Unset values still fall back to defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 23, cfg.Composition.CRF)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BEATREEL_SERVER_PORT", "7070")
	t.Setenv("BEATREEL_LOGGING_LEVEL", "debug")
	t.Setenv("BEATREEL_GENERATOR_API_TOKEN", "secret-token")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "secret-token", cfg.Generator.APIToken)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		return &cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database.driver",
		},
		{
			name:    "empty dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "database.dsn",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "waveform buckets too small",
			mutate:  func(c *Config) { c.Analysis.WaveformSamples = 100 },
			wantErr: "waveform_samples",
		},
		{
			name:    "clip bounds inverted",
			mutate:  func(c *Config) { c.Planning.MaxClipSec = 2.0 },
			wantErr: "clip bounds",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Generator.ConcurrencyPerSong = 0 },
			wantErr: "concurrency_per_song",
		},
		{
			name:    "crf out of range",
			mutate:  func(c *Config) { c.Composition.CRF = 40 },
			wantErr: "composition.crf",
		},
		{
			name:    "unknown beat effect",
			mutate:  func(c *Config) { c.Composition.BeatEffect.Type = "strobe" },
			wantErr: "beat_effect.type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestQueueName(t *testing.T) {
	w := WorkersConfig{Environment: "prod"}
	assert.Equal(t, "prod:clip-generation", w.QueueName("clip-generation"))

	w.Environment = ""
	assert.Equal(t, "clip-generation", w.QueueName("clip-generation"))
}

func TestServerAddress(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 9000}
	assert.Equal(t, "127.0.0.1:9000", s.Address())
}
