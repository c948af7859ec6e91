// Package config layers the voiceclone settings: defaults, then the TOML file, then .env, then the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const DefaultPath = "voiceclone.toml"

var ErrInvalid = errors.New("invalid configuration")

type ServiceConfig struct {
	BaseURL        string `toml:"base_url" env:"VOICECLONE_SERVICE_URL"`
	TimeoutSeconds int    `toml:"timeout_seconds" env:"VOICECLONE_TIMEOUT_SECONDS"`
	MaxTextLength  int    `toml:"max_text_length" env:"VOICECLONE_MAX_TEXT_LENGTH"`
}

type CaptureConfig struct {
	SampleRate       uint32 `toml:"sample_rate" env:"VOICECLONE_SAMPLE_RATE"`
	Channels         uint32 `toml:"channels" env:"VOICECLONE_CHANNELS"`
	EchoCancellation bool   `toml:"echo_cancellation" env:"VOICECLONE_ECHO_CANCELLATION"`
	NoiseSuppression bool   `toml:"noise_suppression" env:"VOICECLONE_NOISE_SUPPRESSION"`
}

type FeedbackConfig struct {
	Channels       int `toml:"channels" env:"VOICECLONE_FEEDBACK_CHANNELS"`
	IntervalMillis int `toml:"interval_millis" env:"VOICECLONE_FEEDBACK_INTERVAL_MILLIS"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr" env:"VOICECLONE_LISTEN_ADDR"`
}

type PathsConfig struct {
	OutputDir string `toml:"output_dir" env:"VOICECLONE_OUTPUT_DIR"`
}

type Config struct {
	Service      ServiceConfig  `toml:"service"`
	Capture      CaptureConfig  `toml:"capture"`
	Feedback     FeedbackConfig `toml:"feedback"`
	Server       ServerConfig   `toml:"server"`
	Paths        PathsConfig    `toml:"paths"`
	LogLevel     string         `toml:"log_level" env:"VOICECLONE_LOG_LEVEL"`
	OpenAIAPIKey string         `toml:"openai_api_key" env:"OPENAI_API_KEY"`
}

func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			BaseURL:       "http://localhost:8000",
			MaxTextLength: 5000,
		},
		Capture: CaptureConfig{
			SampleRate:       44100,
			Channels:         1,
			EchoCancellation: true,
			NoiseSuppression: true,
		},
		Feedback: FeedbackConfig{
			Channels:       25,
			IntervalMillis: 100,
		},
		Server: ServerConfig{
			ListenAddr: "localhost:8081",
		},
		Paths: PathsConfig{
			OutputDir: "output",
		},
		LogLevel: "info",
	}
}

// LoadDotEnv exports the .env files into the process environment, missing files are fine.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("cannot load .env file")
		}
	}
}

// Load reads path from fs when it exists, applies environment overrides and validates.
// An empty path only uses defaults and the environment.
func Load(fs afero.Fs, path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := afero.ReadFile(fs, path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Debug().Str("path", path).Msg("no config file, using defaults")
		case err != nil:
			return nil, fmt.Errorf("cannot read config %s %w", path, err)
		default:
			if err = toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("cannot parse config %s %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("cannot apply environment overrides %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	parsed, err := url.Parse(c.Service.BaseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: service.base_url must be an absolute http(s) url, got %q", ErrInvalid, c.Service.BaseURL)
	}
	if c.Service.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: service.timeout_seconds cannot be negative", ErrInvalid)
	}
	if c.Service.MaxTextLength < 0 {
		return fmt.Errorf("%w: service.max_text_length cannot be negative", ErrInvalid)
	}
	if c.Capture.SampleRate == 0 || c.Capture.Channels == 0 {
		return fmt.Errorf("%w: capture.sample_rate and capture.channels must be positive", ErrInvalid)
	}
	if c.Feedback.Channels <= 0 || c.Feedback.IntervalMillis <= 0 {
		return fmt.Errorf("%w: feedback.channels and feedback.interval_millis must be positive", ErrInvalid)
	}
	return nil
}

// Timeout is zero when submissions are unbounded.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Service.TimeoutSeconds) * time.Second
}

func (c *Config) FeedbackInterval() time.Duration {
	return time.Duration(c.Feedback.IntervalMillis) * time.Millisecond
}
