// Package config loads streamvit configuration from a YAML file and
// STREAMVIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/Sumatoshi-tech/streamvit/pkg/hmm"
)

// Sentinel validation errors.
var (
	ErrInvalidArithmetic = errors.New("config: unknown arithmetic")
	ErrInvalidStart      = errors.New("config: start state must not be negative")
	ErrInvalidWindow     = errors.New("config: window must not be negative")
	ErrInvalidSource     = errors.New("config: unknown observation source")
	ErrMissingInput      = errors.New("config: file source needs an input path")
	ErrInvalidRate       = errors.New("config: rate must not be negative")
	ErrInvalidLogFormat  = errors.New("config: log format must be text or json")
	ErrInvalidSampling   = errors.New("config: sample ratio must be within [0, 1]")
	ErrInvalidCheckpoint = errors.New("config: checkpoint interval must be positive")
)

// Observation source names.
const (
	SourceRandomWalk = "random-walk"
	SourceSample     = "sample"
	SourceFile       = "file"
)

// Default configuration values.
const (
	DefaultWindow          = 10
	DefaultSteps           = 100 * 60 * 60
	DefaultRate            = 10
	DefaultSeed            = 1
	DefaultCheckpointEvery = 1000
	defaultConfigName      = "streamvit"
	envPrefix              = "STREAMVIT"
)

// Config holds all configuration for the streamvit commands.
type Config struct {
	Model         ModelConfig         `mapstructure:"model"`
	Decoder       DecoderConfig       `mapstructure:"decoder"`
	Session       SessionConfig       `mapstructure:"session"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint"`
}

// ModelConfig selects the HMM. An empty Path means the built-in default model.
type ModelConfig struct {
	Path string `mapstructure:"path"`
}

// DecoderConfig holds decoder options.
type DecoderConfig struct {
	Arithmetic string `mapstructure:"arithmetic"`
	Start      int    `mapstructure:"start"`
	History    bool   `mapstructure:"history"`
}

// SessionConfig describes the observation stream and windowing.
type SessionConfig struct {
	Source string  `mapstructure:"source"`
	Input  string  `mapstructure:"input"`
	Window int     `mapstructure:"window"`
	Steps  int     `mapstructure:"steps"`
	Seed   int64   `mapstructure:"seed"`
	Rate   float64 `mapstructure:"rate"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ObservabilityConfig holds telemetry export settings.
type ObservabilityConfig struct {
	Environment  string  `mapstructure:"environment"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
}

// CheckpointConfig holds decoder checkpoint settings.
type CheckpointConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Dir       string `mapstructure:"dir"`
	Every     int    `mapstructure:"every"`
	Resume    bool   `mapstructure:"resume"`
	ClearDone bool   `mapstructure:"clear_done"`
}

// LoadConfig loads configuration from configPath, or from streamvit.yaml in
// the usual places when configPath is empty, then applies environment
// overrides such as STREAMVIT_SESSION_WINDOW.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(defaultConfigName)
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("./config")
		viperCfg.AddConfigPath("/etc/streamvit")
	}

	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viperCfg.AutomaticEnv()

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	viperCfg := viper.New()
	setDefaults(viperCfg)

	var cfg Config

	// Defaults always decode.
	_ = viperCfg.Unmarshal(&cfg)

	return &cfg
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("model.path", "")

	viperCfg.SetDefault("decoder.arithmetic", "probability")
	viperCfg.SetDefault("decoder.start", 0)
	viperCfg.SetDefault("decoder.history", true)

	viperCfg.SetDefault("session.source", SourceRandomWalk)
	viperCfg.SetDefault("session.input", "")
	viperCfg.SetDefault("session.window", DefaultWindow)
	viperCfg.SetDefault("session.steps", DefaultSteps)
	viperCfg.SetDefault("session.seed", DefaultSeed)
	viperCfg.SetDefault("session.rate", DefaultRate)

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "text")

	viperCfg.SetDefault("observability.environment", "")
	viperCfg.SetDefault("observability.otlp_endpoint", "")
	viperCfg.SetDefault("observability.otlp_headers", "")
	viperCfg.SetDefault("observability.otlp_insecure", false)
	viperCfg.SetDefault("observability.sample_ratio", 0.0)
	viperCfg.SetDefault("observability.metrics_addr", "")

	viperCfg.SetDefault("checkpoint.enabled", false)
	viperCfg.SetDefault("checkpoint.dir", "")
	viperCfg.SetDefault("checkpoint.every", DefaultCheckpointEvery)
	viperCfg.SetDefault("checkpoint.resume", true)
	viperCfg.SetDefault("checkpoint.clear_done", true)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := hmm.ParseArithmetic(c.Decoder.Arithmetic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArithmetic, err)
	}

	if c.Decoder.Start < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidStart, c.Decoder.Start)
	}

	if c.Session.Window < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWindow, c.Session.Window)
	}

	switch c.Session.Source {
	case SourceRandomWalk, SourceSample:
	case SourceFile:
		if c.Session.Input == "" {
			return ErrMissingInput
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSource, c.Session.Source)
	}

	if c.Session.Rate < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidRate, c.Session.Rate)
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}

	if c.Observability.SampleRatio < 0 || c.Observability.SampleRatio > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidSampling, c.Observability.SampleRatio)
	}

	if c.Checkpoint.Enabled && c.Checkpoint.Every <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCheckpoint, c.Checkpoint.Every)
	}

	return nil
}
