// Package config loads and hot-reloads cabinet configuration via viper.
// Values come from defaults, an optional YAML config file, and CABINET_*
// environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/mwhitford/cabinet/internal/extract"
	"github.com/mwhitford/cabinet/internal/fields"
)

// Config is the full cabinet configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Intake     IntakeConfig     `mapstructure:"intake"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// ExtractionConfig points at the remote recognition/upload services and
// sets the locally-enforced deadlines for each call.
type ExtractionConfig struct {
	BaseURL string `mapstructure:"base_url"`

	// ScanTimeoutSeconds bounds the staged-path scan. Full-document
	// recognition is slower than single-image recognition.
	ScanTimeoutSeconds int `mapstructure:"scan_timeout_seconds"`

	// RecognizeTimeoutSeconds bounds the fast path's combined call.
	RecognizeTimeoutSeconds int `mapstructure:"recognize_timeout_seconds"`

	UploadTimeoutSeconds int  `mapstructure:"upload_timeout_seconds"`
	UploadRetries        uint `mapstructure:"upload_retries"`
}

// IntakeConfig holds local intake policy: validation limits, review
// confidence thresholds, and the synthetic stage delay.
type IntakeConfig struct {
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`

	Confidence ConfidenceConfig `mapstructure:"confidence"`

	// StageDelayMillis is the cosmetic pause between the Classifying and
	// Extracting stages so they stay observable as distinct states.
	StageDelayMillis int `mapstructure:"stage_delay_millis"`
}

// ConfidenceConfig is the bucketing policy for extracted fields.
type ConfidenceConfig struct {
	High float64 `mapstructure:"high"`
	Low  float64 `mapstructure:"low"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Extraction: ExtractionConfig{
			BaseURL:                 "http://127.0.0.1:9090",
			ScanTimeoutSeconds:      120,
			RecognizeTimeoutSeconds: 45,
			UploadTimeoutSeconds:    60,
			UploadRetries:           3,
		},
		Intake: IntakeConfig{
			MaxUploadBytes:   10 << 20,
			Confidence:       ConfidenceConfig{High: 0.8, Low: 0.5},
			StageDelayMillis: 400,
		},
	}
}

// ExtractClientConfig converts the extraction section into the boundary
// adapter's config.
func (c *Config) ExtractClientConfig() extract.Config {
	return extract.Config{
		BaseURL:          c.Extraction.BaseURL,
		ScanTimeout:      time.Duration(c.Extraction.ScanTimeoutSeconds) * time.Second,
		RecognizeTimeout: time.Duration(c.Extraction.RecognizeTimeoutSeconds) * time.Second,
		UploadTimeout:    time.Duration(c.Extraction.UploadTimeoutSeconds) * time.Second,
		UploadRetries:    c.Extraction.UploadRetries,
	}
}

// Thresholds returns the configured confidence bucketing policy.
func (c *Config) Thresholds() fields.Thresholds {
	return fields.Thresholds{
		High: c.Intake.Confidence.High,
		Low:  c.Intake.Confidence.Low,
	}
}

// StageDelay returns the synthetic delay between observable stages.
func (c *Config) StageDelay() time.Duration {
	return time.Duration(c.Intake.StageDelayMillis) * time.Millisecond
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a config manager and loads the initial config.
func NewManager(cfgFile string) (*Manager, error) {
	m := &Manager{}

	if err := m.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.config = cfg

	return m, nil
}

// initViper sets up viper with defaults and the config file.
func (m *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("server", defaults.Server)
	viper.SetDefault("extraction", defaults.Extraction)
	viper.SetDefault("intake", defaults.Intake)

	viper.SetEnvPrefix("CABINET")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.cabinet")
	}

	// Config file is optional.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (m *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers a callback for config changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (m *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := m.load()
		if err != nil {
			return
		}

		m.mu.Lock()
		m.config = cfg
		callbacks := make([]func(*Config), len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}
