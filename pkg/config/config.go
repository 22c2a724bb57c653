package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zpam/mailclass/pkg/maxent"
	"github.com/zpam/mailclass/pkg/store"
)

// Config represents mailclass configuration
type Config struct {
	// Training settings
	Training TrainingConfig `yaml:"training"`

	// Model storage settings
	Store StoreConfig `yaml:"store"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging"`

	// Milter server settings
	Milter MilterConfig `yaml:"milter"`
}

// TrainingConfig contains classifier training parameters
type TrainingConfig struct {
	Iterations int     `yaml:"iterations"`
	Cutoff     int     `yaml:"cutoff"`    // predicate must appear in this many samples
	Threshold  float64 `yaml:"threshold"` // log-likelihood convergence threshold

	// Training sets smaller than this use a cutoff of 1 when auto_cutoff is set
	SmallCorpusSize int  `yaml:"small_corpus_size"`
	AutoCutoff      bool `yaml:"auto_cutoff"`

	// Share of samples used for training, the rest is held out
	TrainRatio float64 `yaml:"train_ratio"`

	// Minimum files per corpus directory before training starts
	MinSamples int `yaml:"min_samples"`

	// Default corpus directories
	SpamDir string `yaml:"spam_dir"`
	HamDir  string `yaml:"ham_dir"`
}

// StoreConfig selects where models live
type StoreConfig struct {
	// Backend selection: "file" or "redis"
	Backend string `yaml:"backend"`

	// File backend settings
	ModelPath       string `yaml:"model_path"`
	DefaultFilename string `yaml:"default_filename"`
	Fallback        bool   `yaml:"fallback"` // try home, cwd and temp dir when model_path fails

	// Redis backend settings
	Redis RedisBackendConfig `yaml:"redis"`
}

// RedisBackendConfig contains Redis model store settings
type RedisBackendConfig struct {
	RedisURL    string `yaml:"redis_url"`
	KeyPrefix   string `yaml:"key_prefix"`
	DatabaseNum int    `yaml:"database_num"`
	ModelTTL    string `yaml:"model_ttl"` // duration string, empty = no expiry
	ModelRef    string `yaml:"model_ref"` // empty = latest
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	File   string `yaml:"file"`   // log file path, empty = stderr
	Format string `yaml:"format"` // json, console
}

// MilterConfig contains milter server settings
type MilterConfig struct {
	// Network and address for milter socket
	Network string `yaml:"network"` // "tcp" or "unix"
	Address string `yaml:"address"` // "127.0.0.1:7357" or "/tmp/mailclass.sock"

	// Connection settings
	ReadTimeoutMs  int `yaml:"read_timeout_ms"`
	WriteTimeoutMs int `yaml:"write_timeout_ms"`

	// Protocol options (what events to skip)
	SkipConnect bool `yaml:"skip_connect"`
	SkipHelo    bool `yaml:"skip_helo"`
	SkipMail    bool `yaml:"skip_mail"`
	SkipRcpt    bool `yaml:"skip_rcpt"`

	// Actions
	CanAddHeaders bool `yaml:"can_add_headers"`

	GracefulShutdownTimeout int `yaml:"graceful_shutdown_timeout_ms"`

	// Response modes, as spam probabilities
	RejectThreshold float64 `yaml:"reject_threshold"` // probability >= this gets rejected
	TagThreshold    float64 `yaml:"tag_threshold"`    // probability >= this is marked as spam
	RejectMessage   string  `yaml:"reject_message"`

	// Header modifications
	AddHeaders   bool   `yaml:"add_headers"`
	HeaderPrefix string `yaml:"header_prefix"` // default "X-Mailclass-"

	// Category treated as spam by the thresholds
	SpamCategory string `yaml:"spam_category"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	params := maxent.DefaultParams()
	return &Config{
		Training: TrainingConfig{
			Iterations:      params.Iterations,
			Cutoff:          params.Cutoff,
			Threshold:       params.Threshold,
			SmallCorpusSize: 50,
			AutoCutoff:      true,
			TrainRatio:      0.8,
			MinSamples:      5,
			SpamDir:         "training-data/spam",
			HamDir:          "training-data/ham",
		},
		Store: StoreConfig{
			Backend:         "file",
			ModelPath:       store.DefaultFilename,
			DefaultFilename: store.DefaultFilename,
			Fallback:        true,
			Redis: RedisBackendConfig{
				RedisURL:    "redis://localhost:6379",
				KeyPrefix:   "mailclass",
				DatabaseNum: 0,
				ModelTTL:    "",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "",
			Format: "console",
		},
		Milter: MilterConfig{
			Network:                 "tcp",
			Address:                 "127.0.0.1:7357",
			ReadTimeoutMs:           10000,
			WriteTimeoutMs:          10000,
			CanAddHeaders:           true,
			GracefulShutdownTimeout: 10000,
			RejectThreshold:         0.99,
			TagThreshold:            0.5,
			AddHeaders:              true,
			HeaderPrefix:            "X-Mailclass-",
			SpamCategory:            "spam",
		},
	}
}

// LoadConfig loads configuration from file, or defaults when path is empty
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// SaveConfig saves configuration to file
func (c *Config) SaveConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Training
	if c.Training.Iterations < 1 {
		return fmt.Errorf("training iterations must be >= 1")
	}
	if c.Training.Cutoff < 1 {
		return fmt.Errorf("training cutoff must be >= 1")
	}
	if c.Training.Threshold < 0 {
		return fmt.Errorf("training threshold must be >= 0")
	}
	if c.Training.TrainRatio <= 0 || c.Training.TrainRatio > 1 {
		return fmt.Errorf("train_ratio must be in (0, 1]")
	}
	if c.Training.MinSamples < 1 {
		return fmt.Errorf("min_samples must be >= 1")
	}

	// Store
	switch c.Store.Backend {
	case "file":
		if c.Store.ModelPath == "" {
			return fmt.Errorf("store model_path cannot be empty for file backend")
		}
	case "redis":
		if c.Store.Redis.RedisURL == "" {
			return fmt.Errorf("store redis_url cannot be empty for redis backend")
		}
		if _, err := c.Store.Redis.TTL(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid store backend: %s", c.Store.Backend)
	}

	// Logging
	validLevels := []string{"debug", "info", "warn", "error"}
	validLevel := false
	for _, level := range validLevels {
		if c.Logging.Level == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	// Milter
	if c.Milter.Network != "tcp" && c.Milter.Network != "unix" {
		return fmt.Errorf("milter network must be 'tcp' or 'unix'")
	}
	if c.Milter.Address == "" {
		return fmt.Errorf("milter address cannot be empty")
	}
	if c.Milter.RejectThreshold <= 0 || c.Milter.RejectThreshold > 1 {
		return fmt.Errorf("milter reject_threshold must be in (0, 1]")
	}
	if c.Milter.TagThreshold <= 0 || c.Milter.TagThreshold > 1 {
		return fmt.Errorf("milter tag_threshold must be in (0, 1]")
	}
	if c.Milter.TagThreshold > c.Milter.RejectThreshold {
		return fmt.Errorf("milter tag_threshold must not exceed reject_threshold")
	}

	return nil
}

// Params returns the maxent training parameters
func (t TrainingConfig) Params() maxent.Params {
	return maxent.Params{
		Iterations: t.Iterations,
		Cutoff:     t.Cutoff,
		Threshold:  t.Threshold,
	}
}

// TTL parses the model TTL, zero when unset
func (r RedisBackendConfig) TTL() (time.Duration, error) {
	if r.ModelTTL == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(r.ModelTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid redis model_ttl %q: %w", r.ModelTTL, err)
	}
	return ttl, nil
}

// ToStoreConfig converts the backend settings for store.NewRedisStore
func (r RedisBackendConfig) ToStoreConfig() (*store.RedisConfig, error) {
	ttl, err := r.TTL()
	if err != nil {
		return nil, err
	}
	return &store.RedisConfig{
		RedisURL:    r.RedisURL,
		KeyPrefix:   r.KeyPrefix,
		DatabaseNum: r.DatabaseNum,
		ModelTTL:    ttl,
	}, nil
}
