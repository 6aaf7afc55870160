// Package config loads and watches the schemadoc configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/schemadoc/schemadoc/internal/budget"
	"github.com/schemadoc/schemadoc/internal/classifier"
	"github.com/schemadoc/schemadoc/internal/pipeline"
)

// Config is the full runtime configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Review     ReviewConfig     `mapstructure:"review"`
	Budgets    BudgetsConfig    `mapstructure:"budgets"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Sequence   SequenceConfig   `mapstructure:"sequence"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ProviderConfig configures the generation backend.
type ProviderConfig struct {
	Type              string `mapstructure:"type"` // "openai" or "mock"
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
}

// PipelineConfig tunes the batch coordinator and item machine.
type PipelineConfig struct {
	Workers           int `mapstructure:"workers"`
	ExtractRetries    int `mapstructure:"extract_retries"`
	MaxAttempts       int `mapstructure:"max_attempts"`
	RetryBaseDelaySec int `mapstructure:"retry_base_delay_seconds"`
	RetentionDays     int `mapstructure:"retention_days"`
}

// ClassifierConfig holds the tier score cut-offs.
type ClassifierConfig struct {
	Tier1Score int `mapstructure:"tier1_score"`
	Tier2Score int `mapstructure:"tier2_score"`
}

// ReviewConfig holds the confidence thresholds for review routing.
type ReviewConfig struct {
	HighConfidence float64 `mapstructure:"high_confidence"`
	LowConfidence  float64 `mapstructure:"low_confidence"`
}

// TierBudgetConfig is the budget envelope for one tier.
type TierBudgetConfig struct {
	MaxInputTokens  int    `mapstructure:"max_input_tokens"`
	MaxOutputTokens int    `mapstructure:"max_output_tokens"`
	Model           string `mapstructure:"model"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// BudgetsConfig holds per-tier budgets.
type BudgetsConfig struct {
	Tier1 TierBudgetConfig `mapstructure:"tier1"`
	Tier2 TierBudgetConfig `mapstructure:"tier2"`
	Tier3 TierBudgetConfig `mapstructure:"tier3"`
}

// CacheConfig tunes the generation cache.
type CacheConfig struct {
	TTLHours int `mapstructure:"ttl_hours"`
}

// SequenceConfig tunes the document number issuer.
type SequenceConfig struct {
	WarnThreshold int64    `mapstructure:"warn_threshold"`
	Categories    []string `mapstructure:"categories"`
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg
	return cm, nil
}

// initViper sets up viper with defaults and the config file.
func (cm *Manager) initViper(cfgFile string) error {
	for key, value := range defaults() {
		viper.SetDefault(key, value)
	}

	viper.SetEnvPrefix("SCHEMADOC")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.schemadoc")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// load parses the current viper state into a Config.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Provider.APIKey = ResolveEnvVars(cfg.Provider.APIKey)
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// ClassifierThresholds converts config to classifier policy.
func (c *Config) ClassifierThresholds() classifier.Thresholds {
	th := classifier.DefaultThresholds()
	if c.Classifier.Tier1Score > 0 {
		th.Tier1 = c.Classifier.Tier1Score
	}
	if c.Classifier.Tier2Score > 0 {
		th.Tier2 = c.Classifier.Tier2Score
	}
	return th
}

// ReviewThresholds converts config to review routing policy.
func (c *Config) ReviewThresholds() pipeline.ReviewThresholds {
	th := pipeline.DefaultReviewThresholds()
	if c.Review.HighConfidence > 0 {
		th.High = c.Review.HighConfidence
	}
	if c.Review.LowConfidence > 0 {
		th.Low = c.Review.LowConfidence
	}
	return th
}

// BudgetPolicy converts config to the generation budget policy.
func (c *Config) BudgetPolicy() budget.Policy {
	p := budget.DefaultPolicy()

	apply := func(tier classifier.Tier, tc TierBudgetConfig) {
		b := p.Budgets[tier]
		if tc.MaxInputTokens > 0 {
			b.MaxInputTokens = tc.MaxInputTokens
		}
		if tc.MaxOutputTokens > 0 {
			b.MaxOutputTokens = tc.MaxOutputTokens
		}
		if tc.Model != "" {
			b.Model = tc.Model
		}
		if tc.TimeoutSeconds > 0 {
			b.Timeout = time.Duration(tc.TimeoutSeconds) * time.Second
		}
		p.Budgets[tier] = b
	}
	apply(classifier.Tier1, c.Budgets.Tier1)
	apply(classifier.Tier2, c.Budgets.Tier2)
	apply(classifier.Tier3, c.Budgets.Tier3)

	if c.Cache.TTLHours > 0 {
		p.CacheTTL = time.Duration(c.Cache.TTLHours) * time.Hour
	}
	if c.Pipeline.MaxAttempts > 0 {
		p.MaxAttempts = c.Pipeline.MaxAttempts
	}
	if c.Pipeline.RetryBaseDelaySec > 0 {
		p.RetryBaseDelay = time.Duration(c.Pipeline.RetryBaseDelaySec) * time.Second
	}
	return p
}
