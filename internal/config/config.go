// Package config loads application configuration from a YAML file and
// MANUSCRIPT_-prefixed environment variables, and initializes the global
// logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/draftforge/manuscript-cli/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig             `yaml:"store" mapstructure:"store"`
	Expert    ExpertConfig            `yaml:"expert" mapstructure:"expert"`
	Pipeline  PipelineConfig          `yaml:"pipeline" mapstructure:"pipeline"`
	Precision model.PrecisionContract `yaml:"precision" mapstructure:"precision"`
	Tone      ToneConfig              `yaml:"tone" mapstructure:"tone"`
	Conflict  ConflictConfig          `yaml:"conflict" mapstructure:"conflict"`
	Server    ServerConfig            `yaml:"server" mapstructure:"server"`
	Log       LogConfig               `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the checkpoint/claim store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ExpertConfig holds the model collaborator settings.
type ExpertConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	CacheTTLMinutes   int     `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
}

// PipelineConfig configures run behavior.
type PipelineConfig struct {
	Rigor string `yaml:"rigor" mapstructure:"rigor"` // conservative or exploratory
}

// ToneConfig locates the banned-term policy.
type ToneConfig struct {
	PolicyPath string `yaml:"policy_path" mapstructure:"policy_path"`
}

// ConflictConfig tunes contradiction detection.
type ConflictConfig struct {
	ConservativeReviewThreshold int     `yaml:"conservative_review_threshold" mapstructure:"conservative_review_threshold"`
	AmbiguityFloor              float64 `yaml:"ambiguity_floor" mapstructure:"ambiguity_floor"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Rigor returns the configured rigor level, defaulting to exploratory.
func (c *Config) Rigor() model.Rigor {
	if strings.EqualFold(c.Pipeline.Rigor, string(model.RigorConservative)) {
		return model.RigorConservative
	}
	return model.RigorExploratory
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MANUSCRIPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "manuscript.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("expert.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("expert.max_tokens", 4096)
	v.SetDefault("expert.temperature", 0.2)
	v.SetDefault("expert.requests_per_second", 1)
	v.SetDefault("expert.cache_ttl_minutes", 15)
	v.SetDefault("pipeline.rigor", "exploratory")
	v.SetDefault("precision.max_sig_figs", 5)
	v.SetDefault("precision.max_decimals", 2)
	v.SetDefault("precision.rounding_rule", "half_up")
	v.SetDefault("precision.consistency_rule", "per_column")
	v.SetDefault("tone.policy_path", "tone_policy.yaml")
	v.SetDefault("conflict.conservative_review_threshold", 5)
	v.SetDefault("conflict.ambiguity_floor", 0.3)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
