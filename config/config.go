// Package config holds the process-wide serializer settings. The struct is
// resolved once at startup and threaded explicitly through root serializer
// construction; it is never mutated afterwards.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/expandkit/expandkit/token"
)

// DefaultMaxExpandDepth bounds how deeply expansion instructions may nest
// unless overridden per node type or via configuration.
const DefaultMaxExpandDepth = 3

// Config represents the serializer extension settings.
type Config struct {
	// MaxExpandDepth is the maximum number of path segments allowed in an
	// expansion instruction. Zero falls back to DefaultMaxExpandDepth.
	MaxExpandDepth int `mapstructure:"max_expand_depth"`

	// AutoOptimize enables query rewriting globally; individual requests
	// can still opt in when this is off.
	AutoOptimize bool `mapstructure:"auto_optimize"`

	// UseExternalIDs switches identifier emission from raw internal IDs to
	// opaque tokens. Requires a Codec.
	UseExternalIDs bool `mapstructure:"use_external_ids"`

	// ExternalIDSalt and ExternalIDMinLength configure the default HashID
	// codec built by Load when no Codec is injected programmatically.
	ExternalIDSalt      string `mapstructure:"external_id_salt"`
	ExternalIDMinLength int    `mapstructure:"external_id_min_length"`

	// Codec performs external-ID translation. Set directly, or built from
	// the salt settings by Load.
	Codec token.Codec `mapstructure:"-"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		MaxExpandDepth: DefaultMaxExpandDepth,
	}
}

// Validate checks the configuration for programming mistakes. These are
// fatal: callers should halt at startup rather than recover.
func (c Config) Validate() error {
	if c.MaxExpandDepth < 0 {
		return fmt.Errorf("max_expand_depth must not be negative, got %d", c.MaxExpandDepth)
	}
	if c.UseExternalIDs && c.Codec == nil {
		return fmt.Errorf("use_external_ids is enabled but no external ID codec is configured")
	}
	return nil
}

// Depth returns the effective maximum expansion depth.
func (c Config) Depth() int {
	if c.MaxExpandDepth > 0 {
		return c.MaxExpandDepth
	}
	return DefaultMaxExpandDepth
}

// Load reads configuration from expandkit.yml (or .yaml) in the working
// directory, with environment variable overrides. Missing files yield the
// defaults. When external IDs are enabled and a salt is present, the
// default HashID codec is constructed from it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("max_expand_depth", DefaultMaxExpandDepth)
	v.SetDefault("auto_optimize", false)
	v.SetDefault("use_external_ids", false)
	v.SetDefault("external_id_min_length", 0)

	v.SetConfigName("expandkit")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("expandkit")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.UseExternalIDs && cfg.ExternalIDSalt != "" {
		codec, err := token.NewHashIDCodec(cfg.ExternalIDSalt, cfg.ExternalIDMinLength)
		if err != nil {
			return nil, err
		}
		cfg.Codec = codec
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
