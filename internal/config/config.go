package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/change-detector/")
	v.AddConfigPath("$HOME/.change-detector")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("CHANGE_DETECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Detection defaults. The area filter and contamination rate are the
	// observed operating points, not calibrated truths, so both stay tunable.
	v.SetDefault("detection.tile_size", 512)
	v.SetDefault("detection.min_region_area", 50.0)
	v.SetDefault("detection.morph_kernel_size", 5)
	v.SetDefault("detection.simplify_tolerance", 0.01)
	v.SetDefault("detection.reproj_threshold", 5.0)
	v.SetDefault("detection.batch_limit", 4)

	// Scorer defaults
	v.SetDefault("scorer.trees", 100)
	v.SetDefault("scorer.sample_size", 256)
	v.SetDefault("scorer.contamination", 0.05)
	v.SetDefault("scorer.seed", 42)

	// Default tile bounding box (Indore, MP)
	v.SetDefault("geo.default_bbox", []float64{75.8895, 22.7525, 75.9150, 22.7700})

	// Artifact defaults
	v.SetDefault("artifact.dir", "static/masks")

	// Retry defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff", "2s")
	v.SetDefault("retry.max_backoff", "10s")

	// Cache defaults
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.max_entries", 100)
	v.SetDefault("cache.cleanup_frequency", "10m")
	v.SetDefault("cache.sqlite_path", "/data/detection_cache.db")
	v.SetDefault("cache.mysql_dsn", "user:password@tcp(localhost:3306)/change_detector")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetInt64 gets a 64-bit integer value from the configuration
func (c *Config) GetInt64(key string) int64 {
	return c.v.GetInt64(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetFloat64Slice gets a float64 slice value from the configuration
func (c *Config) GetFloat64Slice(key string) []float64 {
	raw := c.v.Get(key)
	switch vals := raw.(type) {
	case []float64:
		return vals
	case []interface{}:
		out := make([]float64, 0, len(vals))
		for _, item := range vals {
			switch n := item.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			}
		}
		return out
	default:
		return nil
	}
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
