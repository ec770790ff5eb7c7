package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Rotation  RotationConfig  `mapstructure:"rotation"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

// EngineConfig holds the experimentation engine knobs
type EngineConfig struct {
	TargetSampleBase       int     `mapstructure:"target_sample_base"`
	SampleGrowthPerVariant float64 `mapstructure:"sample_growth_per_variant"`
	MinSampleSize          int     `mapstructure:"min_sample_size"`
	SignificanceThreshold  float64 `mapstructure:"significance_threshold"`
	Epsilon                float64 `mapstructure:"epsilon"`
}

// RotationConfig holds the rotation scheduler settings
type RotationConfig struct {
	// IntervalSeconds is the minimum running time before a significant
	// experiment can be rotated out
	IntervalSeconds int `mapstructure:"interval_seconds"`

	// TickSeconds is how often the scheduler evaluates running experiments
	TickSeconds int `mapstructure:"tick_seconds"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SimulatorConfig holds traffic-simulation settings for the demo binary
type SimulatorConfig struct {
	Subjects        int     `mapstructure:"subjects"`
	ControlRate     float64 `mapstructure:"control_rate"`
	TreatmentRate   float64 `mapstructure:"treatment_rate"`
	MonitorInterval int     `mapstructure:"monitor_interval_seconds"`
}

var (
	// Global config instance
	cfg *Config
	v   *viper.Viper
)

// setViperDefaults sets all default values using Viper's SetDefault
func setViperDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("engine.target_sample_base", 1000)
	v.SetDefault("engine.sample_growth_per_variant", 0.5)
	v.SetDefault("engine.min_sample_size", 30)
	v.SetDefault("engine.significance_threshold", 0.05)
	v.SetDefault("engine.epsilon", 0.10)

	// Rotation defaults
	v.SetDefault("rotation.interval_seconds", 3600)
	v.SetDefault("rotation.tick_seconds", 60)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Simulator defaults
	v.SetDefault("simulator.subjects", 1000)
	v.SetDefault("simulator.control_rate", 0.16)
	v.SetDefault("simulator.treatment_rate", 0.24)
	v.SetDefault("simulator.monitor_interval_seconds", 30)
}

// Init initializes the configuration
func Init(configPath string) error {
	v = viper.New()

	// Set defaults before loading any config
	setViperDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/playforge-experiments")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("PFX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		// If we have a specific config path and it doesn't exist, that's ok - use defaults
		if configPath != "" {
			// Specific file requested but not found - that's ok, use defaults
		} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// For default locations, only ignore ConfigFileNotFoundError
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults
	}

	// Unmarshal into config struct
	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unable to decode config into struct: %w", err)
	}

	// Validate configuration
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		// Initialize with defaults if not already initialized
		if err := Init(""); err != nil {
			panic("failed to initialize config with defaults: " + err.Error())
		}
	}
	return cfg
}

// GetViper returns the viper instance for advanced usage
func GetViper() *viper.Viper {
	if v == nil {
		panic("config not initialized - call Init() first")
	}
	return v
}

// Set allows runtime config updates
func Set(key string, value interface{}) {
	v.Set(key, value)
	// Re-unmarshal to update struct
	v.Unmarshal(cfg)
}

// GetString gets a string value from config
func GetString(key string) string {
	return v.GetString(key)
}

// GetInt gets an int value from config
func GetInt(key string) int {
	return v.GetInt(key)
}

// GetFloat64 gets a float64 value from config
func GetFloat64(key string) float64 {
	return v.GetFloat64(key)
}

// ConfigFilePath returns the path of the loaded config file
func ConfigFilePath() string {
	return v.ConfigFileUsed()
}

// WatchConfig enables hot-reloading of config file
func WatchConfig(onChange func()) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		// Re-unmarshal on change
		v.Unmarshal(cfg)
		if onChange != nil {
			onChange()
		}
	})
}

// Validate validates the configuration values
func Validate(c *Config) error {
	if c.Engine.TargetSampleBase <= 0 {
		return fmt.Errorf("engine.target_sample_base must be positive")
	}
	if c.Engine.SampleGrowthPerVariant < 0 {
		return fmt.Errorf("engine.sample_growth_per_variant must be non-negative")
	}
	if c.Engine.MinSampleSize <= 0 {
		return fmt.Errorf("engine.min_sample_size must be positive")
	}
	if c.Engine.SignificanceThreshold <= 0 || c.Engine.SignificanceThreshold >= 1 {
		return fmt.Errorf("engine.significance_threshold must be in (0,1)")
	}
	if c.Engine.Epsilon <= 0 || c.Engine.Epsilon >= 1 {
		return fmt.Errorf("engine.epsilon must be in (0,1)")
	}
	if c.Rotation.IntervalSeconds <= 0 {
		return fmt.Errorf("rotation.interval_seconds must be positive")
	}
	if c.Rotation.TickSeconds <= 0 {
		return fmt.Errorf("rotation.tick_seconds must be positive")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}
