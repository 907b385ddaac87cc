// Package config loads and validates CLI configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ivoronin/patiencebar/internal/bar"
)

// EnvPrefix prefixes every environment override, e.g. PATIENCEBAR_BAR_WIDTH.
const EnvPrefix = "PATIENCEBAR"

// Config captures every knob the CLI reads through Viper.
type Config struct {
	Bar     BarConfig     `mapstructure:"bar"`
	Workers int           `mapstructure:"workers"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// BarConfig mirrors bar.Config plus the consumer pause.
type BarConfig struct {
	Max     float64       `mapstructure:"max"`
	Width   int           `mapstructure:"width"`
	Title   string        `mapstructure:"title"`
	Enabled bool          `mapstructure:"enabled"`
	UpEvery int           `mapstructure:"up_every"`
	Yield   time.Duration `mapstructure:"yield"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig sets where Prometheus metrics are served; empty disables.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// flagKeys maps command-line flag names onto configuration keys. Flags a
// command does not define are skipped.
var flagKeys = map[string]string{
	"max":          "bar.max",
	"width":        "bar.width",
	"title":        "bar.title",
	"bar":          "bar.enabled",
	"up-every":     "bar.up_every",
	"yield":        "bar.yield",
	"workers":      "workers",
	"debug":        "logging.development",
	"metrics-addr": "metrics.addr",
}

// Load builds a Config from defaults, an optional file at path, the
// environment, and flags that were set explicitly, in increasing priority.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bar.max", bar.DefaultMax)
	v.SetDefault("bar.width", 0)
	v.SetDefault("bar.title", "")
	v.SetDefault("bar.enabled", true)
	v.SetDefault("bar.up_every", bar.DefaultUpEvery)
	v.SetDefault("bar.yield", bar.DefaultYield)
	v.SetDefault("workers", 4)
	v.SetDefault("logging.development", false)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits. bar.up_every is
// not checked here; the bar clamps it to [0,100].
func (c Config) Validate() error {
	if c.Bar.Max <= 0 {
		return fmt.Errorf("bar.max must be > 0")
	}
	if c.Bar.Width < 0 {
		return fmt.Errorf("bar.width must be >= 0")
	}
	if c.Bar.Yield < 0 {
		return fmt.Errorf("bar.yield must be >= 0")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	return nil
}

// BarOptions converts the bar section into options for bar.New,
// bar.NewSerialized and Reset.
func (c Config) BarOptions() []bar.Option {
	return []bar.Option{
		bar.WithMax(c.Bar.Max),
		bar.WithWidth(c.Bar.Width),
		bar.WithTitle(c.Bar.Title),
		bar.WithBar(c.Bar.Enabled),
		bar.WithUpEvery(c.Bar.UpEvery),
		bar.WithYield(c.Bar.Yield),
	}
}
