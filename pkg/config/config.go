// Package config loads application settings from defaults, an optional YAML
// file, SPECMASK_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nzoschke/specmask/pkg/stft"
)

// EnvPrefix is prepended to environment variable names, e.g. SPECMASK_STFT_WIN_SIZE.
const EnvPrefix = "SPECMASK"

// Config is the full application configuration.
type Config struct {
	MusicDir string      `mapstructure:"music_dir"`
	Addr     string      `mapstructure:"addr"`
	DBPath   string      `mapstructure:"db_path"` // Empty keeps masks in memory
	Workers  int         `mapstructure:"workers"`
	Cache    int         `mapstructure:"cache"` // Analyzed tracks the server keeps in memory
	Log      LogConfig   `mapstructure:"log"`
	STFT     stft.Config `mapstructure:"stft"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	d := stft.DefaultConfig()

	v.SetDefault("music_dir", "music")
	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "")
	v.SetDefault("workers", 4)
	v.SetDefault("cache", 8)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
	v.SetDefault("stft.win_size", d.WinSize)
	v.SetDefault("stft.hop_size", d.HopSize)
	v.SetDefault("stft.max_freq_hz", d.MaxFreqHz)
	v.SetDefault("stft.db_range", d.DBRange)
}

// New returns a viper instance with defaults and environment binding. When
// file is not empty it is read as the config file.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return v, nil
}

// BindFlags binds each flag to the key of the same name with dashes replaced
// by underscores, so --music-dir sets music_dir and --stft.win-size sets
// stft.win_size.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the settings that do not depend on a particular track.
// The frequency ceiling is checked against the lowest sample rate that can
// represent it; tracks below that rate fail when they are analyzed.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers cannot be negative: %d", c.Workers)
	}
	if c.Cache < 1 {
		return fmt.Errorf("cache must hold at least one track: %d", c.Cache)
	}
	if !(c.STFT.MaxFreqHz > 0) || math.IsInf(c.STFT.MaxFreqHz, 1) {
		return fmt.Errorf("%w: %g Hz", stft.ErrInvalidMaxFreq, c.STFT.MaxFreqHz)
	}
	if err := c.STFT.Validate(int(math.Ceil(2 * c.STFT.MaxFreqHz))); err != nil {
		return fmt.Errorf("stft config: %w", err)
	}
	return nil
}
