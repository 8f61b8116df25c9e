// Package config holds the application settings. A Config is an explicit
// value built once by the command layer and passed to constructors; there is
// no package-level mutable state.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. SCOPESEQ_ADDRESS.
const EnvPrefix = "SCOPESEQ"

// Config contains the settings shared by every command.
type Config struct {
	// Address selects the instrument session, for example
	// tcp://192.168.1.20:5025 or gpib:///dev/ttyUSB0?pad=7.
	Address string `mapstructure:"address"`

	// Timeout is the per-response read deadline.
	Timeout time.Duration `mapstructure:"timeout"`

	// WriteDelay is the minimum gap between two writes on the bus.
	WriteDelay time.Duration `mapstructure:"write_delay"`

	// BaseDirectory is where captures go when a waveform configuration has no
	// save directory.
	BaseDirectory string `mapstructure:"base_directory"`

	// BaseFilename is the default capture name.
	BaseFilename string `mapstructure:"base_filename"`

	// WorkDir holds the live step configuration documents
	// (axis_config.json, waveform_config.json, configurations.json).
	WorkDir string `mapstructure:"work_dir"`

	// HistoryPath is the SQLite database recording sequence runs. Empty
	// disables history.
	HistoryPath string `mapstructure:"history_path"`

	// Slots is the number of sequence slots offered by the editor.
	Slots int `mapstructure:"slots"`

	// SnapDistance is the largest distance at which a dropped step snaps into
	// the nearest slot.
	SnapDistance float64 `mapstructure:"snap_distance"`

	Debug bool      `mapstructure:"debug"`
	Log   LogConfig `mapstructure:"log"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in settings.
func Default() *Config {
	base := "OscilloscopeData"
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		base = filepath.Join(home, "OscilloscopeData")
	}
	history := ""
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		history = filepath.Join(dir, "scopeseq", "history.db")
	}
	return &Config{
		Address:       "tcp://localhost:5025",
		Timeout:       10 * time.Second,
		BaseDirectory: base,
		BaseFilename:  "my_data",
		WorkDir:       ".",
		HistoryPath:   history,
		Slots:         10,
		SnapDistance:  50,
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// SetDefaults registers the defaults on v so flag bindings and env lookups
// see them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("address", d.Address)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("write_delay", d.WriteDelay)
	v.SetDefault("base_directory", d.BaseDirectory)
	v.SetDefault("base_filename", d.BaseFilename)
	v.SetDefault("work_dir", d.WorkDir)
	v.SetDefault("history_path", d.HistoryPath)
	v.SetDefault("slots", d.Slots)
	v.SetDefault("snap_distance", d.SnapDistance)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads configuration from path (or the standard search locations when
// path is empty), the environment and any flags already bound to v. A
// missing config file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scopeseq")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "scopeseq"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(path != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings for values the rest of the program cannot
// work with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return errors.New("address is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if c.Slots <= 0 {
		return fmt.Errorf("slots must be positive, got %d", c.Slots)
	}
	if c.SnapDistance <= 0 {
		return fmt.Errorf("snap distance must be positive, got %g", c.SnapDistance)
	}
	return nil
}

// WithAddress returns a copy of c using the given instrument address.
func (c Config) WithAddress(address string) Config {
	c.Address = strings.TrimSpace(address)
	return c
}

// WithTimeout returns a copy of c using the given response timeout.
func (c Config) WithTimeout(d time.Duration) Config {
	c.Timeout = d
	return c
}

// WithBaseDirectory returns a copy of c saving captures under dir.
func (c Config) WithBaseDirectory(dir string) Config {
	c.BaseDirectory = dir
	return c
}

// WithBaseFilename returns a copy of c using name as the default capture name.
func (c Config) WithBaseFilename(name string) Config {
	c.BaseFilename = name
	return c
}

// Save writes the settings to path as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if path == "" {
		return errors.New("config path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	v := viper.New()
	v.Set("address", c.Address)
	v.Set("timeout", c.Timeout.String())
	v.Set("write_delay", c.WriteDelay.String())
	v.Set("base_directory", c.BaseDirectory)
	v.Set("base_filename", c.BaseFilename)
	v.Set("work_dir", c.WorkDir)
	v.Set("history_path", c.HistoryPath)
	v.Set("slots", c.Slots)
	v.Set("snap_distance", c.SnapDistance)
	v.Set("debug", c.Debug)
	v.Set("log.level", c.Log.Level)
	v.Set("log.format", c.Log.Format)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
