// Package config loads codexctl settings from a YAML file, CODEXCTL_*
// environment variables and command-line flags, in increasing order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CODEXCTL_LOG_LEVEL.
const EnvPrefix = "CODEXCTL"

// Config holds application configuration.
type Config struct {
	// BinaryPath is the codex executable; empty means search PATH.
	BinaryPath string `mapstructure:"binary_path"`
	// ExtraArgs are passed after "app-server".
	ExtraArgs []string `mapstructure:"extra_args"`
	// WorkDir is the agent's working directory; empty means the current one.
	WorkDir            string        `mapstructure:"work_dir"`
	MaxRestartAttempts int           `mapstructure:"max_restart_attempts"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	// TracePath, when set, records every protocol line to this file.
	TracePath string `mapstructure:"trace_path"`

	Client   ClientConfig   `mapstructure:"client"`
	Log      LogConfig      `mapstructure:"log"`
	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// ClientConfig is sent as clientInfo during initialize.
type ClientConfig struct {
	Name    string `mapstructure:"name"`
	Title   string `mapstructure:"title"`
	Version string `mapstructure:"version"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultsConfig holds per-thread defaults used when starting threads and
// turns.
type DefaultsConfig struct {
	Model                string `mapstructure:"model"`
	Effort               string `mapstructure:"effort"`
	Summary              string `mapstructure:"summary"`
	ApprovalPolicy       string `mapstructure:"approval_policy"`
	SandboxMode          string `mapstructure:"sandbox_mode"`
	SandboxNetworkAccess bool   `mapstructure:"sandbox_network_access"`
	Profile              string `mapstructure:"profile"`
}

// Default returns a Config with default values.
func Default() *Config {
	model := DefaultModelPreset()
	return &Config{
		MaxRestartAttempts: 5,
		RequestTimeout:     30 * time.Second,
		Client: ClientConfig{
			Name:    "codexctl",
			Title:   "Codex app-server host",
			Version: "0.1.0",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Defaults: DefaultsConfig{
			Model:          model.Model,
			Effort:         model.Effort,
			Summary:        "auto",
			ApprovalPolicy: "onRequest",
			SandboxMode:    DefaultSandboxPreset().Value,
		},
	}
}

// Validate checks enumerated settings and numeric bounds.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxRestartAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max_restart_attempts must be positive, got %d", c.MaxRestartAttempts))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout))
	}
	if !lo.Contains(SummaryOptions, c.Defaults.Summary) {
		errs = append(errs, fmt.Errorf("defaults.summary %q not one of %v", c.Defaults.Summary, SummaryOptions))
	}
	if mode := c.Defaults.SandboxMode; !isServerSandboxMode(ToServerSandboxMode(mode)) {
		errs = append(errs, fmt.Errorf("defaults.sandbox_mode %q not one of %v", mode, SandboxModes))
	}
	if !lo.Contains(LogLevels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level %q not one of %v", c.Log.Level, LogLevels))
	}
	return errors.Join(errs...)
}

func isServerSandboxMode(mode string) bool {
	return lo.Contains([]string{"readOnly", "workspaceWrite", "dangerFullAccess"}, mode)
}

// Source is a viper-backed configuration source. It keeps the viper
// instance so flags can be bound and the file watched.
type Source struct {
	v *viper.Viper
}

// NewSource prepares a source. An empty file searches /etc/codexctl, the
// user config dir, the home dir and the working directory for
// codexctl.yaml.
func NewSource(file string) *Source {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("codexctl")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/codexctl/")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "codexctl"))
		}
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())
	return &Source{v: v}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("binary_path", cfg.BinaryPath)
	v.SetDefault("extra_args", cfg.ExtraArgs)
	v.SetDefault("work_dir", cfg.WorkDir)
	v.SetDefault("max_restart_attempts", cfg.MaxRestartAttempts)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("trace_path", cfg.TracePath)
	v.SetDefault("client.name", cfg.Client.Name)
	v.SetDefault("client.title", cfg.Client.Title)
	v.SetDefault("client.version", cfg.Client.Version)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("defaults.model", cfg.Defaults.Model)
	v.SetDefault("defaults.effort", cfg.Defaults.Effort)
	v.SetDefault("defaults.summary", cfg.Defaults.Summary)
	v.SetDefault("defaults.approval_policy", cfg.Defaults.ApprovalPolicy)
	v.SetDefault("defaults.sandbox_mode", cfg.Defaults.SandboxMode)
	v.SetDefault("defaults.sandbox_network_access", cfg.Defaults.SandboxNetworkAccess)
	v.SetDefault("defaults.profile", cfg.Defaults.Profile)
}

// BindFlag makes a command-line flag override key when the flag is set.
func (s *Source) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: nil flag", key)
	}
	return s.v.BindPFlag(key, flag)
}

// Load reads the config file, if any, and returns the merged, validated
// configuration. A missing file in search mode is not an error.
func (s *Source) Load() (*Config, error) {
	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg := Default()
	if err := s.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// FileUsed returns the config file that was read, or "".
func (s *Source) FileUsed() string {
	return s.v.ConfigFileUsed()
}

// Watch reloads the configuration whenever the file changes and passes the
// result to fn. It does nothing when no file was found.
func (s *Source) Watch(fn func(*Config, error)) {
	if s.FileUsed() == "" {
		return
	}
	s.v.OnConfigChange(func(fsnotify.Event) {
		cfg := Default()
		if err := s.v.Unmarshal(cfg); err != nil {
			fn(nil, fmt.Errorf("decode config: %w", err))
			return
		}
		if err := cfg.Validate(); err != nil {
			fn(nil, fmt.Errorf("invalid config: %w", err))
			return
		}
		fn(cfg, nil)
	})
	s.v.WatchConfig()
}

// Load searches the default locations.
func Load() (*Config, error) {
	return NewSource("").Load()
}

// LoadFromFile loads configuration from a specific file, which must exist.
func LoadFromFile(path string) (*Config, error) {
	return NewSource(path).Load()
}
