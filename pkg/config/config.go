// Package config loads surogate configuration from viper. Values come from
// command-line flags, SUROGATE_* environment variables and an optional
// config.yaml, in that order of precedence.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable viper reads
const EnvPrefix = "SUROGATE"

// SkillsConfig holds the skill root and selection settings
type SkillsConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Allowed   []string `mapstructure:"allowed"`
	SystemDir string   `mapstructure:"system_dir"`
	Dirs      []string `mapstructure:"dirs"`
	UserDir   string   `mapstructure:"user_dir"`
}

// TracingConfig holds the OpenTelemetry settings
type TracingConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Sampler string  `mapstructure:"sampler"`
	Ratio   float64 `mapstructure:"ratio"`
}

// Config is the full runtime configuration
type Config struct {
	Skills       SkillsConfig  `mapstructure:"skills"`
	WorkspaceDir string        `mapstructure:"workspace_dir"`
	SessionsDir  string        `mapstructure:"sessions_dir"`
	AllowExecute bool          `mapstructure:"allow_execute"`
	LogLevel     string        `mapstructure:"log_level"`
	LogFormat    string        `mapstructure:"log_format"`
	Tracing      TracingConfig `mapstructure:"tracing"`
	NoSkills     bool          `mapstructure:"no_skills"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() Config {
	return Config{
		Skills: SkillsConfig{
			Enabled:   true,
			SystemDir: "./skills/builtin",
			UserDir:   "./skills",
		},
		WorkspaceDir: "./workspace",
		SessionsDir:  "./sessions",
		LogLevel:     "info",
		LogFormat:    "fmt",
		Tracing: TracingConfig{
			Sampler: "ratio",
			Ratio:   1,
		},
	}
}

// SetDefaults registers the defaults with v
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("skills.enabled", d.Skills.Enabled)
	v.SetDefault("skills.allowed", d.Skills.Allowed)
	v.SetDefault("skills.system_dir", d.Skills.SystemDir)
	v.SetDefault("skills.dirs", d.Skills.Dirs)
	v.SetDefault("skills.user_dir", d.Skills.UserDir)
	v.SetDefault("workspace_dir", d.WorkspaceDir)
	v.SetDefault("sessions_dir", d.SessionsDir)
	v.SetDefault("allow_execute", d.AllowExecute)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.sampler", d.Tracing.Sampler)
	v.SetDefault("tracing.ratio", d.Tracing.Ratio)
	v.SetDefault("no_skills", false)
}

// Setup configures environment and config file lookup on v and reads the
// config file if one exists
func Setup(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.surogate")
	v.AddConfigPath(".")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "failed to read config file")
	}
	return nil
}

// Load decodes the configuration held by v
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to unmarshal configuration")
	}
	return cfg, nil
}

// FromViper decodes the configuration held by the global viper instance
func FromViper() (Config, error) {
	return Load(viper.GetViper())
}
