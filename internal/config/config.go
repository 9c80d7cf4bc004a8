// Package config handles Nightshade configuration loading and management.
//
// Configuration is read from ~/.nightshade/config.yaml (or --config) and can
// be overridden by environment variables. Besides the NIGHTSHADE_ prefixed
// names (NIGHTSHADE_BOT_COOLDOWN_SEC, ...) the bot honors the short variable
// names operators already use for it: DISCORD_TOKEN, AI_TIMEOUT_SEC,
// PER_USER_COOLDOWN_SEC, MAX_QUESTIONS_PER_SERVER, THINKING_MESSAGE and
// AI_SCRIPT_PATH.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrMissingToken is returned by Validate when no bot token is configured.
var ErrMissingToken = errors.New("DISCORD_TOKEN env var not set")

// Config holds all Nightshade configuration
type Config struct {
	Discord     DiscordConfig     `mapstructure:"discord" yaml:"discord"`
	Bot         BotConfig         `mapstructure:"bot" yaml:"bot"`
	Backend     BackendConfig     `mapstructure:"backend" yaml:"backend"`
	Sanitizer   SanitizerConfig   `mapstructure:"sanitizer" yaml:"sanitizer"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance" yaml:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// DiscordConfig for the Discord session
type DiscordConfig struct {
	Token string `mapstructure:"token" yaml:"token,omitempty"`
	// GuildID registers slash commands in a single guild (instant update) instead of globally.
	GuildID       string `mapstructure:"guild_id" yaml:"guild_id,omitempty"`
	ChannelName   string `mapstructure:"channel_name" yaml:"channel_name"`
	CommandPrefix string `mapstructure:"command_prefix" yaml:"command_prefix"`
}

// BotConfig holds the per-server limits and persona
type BotConfig struct {
	Name                  string `mapstructure:"name" yaml:"name"`
	MaxQuestionsPerServer int    `mapstructure:"max_questions_per_server" yaml:"max_questions_per_server"`
	CooldownSec           int    `mapstructure:"cooldown_sec" yaml:"cooldown_sec"`
	ThinkingMessage       string `mapstructure:"thinking_message" yaml:"thinking_message"`
}

// BackendConfig describes how the AI backend script is launched
type BackendConfig struct {
	ScriptPath      string   `mapstructure:"script_path" yaml:"script_path"`
	Interpreters    []string `mapstructure:"interpreters" yaml:"interpreters"`
	InterpreterArgs []string `mapstructure:"interpreter_args" yaml:"interpreter_args"`
	PromptFlag      string   `mapstructure:"prompt_flag" yaml:"prompt_flag"`
	TimeoutSec      int      `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	MaxOutputBytes  int      `mapstructure:"max_output_bytes" yaml:"max_output_bytes"`
}

// SanitizerConfig toggles optional output cleaning passes
type SanitizerConfig struct {
	StripPersonaTag bool `mapstructure:"strip_persona_tag" yaml:"strip_persona_tag"`
	ASCIIOnly       bool `mapstructure:"ascii_only" yaml:"ascii_only"`
}

// MetricsConfig configures the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// MaintenanceConfig configures background housekeeping
type MaintenanceConfig struct {
	Schedule string `mapstructure:"schedule" yaml:"schedule"` // cron expression, empty disables
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Discord: DiscordConfig{
			ChannelName:   "ai",
			CommandPrefix: "!",
		},
		Bot: BotConfig{
			Name:                  "NightshadeAI",
			MaxQuestionsPerServer: 400,
			CooldownSec:           4,
			ThinkingMessage:       "⏳ Thinking…",
		},
		Backend: BackendConfig{
			ScriptPath:      defaultScriptPath(),
			Interpreters:    []string{"pwsh", "powershell"},
			InterpreterArgs: []string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File"},
			PromptFlag:      "-Prompt",
			TimeoutSec:      240,
			MaxOutputBytes:  1024 * 1024, // 1MB
		},
		Sanitizer: SanitizerConfig{
			StripPersonaTag: true,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Maintenance: MaintenanceConfig{
			Schedule: "@every 10m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns ~/.nightshade/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".nightshade", "config.yaml")
}

// legacyEnv maps config keys to the plain environment variable names.
var legacyEnv = map[string]string{
	"discord.token":                "DISCORD_TOKEN",
	"backend.timeout_sec":          "AI_TIMEOUT_SEC",
	"backend.script_path":          "AI_SCRIPT_PATH",
	"bot.cooldown_sec":             "PER_USER_COOLDOWN_SEC",
	"bot.max_questions_per_server": "MAX_QUESTIONS_PER_SERVER",
	"bot.thinking_message":         "THINKING_MESSAGE",
}

// Load reads configuration from path and merges environment overrides.
// An empty path means DefaultPath(); a missing default file is not an error,
// a missing explicit file is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	path = expandPath(path)

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix("NIGHTSHADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "NIGHTSHADE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Backend.ScriptPath = expandPath(cfg.Backend.ScriptPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	path = expandPath(path)

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks the configuration for values the bot cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Discord.Token) == "" {
		errs = append(errs, ErrMissingToken)
	}
	if c.Discord.ChannelName == "" {
		errs = append(errs, errors.New("discord.channel_name must not be empty"))
	}
	if c.Bot.MaxQuestionsPerServer <= 0 {
		errs = append(errs, fmt.Errorf("bot.max_questions_per_server must be positive, got %d", c.Bot.MaxQuestionsPerServer))
	}
	if c.Bot.CooldownSec < 0 {
		errs = append(errs, fmt.Errorf("bot.cooldown_sec must not be negative, got %d", c.Bot.CooldownSec))
	}
	if c.Backend.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("backend.timeout_sec must be positive, got %d", c.Backend.TimeoutSec))
	}
	if c.Backend.ScriptPath == "" {
		errs = append(errs, errors.New("backend.script_path must not be empty"))
	}
	if len(c.Backend.Interpreters) == 0 {
		errs = append(errs, errors.New("backend.interpreters must list at least one interpreter"))
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// Timeout returns the backend timeout as a duration.
func (c BackendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Cooldown returns the per-user cooldown as a duration.
func (c BotConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSec) * time.Second
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("discord.token", d.Discord.Token)
	v.SetDefault("discord.guild_id", d.Discord.GuildID)
	v.SetDefault("discord.channel_name", d.Discord.ChannelName)
	v.SetDefault("discord.command_prefix", d.Discord.CommandPrefix)

	v.SetDefault("bot.name", d.Bot.Name)
	v.SetDefault("bot.max_questions_per_server", d.Bot.MaxQuestionsPerServer)
	v.SetDefault("bot.cooldown_sec", d.Bot.CooldownSec)
	v.SetDefault("bot.thinking_message", d.Bot.ThinkingMessage)

	v.SetDefault("backend.script_path", d.Backend.ScriptPath)
	v.SetDefault("backend.interpreters", d.Backend.Interpreters)
	v.SetDefault("backend.interpreter_args", d.Backend.InterpreterArgs)
	v.SetDefault("backend.prompt_flag", d.Backend.PromptFlag)
	v.SetDefault("backend.timeout_sec", d.Backend.TimeoutSec)
	v.SetDefault("backend.max_output_bytes", d.Backend.MaxOutputBytes)

	v.SetDefault("sanitizer.strip_persona_tag", d.Sanitizer.StripPersonaTag)
	v.SetDefault("sanitizer.ascii_only", d.Sanitizer.ASCIIOnly)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("maintenance.schedule", d.Maintenance.Schedule)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
}

// defaultScriptPath places the backend script next to the executable.
func defaultScriptPath() string {
	const name = "BackgroundAI_Bot.ps1"
	exe, err := os.Executable()
	if err != nil {
		return name
	}
	return filepath.Join(filepath.Dir(exe), name)
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
