// Package cli implements the nightshade commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/backend"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/bot"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/config"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/logging"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/sanitize"
)

var (
	version  = "0.1.0"
	cfgPath  string
	logLevel string
)

// RootCmd is the top-level command. Without a subcommand it runs the bot.
var RootCmd = &cobra.Command{
	Use:   "nightshade",
	Short: "Discord bot that answers #ai questions with a local AI script",
	Long: `Nightshade relays questions asked in a server's #ai channel to a local
AI backend script and posts the answers back, with a per-server question
quota and a per-user cooldown.

Run the bot:          nightshade run
Ask from a terminal:  nightshade ask "What is a goroutine?"
Configuration:        nightshade config show`,
	SilenceUsage: true,
	RunE:         runBot,
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.nightshade/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	return logging.NewWithConfig(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
}

func newInvoker(cfg *config.Config, log *logging.Logger) *backend.Invoker {
	s := sanitize.New(sanitize.Options{
		PersonaName:     cfg.Bot.Name,
		StripPersonaTag: cfg.Sanitizer.StripPersonaTag,
		ASCIIOnly:       cfg.Sanitizer.ASCIIOnly,
	})
	return backend.New(backend.Config{
		ScriptPath:      cfg.Backend.ScriptPath,
		Interpreters:    cfg.Backend.Interpreters,
		InterpreterArgs: cfg.Backend.InterpreterArgs,
		PromptFlag:      cfg.Backend.PromptFlag,
		Timeout:         cfg.Backend.Timeout(),
		MaxOutputBytes:  cfg.Backend.MaxOutputBytes,
	}, s, log.Component("backend"))
}

func handlerConfig(cfg *config.Config) bot.HandlerConfig {
	return bot.HandlerConfig{
		Name:            cfg.Bot.Name,
		ChannelName:     cfg.Discord.ChannelName,
		CommandPrefix:   cfg.Discord.CommandPrefix,
		MaxQuestions:    cfg.Bot.MaxQuestionsPerServer,
		Cooldown:        cfg.Bot.Cooldown(),
		Timeout:         cfg.Backend.Timeout(),
		ThinkingMessage: cfg.Bot.ThinkingMessage,
	}
}
