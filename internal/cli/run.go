package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/bot"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/channels/discord"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/metrics"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/scheduler"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and answer questions (default)",
		RunE:  runBot,
	})
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	defer log.Close()

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx, stop := runContext(cmd)
	defer stop()

	state := bot.NewState()
	invoker := newInvoker(cfg, log)

	adapter, err := discord.New(discord.Config{
		Token:       cfg.Discord.Token,
		GuildID:     cfg.Discord.GuildID,
		Name:        cfg.Bot.Name,
		ChannelName: cfg.Discord.ChannelName,
	}, log.Component("discord"))
	if err != nil {
		return err
	}

	handler := bot.NewHandler(handlerConfig(cfg), state, adapter, invoker, log.Component("bot"))

	var sched *scheduler.Scheduler
	if cfg.Maintenance.Schedule != "" {
		sched, err = scheduler.NewScheduler(cfg.Maintenance.Schedule, state, cfg.Bot.Cooldown(), log.Component("scheduler"))
		if err != nil {
			return err
		}
	}

	if _, err := os.Stat(cfg.Backend.ScriptPath); err != nil {
		log.Warn().Str("script", cfg.Backend.ScriptPath).Msg("backend script not found, questions will be answered with an error")
	}

	log.Info().
		Str("name", cfg.Bot.Name).
		Str("channel", cfg.Discord.ChannelName).
		Int("max_questions", cfg.Bot.MaxQuestionsPerServer).
		Dur("cooldown", cfg.Bot.Cooldown()).
		Dur("timeout", cfg.Backend.Timeout()).
		Msg("nightshade starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return adapter.Run(gctx, handler) })
	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Addr, log.Component("metrics")) })
	}
	if sched != nil {
		g.Go(func() error { return sched.Run(gctx) })
	}

	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("nightshade stopped with error")
		return err
	}
	log.Info().Msg("nightshade stopped")
	return nil
}

// runContext is cmd.Context() cancelled on SIGINT/SIGTERM.
func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
