package cli

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/bot"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/chunker"
)

var askRaw bool

var (
	askHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	askBodyStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("241")).
			Padding(0, 1)

	askErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

func init() {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the AI backend a question from the terminal",
		Long: `Run one question through the same backend, sanitizer and chunker the bot
uses, without connecting to Discord. Quotas and cooldowns do not apply.

Examples:
  nightshade ask "What is a goroutine?"
  nightshade ask --raw "Explain channels" > answer.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}
	cmd.Flags().BoolVar(&askRaw, "raw", false, "print the messages exactly as they would be posted")

	RootCmd.AddCommand(cmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if logLevel == "" {
		// Keep the answer readable; --log-level brings the logs back.
		cfg.Logging.Level = "warn"
	}

	log := newLogger(cfg)
	defer log.Close()

	ctx, stop := runContext(cmd)
	defer stop()

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question must not be empty")
	}

	res := newInvoker(cfg, log).Invoke(ctx, question)

	header := bot.Header(cfg.Bot.Name)
	chunks := chunker.Split(bot.AnswerText(res), chunker.DefaultLimit-utf8.RuneCountInString(header))

	out := cmd.OutOrStdout()
	for _, chunk := range chunks {
		if askRaw {
			fmt.Fprintln(out, header+chunk)
			continue
		}
		fmt.Fprintln(out, askHeaderStyle.Render(strings.TrimSuffix(header, "\n")))
		body := askBodyStyle
		if !res.OK() {
			body = body.BorderForeground(askErrorStyle.GetForeground())
		}
		fmt.Fprintln(out, body.Render(chunk))
	}

	if !res.OK() {
		return fmt.Errorf("backend exited with status %d", res.Status)
	}
	return nil
}
