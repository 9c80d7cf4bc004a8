// Package backend runs the external AI script for one question and turns
// whatever happens into a postable Result.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/metrics"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/sanitize"
)

// Exit statuses reported for failures that never produced a real exit code.
const (
	StatusFailure             = 1
	StatusTimeout             = 124
	StatusInterpreterNotFound = 127
)

// User-facing messages
const (
	MsgScriptMissing = "⚠️ AI backend script is missing."
	MsgNoResponse    = "⚠️ AI returned no response."
	MsgError         = "⚠️ Error calling AI. Check the bot logs for details."
)

// waitDelay bounds how long Wait keeps draining pipes after the process is
// killed. Grandchildren holding the pipes open would otherwise block forever.
const waitDelay = 2 * time.Second

const truncatedMarker = "\n... (output truncated)"

// Result is what the gateway hands back for every invocation.
type Result struct {
	Text   string
	Status int
}

// OK reports whether the backend exited cleanly.
func (r Result) OK() bool { return r.Status == 0 }

// Config configures the invoker
type Config struct {
	ScriptPath string
	// Interpreters are tried in order; the first one found on PATH is used.
	Interpreters    []string
	InterpreterArgs []string
	// PromptFlag precedes the question on the command line. Empty passes the
	// question as a bare positional argument.
	PromptFlag     string
	Timeout        time.Duration
	MaxOutputBytes int
}

// DefaultConfig returns the PowerShell launch settings.
func DefaultConfig() Config {
	return Config{
		ScriptPath:      "BackgroundAI_Bot.ps1",
		Interpreters:    []string{"pwsh", "powershell"},
		InterpreterArgs: []string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File"},
		PromptFlag:      "-Prompt",
		Timeout:         240 * time.Second,
		MaxOutputBytes:  1024 * 1024,
	}
}

// Invoker launches one subprocess per question. It holds no per-call state
// and is safe for concurrent use.
type Invoker struct {
	cfg       Config
	sanitizer *sanitize.Sanitizer
	logger    zerolog.Logger
	lookPath  func(string) (string, error)
}

// New creates an invoker. A nil sanitizer falls back to one with no
// optional passes.
func New(cfg Config, sanitizer *sanitize.Sanitizer, logger zerolog.Logger) *Invoker {
	defaults := DefaultConfig()
	if len(cfg.Interpreters) == 0 {
		cfg.Interpreters = defaults.Interpreters
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaults.MaxOutputBytes
	}
	if sanitizer == nil {
		sanitizer = sanitize.New(sanitize.Options{})
	}

	return &Invoker{
		cfg:       cfg,
		sanitizer: sanitizer,
		logger:    logger,
		lookPath:  exec.LookPath,
	}
}

// Timeout returns the effective per-invocation timeout.
func (inv *Invoker) Timeout() time.Duration {
	return inv.cfg.Timeout
}

// Invoke runs the backend for question and never fails: every error is
// folded into a Result with a status code.
func (inv *Invoker) Invoke(ctx context.Context, question string) (res Result) {
	log := inv.logger.With().Str("request_id", uuid.NewString()).Logger()
	start := time.Now()
	outcome := metrics.OutcomeError

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("backend invocation panicked")
			res = Result{Text: MsgError, Status: StatusFailure}
			outcome = metrics.OutcomeError
		}

		elapsed := time.Since(start)
		metrics.Invocations.WithLabelValues(outcome).Inc()
		metrics.InvocationDuration.Observe(elapsed.Seconds())

		log.Info().
			Str("outcome", outcome).
			Int("status", res.Status).
			Dur("duration", elapsed).
			Int("chars", len([]rune(res.Text))).
			Msg("backend invocation finished")
	}()

	log.Debug().Int("question_chars", len([]rune(question))).Msg("backend invocation starting")
	res, outcome = inv.invoke(ctx, question, log)
	return res
}

func (inv *Invoker) invoke(ctx context.Context, question string, log zerolog.Logger) (Result, string) {
	if info, err := os.Stat(inv.cfg.ScriptPath); err != nil || info.IsDir() {
		log.Warn().Str("script", inv.cfg.ScriptPath).Msg("backend script is missing")
		return Result{Text: MsgScriptMissing, Status: StatusFailure}, metrics.OutcomeScriptMissing
	}

	interpreter, err := inv.resolveInterpreter()
	if err != nil {
		log.Error().Err(err).Strs("interpreters", inv.cfg.Interpreters).Msg("no backend interpreter available")
		return inv.interpreterNotFound(), metrics.OutcomeInterpreterNotFound
	}

	runCtx, cancel := context.WithTimeout(ctx, inv.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, interpreter, inv.args(question)...)
	out := &cappedBuffer{limit: inv.cfg.MaxOutputBytes}
	// Same comparable writer for both streams: exec serializes the writes.
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	runErr := cmd.Run()

	status := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			log.Warn().Dur("timeout", inv.cfg.Timeout).Msg("backend timed out, process killed")
			return Result{
				Text:   fmt.Sprintf("⚠️ AI timed out after %s. Try again with a shorter question.", formatTimeout(inv.cfg.Timeout)),
				Status: StatusTimeout,
			}, metrics.OutcomeTimeout
		case errors.As(runErr, &exitErr) && ctx.Err() == nil:
			status = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrWaitDelay):
			// The script exited 0 but something it spawned still holds the
			// output pipes. Keep the answer and reap the leftovers.
			log.Warn().Msg("backend left processes holding its output open")
			if cmd.Cancel != nil {
				_ = cmd.Cancel()
			}
		case errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, fs.ErrNotExist):
			log.Error().Err(runErr).Str("interpreter", interpreter).Msg("backend interpreter could not be started")
			return inv.interpreterNotFound(), metrics.OutcomeInterpreterNotFound
		default:
			log.Error().Err(runErr).Str("interpreter", interpreter).Msg("backend invocation failed")
			return Result{Text: MsgError, Status: StatusFailure}, metrics.OutcomeError
		}
	}

	text := inv.sanitizer.Clean(strings.ToValidUTF8(out.String(), ""))
	if text == "" {
		text = MsgNoResponse
	} else if out.truncated {
		text += truncatedMarker
	}

	outcome := metrics.OutcomeOK
	if status != 0 {
		outcome = metrics.OutcomeNonZeroExit
		log.Warn().Int("status", status).Msg("backend exited with non-zero status")
	}
	return Result{Text: text, Status: status}, outcome
}

func (inv *Invoker) resolveInterpreter() (string, error) {
	var errs []error
	for _, name := range inv.cfg.Interpreters {
		path, err := inv.lookPath(name)
		if err == nil {
			return path, nil
		}
		errs = append(errs, err)
	}
	return "", errors.Join(errs...)
}

func (inv *Invoker) interpreterNotFound() Result {
	return Result{
		Text:   fmt.Sprintf("❌ %s not found. Install it or fix PATH.", strings.Join(inv.cfg.Interpreters, "/")),
		Status: StatusInterpreterNotFound,
	}
}

func (inv *Invoker) args(question string) []string {
	args := make([]string, 0, len(inv.cfg.InterpreterArgs)+3)
	args = append(args, inv.cfg.InterpreterArgs...)
	args = append(args, inv.cfg.ScriptPath)
	if inv.cfg.PromptFlag != "" {
		args = append(args, inv.cfg.PromptFlag)
	}
	return append(args, question)
}

// formatTimeout renders whole-second timeouts as "240s" and anything else
// with time.Duration's own formatting.
func formatTimeout(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}

// cappedBuffer keeps the first limit bytes written and silently discards the
// rest so a runaway backend cannot exhaust memory.
type cappedBuffer struct {
	buf       []byte
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room < len(p) {
		if room > 0 {
			b.buf = append(b.buf, p[:room]...)
		}
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return string(b.buf)
}
