// Package bot holds the platform-independent message and command flow:
// deciding whether a message is a question, enforcing limits, calling the
// backend and posting the answer.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/backend"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/chunker"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/metrics"
)

// ErrForbidden is returned by a Platform when the bot lacks the permission
// for an action.
var ErrForbidden = errors.New("missing permission")

// Message is an inbound chat message as the handler sees it.
type Message struct {
	ID          string
	GuildID     string // empty for direct messages
	ChannelID   string
	AuthorID    string
	AuthorIsBot bool
	Content     string
	// MentionIDs lists the user IDs mentioned in the message.
	MentionIDs []string
}

// Platform is the chat service the bot talks to. Every Send must suppress
// mention pings.
type Platform interface {
	BotUserID() string
	// FindChannel looks up a text channel by name in a guild.
	FindChannel(ctx context.Context, guildID, name string) (channelID string, found bool, err error)
	CreateChannel(ctx context.Context, guildID, name string) (channelID string, err error)
	Send(ctx context.Context, channelID, content string) (messageID string, err error)
	Delete(ctx context.Context, channelID, messageID string) error
	// CanManageGuild reports whether the user holds Manage Server (or
	// Administrator) in the channel's guild.
	CanManageGuild(ctx context.Context, channelID, userID string) (bool, error)
}

// Asker answers a question. *backend.Invoker implements it.
type Asker interface {
	Invoke(ctx context.Context, question string) backend.Result
}

// HandlerConfig carries the user-visible knobs.
type HandlerConfig struct {
	Name            string
	ChannelName     string
	CommandPrefix   string // empty disables prefix commands
	MaxQuestions    int
	Cooldown        time.Duration
	Timeout         time.Duration // only reported by the info command
	ThinkingMessage string        // empty skips the placeholder
}

// Handler processes messages and commands. Its methods are safe to call from
// many goroutines at once.
type Handler struct {
	cfg      HandlerConfig
	state    *State
	platform Platform
	asker    Asker
	logger   zerolog.Logger
	now      func() time.Time
}

// NewHandler wires a handler.
func NewHandler(cfg HandlerConfig, state *State, platform Platform, asker Asker, logger zerolog.Logger) *Handler {
	if state == nil {
		state = NewState()
	}
	return &Handler{
		cfg:      cfg,
		state:    state,
		platform: platform,
		asker:    asker,
		logger:   logger,
		now:      time.Now,
	}
}

// State returns the handler's shared state.
func (h *Handler) State() *State {
	return h.state
}

func (h *Handler) limitMessage() string {
	return fmt.Sprintf("❌ %s has reached the question limit for this server.", h.cfg.Name)
}

func (h *Handler) cooldownMessage() string {
	return fmt.Sprintf("⚠️ Slow down a bit—try again in ~%s.", seconds(h.cfg.Cooldown))
}

const emptyQuestionMessage = "⚠️ Please ask a question after mentioning me."

// HandleMessage runs the full flow for one inbound message. It never
// returns an error: failures are logged and, where useful, reported in chat.
func (h *Handler) HandleMessage(ctx context.Context, m *Message) {
	log := h.logger.With().
		Str("guild_id", m.GuildID).
		Str("channel_id", m.ChannelID).
		Str("message_id", m.ID).
		Str("author_id", m.AuthorID).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("message handler panicked")
		}
	}()

	if m.AuthorIsBot || m.GuildID == "" {
		return
	}

	h.dispatchPrefixCommand(ctx, m, log)

	channelID, found, err := h.platform.FindChannel(ctx, m.GuildID, h.cfg.ChannelName)
	if err != nil {
		log.Warn().Err(err).Msg("resolve ai channel")
		return
	}
	if !found || m.ChannelID != channelID {
		return
	}

	botID := h.platform.BotUserID()
	if botID == "" || !slices.Contains(m.MentionIDs, botID) {
		return
	}

	if h.state.Quota.Exhausted(m.GuildID, h.cfg.MaxQuestions) {
		metrics.QuestionsRejected.WithLabelValues(metrics.ReasonQuota).Inc()
		h.send(ctx, log, m.ChannelID, h.limitMessage())
		return
	}

	if !h.state.Cooldowns.Allow(m.GuildID, m.AuthorID, h.now(), h.cfg.Cooldown) {
		metrics.QuestionsRejected.WithLabelValues(metrics.ReasonCooldown).Inc()
		h.send(ctx, log, m.ChannelID, h.cooldownMessage())
		return
	}

	question := stripMention(m.Content, botID)
	if question == "" {
		metrics.QuestionsRejected.WithLabelValues(metrics.ReasonEmpty).Inc()
		h.send(ctx, log, m.ChannelID, emptyQuestionMessage)
		return
	}

	// Another message may have taken the last slot since the check above.
	if h.state.Quota.IncrementAndCheck(m.GuildID, h.cfg.MaxQuestions) {
		metrics.QuestionsRejected.WithLabelValues(metrics.ReasonQuota).Inc()
		h.send(ctx, log, m.ChannelID, h.limitMessage())
		return
	}
	metrics.QuestionsAccepted.Inc()

	h.state.Locks.Ensure(m.GuildID)
	metrics.GuildLocks.Set(float64(h.state.Locks.Len()))

	err = h.state.Locks.WithLock(ctx, m.GuildID, func(ctx context.Context) error {
		h.answer(ctx, log, m.ChannelID, question)
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("question abandoned while waiting for guild lock")
	}
}

// answer runs with the guild lock held.
func (h *Handler) answer(ctx context.Context, log zerolog.Logger, channelID, question string) {
	var placeholderID string
	if h.cfg.ThinkingMessage != "" {
		placeholderID = h.send(ctx, log, channelID, h.cfg.ThinkingMessage)
	}

	res := h.asker.Invoke(ctx, question)

	if placeholderID != "" {
		if err := h.platform.Delete(ctx, channelID, placeholderID); err != nil {
			log.Debug().Err(err).Msg("delete thinking placeholder")
		}
	}

	header := Header(h.cfg.Name)
	for _, chunk := range chunker.Split(AnswerText(res), chunker.DefaultLimit-utf8.RuneCountInString(header)) {
		h.send(ctx, log, channelID, header+chunk)
	}
}

// Header is prepended to every answer chunk.
func Header(name string) string {
	return fmt.Sprintf("🤖 %s:\n", name)
}

// AnswerText tags the backend output with its exit status when it is not 0.
func AnswerText(res backend.Result) string {
	if res.Status != 0 {
		return fmt.Sprintf("[exit %d] %s", res.Status, res.Text)
	}
	return res.Text
}

// send posts content and returns the new message ID, or "" on failure.
func (h *Handler) send(ctx context.Context, log zerolog.Logger, channelID, content string) string {
	id, err := h.platform.Send(ctx, channelID, content)
	if err != nil {
		log.Warn().Err(err).Str("target_channel", channelID).Msg("send message")
		return ""
	}
	return id
}

// stripMention removes both mention forms of botID and trims the rest.
// Mentions of other users stay part of the question.
func stripMention(content, botID string) string {
	content = strings.ReplaceAll(content, "<@"+botID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	return strings.TrimSpace(content)
}

// seconds renders a duration the way the bot's messages quote limits: whole
// seconds as "4s", anything finer with time.Duration formatting.
func seconds(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}
