package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"
)

// Command names, shared by slash and prefix invocations.
const (
	CommandStart        = "start"
	CommandInfo         = "aiinfo"
	CommandResetCounter = "resetcounter"
)

// Command replies
const (
	MsgGuildOnly       = "❌ This command only works in a server."
	MsgNoChannelPerm   = "❌ I don’t have permission to create channels."
	MsgCounterReset    = "✅ Counter reset."
	MsgNeedManageGuild = "❌ You need **Manage Server** to use this."
	MsgCommandError    = "⚠️ Error processing command."
)

// CommandRequest describes who invoked a command and where.
type CommandRequest struct {
	GuildID        string // empty outside a server
	UserID         string
	CanManageGuild bool
}

// Responder delivers a command's reply. Ephemeral replies are only visible
// to the invoker where the platform supports it.
type Responder interface {
	Reply(ctx context.Context, content string, ephemeral bool) error
}

// Command runs the named command. Unknown names and panics are answered
// with MsgCommandError.
func (h *Handler) Command(ctx context.Context, name string, req CommandRequest, r Responder) {
	log := h.logger.With().
		Str("command", name).
		Str("guild_id", req.GuildID).
		Str("user_id", req.UserID).
		Logger()

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("stack", string(debug.Stack())).Msg("command panicked")
			h.reply(ctx, log, r, MsgCommandError)
		}
	}()

	log.Debug().Msg("command received")

	switch name {
	case CommandStart:
		h.start(ctx, log, req, r)
	case CommandInfo:
		h.info(ctx, log, req, r)
	case CommandResetCounter:
		h.resetCounter(ctx, log, req, r)
	default:
		log.Warn().Msg("unknown command")
		h.reply(ctx, log, r, MsgCommandError)
	}
}

func (h *Handler) start(ctx context.Context, log zerolog.Logger, req CommandRequest, r Responder) {
	if req.GuildID == "" {
		h.reply(ctx, log, r, MsgGuildOnly)
		return
	}

	_, found, err := h.platform.FindChannel(ctx, req.GuildID, h.cfg.ChannelName)
	if err != nil {
		log.Error().Err(err).Msg("look up ai channel")
		h.reply(ctx, log, r, MsgCommandError)
		return
	}
	if found {
		h.reply(ctx, log, r, h.channelExistsMessage())
		return
	}

	channelID, err := h.platform.CreateChannel(ctx, req.GuildID, h.cfg.ChannelName)
	if errors.Is(err, ErrForbidden) {
		log.Warn().Err(err).Msg("not allowed to create ai channel")
		h.reply(ctx, log, r, MsgNoChannelPerm)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("create ai channel")
		h.reply(ctx, log, r, MsgCommandError)
		return
	}

	h.state.Quota.Reset(req.GuildID)
	h.state.Locks.Ensure(req.GuildID)

	log.Info().Str("channel_id", channelID).Msg("ai channel created")
	h.reply(ctx, log, r, fmt.Sprintf("✅ AI channel created: <#%s>", channelID))
}

func (h *Handler) info(ctx context.Context, log zerolog.Logger, req CommandRequest, r Responder) {
	if req.GuildID == "" {
		h.reply(ctx, log, r, MsgGuildOnly)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s server status**\n", h.cfg.Name)
	fmt.Fprintf(&b, "Questions used: **%d / %d**\n", h.state.Quota.Count(req.GuildID), h.cfg.MaxQuestions)
	fmt.Fprintf(&b, "Timeout: **%s**\n", seconds(h.cfg.Timeout))
	fmt.Fprintf(&b, "Per-user cooldown: **%s**", seconds(h.cfg.Cooldown))
	if waiting := h.state.Locks.Waiting(req.GuildID); waiting > 0 {
		fmt.Fprintf(&b, "\nQueued questions: **%d**", waiting)
	}

	h.reply(ctx, log, r, b.String())
}

func (h *Handler) resetCounter(ctx context.Context, log zerolog.Logger, req CommandRequest, r Responder) {
	if req.GuildID == "" {
		h.reply(ctx, log, r, MsgGuildOnly)
		return
	}
	if !req.CanManageGuild {
		h.reply(ctx, log, r, MsgNeedManageGuild)
		return
	}

	h.state.Quota.Reset(req.GuildID)
	log.Info().Msg("question counter reset")
	h.reply(ctx, log, r, MsgCounterReset)
}

func (h *Handler) reply(ctx context.Context, log zerolog.Logger, r Responder, content string) {
	if err := r.Reply(ctx, content, true); err != nil {
		log.Warn().Err(err).Msg("send command reply")
	}
}

// channelResponder answers prefix commands in the channel they came from.
// Channel messages cannot be ephemeral.
type channelResponder struct {
	platform  Platform
	channelID string
}

func (c channelResponder) Reply(ctx context.Context, content string, _ bool) error {
	_, err := c.platform.Send(ctx, c.channelID, content)
	return err
}

// dispatchPrefixCommand runs "!aiinfo"-style commands. The message still goes
// through question handling afterwards.
func (h *Handler) dispatchPrefixCommand(ctx context.Context, m *Message, log zerolog.Logger) {
	if h.cfg.CommandPrefix == "" {
		return
	}
	rest, ok := strings.CutPrefix(strings.TrimSpace(m.Content), h.cfg.CommandPrefix)
	if !ok {
		return
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}

	name := strings.ToLower(fields[0])
	switch name {
	case CommandStart, CommandInfo, CommandResetCounter:
	default:
		return
	}

	req := CommandRequest{GuildID: m.GuildID, UserID: m.AuthorID}
	r := channelResponder{platform: h.platform, channelID: m.ChannelID}

	if name == CommandResetCounter {
		allowed, err := h.platform.CanManageGuild(ctx, m.ChannelID, m.AuthorID)
		if err != nil {
			log.Warn().Err(err).Msg("resolve member permissions")
			h.reply(ctx, log, r, MsgCommandError)
			return
		}
		req.CanManageGuild = allowed
	}

	h.Command(ctx, name, req, r)
}

func (h *Handler) channelExistsMessage() string {
	return fmt.Sprintf("⚠️ #%s channel already exists.", h.cfg.ChannelName)
}
