// Package discord connects the bot to Discord through discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/bot"
)

// Handler receives converted Discord events. *bot.Handler implements it.
type Handler interface {
	HandleMessage(ctx context.Context, m *bot.Message)
	Command(ctx context.Context, name string, req bot.CommandRequest, r bot.Responder)
}

// Config for the Discord adapter
type Config struct {
	Token string
	// GuildID registers slash commands in one guild only. Empty registers
	// them globally.
	GuildID string
	// Name is the bot persona used in command descriptions.
	Name string
	// ChannelName is the text channel /start creates.
	ChannelName string
}

// Adapter owns the Discord session and implements bot.Platform.
type Adapter struct {
	config  Config
	session *discordgo.Session
	logger  zerolog.Logger

	// Set by Run before the session opens; read by event handlers.
	ctx     context.Context
	handler Handler
}

// New creates an adapter. It does not connect; see Run.
func New(cfg Config, logger zerolog.Logger) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token not configured")
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	// Guilds keeps channel state current; MessageContent is privileged and
	// must also be enabled in the developer portal.
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	a := &Adapter{
		config:  cfg,
		session: session,
		logger:  logger,
		ctx:     context.Background(),
	}

	session.AddHandler(a.handleReady)
	session.AddHandler(a.handleMessageCreate)
	session.AddHandler(a.handleInteractionCreate)

	return a, nil
}

// Run connects, dispatches events to h until ctx is done, then closes the
// session.
func (a *Adapter) Run(ctx context.Context, h Handler) error {
	a.ctx = ctx
	a.handler = h

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord connection: %w", err)
	}
	a.logger.Info().Msg("discord session opened")

	<-ctx.Done()

	if err := a.session.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close discord session")
	}
	a.logger.Info().Msg("discord adapter stopped")
	return nil
}

func (a *Adapter) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	a.logger.Info().
		Str("username", r.User.Username).
		Str("user_id", r.User.ID).
		Int("guilds", len(r.Guilds)).
		Msg("discord bot connected")

	if r.Application == nil {
		a.logger.Warn().Msg("ready event without application, slash commands not synced")
		return
	}

	cmds, err := s.ApplicationCommandBulkOverwrite(r.Application.ID, a.config.GuildID, slashCommands(a.config.Name, a.config.ChannelName),
		discordgo.WithContext(a.ctx))
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to sync application commands")
		return
	}
	a.logger.Info().Int("commands", len(cmds)).Str("guild_id", a.config.GuildID).Msg("application commands synced")
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if a.handler == nil || m.Message == nil {
		return
	}
	a.handler.HandleMessage(a.ctx, toMessage(m.Message))
}

func (a *Adapter) handleInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if a.handler == nil || i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	name := i.ApplicationCommandData().Name
	a.handler.Command(a.ctx, name, commandRequest(i.Interaction), &interactionResponder{
		session:     s,
		interaction: i.Interaction,
	})
}

// BotUserID returns the bot's own user ID, empty before the first Ready.
func (a *Adapter) BotUserID() string {
	if a.session.State == nil || a.session.State.User == nil {
		return ""
	}
	return a.session.State.User.ID
}

// FindChannel returns the guild's text channel called name. The state cache
// is used when the guild is known, the REST API otherwise.
func (a *Adapter) FindChannel(ctx context.Context, guildID, name string) (string, bool, error) {
	var channels []*discordgo.Channel
	if guild, err := a.session.State.Guild(guildID); err == nil {
		a.session.State.RLock()
		channels = append(channels, guild.Channels...)
		a.session.State.RUnlock()
	} else {
		channels, err = a.session.GuildChannels(guildID, discordgo.WithContext(ctx))
		if err != nil {
			return "", false, fmt.Errorf("list channels of guild %s: %w", guildID, mapError(err))
		}
	}

	ch := findTextChannel(channels, name)
	if ch == nil {
		return "", false, nil
	}
	return ch.ID, true, nil
}

// CreateChannel creates a text channel. Missing permissions surface as
// bot.ErrForbidden.
func (a *Adapter) CreateChannel(ctx context.Context, guildID, name string) (string, error) {
	ch, err := a.session.GuildChannelCreate(guildID, name, discordgo.ChannelTypeGuildText, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create channel %q: %w", name, mapError(err))
	}
	return ch.ID, nil
}

// Send posts content with every mention ping suppressed.
func (a *Adapter) Send(ctx context.Context, channelID, content string) (string, error) {
	msg, err := a.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: noMentions(),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	return msg.ID, nil
}

// Delete removes a message.
func (a *Adapter) Delete(ctx context.Context, channelID, messageID string) error {
	return mapError(a.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

// CanManageGuild resolves the user's effective permissions in the channel.
func (a *Adapter) CanManageGuild(ctx context.Context, channelID, userID string) (bool, error) {
	perms, err := a.session.UserChannelPermissions(userID, channelID, discordgo.WithContext(ctx))
	if err != nil {
		return false, mapError(err)
	}
	return hasManageGuild(perms), nil
}

type interactionResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
}

func (r *interactionResponder) Reply(ctx context.Context, content string, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{
		Content:         content,
		AllowedMentions: noMentions(),
	}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return r.session.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(ctx))
}

func slashCommands(name, channelName string) []*discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageGuild)
	dm := false
	return []*discordgo.ApplicationCommand{
		{
			Name:         bot.CommandStart,
			Description:  fmt.Sprintf("Create a #%s channel for chatting with the bot", channelName),
			DMPermission: &dm,
		},
		{
			Name:         bot.CommandInfo,
			Description:  fmt.Sprintf("Show %s status for this server", name),
			DMPermission: &dm,
		},
		{
			Name:                     bot.CommandResetCounter,
			Description:              fmt.Sprintf("(Admin) Reset the %s question counter for this server", name),
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &dm,
		},
	}
}

func toMessage(m *discordgo.Message) *bot.Message {
	msg := &bot.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorIsBot = m.Author.Bot
	}
	for _, u := range m.Mentions {
		if u != nil {
			msg.MentionIDs = append(msg.MentionIDs, u.ID)
		}
	}
	return msg
}

func commandRequest(i *discordgo.Interaction) bot.CommandRequest {
	req := bot.CommandRequest{GuildID: i.GuildID}
	switch {
	case i.Member != nil:
		// Member.Permissions are the invoker's resolved permissions in the channel.
		req.CanManageGuild = hasManageGuild(i.Member.Permissions)
		if i.Member.User != nil {
			req.UserID = i.Member.User.ID
		}
	case i.User != nil:
		req.UserID = i.User.ID
	}
	return req
}

func hasManageGuild(perms int64) bool {
	return perms&discordgo.PermissionAdministrator != 0 || perms&discordgo.PermissionManageGuild != 0
}

// findTextChannel picks the top-most text channel with the given name, which
// is the one a user sees first in the sidebar.
func findTextChannel(channels []*discordgo.Channel, name string) *discordgo.Channel {
	var found *discordgo.Channel
	for _, ch := range channels {
		if ch == nil || ch.Type != discordgo.ChannelTypeGuildText || ch.Name != name {
			continue
		}
		if found == nil || ch.Position < found.Position {
			found = ch
		}
	}
	return found
}

func noMentions() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
}

// mapError tags HTTP 403 responses with bot.ErrForbidden.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %w", bot.ErrForbidden, err)
	}
	return err
}
