package bot

import (
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/guildlock"
	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/limiter"
)

// State is everything the bot remembers between messages. It lives in
// memory only; a restart starts every guild from zero.
type State struct {
	Quota     *limiter.Quota
	Cooldowns *limiter.Cooldowns
	Locks     *guildlock.Locks
}

// NewState creates empty bot state.
func NewState() *State {
	return &State{
		Quota:     limiter.NewQuota(),
		Cooldowns: limiter.NewCooldowns(),
		Locks:     guildlock.New(),
	}
}
