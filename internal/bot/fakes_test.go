package bot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/backend"
)

type sentMessage struct {
	ChannelID string
	Content   string
}

type fakePlatform struct {
	mu sync.Mutex

	botID     string
	channels  map[string]string // guild -> ai channel
	canManage bool

	findErr   error
	createErr error
	deleteErr error
	permErr   error
	// sendErr fails sends whose content matches exactly.
	sendErr map[string]error

	sent    []sentMessage
	deleted []string
	created []string
	nextID  int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		botID:    "bot",
		channels: map[string]string{"g1": "ai-1", "g2": "ai-2"},
		sendErr:  map[string]error{},
	}
}

func (f *fakePlatform) BotUserID() string { return f.botID }

func (f *fakePlatform) FindChannel(_ context.Context, guildID, _ string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return "", false, f.findErr
	}
	id, ok := f.channels[guildID]
	return id, ok, nil
}

func (f *fakePlatform) CreateChannel(_ context.Context, guildID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	id := fmt.Sprintf("%s-%s", name, guildID)
	f.channels[guildID] = id
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakePlatform) Send(_ context.Context, channelID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[content]; err != nil {
		return "", err
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Content: content})
	return fmt.Sprintf("m%d", f.nextID), nil
}

func (f *fakePlatform) Delete(_ context.Context, _, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakePlatform) CanManageGuild(context.Context, string, string) (bool, error) {
	return f.canManage, f.permErr
}

func (f *fakePlatform) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakePlatform) Contents() []string {
	var out []string
	for _, s := range f.Sent() {
		out = append(out, s.Content)
	}
	return out
}

func (f *fakePlatform) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeAsker struct {
	result backend.Result
	// hook runs inside Invoke, with the guild lock held.
	hook func(question string)

	calls     atomic.Int32
	mu        sync.Mutex
	questions []string
}

func (a *fakeAsker) Invoke(_ context.Context, question string) backend.Result {
	a.calls.Add(1)
	a.mu.Lock()
	a.questions = append(a.questions, question)
	a.mu.Unlock()
	if a.hook != nil {
		a.hook(question)
	}
	return a.result
}

func (a *fakeAsker) Questions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.questions...)
}

type recordedReply struct {
	Content   string
	Ephemeral bool
}

type fakeResponder struct {
	replies []recordedReply
	err     error
}

func (r *fakeResponder) Reply(_ context.Context, content string, ephemeral bool) error {
	r.replies = append(r.replies, recordedReply{Content: content, Ephemeral: ephemeral})
	return r.err
}
