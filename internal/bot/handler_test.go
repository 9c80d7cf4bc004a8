package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dellpatcher/BackgroundAI-bot-discord-public/internal/backend"
)

const header = "🤖 NightshadeAI:\n"

func testConfig() HandlerConfig {
	return HandlerConfig{
		Name:            "NightshadeAI",
		ChannelName:     "ai",
		CommandPrefix:   "!",
		MaxQuestions:    400,
		Cooldown:        4 * time.Second,
		Timeout:         240 * time.Second,
		ThinkingMessage: "⏳ Thinking…",
	}
}

type fixture struct {
	h        *Handler
	platform *fakePlatform
	asker    *fakeAsker
	clock    time.Time
}

func newFixture(mutate ...func(*HandlerConfig)) *fixture {
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	f := &fixture{
		platform: newFakePlatform(),
		asker:    &fakeAsker{result: backend.Result{Text: "the answer"}},
		clock:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	f.h = NewHandler(cfg, NewState(), f.platform, f.asker, zerolog.Nop())
	f.h.now = func() time.Time { return f.clock }
	return f
}

func question(guild, user, content string) *Message {
	channel := map[string]string{"g1": "ai-1", "g2": "ai-2"}[guild]
	return &Message{
		ID:         "msg-" + user,
		GuildID:    guild,
		ChannelID:  channel,
		AuthorID:   user,
		Content:    content,
		MentionIDs: []string{"bot"},
	}
}

func TestHandleMessage_Answers(t *testing.T) {
	f := newFixture()

	f.h.HandleMessage(context.Background(), question("g1", "u1", "<@bot> what is go?"))

	assert.Equal(t, []string{"what is go?"}, f.asker.Questions())
	assert.Equal(t, []sentMessage{
		{ChannelID: "ai-1", Content: "⏳ Thinking…"},
		{ChannelID: "ai-1", Content: header + "the answer"},
	}, f.platform.Sent())
	assert.Equal(t, []string{"m1"}, f.platform.Deleted(), "placeholder deleted")
	assert.Equal(t, 1, f.h.State().Quota.Count("g1"))
}

func TestHandleMessage_Ignored(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{"bot author", &Message{GuildID: "g1", ChannelID: "ai-1", AuthorID: "other-bot", AuthorIsBot: true, Content: "<@bot> hi", MentionIDs: []string{"bot"}}},
		{"direct message", &Message{ChannelID: "dm", AuthorID: "u1", Content: "<@bot> hi", MentionIDs: []string{"bot"}}},
		{"other channel", &Message{GuildID: "g1", ChannelID: "general", AuthorID: "u1", Content: "<@bot> hi", MentionIDs: []string{"bot"}}},
		{"guild without ai channel", &Message{GuildID: "g9", ChannelID: "ai-9", AuthorID: "u1", Content: "<@bot> hi", MentionIDs: []string{"bot"}}},
		{"no mention", &Message{GuildID: "g1", ChannelID: "ai-1", AuthorID: "u1", Content: "hi everyone"}},
		{"someone else mentioned", &Message{GuildID: "g1", ChannelID: "ai-1", AuthorID: "u1", Content: "<@u2> hi", MentionIDs: []string{"u2"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.h.HandleMessage(context.Background(), tt.msg)

			assert.Empty(t, f.platform.Sent())
			assert.Zero(t, f.asker.calls.Load())
			assert.Zero(t, f.h.State().Cooldowns.Len())
		})
	}
}

func TestHandleMessage_MentionOnly(t *testing.T) {
	f := newFixture()

	f.h.HandleMessage(context.Background(), question("g1", "u1", "  <@bot>  "))

	assert.Equal(t, []string{"⚠️ Please ask a question after mentioning me."}, f.platform.Contents())
	assert.Zero(t, f.asker.calls.Load())
	assert.Equal(t, 0, f.h.State().Quota.Count("g1"), "quota untouched")
}

func TestHandleMessage_NicknameMentionAndOtherMentions(t *testing.T) {
	f := newFixture()

	f.h.HandleMessage(context.Background(), question("g1", "u1", "<@!bot> compare <@u2> and <@bot>"))

	assert.Equal(t, []string{"compare <@u2> and"}, f.asker.Questions())
}

func TestHandleMessage_QuotaAtMax(t *testing.T) {
	f := newFixture(func(c *HandlerConfig) { c.MaxQuestions = 2 })
	ctx := context.Background()

	for i := range 2 {
		f.h.HandleMessage(ctx, question("g1", fmt.Sprintf("u%d", i), "<@bot> q"))
	}
	require.Equal(t, int32(2), f.asker.calls.Load())
	before := len(f.platform.Sent())
	cooldownsBefore := f.h.State().Cooldowns.Len()

	f.h.HandleMessage(ctx, question("g1", "late", "<@bot> one more"))

	sent := f.platform.Sent()[before:]
	assert.Equal(t, []sentMessage{{ChannelID: "ai-1", Content: "❌ NightshadeAI has reached the question limit for this server."}}, sent)
	assert.Equal(t, int32(2), f.asker.calls.Load(), "backend not invoked")
	assert.Equal(t, cooldownsBefore, f.h.State().Cooldowns.Len(), "cooldown not consumed")
	assert.Equal(t, 2, f.h.State().Quota.Count("g1"))

	// Other guilds keep their own budget.
	f.h.HandleMessage(ctx, question("g2", "late", "<@bot> elsewhere"))
	assert.Equal(t, int32(3), f.asker.calls.Load())
}

func TestHandleMessage_Cooldown(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.h.HandleMessage(ctx, question("g1", "u1", "<@bot> first"))
	f.clock = f.clock.Add(2 * time.Second)
	f.h.HandleMessage(ctx, question("g1", "u1", "<@bot> too soon"))

	contents := f.platform.Contents()
	assert.Equal(t, "⚠️ Slow down a bit—try again in ~4s.", contents[len(contents)-1])
	assert.Equal(t, []string{"first"}, f.asker.Questions())
	assert.Equal(t, 1, f.h.State().Quota.Count("g1"), "rejected question is not counted")

	// Another user in the same guild is not affected.
	f.h.HandleMessage(ctx, question("g1", "u2", "<@bot> mine"))
	f.clock = f.clock.Add(2 * time.Second)
	f.h.HandleMessage(ctx, question("g1", "u1", "<@bot> now ok"))
	assert.Equal(t, []string{"first", "mine", "now ok"}, f.asker.Questions())
}

func TestHandleMessage_NonZeroExitPrefix(t *testing.T) {
	f := newFixture()
	f.asker.result = backend.Result{Text: "partial", Status: 2}

	f.h.HandleMessage(context.Background(), question("g1", "u1", "<@bot> q"))

	contents := f.platform.Contents()
	assert.Equal(t, header+"[exit 2] partial", contents[len(contents)-1])
}

func TestHandleMessage_TimeoutResult(t *testing.T) {
	f := newFixture()
	f.asker.result = backend.Result{Text: "⚠️ AI timed out after 240s. Try again with a shorter question.", Status: backend.StatusTimeout}

	f.h.HandleMessage(context.Background(), question("g1", "u1", "<@bot> q"))

	contents := f.platform.Contents()
	assert.Equal(t, header+"[exit 124] ⚠️ AI timed out after 240s. Try again with a shorter question.", contents[len(contents)-1])
}

func TestHandleMessage_ChunksLongAnswers(t *testing.T) {
	f := newFixture()
	words := strings.Repeat("lorem ipsum dolor sit amet ", 250) // ~6700 chars
	f.asker.result = backend.Result{Text: strings.TrimSpace(words)}

	f.h.HandleMessage(context.Background(), question("g1", "u1", "<@bot> long"))

	sent := f.platform.Contents()[1:] // skip the placeholder
	require.Greater(t, len(sent), 3)

	var rebuilt []string
	for _, msg := range sent {
		assert.LessOrEqual(t, utf8.RuneCountInString(msg), 2000)
		require.True(t, strings.HasPrefix(msg, header))
		rebuilt = append(rebuilt, strings.TrimPrefix(msg, header))
	}
	assert.Equal(t, strings.Fields(words), strings.Fields(strings.Join(rebuilt, " ")))
}

func TestHandleMessage_NoPlaceholderWhenDisabled(t *testing.T) {
	f := newFixture(func(c *HandlerConfig) { c.ThinkingMessage = "" })

	f.h.HandleMessage(context.Background(), question("g1", "u1", "<@bot> q"))

	assert.Equal(t, []string{header + "the answer"}, f.platform.Contents())
	assert.Empty(t, f.platform.Deleted())
}

func TestHandleMessage_PlaceholderFailuresAreBestEffort(t *testing.T) {
	t.Run("delete fails", func(t *testing.T) {
		f := newFixture()
		f.platform.deleteErr = errors.New("unknown message")

		f.h.HandleMessage(context.Background(), question("g1", "u1", "<@bot> q"))

		contents := f.platform.Contents()
		assert.Equal(t, header+"the answer", contents[len(contents)-1])
	})

	t.Run("placeholder send fails", func(t *testing.T) {
		f := newFixture()
		f.platform.sendErr["⏳ Thinking…"] = errors.New("rate limited")

		f.h.HandleMessage(context.Background(), question("g1", "u1", "<@bot> q"))

		assert.Equal(t, []string{header + "the answer"}, f.platform.Contents())
		assert.Empty(t, f.platform.Deleted())
	})
}

func TestHandleMessage_ChannelLookupError(t *testing.T) {
	f := newFixture()
	f.platform.findErr = errors.New("gateway down")

	f.h.HandleMessage(context.Background(), question("g1", "u1", "<@bot> q"))

	assert.Empty(t, f.platform.Sent())
	assert.Zero(t, f.asker.calls.Load())
}

func TestHandleMessage_PanicReleasesLock(t *testing.T) {
	f := newFixture()
	f.asker.hook = func(q string) {
		if q == "explode" {
			panic("backend bug")
		}
	}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		f.h.HandleMessage(ctx, question("g1", "u1", "<@bot> explode"))
	})

	done := make(chan struct{})
	go func() {
		f.h.HandleMessage(ctx, question("g1", "u2", "<@bot> fine"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("guild lock was not released after panic")
	}
	contents := f.platform.Contents()
	assert.Equal(t, header+"the answer", contents[len(contents)-1])
}

func TestHandleMessage_SameGuildSerialized(t *testing.T) {
	f := newFixture()
	var active, peak atomic.Int32
	f.asker.hook = func(string) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
	}

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.h.HandleMessage(context.Background(), question("g1", fmt.Sprintf("u%d", i), "<@bot> q"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), f.asker.calls.Load())
	assert.Equal(t, int32(1), peak.Load())
}

func TestHandleMessage_DifferentGuildsConcurrent(t *testing.T) {
	f := newFixture()
	var wg sync.WaitGroup
	wg.Add(2)
	var overlapped atomic.Bool
	var inside atomic.Int32
	f.asker.hook = func(string) {
		inside.Add(1)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if inside.Load() == 2 {
				overlapped.Store(true)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}

	for _, g := range []string{"g1", "g2"} {
		go func() {
			defer wg.Done()
			f.h.HandleMessage(context.Background(), question(g, "u1", "<@bot> q"))
		}()
	}
	wg.Wait()

	assert.True(t, overlapped.Load(), "guilds should not block each other")
}

func TestHandleMessage_ConcurrentQuotaNeverExceeded(t *testing.T) {
	f := newFixture(func(c *HandlerConfig) { c.MaxQuestions = 3 })

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.h.HandleMessage(context.Background(), question("g1", fmt.Sprintf("u%d", i), "<@bot> q"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), f.asker.calls.Load())
	assert.Equal(t, 3, f.h.State().Quota.Count("g1"))

	limit := 0
	for _, c := range f.platform.Contents() {
		if c == "❌ NightshadeAI has reached the question limit for this server." {
			limit++
		}
	}
	assert.Equal(t, 7, limit)
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, "4s", seconds(4*time.Second))
	assert.Equal(t, "240s", seconds(4*time.Minute))
	assert.Equal(t, "1.5s", seconds(1500*time.Millisecond))
}
