package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence-agent/internal/core/ports"
)

type fakeBot struct {
	mu       sync.Mutex
	nextID   int
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	b.nextID++
	return tgbotapi.Message{MessageID: b.nextID}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func callback(msgID int, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    data,
		Message: &tgbotapi.Message{MessageID: msgID},
	}}
}

func TestConfirmReturnsCallbackForItsMessage(t *testing.T) {
	bot := &fakeBot{}
	ui := newUI(bot, 99, nil)

	type result struct {
		action ports.UserAction
		err    error
	}
	done := make(chan result, 1)
	go func() {
		a, err := ui.Confirm(context.Background(), "Reply to @bob", "hello_world")
		done <- result{a, err}
	}()
	require.Eventually(t, func() bool { return ui.pending() == 1 }, time.Second, time.Millisecond)

	ui.handleUpdate(callback(42, "approve"))
	assert.Equal(t, 1, ui.pending(), "callback for another message is ignored")

	ui.handleUpdate(callback(1, string(ports.ActionRegenerate)))
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, ports.ActionRegenerate, res.action)
	assert.Zero(t, ui.pending())

	bot.mu.Lock()
	defer bot.mu.Unlock()
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(99), msg.ChatID)
	assert.Contains(t, msg.Text, `hello\_world`)
	assert.Len(t, bot.requests, 1)
}

func TestConfirmCancelledSkips(t *testing.T) {
	ui := newUI(&fakeBot{}, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	action, err := ui.Confirm(ctx, "t", "b")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ports.ActionSkip, action)
	assert.Zero(t, ui.pending())
}

func TestHandleUpdateIgnoresNonCallbacks(t *testing.T) {
	ui := newUI(&fakeBot{}, 1, nil)
	ui.handleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{Text: "hi"}})
	ui.handleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{Data: "approve"}})
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, "a\\_b \\*c\\* \\[d] \\`e\\`", escapeMarkdown("a_b *c* [d] `e`"))
}
