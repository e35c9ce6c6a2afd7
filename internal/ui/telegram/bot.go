// Package telegram lets an operator approve outgoing posts from a chat.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"presence-agent/internal/core/ports"
)

// botAPI is the subset of *tgbotapi.BotAPI the UI calls.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TelegramUI implements ports.Interaction with inline approve / regenerate /
// skip buttons. Each prompt waits for the callback on its own message.
type TelegramUI struct {
	Bot    botAPI
	ChatID int64

	logger   *slog.Logger
	mu       sync.Mutex
	channels map[int]chan ports.UserAction
	stop     func()
}

var _ ports.Interaction = (*TelegramUI)(nil)

func NewTelegramUI(token, chatIDStr string, logger *slog.Logger) (*TelegramUI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id: %w", err)
	}

	ui := newUI(bot, chatID, logger)
	ui.stop = bot.StopReceivingUpdates

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	go ui.listen(bot.GetUpdatesChan(u))
	return ui, nil
}

func newUI(bot botAPI, chatID int64, logger *slog.Logger) *TelegramUI {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TelegramUI{
		Bot:      bot,
		ChatID:   chatID,
		logger:   logger,
		channels: make(map[int]chan ports.UserAction),
	}
}

// Close stops polling for updates.
func (ui *TelegramUI) Close() {
	if ui.stop != nil {
		ui.stop()
	}
}

func (ui *TelegramUI) listen(updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		ui.handleUpdate(update)
	}
}

func (ui *TelegramUI) handleUpdate(update tgbotapi.Update) {
	callback := update.CallbackQuery
	if callback == nil || callback.Message == nil {
		return
	}
	action := ports.UserAction(callback.Data)
	msgID := callback.Message.MessageID

	ui.mu.Lock()
	ch, ok := ui.channels[msgID]
	delete(ui.channels, msgID)
	ui.mu.Unlock()
	if !ok {
		ui.logger.Warn("telegram_stale_callback", "message_id", msgID, "action", string(action))
		return
	}
	ch <- action

	if _, err := ui.Bot.Request(tgbotapi.NewCallback(callback.ID, "Selected: "+string(action))); err != nil {
		ui.logger.Warn("telegram_callback_ack_failed", "error", err)
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(ui.ChatID, msgID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := ui.Bot.Send(edit); err != nil {
		ui.logger.Warn("telegram_markup_clear_failed", "error", err)
	}
}

func (ui *TelegramUI) Confirm(ctx context.Context, title, body string) (ports.UserAction, error) {
	msgText := fmt.Sprintf("*[%s]*\n\n%s", escapeMarkdown(title), escapeMarkdown(body))
	msg := tgbotapi.NewMessage(ui.ChatID, msgText)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Approve", string(ports.ActionApprove)),
			tgbotapi.NewInlineKeyboardButtonData("🔄 Regenerate", string(ports.ActionRegenerate)),
			tgbotapi.NewInlineKeyboardButtonData("❌ Skip", string(ports.ActionSkip)),
		),
	)

	sentMsg, err := ui.Bot.Send(msg)
	if err != nil {
		return ports.ActionSkip, err
	}

	respCh := make(chan ports.UserAction, 1)
	ui.mu.Lock()
	ui.channels[sentMsg.MessageID] = respCh
	ui.mu.Unlock()

	select {
	case action := <-respCh:
		return action, nil
	case <-ctx.Done():
		ui.mu.Lock()
		delete(ui.channels, sentMsg.MessageID)
		ui.mu.Unlock()
		return ports.ActionSkip, ctx.Err()
	}
}

// pending reports how many prompts are waiting for an answer.
func (ui *TelegramUI) pending() int {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return len(ui.channels)
}

// escapeMarkdown escapes the characters legacy Markdown mode would parse.
func escapeMarkdown(text string) string {
	replacer := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	)
	return replacer.Replace(text)
}
