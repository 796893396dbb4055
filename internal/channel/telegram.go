package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"docsage/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel for Telegram Bot. Pagination is
// rendered as an inline keyboard; button presses come back as callback
// queries and are republished as navigation events.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	recent *recentWindow
	logger *slog.Logger

	// Unanswered callback queries, indexed two ways: by actor so ephemeral
	// notices can be shown as popup alerts, and by rendered message so a
	// page edit can resolve the spinner.
	actorCallback   map[string]string
	messageCallback map[string]string
	callbackMu      sync.Mutex
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:           cfg.Token,
		allowFrom:       allowed,
		parseMode:       cfg.ParseMode,
		recent:          newRecentWindow(),
		logger:          cfg.Logger,
		actorCallback:   make(map[string]string),
		messageCallback: make(map[string]string),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		t.deliver(msg)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	var attachments []domain.Attachment
	if doc := update.Message.Document; doc != nil {
		if url, err := t.bot.GetFileDirectURL(doc.FileID); err == nil {
			attachments = append(attachments, domain.Attachment{
				Name: doc.FileName,
				Size: int64(doc.FileSize),
				URL:  url,
			})
		} else {
			t.logger.Warn("telegram file URL lookup failed", "file", doc.FileName, "err", err)
		}
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		text = strings.TrimSpace(update.Message.Caption)
	}
	if text == "" && len(attachments) == 0 {
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
		"attachments", len(attachments),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Request(typing)

	chatKey := strconv.FormatInt(chatID, 10)
	recent := t.recent.snapshot(chatKey)
	t.recent.add(chatKey, update.Message.From.UserName, text)

	t.bus.Publish(domain.InboundMessage{
		MessageID:   strconv.Itoa(update.Message.MessageID),
		Channel:     "telegram",
		ChatID:      chatKey,
		SenderID:    strconv.FormatInt(userID, 10),
		SenderName:  update.Message.From.UserName,
		Content:     text,
		Attachments: attachments,
		// Talking to the bot directly always addresses it.
		BotMentioned: update.Message.Chat.IsPrivate(),
		Recent:       recent,
		IsCommand:    update.Message.IsCommand(),
		Timestamp:    time.Unix(int64(update.Message.Date), 0),
	})
}

// handleCallback turns a pagination button press into a navigation event.
func (t *Telegram) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}

	sessionKey, dir, ok := parseNavCustomID(cq.Data)
	if !ok {
		callback := tgbotapi.NewCallback(cq.ID, "")
		_, _ = t.bot.Request(callback)
		return
	}

	actorID := strconv.FormatInt(cq.From.ID, 10)
	messageID := strconv.Itoa(cq.Message.MessageID)
	t.callbackMu.Lock()
	t.actorCallback[actorID] = cq.ID
	t.messageCallback[messageID] = cq.ID
	t.callbackMu.Unlock()

	t.bus.PublishNavigation(domain.NavigationEvent{
		SessionKey: sessionKey,
		Direction:  dir,
		ActorID:    actorID,
		Channel:    "telegram",
		ChatID:     strconv.FormatInt(cq.Message.Chat.ID, 10),
		MessageID:  messageID,
	})
}

// answerActorCallback resolves the pending callback query for actorID,
// showing notice as a popup alert. Returns false when the actor has no
// pending callback.
func (t *Telegram) answerActorCallback(actorID, notice string) bool {
	t.callbackMu.Lock()
	callbackID, ok := t.actorCallback[actorID]
	delete(t.actorCallback, actorID)
	t.callbackMu.Unlock()
	if !ok {
		return false
	}

	callback := tgbotapi.NewCallback(callbackID, notice)
	callback.ShowAlert = true
	_, err := t.bot.Request(callback)
	return err == nil
}

// ackMessageCallback silently resolves the pending callback query that
// produced the rendered message being edited.
func (t *Telegram) ackMessageCallback(messageID string) {
	t.callbackMu.Lock()
	callbackID, ok := t.messageCallback[messageID]
	delete(t.messageCallback, messageID)
	t.callbackMu.Unlock()
	if !ok {
		return
	}
	_, _ = t.bot.Request(tgbotapi.NewCallback(callbackID, ""))
}

func (t *Telegram) deliver(msg domain.OutboundMessage) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
		return
	}

	// Actor-scoped notices render as callback popups when possible.
	if msg.Ephemeral {
		if t.answerActorCallback(msg.EphemeralActor, msg.Content) {
			return
		}
		t.sendMessage(chatID, msg.Content)
		return
	}

	markup := navKeyboard(msg.Nav)

	if msg.EditMessageID != "" {
		t.ackMessageCallback(msg.EditMessageID)
		messageID, err := strconv.Atoi(msg.EditMessageID)
		if err != nil {
			t.logger.Error("invalid message ID for telegram edit", "messageID", msg.EditMessageID)
			return
		}
		edit := tgbotapi.NewEditMessageText(chatID, messageID, msg.Content)
		if markup != nil {
			edit.ReplyMarkup = markup
		}
		if _, err := t.bot.Send(edit); err != nil {
			t.logger.Error("telegram edit failed", "message", messageID, "err", err)
		}
		return
	}

	if msg.Content == "" {
		return
	}
	if markup != nil {
		m := tgbotapi.NewMessage(chatID, msg.Content)
		m.ReplyMarkup = *markup
		if t.parseMode != "" {
			m.ParseMode = t.parseMode
		}
		if _, err := t.bot.Send(m); err != nil {
			// Parse mode may be malformed, retry plain.
			m.ParseMode = ""
			if _, err := t.bot.Send(m); err != nil {
				t.logger.Error("telegram send failed", "chat", chatID, "err", err)
			}
		}
		return
	}
	t.sendMessage(chatID, msg.Content)
}

func navKeyboard(nav *domain.NavControls) *tgbotapi.InlineKeyboardMarkup {
	if nav == nil {
		return nil
	}
	var row []tgbotapi.InlineKeyboardButton
	if nav.Page > 0 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("< Prev", navCustomID(nav.SessionKey, navPrev)))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData(
		fmt.Sprintf("%d/%d", nav.Page+1, nav.TotalPages),
		navCustomID(nav.SessionKey, "label"),
	))
	if nav.Page < nav.TotalPages-1 {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Next >", navCustomID(nav.SessionKey, navNext)))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData("Close", navCustomID(nav.SessionKey, navClose)))

	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(row...))
	return &markup
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try the configured parse mode first, fall back to plain text on
// parse errors, back off on transient failures.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}
		// On subsequent attempts: send as plain text (parse mode may be malformed).

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Markdown parse error on first attempt: immediately retry as plain text.
		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
			// Plain also failed, fall through to backoff loop.
		}

		// Backoff for other transient errors.
		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
