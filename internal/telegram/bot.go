// Package telegram is an optional second chat front-end that answers
// Telegram messages with the same assistant as the WhatsApp channel.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/ccp-pamplona/ccpbot/internal/auth"
	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/dispatch"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

// messenger is the part of the Telegram API the bot calls.
type messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

// Bot represents a Telegram bot.
type Bot struct {
	bot        *bot.Bot
	api        messenger
	answerer   core.Answerer
	policy     *auth.PolicyService
	dispatcher *dispatch.Dispatcher
	store      core.VectorStore
	greeting   string
}

// Config groups the Bot dependencies. Store is optional and backs the
// admin /estado command.
type Config struct {
	Token      string
	Answerer   core.Answerer
	Policy     *auth.PolicyService
	Dispatcher *dispatch.Dispatcher
	Store      core.VectorStore
	Greeting   string
}

// NewBot creates a new bot instance.
func NewBot(cfg Config) (*Bot, error) {
	b := newBot(cfg)

	// Initialize the bot with our handler
	botAPI, err := bot.New(cfg.Token, bot.WithDefaultHandler(b.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}

	b.bot = botAPI
	b.api = botAPI
	return b, nil
}

func newBot(cfg Config) *Bot {
	if cfg.Policy == nil {
		cfg.Policy = auth.NewPolicyService("", "")
	}
	return &Bot{
		answerer:   cfg.Answerer,
		policy:     cfg.Policy,
		dispatcher: cfg.Dispatcher,
		store:      cfg.Store,
		greeting:   cfg.Greeting,
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	logger.Info("Telegram bot polling for updates")
	b.bot.Start(ctx)
}

// handleUpdate handles a Telegram update. Only text messages are answered.
func (b *Bot) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		logger.Debug("Chat[%d] User[%d]: Ignored non-text message.", msg.Chat.ID, msg.From.ID)
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !b.policy.IsAllowed(senderID) {
		logger.Warn("Chat[%d] User[%d]: Sender not in the allow list, ignoring.", msg.Chat.ID, msg.From.ID)
		return
	}

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, msg.Chat.ID, senderID, text)
		return
	}
	b.handleTextMessage(msg.Chat.ID, senderID, text)
}

// handleCommand processes a command message.
func (b *Bot) handleCommand(ctx context.Context, chatID int64, senderID, text string) {
	command := strings.Split(text, " ")[0]
	command = strings.TrimPrefix(command, "/")
	if i := strings.Index(command, "@"); i >= 0 {
		command = command[:i]
	}
	logger.Info("Chat[%d] User[%s]: Received command: /%s", chatID, senderID, command)

	switch command {
	case "start", "help":
		b.send(ctx, chatID, b.greeting)
	case "estado":
		if !b.policy.IsAdmin(senderID) || b.store == nil {
			b.send(ctx, chatID, b.greeting)
			return
		}
		n, err := b.store.Count(ctx)
		if err != nil {
			logger.Error("Chat[%d]: Failed to count collection %s: %v", chatID, b.store.Name(), err)
			b.send(ctx, chatID, fmt.Sprintf("Colección %s no disponible.", b.store.Name()))
			return
		}
		b.send(ctx, chatID, fmt.Sprintf("Colección %s: %d fragmentos.", b.store.Name(), n))
	default:
		b.send(ctx, chatID, b.greeting)
	}
}

// handleTextMessage answers in the background so slow answers do not block
// polling.
func (b *Bot) handleTextMessage(chatID int64, senderID, text string) {
	logger.Info("Chat[%d] User[%s]: Received text message: %q", chatID, senderID, logger.Preview(text, 80))
	_, err := b.dispatcher.Go("telegram-reply", func(ctx context.Context) error {
		turn := core.Turn{SenderID: senderID, InboundText: text}

		// Start typing indicator
		typingDone := make(chan struct{})
		typingStopped := make(chan struct{})
		go func() {
			defer close(typingStopped)
			b.sendContinuousTypingAction(ctx, chatID, typingDone)
		}()
		turn.OutboundText = b.answerer.Answer(ctx, turn.InboundText)
		close(typingDone)
		<-typingStopped

		return b.send(ctx, chatID, turn.OutboundText)
	})
	if err != nil {
		logger.Error("Chat[%d]: Failed to dispatch reply: %v", chatID, err)
	}
}

// sendContinuousTypingAction sends the typing action right away and then
// periodically until the done channel is closed.
func (b *Bot) sendContinuousTypingAction(ctx context.Context, chatID int64, done chan struct{}) {
	ticker := time.NewTicker(4 * time.Second) // Telegram typing status lasts ~5 seconds
	defer ticker.Stop()

	for {
		if _, err := b.api.SendChatAction(ctx, &bot.SendChatActionParams{
			ChatID: chatID,
			Action: "typing",
		}); err != nil {
			logger.Debug("Chat[%d]: Failed to send typing action: %v", chatID, err)
		}
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, text string) error {
	_, err := b.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   core.TruncateRunes(text, core.MaxMessageRunes),
	})
	if err != nil {
		logger.Error("Chat[%d]: Failed to send message: %v", chatID, err)
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
