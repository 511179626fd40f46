package utils

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Long-poll timeout in seconds.
const updateTimeout = 60

// ChatMessage is an incoming text message.
type ChatMessage struct {
	SenderName string
	Text       string
	ChatID     int64
}

type MessageHandler func(ChatMessage)

// ChatSession is a connection to the chat backend.
type ChatSession interface {
	SendMessage(chatID int64, text string) error
	SendPhoto(chatID int64, data []byte) error
	OnMessage(handler MessageHandler)
}

// TelegramBot is a ChatSession backed by the Telegram Bot API.
type TelegramBot struct {
	api    *tgbotapi.BotAPI
	logger Logger

	mu       sync.RWMutex
	handlers []MessageHandler
	stop     sync.Once
}

func NewTelegramBot(token string, logger Logger) (*TelegramBot, error) {
	return NewTelegramBotWithEndpoint(token, tgbotapi.APIEndpoint, logger)
}

// NewTelegramBotWithEndpoint talks to a Bot API server other than the public
// one. endpoint is a format string taking the token and the method name.
func NewTelegramBotWithEndpoint(token, endpoint string, logger Logger) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	logger.Infof("Authorized on Telegram as @%s", api.Self.UserName)
	return &TelegramBot{api: api, logger: logger}, nil
}

func (b *TelegramBot) SendMessage(chatID int64, text string) error {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

func (b *TelegramBot) SendPhoto(chatID int64, data []byte) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "picture.jpg", Bytes: data})
	if _, err := b.api.Send(photo); err != nil {
		return fmt.Errorf("telegram sendPhoto: %w", err)
	}
	return nil
}

func (b *TelegramBot) OnMessage(handler MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Listen long-polls for updates and hands text messages to the registered
// handlers until ctx is done.
func (b *TelegramBot) Listen(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout
	updates := b.api.GetUpdatesChan(u)

	b.logger.Debugf("Listening for Telegram updates")
	for {
		select {
		case <-ctx.Done():
			b.Stop()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}
			b.dispatch(toChatMessage(update.Message))
		}
	}
}

// Stop ends the update loop started by Listen.
func (b *TelegramBot) Stop() {
	b.stop.Do(b.api.StopReceivingUpdates)
}

func (b *TelegramBot) dispatch(msg ChatMessage) {
	b.mu.RLock()
	handlers := append([]MessageHandler(nil), b.handlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(msg)
	}
}

func toChatMessage(m *tgbotapi.Message) ChatMessage {
	msg := ChatMessage{Text: m.Text}
	if m.From != nil {
		msg.SenderName = m.From.FirstName
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	return msg
}
