package channel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"healthalert/internal/config"
	"healthalert/internal/domain"
	"healthalert/internal/permanent"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// ChatSender delivers chat messages via the Telegram Bot API.
// Params: bot client built from channel config.
// Returns: chat channel adapter.
type ChatSender struct {
	client  *tgbot.Bot
	initErr error
}

// NewChatSender creates chat sender with bot client.
// Params: chat channel config section.
// Returns: initialized sender; init errors surface on first Send.
func NewChatSender(cfg config.ChatChannelConfig) *ChatSender {
	sender := &ChatSender{}
	if strings.TrimSpace(cfg.BotToken) == "" {
		sender.initErr = errors.New("chat bot token is required")
		return sender
	}

	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if strings.TrimSpace(cfg.APIBase) != "" {
		options = append(options, tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")))
	}
	client, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		sender.initErr = fmt.Errorf("init chat bot: %w", err)
		return sender
	}
	sender.client = client
	return sender
}

// Channel returns sender channel key.
// Params: none.
// Returns: static channel.
func (s *ChatSender) Channel() domain.Channel {
	return domain.ChannelChat
}

// Send posts one chat message to the recipient's chat id.
// Params: context and delivery payload.
// Returns: provider message id or classified transport error.
func (s *ChatSender) Send(ctx context.Context, delivery Delivery) (SendResult, error) {
	if s.initErr != nil {
		return SendResult{}, permanent.Mark(s.initErr)
	}
	if strings.TrimSpace(delivery.Address) == "" {
		return SendResult{}, permanent.Mark(errors.New("chat delivery has no chat id"))
	}

	request := &tgbot.SendMessageParams{
		ChatID:    normalizeChatID(delivery.Address),
		Text:      delivery.Content.Body,
		ParseMode: tgmodels.ParseModeHTML,
	}
	sent, err := s.client.SendMessage(ctx, request)
	if err != nil {
		return SendResult{}, fmt.Errorf("chat send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return SendResult{}, errors.New("chat send returned empty message id")
	}
	return SendResult{ExternalID: strconv.Itoa(sent.ID)}, nil
}

// normalizeChatID converts numeric chat ids to int64 and keeps others as string.
// Params: raw chat id value from the directory.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
