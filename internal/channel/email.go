package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"healthalert/internal/config"
	"healthalert/internal/domain"
	"healthalert/internal/permanent"

	"github.com/resend/resend-go/v2"
)

// EmailSender delivers email via the Resend API.
// Params: API client and sender address.
// Returns: email channel adapter.
type EmailSender struct {
	client  *resend.Client
	from    string
	initErr error
}

// NewEmailSender creates email sender from channel config.
// Params: email channel config section.
// Returns: initialized sender; init errors surface on first Send.
func NewEmailSender(cfg config.EmailChannelConfig) *EmailSender {
	sender := &EmailSender{from: strings.TrimSpace(cfg.From)}
	if strings.TrimSpace(cfg.APIKey) == "" {
		sender.initErr = errors.New("email api key is required")
		return sender
	}
	if sender.from == "" {
		sender.initErr = errors.New("email from address is required")
		return sender
	}
	sender.client = resend.NewClient(cfg.APIKey)
	return sender
}

// Channel returns sender channel key.
// Params: none.
// Returns: static channel.
func (s *EmailSender) Channel() domain.Channel {
	return domain.ChannelEmail
}

// Send delivers one email through the provider.
// Params: context and delivery payload.
// Returns: provider message id or classified transport error.
func (s *EmailSender) Send(ctx context.Context, delivery Delivery) (SendResult, error) {
	if s.initErr != nil {
		return SendResult{}, permanent.Mark(s.initErr)
	}
	if strings.TrimSpace(delivery.Address) == "" {
		return SendResult{}, permanent.Mark(errors.New("email delivery has no destination address"))
	}

	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{delivery.Address},
		Subject: delivery.Content.Subject,
		Text:    delivery.Content.Body,
	}
	sent, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "invalid") {
			return SendResult{}, permanent.Mark(fmt.Errorf("email send: %w", err))
		}
		return SendResult{}, fmt.Errorf("email send: %w", err)
	}
	if sent == nil || strings.TrimSpace(sent.Id) == "" {
		return SendResult{}, errors.New("email send returned empty message id")
	}
	return SendResult{ExternalID: sent.Id}, nil
}
