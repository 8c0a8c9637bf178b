package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"healthalert/internal/config"
	"healthalert/internal/domain"
	"healthalert/internal/permanent"

	"github.com/google/uuid"
)

// GatewaySender posts deliveries to an external HTTP provider gateway.
// Params: channel identity, endpoint settings, and HTTP client.
// Returns: adapter for sms/voice/push media behind HTTP gateways.
type GatewaySender struct {
	channel domain.Channel
	cfg     config.GatewayChannelConfig
	client  *http.Client
}

// NewGatewaySender creates one HTTP gateway adapter.
// Params: channel key and gateway config section.
// Returns: initialized sender.
func NewGatewaySender(channel domain.Channel, cfg config.GatewayChannelConfig) *GatewaySender {
	return &GatewaySender{
		channel: channel,
		cfg:     cfg,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

// Channel returns sender channel key.
// Params: none.
// Returns: static channel.
func (s *GatewaySender) Channel() domain.Channel {
	return s.channel
}

// gatewayPayload is the JSON body posted to the provider gateway.
type gatewayPayload struct {
	Key     string            `json:"key"`
	AlertID string            `json:"alert_id"`
	To      string            `json:"to"`
	Title   string            `json:"title,omitempty"`
	Body    string            `json:"body"`
	Data    map[string]string `json:"data,omitempty"`
}

// gatewayResponse is the optional provider acknowledgment body.
type gatewayResponse struct {
	MessageID string `json:"message_id"`
}

// Send posts one delivery to the gateway endpoint.
// Params: context and delivery payload.
// Returns: provider message id or classified transport error.
func (s *GatewaySender) Send(ctx context.Context, delivery Delivery) (SendResult, error) {
	if strings.TrimSpace(delivery.Address) == "" {
		return SendResult{}, permanent.Mark(fmt.Errorf("%s delivery has no destination address", s.channel))
	}

	body, err := json.Marshal(gatewayPayload{
		Key:     delivery.Key,
		AlertID: delivery.AlertID,
		To:      delivery.Address,
		Title:   delivery.Content.Title,
		Body:    delivery.Content.Body,
		Data:    delivery.Content.Data,
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("encode %s payload: %w", s.channel, err)
	}

	request, err := http.NewRequestWithContext(ctx, s.cfg.Method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, fmt.Errorf("build %s request: %w", s.channel, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Idempotency-Key", delivery.Key)
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return SendResult{}, fmt.Errorf("%s send timeout: %w", s.channel, err)
		}
		return SendResult{}, fmt.Errorf("%s send: %w", s.channel, err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return SendResult{}, classifyStatus(string(s.channel)+" send", response.StatusCode)
	}

	var ack gatewayResponse
	if err := json.NewDecoder(response.Body).Decode(&ack); err != nil || strings.TrimSpace(ack.MessageID) == "" {
		// Provider without an id in the acknowledgment still needs one
		// for correlation on the recipient entry.
		return SendResult{ExternalID: uuid.NewString()}, nil
	}
	return SendResult{ExternalID: ack.MessageID}, nil
}
