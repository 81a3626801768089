// Package sms implements the SMS channel over a JSON HTTP gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/memohai/unibox/internal/channel"
	"github.com/memohai/unibox/internal/channel/adapters/adapterutil"
	"github.com/memohai/unibox/internal/store"
)

// Type is the registered channel type for SMS.
const Type channel.Type = "sms"

// segmentLimit keeps each request inside a few concatenated SMS parts.
const segmentLimit = 1530

// Config holds the gateway endpoint and sender number.
type Config struct {
	GatewayURL string
	APIKey     string
	From       string
}

type sendPayload struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Text     string   `json:"text"`
	MediaURL []string `json:"media_url,omitempty"`
	Ref      string   `json:"client_ref,omitempty"`
}

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// Adapter posts messages to the gateway's /messages endpoint.
type Adapter struct {
	logger *slog.Logger
	cfg    Config
	client *http.Client
}

// NewAdapter creates an SMS adapter. A nil httpClient gets a 30s timeout.
func NewAdapter(log *slog.Logger, cfg Config, httpClient *http.Client) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.GatewayURL = strings.TrimSuffix(strings.TrimSpace(cfg.GatewayURL), "/")
	return &Adapter{
		logger: log.With(slog.String("adapter", "sms")),
		cfg:    cfg,
		client: httpClient,
	}
}

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:         Type,
		DisplayName:  "SMS",
		IdentityType: store.IdentityPhone,
		Capabilities: channel.Capabilities{
			Text:        true,
			Attachments: true,
		},
		OutboundPolicy: channel.OutboundPolicy{
			TextChunkLimit: segmentLimit,
		},
	}
}

// Send posts req and returns the gateway's message id. 4xx answers other
// than 429 are permanent.
func (a *Adapter) Send(ctx context.Context, req channel.SendRequest) (string, error) {
	if a.cfg.GatewayURL == "" {
		return "", fmt.Errorf("%w: sms gateway url is required", channel.ErrPermanent)
	}
	to := strings.TrimSpace(req.Destination)
	if to == "" {
		return "", fmt.Errorf("%w: sms destination is required", channel.ErrPermanent)
	}
	from := a.cfg.From
	if req.AccountID != "" {
		from = req.AccountID
	}
	payload := sendPayload{From: from, To: to, Text: req.Text, Ref: req.MessageID}
	for _, att := range req.Attachments {
		payload.MediaURL = append(payload.MediaURL, att.URL)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.GatewayURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", channel.ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("sms gateway error: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", fmt.Errorf("%w: %v", channel.ErrPermanent, err)
		}
		return "", err
	}
	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if result.ID == "" {
		return "", fmt.Errorf("sms gateway returned no message id")
	}
	a.logger.Debug("sms sent",
		slog.String("message_id", req.MessageID),
		slog.String("gateway_id", result.ID),
		slog.String("text", adapterutil.SummarizeText(req.Text)))
	return result.ID, nil
}
