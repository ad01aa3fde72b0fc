package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/greenroute/fleetlink/internal/model"
)

// Endpoint paths.
const (
	PathPollingUpdates = "/api/polling/updates"
	PathMessage        = "/api/websocket/message"
	pathDriverMessages = "/api/driver/%s/messages"
)

type pollingResponse struct {
	Updates []json.RawMessage `json:"updates"`
}

type messagesResponse struct {
	Messages []model.ChatMessage `json:"messages"`
}

// PollUpdates fetches envelopes queued for this client since the last poll.
// Entries without a type are skipped.
func (c *Client) PollUpdates(ctx context.Context) ([]model.Envelope, error) {
	var resp pollingResponse
	if err := c.get(ctx, PathPollingUpdates, nil, &resp); err != nil {
		return nil, fmt.Errorf("poll updates: %w", err)
	}

	envs := make([]model.Envelope, 0, len(resp.Updates))
	for _, raw := range resp.Updates {
		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
			c.logger.Warn("skipping malformed polling update", "error", err)
			continue
		}
		env.Raw = raw
		envs = append(envs, env)
	}

	return envs, nil
}

// PostMessage delivers an envelope over plain HTTP.
func (c *Client) PostMessage(ctx context.Context, env model.Envelope) error {
	if err := c.post(ctx, PathMessage, env); err != nil {
		return fmt.Errorf("post message %s: %w", env.Type, err)
	}
	return nil
}

// DriverMessages returns the server-side chat history for a driver.
func (c *Client) DriverMessages(ctx context.Context, driverID string) ([]model.ChatMessage, error) {
	var resp messagesResponse
	path := fmt.Sprintf(pathDriverMessages, url.PathEscape(driverID))
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("driver messages %s: %w", driverID, err)
	}
	return resp.Messages, nil
}
