package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/presence-engine/internal/config"
	"github.com/presence-engine/internal/retry"
	"github.com/presence-engine/internal/types"
)

// PlatformClient talks to the community platform's REST API. It implements
// PresenceGateway and LeaderboardPublisher. Reads retry with backoff;
// publishes do not, because the caller distinguishes transient failures from
// broken targets and keeps the target for the next refresh.
type PlatformClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retryCfg   *retry.Config

	mu    sync.RWMutex
	names map[types.ChannelID]string
}

// NewPlatformClient creates a platform client from configuration
func NewPlatformClient(cfg *config.PlatformConfig) *PlatformClient {
	return &PlatformClient{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retryCfg:   retry.DefaultConfig(),
		names:      make(map[types.ChannelID]string),
	}
}

func (c *PlatformClient) getJSON(ctx context.Context, path string, out interface{}) error {
	result := retry.WithExponentialBackoff(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("platform returned status %d for %s", resp.StatusCode, path)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
	if !result.Success {
		return result.LastError
	}
	return nil
}

// IsMember reports whether the user is currently a community member
func (c *PlatformClient) IsMember(ctx context.Context, userID types.UserID) (bool, error) {
	var out struct {
		Member bool `json:"member"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/members/%s", userID), &out); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return out.Member, nil
}

// ListTrackedChannels lists the presence channels the engine tracks
func (c *PlatformClient) ListTrackedChannels(ctx context.Context) ([]types.ChannelID, error) {
	var out struct {
		Channels []struct {
			ID   types.ChannelID `json:"id"`
			Name string          `json:"name"`
		} `json:"channels"`
	}
	if err := c.getJSON(ctx, "/channels", &out); err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	c.mu.Lock()
	channels := make([]types.ChannelID, 0, len(out.Channels))
	for _, ch := range out.Channels {
		channels = append(channels, ch.ID)
		c.names[ch.ID] = ch.Name
	}
	c.mu.Unlock()

	return channels, nil
}

// ListPresentUsers lists the users currently observed in a channel
func (c *PlatformClient) ListPresentUsers(ctx context.Context, channel types.ChannelID) ([]types.UserID, error) {
	var out struct {
		Users []types.UserID `json:"users"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/channels/%s/present", channel), &out); err != nil {
		return nil, fmt.Errorf("failed to list present users: %w", err)
	}
	return out.Users, nil
}

// ChannelName resolves a channel's display name from the listing cache,
// falling back to the raw id for channels never listed.
func (c *PlatformClient) ChannelName(ctx context.Context, channel types.ChannelID) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if name, ok := c.names[channel]; ok {
		return name
	}
	return string(channel)
}

// Publish pushes a refreshed leaderboard view to a rendered message target.
// A 404 or 410 means the message is gone for good.
func (c *PlatformClient) Publish(ctx context.Context, board *types.Leaderboard, target types.TargetRef) (PublishResult, error) {
	body, err := json.Marshal(board)
	if err != nil {
		return PublishOK, fmt.Errorf("failed to marshal leaderboard: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/targets/%s", c.baseURL, target), bytes.NewReader(body))
	if err != nil {
		return PublishOK, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PublishOK, fmt.Errorf("failed to push leaderboard: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
		return PublishOK, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return PublishBroken, fmt.Errorf("publish target %s no longer resolves", target)
	default:
		return PublishOK, fmt.Errorf("platform returned status %d pushing to %s", resp.StatusCode, target)
	}
}
