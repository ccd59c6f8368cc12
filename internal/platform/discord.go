// ABOUTME: Minimal Discord REST client used to post messages into bound channels
// ABOUTME: Outbound calls are throttled with a token bucket shared by all hosts

package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ErrSendFailed is returned when the platform rejects a message.
var ErrSendFailed = errors.New("platform send failed")

// Sender posts text into a platform channel.
type Sender interface {
	SendMessage(ctx context.Context, channelID, content string) error
}

// Config holds the Discord client settings.
type Config struct {
	APIBase       string
	BotToken      string
	RatePerSecond float64
	Burst         int
}

// DiscordClient implements Sender against the Discord REST API.
type DiscordClient struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewDiscordClient creates a client. A nil httpClient uses a 10s timeout client.
func NewDiscordClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *DiscordClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &DiscordClient{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger.With("component", "discord"),
	}
}

type createMessageRequest struct {
	Content         string          `json:"content"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

// allowedMentions restricts pings to explicitly mentioned users.
type allowedMentions struct {
	Parse []string `json:"parse"`
}

// SendMessage posts content to channelID, waiting for the rate limiter first.
func (c *DiscordClient) SendMessage(ctx context.Context, channelID, content string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limit: %w", err)
	}

	body, err := json.Marshal(createMessageRequest{
		Content:         content,
		AllowedMentions: allowedMentions{Parse: []string{"users"}},
	})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.APIBase, "/") + "/channels/" + url.PathEscape(channelID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+c.cfg.BotToken)
	req.Header.Set("User-Agent", "saiverse-gateway (https://github.com/maha0525/SAIVerse, 1.0)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("discord rejected message",
			"channel_id", channelID,
			"status", resp.StatusCode,
			"body", string(detail),
		)
		return fmt.Errorf("%w: status %d", ErrSendFailed, resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("message posted", "channel_id", channelID, "length", len(content))
	return nil
}
