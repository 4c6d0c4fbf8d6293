// Package chat delivers notifications through the external chat-bot API.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/pantrywatch/pantrywatch/internal/domain"
	"github.com/pantrywatch/pantrywatch/internal/notifications"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 25 // messages per second, bot API ceiling is 30
)

// HandleResolver looks up a recipient's linked chat handle. An empty handle
// with nil error means the user never linked the bot.
type HandleResolver interface {
	ChatHandle(ctx context.Context, tenantID, userID string) (string, error)
}

// Config holds chat sender configuration.
type Config struct {
	Enabled   bool
	BotURL    string
	BotToken  string
	RateLimit float64
	Timeout   time.Duration
}

// Sender implements chat notification delivery via the bot HTTP API.
type Sender struct {
	config     Config
	resolver   HandleResolver
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSender creates a chat sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config, resolver HandleResolver) (*Sender, error) {
	if config.Enabled {
		if config.BotURL == "" {
			return nil, errors.New("chat sender: bot URL is required when enabled")
		}
		if config.BotToken == "" {
			return nil, errors.New("chat sender: bot token is required when enabled")
		}
	}

	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	slog.Info("chat sender configured",
		"enabled", config.Enabled,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:     config,
		resolver:   resolver,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// Channel returns the channel this sender serves.
func (s *Sender) Channel() domain.Channel {
	return domain.ChannelChat
}

// Send resolves the recipient's chat handle and posts the rendered message.
// A recipient without a linked handle fails immediately without touching the
// bot API.
func (s *Sender) Send(ctx context.Context, n *domain.Notification) error {
	if !s.config.Enabled {
		return notifications.ErrChannelNotConfigured
	}

	handle, err := s.resolver.ChatHandle(ctx, n.TenantID, n.RecipientID)
	if err != nil {
		return fmt.Errorf("resolve chat handle: %w", err)
	}
	if handle == "" {
		return notifications.ErrNoChatHandle
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	return s.post(ctx, handle, RenderMessage(n))
}

type botMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

func (s *Sender) post(ctx context.Context, handle, text string) error {
	body, err := json.Marshal(botMessage{ChatID: handle, Text: text})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BotURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.BotToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp)
}

func (s *Sender) handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		slog.Debug("chat message sent")
		return nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &PermanentError{Code: resp.StatusCode, Message: "bot credentials rejected"}

	case resp.StatusCode == http.StatusBadRequest:
		return &PermanentError{Code: resp.StatusCode, Message: fmt.Sprintf("bot rejected message: %s", string(body))}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &RetryableError{Code: resp.StatusCode, Message: "rate limited"}

	case resp.StatusCode >= 500:
		return &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("server error: %s", string(body))}

	default:
		return fmt.Errorf("unexpected bot status %d: %s", resp.StatusCode, string(body))
	}
}

// PermanentError indicates a delivery failure that will not succeed on retry.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("chat error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("chat error: %s", e.Message)
}

// RetryableError indicates a transient delivery failure.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("chat error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("chat error: %s", e.Message)
}
