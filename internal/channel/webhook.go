// Package channel contains delivery channels and the fan-out dispatcher.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"notisync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	webhookContentLimit = 2000
	webhookEmbedLimit   = 10

	defaultWebhookTimeout  = models.NetworkTimeout
	defaultRetryAttempts   = 3
	defaultRetryDelay      = time.Second
	defaultRequestsPerMin  = 30
	defaultWebhookUsername = "notisync"
)

// WebhookConfig configures a chat-webhook delivery channel.
type WebhookConfig struct {
	Name              string        `yaml:"name"`
	URL               string        `yaml:"url"`
	Username          string        `yaml:"username"`
	AvatarURL         string        `yaml:"avatar_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// Webhook posts notifications to a chat incoming-webhook endpoint.
// Provider rate-limit responses suspend the channel until the hinted
// time elapses; a local limiter bounds the request rate regardless.
type Webhook struct {
	cfg        WebhookConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger

	mu             sync.Mutex
	suspendedUntil time.Time
}

// NewWebhook validates the target URL and builds the channel.
func NewWebhook(cfg WebhookConfig, logger zerolog.Logger) (*Webhook, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &ValidationError{Message: fmt.Sprintf("malformed webhook url %q", maskURL(cfg.URL))}
	}

	if cfg.Name == "" {
		cfg.Name = "webhook"
	}
	if cfg.Username == "" {
		cfg.Username = defaultWebhookUsername
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMin
	}

	return &Webhook{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), cfg.RequestsPerMinute),
		logger:     logger.With().Str("channel", cfg.Name).Logger(),
	}, nil
}

func (w *Webhook) Name() string { return w.cfg.Name }

type webhookPayload struct {
	Content   string         `json:"content,omitempty"`
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Embeds    []webhookEmbed `json:"embeds,omitempty"`
}

type webhookEmbed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Color       int    `json:"color,omitempty"`
}

// Send delivers the notification, retrying transient failures up to
// RetryAttempts with a delay multiplied by the attempt number.
// Validation and auth failures bubble immediately.
func (w *Webhook) Send(ctx context.Context, n *models.QueuedNotification) error {
	body, err := w.buildPayload(n)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.RetryAttempts; attempt++ {
		if err := w.waitSuspended(ctx); err != nil {
			return &TransientError{Message: err.Error()}
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return &TransientError{Message: err.Error()}
		}

		err := w.post(ctx, body)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		lastErr = err

		w.logger.Warn().Err(err).Int("attempt", attempt).Str("notification_id", n.ID).Msg("webhook send failed")

		// Rate-limit hints already suspended the channel; for other
		// transient failures wait attempt*RetryDelay.
		var rl *RateLimitError
		if !errors.As(err, &rl) {
			if err := sleepCtx(ctx, time.Duration(attempt)*w.cfg.RetryDelay); err != nil {
				return &TransientError{Message: err.Error()}
			}
		}
	}

	return &PermanentFailure{Channel: w.cfg.Name, Cause: lastErr}
}

func (w *Webhook) buildPayload(n *models.QueuedNotification) ([]byte, error) {
	content := n.Payload.Body
	if n.Payload.Title != "" {
		content = fmt.Sprintf("**%s**\n%s", n.Payload.Title, n.Payload.Body)
	}
	content = truncate(content, webhookContentLimit)

	embeds := n.Payload.Embeds
	if len(embeds) > webhookEmbedLimit {
		embeds = embeds[:webhookEmbedLimit]
	}

	if content == "" && len(embeds) == 0 {
		return nil, &ValidationError{Message: "payload must contain content or at least one embed"}
	}

	payload := webhookPayload{
		Content:   content,
		Username:  w.cfg.Username,
		AvatarURL: w.cfg.AvatarURL,
	}
	for _, e := range embeds {
		payload.Embeds = append(payload.Embeds, webhookEmbed{
			Title:       truncate(e.Title, 256),
			Description: truncate(e.Description, 4096),
			URL:         e.URL,
			Color:       e.Color,
		})
	}

	return json.Marshal(payload)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &ValidationError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return &TransientError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return w.handleResponse(resp)
}

func (w *Webhook) handleResponse(resp *http.Response) error {
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return &TransientError{Message: fmt.Sprintf("read response: %v", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusTooManyRequests:
		hint := retryAfterHint(resp, respBody)
		w.suspend(hint)
		return &RateLimitError{RetryAfter: hint}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Code: resp.StatusCode, Message: "invalid or expired webhook"}

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound ||
		resp.StatusCode == http.StatusRequestEntityTooLarge:
		return &ValidationError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, respBody)}

	default:
		return &TransientError{Code: resp.StatusCode, Message: string(respBody)}
	}
}

// retryAfterHint reads the Retry-After header, falling back to the JSON
// retry_after field some providers use. Defaults to 1s.
func retryAfterHint(resp *http.Response, body []byte) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	var hint struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &hint); err == nil && hint.RetryAfter > 0 {
		return time.Duration(hint.RetryAfter * float64(time.Second))
	}
	return time.Second
}

func (w *Webhook) suspend(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(w.suspendedUntil) {
		w.suspendedUntil = until
	}
}

func (w *Webhook) waitSuspended(ctx context.Context) error {
	w.mu.Lock()
	wait := time.Until(w.suspendedUntil)
	w.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	return sleepCtx(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// maskURL hides most of the URL for logs and errors.
func maskURL(u string) string {
	if len(u) > 40 {
		return u[:20] + "..." + u[len(u)-10:]
	}
	return u
}
