package notification

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

	"github.com/sethvargo/go-retry"
)

// ChatClient posts short messages to a team channel.
type ChatClient interface {
	Post(ctx context.Context, text string) error
}

// SlackWebhook posts to a Slack-compatible incoming webhook.
type SlackWebhook struct {
	url        string
	client     *http.Client
	maxRetries uint64
	backoff    time.Duration
}

// NewSlackWebhook creates a SlackWebhook.
func NewSlackWebhook(url string) *SlackWebhook {
	return &SlackWebhook{
		url:        url,
		client:     &http.Client{Timeout: 5 * time.Second},
		maxRetries: 3,
		backoff:    250 * time.Millisecond,
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (s *SlackWebhook) Post(ctx context.Context, text string) error {
	data, err := json.Marshal(slackPayload{Text: text})
	if err != nil {
		return err
	}

	b := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := s.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer res.Body.Close()

		if res.StatusCode == http.StatusOK {
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		err = fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("post chat message: %w", err)
	}
	return nil
}

// LogChatClient logs chat messages instead of posting them.
type LogChatClient struct{}

func (LogChatClient) Post(ctx context.Context, text string) error {
	slog.InfoContext(ctx, "chat notification", "text", text)
	return nil
}
