package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"pullplatypus/pkg/notify"

	"github.com/hashicorp/go-retryablehttp"
)

const DefaultUsername = "Pull Platypus"

// Config configures a Client.
type Config struct {
	WebhookURL string
	Username   string
	Timeout    time.Duration
	// RetryMax is the number of retries on 429 and 5xx; negative disables retries.
	RetryMax   int
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client posts addressed messages to a Slack incoming webhook as direct messages.
type Client struct {
	url      string
	username string
	http     *retryablehttp.Client
}

// StatusError is returned when Slack answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("slack webhook returned %d", e.StatusCode)
	}
	return fmt.Sprintf("slack webhook returned %d: %s", e.StatusCode, e.Body)
}

type textObject struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type block struct {
	Type string     `json:"type"`
	Text textObject `json:"text"`
}

type webhookPayload struct {
	Channel  string  `json:"channel"`
	Username string  `json:"username"`
	Text     string  `json:"text"`
	Blocks   []block `json:"blocks"`
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, errors.New("slack webhook url is required")
	}
	username := cfg.Username
	if username == "" {
		username = DefaultUsername
	}

	client := retryablehttp.NewClient()
	if cfg.HTTPClient != nil {
		httpClient := *cfg.HTTPClient
		client.HTTPClient = &httpClient
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	client.RetryMax = cfg.RetryMax
	if client.RetryMax < 0 {
		client.RetryMax = 0
	}
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	if cfg.Logger != nil {
		client.Logger = cfg.Logger
	}

	return &Client{url: cfg.WebhookURL, username: username, http: client}, nil
}

// Send delivers msg as a DM to "@" + msg.Recipient.
func (c *Client) Send(ctx context.Context, msg notify.AddressedMessage) error {
	body, err := json.Marshal(c.payload(msg))
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook to %s: %w", msg.Recipient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) payload(msg notify.AddressedMessage) webhookPayload {
	return webhookPayload{
		Channel:  "@" + msg.Recipient,
		Username: c.username,
		Text:     msg.Text,
		Blocks: []block{{
			Type: "section",
			Text: textObject{Type: "mrkdwn", Text: msg.Text},
		}},
	}
}

// IsPermanent reports whether err is a Slack rejection that a retry cannot fix.
// Rate limiting is not permanent.
func IsPermanent(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 && statusErr.StatusCode != http.StatusTooManyRequests
}
