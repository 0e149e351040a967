package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/sentinel/pkg/events"
)

// Message is one notification, rendered per channel
type Message struct {
	Title    string
	Body     string
	Severity events.Severity
	Time     time.Time
}

// Channel delivers messages to one destination
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Embed colors
const (
	colorInfo     = 3447003
	colorWarning  = 15105570
	colorCritical = 15158332
)

// Discord posts messages as embeds to a webhook
type Discord struct {
	WebhookURL string
	Client     *http.Client
}

// NewDiscord creates a Discord channel with a 10 second timeout
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *Discord) Name() string { return "discord" }

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

// Send posts msg; Discord answers 204 on success
func (d *Discord) Send(ctx context.Context, msg Message) error {
	color := colorInfo
	switch msg.Severity {
	case events.SeverityWarning:
		color = colorWarning
	case events.SeverityCritical:
		color = colorCritical
	}

	payload := map[string][]discordEmbed{
		"embeds": {{
			Title:       msg.Title,
			Description: msg.Body,
			Color:       color,
			Timestamp:   msg.Time.UTC().Format(time.RFC3339),
		}},
	}
	return postJSON(ctx, d.Client, d.WebhookURL, payload, http.StatusNoContent)
}

// Telegram sends Markdown messages through the Bot API
type Telegram struct {
	Token   string
	ChatID  string
	BaseURL string
	Client  *http.Client
}

// NewTelegram creates a Telegram channel for the given bot and chat
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		Token:   token,
		ChatID:  chatID,
		BaseURL: "https://api.telegram.org",
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Send calls sendMessage with the title in bold
func (t *Telegram) Send(ctx context.Context, msg Message) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimRight(t.BaseURL, "/"), t.Token)
	payload := map[string]interface{}{
		"chat_id":                  t.ChatID,
		"text":                     fmt.Sprintf("*%s*\n\n%s", msg.Title, msg.Body),
		"parse_mode":               "Markdown",
		"disable_web_page_preview": true,
	}
	if err := postJSON(ctx, t.Client, url, payload, http.StatusOK); err != nil {
		// The URL carries the bot token
		return fmt.Errorf("%s", strings.ReplaceAll(err.Error(), t.Token, "<token>"))
	}
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, want int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification rejected with HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
