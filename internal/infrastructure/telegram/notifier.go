package telegram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"NewsIngest/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram rejects messages longer than this many characters.
const maxMessageLen = 4096

// Notifier sends run summaries to a Telegram chat via bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// WithAPIBase points the notifier at another Bot API host.
func (n *Notifier) WithAPIBase(base string) *Notifier {
	n.apiBase = strings.TrimRight(base, "/")
	return n
}

// Configured reports whether both token and chat are set.
func (n *Notifier) Configured() bool {
	return n != nil && n.botToken != "" && n.chatID != ""
}

// Publish posts a plain-text message, truncated to the API limit.
func (n *Notifier) Publish(ctx context.Context, message string) error {
	if !n.Configured() || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}
	if r := []rune(message); len(r) > maxMessageLen {
		message = string(r[:maxMessageLen-1]) + "…"
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", message)
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}
