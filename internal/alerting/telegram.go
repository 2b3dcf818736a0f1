package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-ticker/internal/format"
)

// TelegramNotifier pushes alert and error notifications through the Bot API.
// Other severities are ignored.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	symbol   string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs the Telegram sink.
func NewTelegramNotifier(botToken, chatID, baseURL, symbol string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		symbol:   symbol,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Forwards reports whether a severity is sent to Telegram.
func (n *TelegramNotifier) Forwards(s Severity) bool {
	return s == SeverityAlert || s == SeverityError
}

// Notify calls sendMessage for alert and error notifications.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	if !n.Forwards(note.Severity) {
		return nil
	}

	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    n.renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("id", note.ID).
		Str("severity", string(note.Severity)).
		Msg("notification sent (telegram)")
	return nil
}

func (n *TelegramNotifier) renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s Ticker] %s\n", n.symbol, strings.ToUpper(string(note.Severity))))
	if note.Title != "" {
		builder.WriteString(note.Title + "\n")
	}
	if note.Message != "" {
		builder.WriteString(note.Message + "\n")
	}
	if note.Price != nil {
		builder.WriteString(fmt.Sprintf("Price: %s\n", format.PriceUSD(note.Price)))
	}
	builder.WriteString(fmt.Sprintf("Time: %s UTC", note.Timestamp.UTC().Format(time.RFC3339)))
	return builder.String()
}
