package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

var telegramIcons = map[AlertLevel]string{
	Info:     "ℹ️",
	Warning:  "⚠️",
	Error:    "❌",
	Critical: "🚨",
}

type TelegramChannel struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  telegramAPI,
		client:   newWebhookClient(),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, alert AlertPayload) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s *[%s] %s*\n\n%s", telegramIcons[alert.Level], alert.Level, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		text.WriteString("\n")
		for _, k := range sortedFields(alert.Fields) {
			fmt.Fprintf(&text, "\n- *%s*: %s", k, alert.Fields[k])
		}
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	return postJSON(ctx, t.client, t.Name(), url, map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text.String(),
		"parse_mode": "Markdown",
	})
}
