package alert

import (
	"context"
	"fmt"
	"net/http"
)

var slackColors = map[AlertLevel]string{
	Info:     "#36a64f",
	Warning:  "#ffcc00",
	Error:    "#ff0000",
	Critical: "#8b0000",
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color    string       `json:"color"`
	Fallback string       `json:"fallback"`
	Pretext  string       `json:"pretext"`
	Text     string       `json:"text,omitempty"`
	Fields   []slackField `json:"fields,omitempty"`
	Footer   string       `json:"footer"`
	TS       int64        `json:"ts"`
}

type slackMessage struct {
	Attachments []slackAttachment `json:"attachments"`
}

// SlackChannel posts to an incoming webhook. The footer names the engine
// instance so alerts from several deployments can share one Slack channel.
type SlackChannel struct {
	webhookURL string
	source     string
	client     *http.Client
}

func NewSlackChannel(webhookURL, source string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		source:     source,
		client:     newWebhookClient(),
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert AlertPayload) error {
	if s.webhookURL == "" {
		return nil
	}
	return postJSON(ctx, s.client, s.Name(), s.webhookURL, s.format(alert))
}

func (s *SlackChannel) format(alert AlertPayload) slackMessage {
	color, ok := slackColors[alert.Level]
	if !ok {
		color = slackColors[Info]
	}

	headline := fmt.Sprintf("[%s] %s", alert.Level, alert.Title)
	att := slackAttachment{
		Color:    color,
		Fallback: headline,
		Pretext:  headline,
		Text:     alert.Message,
		Footer:   s.source,
	}
	if !alert.Timestamp.IsZero() {
		att.TS = alert.Timestamp.Unix()
	}
	for _, k := range sortedFields(alert.Fields) {
		att.Fields = append(att.Fields, slackField{Title: k, Value: alert.Fields[k], Short: len(alert.Fields[k]) <= 40})
	}
	return slackMessage{Attachments: []slackAttachment{att}}
}
