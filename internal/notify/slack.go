package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/slack-go/slack"

	"autotrader/internal/events"
)

// Slack posts alerts to an incoming webhook.
type Slack struct {
	webhookURL string
}

// NewSlack returns nil when url is empty.
func NewSlack(url string) *Slack {
	if url == "" {
		return nil
	}
	return &Slack{webhookURL: url}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, a events.Alert) error {
	att := slack.Attachment{
		Color:  fmt.Sprintf("#%06X", levelColor(a.Level)),
		Title:  fmt.Sprintf("%s %s", levelEmoji(a.Level), a.Title),
		Text:   a.Message,
		Footer: string(a.Type),
		Ts:     jsonTime(a.Time),
	}
	if a.StrategyID != "" {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: "Strategy", Value: a.StrategyID, Short: true})
	}
	if a.Symbol != "" {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: "Symbol", Value: a.Symbol, Short: true})
	}
	keys := make([]string, 0, len(a.Details))
	for k := range a.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		att.Fields = append(att.Fields, slack.AttachmentField{Title: k, Value: fmt.Sprint(a.Details[k]), Short: true})
	}

	msg := &slack.WebhookMessage{
		Text:        fmt.Sprintf("[%s] %s", a.Level, a.Title),
		Attachments: []slack.Attachment{att},
	}
	if err := slack.PostWebhookContext(ctx, s.webhookURL, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

func jsonTime(t time.Time) json.Number {
	if t.IsZero() {
		t = time.Now()
	}
	return json.Number(strconv.FormatInt(t.Unix(), 10))
}
