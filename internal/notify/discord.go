package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"autotrader/internal/events"
)

// Discord executes a webhook with one embed per alert.
type Discord struct {
	session   *discordgo.Session
	webhookID string
	token     string
}

// NewDiscord returns nil when the webhook is not configured.
func NewDiscord(webhookID, token string) (*Discord, error) {
	if webhookID == "" || token == "" {
		return nil, nil
	}
	// Webhook execution needs no bot token.
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{session: s, webhookID: webhookID, token: token}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, a events.Alert) error {
	ts := a.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	desc := a.Message
	if lines := detailLines(a); len(lines) > 0 {
		desc += "\n\n" + strings.Join(lines, "\n")
	}
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s %s", levelEmoji(a.Level), a.Title),
		Description: desc,
		Color:       levelColor(a.Level),
		Timestamp:   ts.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: string(a.Type)},
	}

	_, err := d.session.WebhookExecute(d.webhookID, d.token, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{embed},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
