// Package notify forwards fetched verification codes to chat webhooks.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	discordwebhook "github.com/bensch777/discord-webhook-golang"
)

const (
	discordUsername = "codefetch"
	discordColor    = 5662170
)

// ErrNoWebhook is returned when the notifier has no URL configured.
var ErrNoWebhook = errors.New("notify: webhook URL not configured")

// ExecFunc posts a JSON payload to a webhook URL.
type ExecFunc func(url string, payload []byte) error

// Discord posts codes to a Discord webhook.
type Discord struct {
	URL  string
	Exec ExecFunc
	Now  func() time.Time
}

// NewDiscord returns a notifier for the given webhook URL.
func NewDiscord(url string) *Discord {
	return &Discord{URL: url, Exec: discordwebhook.ExecuteWebhook, Now: time.Now}
}

// Event describes one successful retrieval.
type Event struct {
	Account   string
	Code      string
	Transport string
	Subject   string
	FetchID   string
}

// Notify posts ev to the webhook. The context is checked before sending;
// the webhook library itself is not cancellable.
func (d *Discord) Notify(ctx context.Context, ev Event) error {
	if d.URL == "" {
		return ErrNoWebhook
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(d.hook(ev))
	if err != nil {
		return fmt.Errorf("notify: encoding payload: %w", err)
	}

	exec := d.Exec
	if exec == nil {
		exec = discordwebhook.ExecuteWebhook
	}
	if err := exec(d.URL, payload); err != nil {
		return fmt.Errorf("notify: discord webhook: %w", err)
	}
	return nil
}

func (d *Discord) hook(ev Event) discordwebhook.Hook {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	fields := []discordwebhook.Field{
		{Name: "**Account**", Value: orDash(ev.Account), Inline: false},
		{Name: "**Code**", Value: "`" + ev.Code + "`", Inline: true},
		{Name: "**Transport**", Value: orDash(ev.Transport), Inline: true},
	}
	if ev.Subject != "" {
		fields = append(fields, discordwebhook.Field{Name: "**Subject**", Value: ev.Subject, Inline: false})
	}

	footer := discordUsername
	if ev.FetchID != "" {
		footer += " " + ev.FetchID
	}

	return discordwebhook.Hook{
		Username: discordUsername,
		Embeds: []discordwebhook.Embed{
			{
				Title:     "Verification Code Received",
				Color:     discordColor,
				Timestamp: now(),
				Fields:    fields,
				Footer:    discordwebhook.Footer{Text: footer},
			},
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
