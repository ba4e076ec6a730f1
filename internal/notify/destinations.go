package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/emperorhan/mint-watcher/internal/domain/model"
)

func postJSON(ctx context.Context, client *resty.Client, url string, headers map[string]string, payload any) error {
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(headers).
		SetBody(payload).
		Post(url)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("returned status %d", resp.StatusCode())
	}
	return nil
}

// WebhookDestination posts the notification as JSON.
type WebhookDestination struct {
	Filter
	id     string
	url    string
	client *resty.Client
}

func NewWebhookDestination(id, url string, timeout time.Duration, filter Filter) *WebhookDestination {
	return &WebhookDestination{
		Filter: filter,
		id:     id,
		url:    url,
		client: resty.New().SetTimeout(timeout),
	}
}

func (w *WebhookDestination) ID() string   { return w.id }
func (w *WebhookDestination) Kind() string { return KindWebhook }

func (w *WebhookDestination) Send(ctx context.Context, n model.Notification) error {
	key := n.ID
	if key == "" {
		key = uuid.NewString()
	}
	headers := map[string]string{
		"Idempotency-Key":    key,
		"X-Mintwatcher-Kind": string(n.Kind),
	}
	if err := postJSON(ctx, w.client, w.url, headers, n); err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	return nil
}

// SlackDestination posts a text message to a Slack incoming webhook.
type SlackDestination struct {
	Filter
	id     string
	url    string
	client *resty.Client
}

func NewSlackDestination(id, url string, timeout time.Duration, filter Filter) *SlackDestination {
	return &SlackDestination{
		Filter: filter,
		id:     id,
		url:    url,
		client: resty.New().SetTimeout(timeout),
	}
}

func (s *SlackDestination) ID() string   { return s.id }
func (s *SlackDestination) Kind() string { return KindSlack }

func (s *SlackDestination) Send(ctx context.Context, n model.Notification) error {
	r := Render(n)
	emoji := ":sparkles:"
	if n.Kind == model.NotificationSale {
		emoji = ":moneybag:"
	}
	text := fmt.Sprintf("%s *%s*", emoji, r.Title)
	for _, f := range r.Fields {
		text += fmt.Sprintf("\n- *%s*: %s", f.Name, f.Value)
	}
	if r.URL != "" {
		text += "\n" + r.URL
	}
	if err := postJSON(ctx, s.client, s.url, nil, map[string]string{"text": text}); err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	return nil
}

// DiscordDestination posts an embed to a Discord webhook.
type DiscordDestination struct {
	Filter
	id     string
	url    string
	client *resty.Client
}

func NewDiscordDestination(id, url string, timeout time.Duration, filter Filter) *DiscordDestination {
	return &DiscordDestination{
		Filter: filter,
		id:     id,
		url:    url,
		client: resty.New().SetTimeout(timeout),
	}
}

func (d *DiscordDestination) ID() string   { return d.id }
func (d *DiscordDestination) Kind() string { return KindDiscord }

type discordEmbed struct {
	Title     string              `json:"title"`
	URL       string              `json:"url,omitempty"`
	Color     int                 `json:"color"`
	Image     *discordImage       `json:"image,omitempty"`
	Fields    []discordEmbedField `json:"fields"`
	Timestamp string              `json:"timestamp,omitempty"`
}

type discordImage struct {
	URL string `json:"url"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func (d *DiscordDestination) Send(ctx context.Context, n model.Notification) error {
	r := Render(n)
	embed := discordEmbed{
		Title: r.Title,
		URL:   r.URL,
		Color: 0x2ecc71,
	}
	if n.Kind == model.NotificationSale {
		embed.Color = 0xf1c40f
	}
	if r.ImageURL != "" {
		embed.Image = &discordImage{URL: r.ImageURL}
	}
	if !n.CreatedAt.IsZero() {
		embed.Timestamp = n.CreatedAt.UTC().Format(time.RFC3339)
	}
	for _, f := range r.Fields {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: f.Name, Value: f.Value, Inline: f.Name != "Tx"})
	}
	payload := map[string]any{"embeds": []discordEmbed{embed}}
	if err := postJSON(ctx, d.client, d.url, nil, payload); err != nil {
		return fmt.Errorf("send discord notification: %w", err)
	}
	return nil
}

// LogDestination writes notifications to the process log. Used when no
// outbound channel is configured.
type LogDestination struct {
	Filter
	id     string
	logger *slog.Logger
}

func NewLogDestination(id string, logger *slog.Logger, filter Filter) *LogDestination {
	return &LogDestination{Filter: filter, id: id, logger: logger.With("component", "notify_log")}
}

func (l *LogDestination) ID() string   { return l.id }
func (l *LogDestination) Kind() string { return KindLog }

func (l *LogDestination) Send(_ context.Context, n model.Notification) error {
	l.logger.Info("notification", "destination", l.id, "kind", n.Kind, "id", n.ID, "text", Render(n).Text())
	return nil
}
