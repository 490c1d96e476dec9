package delivery

import (
    "context"
    "time"

    "SignalPulse/internal/domain/models"
    xhttp "SignalPulse/pkg/http"
)

// DiscordConfig configures the webhook sink.
type DiscordConfig struct {
    WebhookURL string
    Username   string
    Embeds     bool
}

// DiscordSink posts to a Discord webhook.
type DiscordSink struct {
    cfg    DiscordConfig
    client *xhttp.Client
    format *Formatter
}

type discordPayload struct {
    Username string         `json:"username,omitempty"`
    Content  string         `json:"content,omitempty"`
    Embeds   []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
    Title       string         `json:"title,omitempty"`
    Description string         `json:"description,omitempty"`
    Color       int            `json:"color,omitempty"`
    Fields      []discordField `json:"fields,omitempty"`
    Footer      *discordFooter `json:"footer,omitempty"`
    Timestamp   string         `json:"timestamp,omitempty"`
}

type discordField struct {
    Name   string `json:"name"`
    Value  string `json:"value"`
    Inline bool   `json:"inline"`
}

type discordFooter struct {
    Text string `json:"text"`
}

// NewDiscordSink creates a webhook sink.
func NewDiscordSink(cfg DiscordConfig, client *xhttp.Client, format *Formatter) *DiscordSink {
    return &DiscordSink{cfg: cfg, client: client, format: format}
}

func (d *DiscordSink) Name() string { return "discord" }

// Send posts one message. Discord answers 204 on success.
func (d *DiscordSink) Send(ctx context.Context, msg models.Message) error {
    r := d.format.Render(msg)
    payload := discordPayload{Username: d.cfg.Username, Content: r.Content}
    if d.cfg.Embeds {
        embed := discordEmbed{
            Title:       r.Title,
            Description: r.Description,
            Color:       r.Color,
            Timestamp:   r.Timestamp.UTC().Format(time.RFC3339),
        }
        if r.Footer != "" {
            embed.Footer = &discordFooter{Text: r.Footer}
        }
        for _, f := range r.Fields {
            embed.Fields = append(embed.Fields, discordField{Name: f.Name, Value: f.Value, Inline: f.Inline})
        }
        payload.Embeds = []discordEmbed{embed}
    } else {
        payload.Content = r.Text()
    }

    err := d.client.SendAndParse(ctx, &xhttp.RequestOptions{
        Method: xhttp.MethodPost,
        URL:    d.cfg.WebhookURL,
        Body:   payload,
    }, nil)
    return classifyHTTP(ctx, "delivery.discord", err)
}
