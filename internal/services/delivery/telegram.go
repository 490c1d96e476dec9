package delivery

import (
    "context"
    "strings"

    "SignalPulse/internal/domain/models"
    xhttp "SignalPulse/pkg/http"
)

// TelegramConfig configures the Bot API sink.
type TelegramConfig struct {
    Token  string
    ChatID string
    APIURL string
}

// TelegramSink sends messages through the Bot API sendMessage method.
type TelegramSink struct {
    cfg    TelegramConfig
    client *xhttp.Client
    format *Formatter
}

// NewTelegramSink creates a Telegram sink.
func NewTelegramSink(cfg TelegramConfig, client *xhttp.Client, format *Formatter) *TelegramSink {
    if cfg.APIURL == "" {
        cfg.APIURL = "https://api.telegram.org"
    }
    cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
    return &TelegramSink{cfg: cfg, client: client, format: format}
}

func (t *TelegramSink) Name() string { return "telegram" }

func (t *TelegramSink) Send(ctx context.Context, msg models.Message) error {
    body := map[string]interface{}{
        "chat_id":                  t.cfg.ChatID,
        "text":                     t.format.Render(msg).Text(),
        "parse_mode":               "Markdown",
        "disable_web_page_preview": true,
    }
    var resp struct {
        OK          bool   `json:"ok"`
        Description string `json:"description"`
    }
    err := t.client.SendAndParse(ctx, &xhttp.RequestOptions{
        Method: xhttp.MethodPost,
        URL:    t.cfg.APIURL + "/bot" + t.cfg.Token + "/sendMessage",
        Body:   body,
    }, &resp)
    if err != nil {
        return classifyHTTP(ctx, "delivery.telegram", err)
    }
    if !resp.OK {
        return classifyHTTP(ctx, "delivery.telegram", &xhttp.StatusError{Code: 400, Body: resp.Description})
    }
    return nil
}
