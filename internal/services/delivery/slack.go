package delivery

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strconv"
    "strings"

    "github.com/slack-go/slack"

    "SignalPulse/internal/domain/errs"
    "SignalPulse/internal/domain/models"
    "SignalPulse/pkg/retry"
)

// SlackConfig configures the Slack sink. APIURL overrides the Web API base.
type SlackConfig struct {
    Token   string
    Channel string
    APIURL  string
}

// SlackSink posts attachments with chat.postMessage.
type SlackSink struct {
    client  *slack.Client
    channel string
    format  *Formatter
}

// NewSlackSink creates a Slack sink using hc for transport.
func NewSlackSink(cfg SlackConfig, hc *http.Client, format *Formatter) *SlackSink {
    opts := []slack.Option{}
    if hc != nil {
        opts = append(opts, slack.OptionHTTPClient(hc))
    }
    if cfg.APIURL != "" {
        opts = append(opts, slack.OptionAPIURL(strings.TrimRight(cfg.APIURL, "/")+"/"))
    }
    return &SlackSink{
        client:  slack.New(cfg.Token, opts...),
        channel: cfg.Channel,
        format:  format,
    }
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Send(ctx context.Context, msg models.Message) error {
    r := s.format.Render(msg)
    att := slack.Attachment{
        Color:  colorHex(r.Color),
        Title:  r.Title,
        Text:   r.Description,
        Footer: r.Footer,
        Ts:     json.Number(strconv.FormatInt(r.Timestamp.Unix(), 10)),
    }
    for _, f := range r.Fields {
        att.Fields = append(att.Fields, slack.AttachmentField{Title: f.Name, Value: f.Value, Short: f.Inline})
    }

    text := r.Title
    if r.Content != "" {
        text = r.Content + " " + text
    }
    _, _, err := s.client.PostMessageContext(ctx, s.channel,
        slack.MsgOptionText(text, false),
        slack.MsgOptionAttachments(att))
    return classifySlack(ctx, err)
}

func classifySlack(ctx context.Context, err error) error {
    const op = "delivery.slack"
    if err == nil {
        return nil
    }
    if ctx.Err() != nil {
        return errs.New(errs.KindDeliveryFailed, op, err)
    }

    var rl *slack.RateLimitedError
    if errors.As(err, &rl) {
        return &errs.Error{Kind: errs.KindDeliveryFailed, Op: op, RetryAfter: rl.RetryAfter, Err: err}
    }
    var sc slack.StatusCodeError
    if errors.As(err, &sc) {
        if sc.Code >= 500 || sc.Code == http.StatusRequestTimeout {
            return errs.New(errs.KindDeliveryFailed, op, err)
        }
        return retry.Permanent(errs.New(errs.KindDeliveryFailed, op, err))
    }
    var api slack.SlackErrorResponse
    if errors.As(err, &api) {
        // invalid_auth, channel_not_found and friends will not heal on retry
        return retry.Permanent(errs.New(errs.KindDeliveryFailed, op, err))
    }
    return errs.New(errs.KindDeliveryFailed, op, err)
}

func colorHex(c int) string { return fmt.Sprintf("#%06x", c) }
