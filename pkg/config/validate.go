package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/pkg/util"
)

// ProviderKinds lists the data providers the service can build.
var ProviderKinds = []string{"binance", "yahoo", "finnhub", "clickhouse"}

var validate = validator.New()

// Validate checks struct tags and cross-field rules. Every failure is a
// config_error.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			f := ve[0]
			return errs.Config("%s: failed %q (value %v)", f.Namespace(), f.Tag(), f.Value())
		}
		return errs.Config("%w", err)
	}

	if _, err := util.ParseInterval(c.Data.DefaultInterval); err != nil {
		return errs.Config("data.default_interval: %w", err)
	}

	if err := c.validateSources(); err != nil {
		return err
	}
	if err := c.validateClassifier(); err != nil {
		return err
	}
	if err := c.validateDelivery(); err != nil {
		return err
	}

	if c.Queue.Enabled && !c.Redis.Enabled {
		return errs.Config("queue.enabled requires redis.enabled")
	}
	if c.TradingView.AllowWebhook && c.TradingView.Secret == "" && c.Environment == "production" {
		return errs.Config("tradingview.secret is required for the webhook in production")
	}
	if c.Logging.Collector.Enabled && len(c.Kafka.Brokers) == 0 {
		return errs.Config("logging.collector requires kafka.brokers")
	}
	return nil
}

func (c *Config) validateSources() error {
	enabled := 0
	seen := make(map[string]struct{}, len(c.Data.Sources))
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	for i, s := range c.Data.Sources {
		if !s.IsEnabled() {
			continue
		}
		enabled++
		if s.Symbol == "" {
			return errs.Config("data.sources[%d]: symbol is required", i)
		}
		if _, err := util.ParseInterval(s.Interval); err != nil {
			return errs.Config("data.sources[%d] %s: %w", i, s.Symbol, err)
		}
		if !knownKind(s.Kind) {
			return errs.Config("data.sources[%d] %s: unknown provider kind %q", i, s.Symbol, s.Kind)
		}
		key := strings.Join([]string{s.Symbol, s.Interval, s.Kind}, "|")
		if _, dup := seen[key]; dup {
			return errs.Config("data.sources[%d]: duplicate job %s", i, key)
		}
		seen[key] = struct{}{}

		if s.Cron != "" {
			if _, err := parser.Parse(s.Cron); err != nil {
				return errs.Config("data.sources[%d] %s: cron %q: %w", i, s.Symbol, s.Cron, err)
			}
		}
		switch s.Kind {
		case "finnhub":
			if c.Data.Finnhub.APIKey == "" {
				return errs.Config("data.finnhub.api_key is required for %s", s.Symbol)
			}
		case "clickhouse":
			if !c.ClickHouse.Enabled {
				return errs.Config("clickhouse.enabled is required for %s", s.Symbol)
			}
		}
	}
	if enabled == 0 {
		return errs.Config("data.sources: no enabled jobs")
	}
	return nil
}

func (c *Config) validateClassifier() error {
	if c.Classifier.Provider == "gemini" && c.Classifier.APIKey == "" {
		return errs.Config("classifier.api_key is required for gemini (set GEMINI_API_KEY)")
	}
	return nil
}

func (c *Config) validateDelivery() error {
	d := &c.Delivery
	sinks := 0
	if d.Discord.Enabled {
		sinks++
		if d.Discord.WebhookURL == "" {
			return errs.Config("delivery.discord.webhook_url is required")
		}
	}
	if d.Slack.Enabled {
		sinks++
		if d.Slack.Token == "" || d.Slack.Channel == "" {
			return errs.Config("delivery.slack needs token and channel")
		}
	}
	if d.Telegram.Enabled {
		sinks++
		if d.Telegram.Token == "" || d.Telegram.ChatID == "" {
			return errs.Config("delivery.telegram needs token and chat_id")
		}
	}
	if d.Kafka.Enabled {
		sinks++
		if len(c.Kafka.Brokers) == 0 {
			return errs.Config("delivery.kafka requires kafka.brokers")
		}
	}
	if d.Log.Enabled {
		sinks++
	}
	if sinks == 0 {
		return errs.Config("delivery: no sink enabled")
	}
	return nil
}

func knownKind(kind string) bool {
	for _, k := range ProviderKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// String redacts credentials.
func (c *Config) String() string {
	return fmt.Sprintf("env=%s jobs=%d classifier=%s/%s", c.Environment, len(c.Data.Sources), c.Classifier.Provider, c.Classifier.Model)
}
