package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/pkg/util"
)

// Source is one configured asset job.
type Source struct {
	Symbol      string `yaml:"symbol" validate:"required"`
	Kind        string `yaml:"kind"`
	Interval    string `yaml:"interval"`
	Enabled     *bool  `yaml:"enabled"`
	Bars        int    `yaml:"bars" validate:"gte=0,lte=1000"`
	Cron        string `yaml:"cron"`
	ContextLink string `yaml:"context_link"`
}

// IsEnabled defaults to true.
func (s Source) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	App         struct {
		Name     string `yaml:"name" default:"signalpulse"`
		Version  string `yaml:"version" default:"1.0.0"`
		Timezone string `yaml:"timezone" default:"UTC"`
	} `yaml:"app"`
	Logging struct {
		Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format    string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic" default:"signalpulse.logs"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"logging"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"3m"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORS            bool          `yaml:"cors" default:"true"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Scheduler struct {
		AutoStart   bool          `yaml:"auto_start" default:"true"`
		Align       bool          `yaml:"align" default:"true"`
		RunTimeout  time.Duration `yaml:"run_timeout" default:"2m" validate:"gt=0"`
		StopGrace   time.Duration `yaml:"stop_grace" default:"10s"`
		HistorySize int           `yaml:"history_size" default:"50" validate:"gte=1,lte=1000"`
		Backoff     struct {
			Initial    time.Duration `yaml:"initial" default:"1m" validate:"gt=0"`
			Multiplier float64       `yaml:"multiplier" default:"2" validate:"gte=1"`
			Max        time.Duration `yaml:"max" default:"30m"`
			Threshold  int           `yaml:"threshold" default:"1" validate:"gte=1"`
		} `yaml:"backoff"`
	} `yaml:"scheduler"`
	Signal struct {
		MentionThreshold float64 `yaml:"min_confidence_tag" default:"0.75" validate:"gte=0,lte=1"`
		Mention          struct {
			Mode  string `yaml:"mode" default:"name" validate:"oneof=name id"`
			Value string `yaml:"value" default:"@traders"`
		} `yaml:"role_mention"`
		Headlines []string `yaml:"headlines"`
	} `yaml:"signal"`
	Heartbeat struct {
		Policy         string        `yaml:"policy" default:"on_silence" validate:"oneof=on_silence interval"`
		Window         time.Duration `yaml:"window" default:"30m" validate:"gt=0"`
		DegradedStreak int           `yaml:"degraded_streak" default:"3" validate:"gte=1"`
	} `yaml:"heartbeat"`
	Classifier struct {
		Provider       string        `yaml:"provider" default:"gemini" validate:"oneof=gemini rules"`
		Model          string        `yaml:"model" default:"gemini-1.5-pro"`
		APIKey         string        `yaml:"api_key"`
		BaseURL        string        `yaml:"base_url" default:"https://generativelanguage.googleapis.com/v1beta"`
		Temperature    float64       `yaml:"temperature" default:"0.1"`
		RequestTimeout time.Duration `yaml:"request_timeout" default:"30s" validate:"gt=0"`
		MaxRetries     int           `yaml:"max_retries" default:"2" validate:"gte=0,lte=10"`
		RetryInitial   time.Duration `yaml:"retry_initial" default:"1s"`
		RetryMax       time.Duration `yaml:"retry_max" default:"10s"`
	} `yaml:"classifier"`
	Delivery struct {
		Retries      int           `yaml:"retries" default:"3" validate:"gte=0,lte=10"`
		RetryInitial time.Duration `yaml:"retry_initial" default:"1s"`
		RetryMax     time.Duration `yaml:"retry_max" default:"30s"`
		Timeout      time.Duration `yaml:"timeout" default:"10s"`
		Discord      struct {
			Enabled    bool   `yaml:"enabled"`
			WebhookURL string `yaml:"webhook_url"`
			Username   string `yaml:"username" default:"SignalPulse"`
			Embeds     bool   `yaml:"embeds" default:"true"`
		} `yaml:"discord"`
		Slack struct {
			Enabled bool   `yaml:"enabled"`
			Token   string `yaml:"token"`
			Channel string `yaml:"channel"`
			APIURL  string `yaml:"api_url"`
		} `yaml:"slack"`
		Telegram struct {
			Enabled bool   `yaml:"enabled"`
			Token   string `yaml:"token"`
			ChatID  string `yaml:"chat_id"`
			APIURL  string `yaml:"api_url" default:"https://api.telegram.org"`
		} `yaml:"telegram"`
		Kafka struct {
			Enabled bool   `yaml:"enabled"`
			Topic   string `yaml:"topic" default:"signalpulse.signals"`
		} `yaml:"kafka"`
		Log struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"log"`
	} `yaml:"delivery"`
	Data struct {
		DefaultInterval string        `yaml:"default_interval" default:"15m"`
		DefaultProvider string        `yaml:"default_provider" default:"binance"`
		Bars            int           `yaml:"bars" default:"300" validate:"gte=1,lte=1000"`
		Timeout         time.Duration `yaml:"timeout" default:"15s"`
		Sources         []Source      `yaml:"sources" validate:"dive"`
		Binance         struct {
			BaseURL string  `yaml:"base_url" default:"https://api.binance.com"`
			RPS     float64 `yaml:"rps" default:"10"`
			Burst   int     `yaml:"burst" default:"20"`
		} `yaml:"binance"`
		Yahoo struct {
			BaseURL string  `yaml:"base_url" default:"https://query1.finance.yahoo.com"`
			RPS     float64 `yaml:"rps" default:"2"`
			Burst   int     `yaml:"burst" default:"4"`
		} `yaml:"yahoo"`
		Finnhub struct {
			APIKey         string        `yaml:"api_key"`
			BaseURL        string        `yaml:"base_url" default:"https://finnhub.io/api/v1"`
			WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
			Stream         bool          `yaml:"stream" default:"true"`
			RPS            float64       `yaml:"rps" default:"1"`
			Burst          int           `yaml:"burst" default:"5"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
			PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
			MaxPriceAge    time.Duration `yaml:"max_price_age" default:"2m"`
		} `yaml:"finnhub"`
		ClickHouse struct {
			Table string `yaml:"table" default:"candles"`
		} `yaml:"clickhouse"`
		Breaker struct {
			MaxFailures      uint32        `yaml:"max_failures" default:"5"`
			OpenTimeout      time.Duration `yaml:"open_timeout" default:"1m"`
			HalfOpenRequests uint32        `yaml:"half_open_requests" default:"1"`
		} `yaml:"breaker"`
	} `yaml:"data"`
	TradingView struct {
		Link         string `yaml:"link"`
		AllowWebhook bool   `yaml:"allow_webhook"`
		Secret       string `yaml:"secret"`
	} `yaml:"tradingview"`
	Trigger struct {
		RPS   float64 `yaml:"rps" default:"1"`
		Burst int     `yaml:"burst" default:"5"`
	} `yaml:"trigger"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"signalpulse"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers      []string      `yaml:"brokers"`
		RequiredAcks int           `yaml:"required_acks" default:"-1"`
		Compression  string        `yaml:"compression" default:"snappy"`
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		BatchTimeout time.Duration `yaml:"batch_timeout" default:"50ms"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"signalpulse"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert" default:"true"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"clickhouse"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
		RetryLimit int           `yaml:"retry_limit" default:"3"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"30s"`
	} `yaml:"queue"`
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a YAML file, expands ${VAR} references, applies defaults and
// environment overrides, then validates.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Config("read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse builds a validated Config from raw YAML.
func Parse(raw []byte) (*Config, error) {
	expanded := envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, errs.Config("defaults: %w", err)
	}
	if err := yaml.Unmarshal(expanded, &c); err != nil {
		return nil, errs.Config("parse: %w", err)
	}

	c.applyEnv()
	c.normalize()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadWithEnv loads a .env file next to the process (if any) before Load.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errs.Config("load .env: %w", err)
	}
	return Load(path)
}

func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.Logging.Level)
	str("GEMINI_API_KEY", &c.Classifier.APIKey)
	str("FINNHUB_API_KEY", &c.Data.Finnhub.APIKey)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)

	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		c.Delivery.Discord.WebhookURL = v
		c.Delivery.Discord.Enabled = true
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Delivery.Slack.Token = v
	}
	str("SLACK_CHANNEL", &c.Delivery.Slack.Channel)
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Delivery.Telegram.Token = v
	}
	str("TELEGRAM_CHAT_ID", &c.Delivery.Telegram.ChatID)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Host = host
		if p, err := strconv.Atoi(port); ok && err == nil {
			c.Redis.Port = p
		}
		c.Redis.Enabled = true
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Data.Sources = parseSymbols(v)
	}
}

// parseSymbols reads SYMBOL[:interval[:kind]] entries separated by commas.
func parseSymbols(v string) []Source {
	var out []Source
	for _, item := range util.SplitList(v) {
		parts := strings.Split(item, ":")
		s := Source{Symbol: parts[0]}
		if len(parts) > 1 {
			s.Interval = parts[1]
		}
		if len(parts) > 2 {
			s.Kind = parts[2]
		}
		out = append(out, s)
	}
	return out
}

func (c *Config) normalize() {
	for i := range c.Data.Sources {
		s := &c.Data.Sources[i]
		s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
		if s.Kind == "" {
			s.Kind = c.Data.DefaultProvider
		}
		if s.Interval == "" {
			s.Interval = c.Data.DefaultInterval
		}
		if s.Bars == 0 {
			s.Bars = c.Data.Bars
		}
		if s.ContextLink == "" {
			s.ContextLink = c.TradingView.Link
		}
	}
	if c.Scheduler.Backoff.Max < c.Scheduler.Backoff.Initial {
		c.Scheduler.Backoff.Max = c.Scheduler.Backoff.Initial
	}
}

// RedisAddr returns host:port.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
