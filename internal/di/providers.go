package di

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/domain/repository"
	"SignalPulse/internal/domain/service"
	"SignalPulse/internal/handler/api"
	internalrepo "SignalPulse/internal/repository"
	"SignalPulse/internal/service/datasource"
	"SignalPulse/internal/service/finnhub"
	"SignalPulse/internal/service/health"
	"SignalPulse/internal/service/ratelimit"
	"SignalPulse/internal/services/classifier"
	"SignalPulse/internal/services/delivery"
	"SignalPulse/internal/services/features"
	"SignalPulse/internal/usecase"
	"SignalPulse/pkg/cache"
	pkgch "SignalPulse/pkg/clickhouse"
	"SignalPulse/pkg/config"
	xhttp "SignalPulse/pkg/http"
	pkgkafka "SignalPulse/pkg/kafka"
	applogger "SignalPulse/pkg/logger"
	"SignalPulse/pkg/metrics"
	"SignalPulse/pkg/queue"
	"SignalPulse/pkg/retry"
	"SignalPulse/pkg/server"
)

// ProvideKafkaProducer creates a Kafka producer, or nil when no brokers are
// configured.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchTimeout(cfg.Kafka.BatchTimeout),
		pkgkafka.WithWriteTimeout(cfg.Kafka.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the app logger and attaches the error-log collector
// when enabled and Kafka is available.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	l = l.With(applogger.String("service", cfg.App.Name), applogger.String("env", cfg.Environment))
	if cfg.Logging.Collector.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.Threshold,
			Topic:          cfg.Logging.Collector.Topic,
			Publisher:      producer,
		})
	}
	return l, l.RemoveCollector, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideRedisCache connects to Redis when enabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr(), err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideStateStore keeps job memory in Redis, or in process memory without it.
func ProvideStateStore(rc *cache.RedisCache, lgr *applogger.Logger) (repository.StateStore, func()) {
	if rc != nil {
		lc := cache.NewLayeredCache(rc, cache.WithLayeredMemorySize(1024), cache.WithLayeredMemoryTTL(10*time.Minute))
		return internalrepo.NewCacheStateStore(lc, 0), func() {}
	}
	lgr.Warn("redis disabled, scheduler state is kept in memory only")
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(time.Hour))
	return internalrepo.NewCacheStateStore(mc, 0), func() { _ = mc.Close() }
}

// ProvideClickHouseClient opens ClickHouse and creates the schema when enabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, false),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.ClickHouse.Database),
		internalrepo.CandleTableDDL(candleTable(cfg)),
	}); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func candleTable(cfg *config.Config) string {
	return cfg.ClickHouse.Database + "." + cfg.Data.ClickHouse.Table
}

// ProvideSignalStore stores run records in ClickHouse when it is enabled.
func ProvideSignalStore(ch *pkgch.Client, cfg *config.Config) (repository.SignalStore, error) {
	if ch == nil {
		return nil, nil
	}
	store, err := internalrepo.NewCHSignalStore(ch, cfg.ClickHouse.Database+".signal_runs")
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("signal store: %w", err)
	}
	return store, nil
}

// ProvideJobSpecs turns configured sources into job specs.
func ProvideJobSpecs(cfg *config.Config) []models.AssetJobSpec {
	specs := make([]models.AssetJobSpec, 0, len(cfg.Data.Sources))
	for _, s := range cfg.Data.Sources {
		specs = append(specs, models.AssetJobSpec{
			Symbol:      s.Symbol,
			Provider:    s.Kind,
			Interval:    s.Interval,
			Enabled:     s.IsEnabled(),
			Bars:        s.Bars,
			Cron:        s.Cron,
			ContextLink: s.ContextLink,
		})
	}
	return specs
}

// ProvideFinnhubTracker streams Finnhub trades for finnhub jobs when an API
// key is set.
func ProvideFinnhubTracker(cfg *config.Config, specs []models.AssetJobSpec, lgr *applogger.Logger, m repository.Metrics) *finnhub.Tracker {
	fh := cfg.Data.Finnhub
	if fh.APIKey == "" || !fh.Stream {
		return nil
	}
	var symbols []string
	for _, s := range specs {
		if s.Provider == "finnhub" && s.Enabled {
			symbols = append(symbols, s.Symbol)
		}
	}
	if len(symbols) == 0 {
		return nil
	}
	return finnhub.New(lgr, fh.APIKey, fh.WebSocketURL, symbols, fh.ReconnectDelay, fh.PingInterval,
		finnhub.WithPriceHook(m.RecordLastPrice))
}

// ProvideDataSources registers every usable provider behind a rate limiter and
// circuit breaker.
func ProvideDataSources(
	cfg *config.Config,
	lgr *applogger.Logger,
	tracker *finnhub.Tracker,
	ch *pkgch.Client,
) (*datasource.Registry, error) {
	hc := xhttp.NewClient(
		xhttp.WithTimeout(cfg.Data.Timeout),
		xhttp.WithUserAgent(cfg.App.Name+"/"+cfg.App.Version),
	)
	limiter := ratelimit.New(ratelimit.Limit{})
	limiter.Configure("binance", ratelimit.Limit{RPS: cfg.Data.Binance.RPS, Burst: cfg.Data.Binance.Burst})
	limiter.Configure("yahoo", ratelimit.Limit{RPS: cfg.Data.Yahoo.RPS, Burst: cfg.Data.Yahoo.Burst})
	limiter.Configure("finnhub", ratelimit.Limit{RPS: cfg.Data.Finnhub.RPS, Burst: cfg.Data.Finnhub.Burst})

	breaker := datasource.BreakerConfig{
		MaxFailures:      cfg.Data.Breaker.MaxFailures,
		OpenTimeout:      cfg.Data.Breaker.OpenTimeout,
		HalfOpenRequests: cfg.Data.Breaker.HalfOpenRequests,
	}
	guard := func(s repository.DataSource) repository.DataSource {
		return datasource.NewGuard(s, limiter, breaker, lgr)
	}

	reg := datasource.NewRegistry(
		guard(datasource.NewBinance(cfg.Data.Binance.BaseURL, hc)),
		guard(datasource.NewYahoo(cfg.Data.Yahoo.BaseURL, hc)),
	)
	if cfg.Data.Finnhub.APIKey != "" {
		var pt datasource.PriceTracker
		if tracker != nil {
			pt = tracker
		}
		reg.Register(guard(datasource.NewFinnhub(cfg.Data.Finnhub.BaseURL, cfg.Data.Finnhub.APIKey, hc, pt, cfg.Data.Finnhub.MaxPriceAge)))
	}
	if ch != nil {
		src, err := internalrepo.NewCHCandleSource(ch, candleTable(cfg))
		if err != nil {
			return nil, err
		}
		src.SetLogger(lgr)
		reg.Register(guard(src))
	}
	return reg, nil
}

// ProvideClassifier builds the configured classifier wrapped with timeouts and
// retries.
func ProvideClassifier(cfg *config.Config, lgr *applogger.Logger) (service.Classifier, error) {
	cc := cfg.Classifier
	reg := classifier.NewRegistry()
	reg.Register("gemini", func() (service.Classifier, error) {
		if cc.APIKey == "" {
			return nil, errs.Config("classifier.api_key (GEMINI_API_KEY) is required for gemini")
		}
		return classifier.NewGeminiClassifier(classifier.GeminiConfig{
			APIKey:      cc.APIKey,
			Model:       cc.Model,
			BaseURL:     cc.BaseURL,
			Temperature: cc.Temperature,
			Timeout:     cc.RequestTimeout,
		}), nil
	})
	reg.Register("rules", func() (service.Classifier, error) {
		return classifier.NewRuleClassifier(), nil
	})

	inner, err := reg.Build(cc.Provider)
	if err != nil {
		return nil, err
	}
	return classifier.NewRetrying(inner, classifier.RetryConfig{
		RequestTimeout: cc.RequestTimeout,
		MaxRetries:     cc.MaxRetries,
		Initial:        cc.RetryInitial,
		Max:            cc.RetryMax,
	}, lgr), nil
}

// ProvideDelivery builds the enabled sinks and the retrying fan-out channel.
func ProvideDelivery(
	cfg *config.Config,
	lgr *applogger.Logger,
	m repository.Metrics,
	producer *pkgkafka.Producer,
) (*delivery.Channel, error) {
	dc := cfg.Delivery
	format := delivery.NewFormatter(delivery.MentionConfig{
		Mode:  cfg.Signal.Mention.Mode,
		Value: cfg.Signal.Mention.Value,
	}, cfg.App.Timezone)
	hc := xhttp.NewClient(xhttp.WithTimeout(dc.Timeout), xhttp.WithUserAgent(cfg.App.Name+"/"+cfg.App.Version))

	var sinks []service.Sink
	if dc.Discord.Enabled {
		if dc.Discord.WebhookURL == "" {
			return nil, errs.Config("delivery.discord.webhook_url is required")
		}
		sinks = append(sinks, delivery.NewDiscordSink(delivery.DiscordConfig{
			WebhookURL: dc.Discord.WebhookURL,
			Username:   dc.Discord.Username,
			Embeds:     dc.Discord.Embeds,
		}, hc, format))
	}
	if dc.Slack.Enabled || dc.Slack.Token != "" {
		if dc.Slack.Token == "" || dc.Slack.Channel == "" {
			return nil, errs.Config("delivery.slack needs token and channel")
		}
		sinks = append(sinks, delivery.NewSlackSink(delivery.SlackConfig{
			Token:   dc.Slack.Token,
			Channel: dc.Slack.Channel,
			APIURL:  dc.Slack.APIURL,
		}, &http.Client{Timeout: dc.Timeout}, format))
	}
	if dc.Telegram.Enabled || dc.Telegram.Token != "" {
		if dc.Telegram.Token == "" || dc.Telegram.ChatID == "" {
			return nil, errs.Config("delivery.telegram needs token and chat_id")
		}
		sinks = append(sinks, delivery.NewTelegramSink(delivery.TelegramConfig{
			Token:  dc.Telegram.Token,
			ChatID: dc.Telegram.ChatID,
			APIURL: dc.Telegram.APIURL,
		}, hc, format))
	}
	if dc.Kafka.Enabled {
		if producer == nil {
			return nil, errs.Config("delivery.kafka needs kafka.brokers")
		}
		sinks = append(sinks, delivery.NewKafkaSink(producer, dc.Kafka.Topic))
	}
	if dc.Log.Enabled || len(sinks) == 0 {
		if len(sinks) == 0 {
			lgr.Warn("no delivery sinks configured, signals are only logged")
		}
		sinks = append(sinks, delivery.NewLogSink(lgr, format))
	}

	return delivery.NewChannel(sinks, delivery.ChannelConfig{
		Retries:      dc.Retries,
		RetryInitial: dc.RetryInitial,
		RetryMax:     dc.RetryMax,
		Timeout:      dc.Timeout,
	}, m, lgr), nil
}

// ProvidePipeline creates the fetch, compute and classify pipeline.
func ProvidePipeline(
	cfg *config.Config,
	sources *datasource.Registry,
	cls service.Classifier,
	m repository.Metrics,
	lgr *applogger.Logger,
) *usecase.SignalPipeline {
	return usecase.NewSignalPipeline(sources, features.NewPipeline(), cls, m, lgr, usecase.PipelineConfig{
		DefaultBars: cfg.Data.Bars,
		Headlines:   cfg.Signal.Headlines,
		Timezone:    cfg.App.Timezone,
	})
}

// ProvideHealthRegistry creates the job status registry.
func ProvideHealthRegistry(cfg *config.Config) *health.Registry {
	return health.NewRegistry(cfg.Scheduler.HistorySize)
}

// ProvideScheduler creates the scheduler with one job per enabled source.
func ProvideScheduler(
	cfg *config.Config,
	specs []models.AssetJobSpec,
	pipeline *usecase.SignalPipeline,
	ch *delivery.Channel,
	registry *health.Registry,
	state repository.StateStore,
	store repository.SignalStore,
	m repository.Metrics,
	lgr *applogger.Logger,
) (*usecase.Scheduler, error) {
	sc := cfg.Scheduler
	var opts []usecase.SchedulerOption
	if store != nil {
		opts = append(opts, usecase.WithSignalStore(store))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return usecase.NewScheduler(ctx, usecase.SchedulerConfig{
		Align:      sc.Align,
		RunTimeout: sc.RunTimeout,
		StopGrace:  sc.StopGrace,
		Backoff: retry.Policy{
			Initial:    sc.Backoff.Initial,
			Multiplier: sc.Backoff.Multiplier,
			Max:        sc.Backoff.Max,
		},
		BackoffThreshold: sc.Backoff.Threshold,
		HeartbeatPolicy:  cfg.Heartbeat.Policy,
		HeartbeatWindow:  cfg.Heartbeat.Window,
		DegradedStreak:   cfg.Heartbeat.DegradedStreak,
		MentionThreshold: cfg.Signal.MentionThreshold,
		DefaultInterval:  cfg.Data.DefaultInterval,
		DefaultProvider:  cfg.Data.DefaultProvider,
		DefaultBars:      cfg.Data.Bars,
	}, specs, pipeline, ch, registry, state, m, lgr, opts...)
}

// ProvideTriggerQueue starts a Redis work queue for webhook triggers when
// both Redis and the queue are enabled.
func ProvideTriggerQueue(cfg *config.Config, rc *cache.RedisCache, sched *usecase.Scheduler, lgr *applogger.Logger) *queue.RedisQueue {
	if rc == nil || !cfg.Queue.Enabled {
		return nil
	}
	q := queue.NewRedisQueue(lgr, &queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	}, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":triggers"))
	q.RegisterJob(usecase.NewTriggerJob(sched))
	return q
}

// ProvideSignalsHandler creates the HTTP handler.
func ProvideSignalsHandler(
	cfg *config.Config,
	lgr *applogger.Logger,
	sched *usecase.Scheduler,
	registry *health.Registry,
	q *queue.RedisQueue,
) *api.SignalsHandler {
	var enq api.Enqueuer
	if q != nil {
		enq = q
	}
	return api.NewSignalsHandler(lgr, sched, registry, enq, api.Config{
		Name:          cfg.App.Name,
		Version:       cfg.App.Version,
		AllowWebhook:  cfg.TradingView.AllowWebhook,
		WebhookSecret: cfg.TradingView.Secret,
		TriggerLimit:  ratelimit.Limit{RPS: cfg.Trigger.RPS, Burst: cfg.Trigger.Burst},
	})
}

// ProvideHTTPServer creates the echo server.
func ProvideHTTPServer(cfg *config.Config, lgr *applogger.Logger, h *api.SignalsHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{h},
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(lgr),
	)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	lgr *applogger.Logger,
	sched *usecase.Scheduler,
	srv *xhttp.Server,
	q *queue.RedisQueue,
	tracker *finnhub.Tracker,
) *server.App {
	return server.New(cfg, lgr, sched, srv, q, tracker)
}
