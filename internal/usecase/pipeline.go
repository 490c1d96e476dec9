package usecase

import (
	"context"
	"fmt"
	"time"

	"SignalPulse/internal/domain/errs"
	"SignalPulse/internal/domain/models"
	drepo "SignalPulse/internal/domain/repository"
	dsvc "SignalPulse/internal/domain/service"
	"SignalPulse/pkg/logger"
)

// SourceResolver returns the data source registered for a provider kind.
type SourceResolver interface {
	Get(kind string) (drepo.DataSource, error)
	Supports(kind, interval string) bool
}

// Analysis is the product of fetch, compute and classify for one run.
type Analysis struct {
	Window   models.CandleWindow
	Features models.FeatureVector
	Price    float64
	Signal   *models.Signal
}

// PipelineConfig carries prompt context shared by all jobs.
type PipelineConfig struct {
	DefaultBars int
	Headlines   []string
	Timezone    string
}

// SignalPipeline runs the data source, indicator and classifier stages.
type SignalPipeline struct {
	sources    SourceResolver
	indicators dsvc.IndicatorPipeline
	classifier dsvc.Classifier
	metrics    drepo.Metrics
	logger     *logger.Logger
	cfg        PipelineConfig
}

// NewSignalPipeline creates a pipeline.
func NewSignalPipeline(
	sources SourceResolver,
	indicators dsvc.IndicatorPipeline,
	classifier dsvc.Classifier,
	metrics drepo.Metrics,
	lgr *logger.Logger,
	cfg PipelineConfig,
) *SignalPipeline {
	if cfg.DefaultBars <= 0 {
		cfg.DefaultBars = 300
	}
	return &SignalPipeline{
		sources:    sources,
		indicators: indicators,
		classifier: classifier,
		metrics:    metrics,
		logger:     lgr,
		cfg:        cfg,
	}
}

// Analyze fetches candles for spec, computes features and classifies them.
// Errors carry the taxonomy kind of the failing stage.
func (p *SignalPipeline) Analyze(ctx context.Context, spec models.AssetJobSpec, contextLink string) (*Analysis, error) {
	src, err := p.sources.Get(spec.Provider)
	if err != nil {
		return nil, err
	}

	bars := spec.Bars
	if bars <= 0 {
		bars = p.cfg.DefaultBars
	}
	if need := p.indicators.MinBars(); bars < need {
		bars = need
	}

	start := time.Now()
	window, err := src.FetchCandles(ctx, spec.Symbol, spec.Interval, bars)
	p.metrics.RecordStage("fetch", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch candles: %w", err)
	}

	start = time.Now()
	feats, err := p.indicators.Compute(window)
	p.metrics.RecordStage("compute", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("compute indicators: %w", err)
	}

	price, err := src.CurrentPrice(ctx, spec.Symbol)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("current price: %w", err)
		}
		last, _ := window.Last()
		price = last.Close
		p.logger.Warn("current price unavailable, using last close",
			logger.String("symbol", spec.Symbol),
			logger.String("kind", string(errs.KindOf(err))),
			logger.Error(err))
	}
	p.metrics.RecordLastPrice(spec.Symbol, price)

	link := contextLink
	if link == "" {
		link = spec.ContextLink
	}
	req := models.ClassifyRequest{
		Symbol:      spec.Symbol,
		Interval:    spec.Interval,
		Features:    feats,
		Price:       price,
		Candles:     window.Candles,
		Headlines:   p.cfg.Headlines,
		ContextLink: link,
		Timezone:    p.cfg.Timezone,
	}

	start = time.Now()
	sig, err := p.classifier.Classify(ctx, req)
	p.metrics.RecordStage("classify", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	return &Analysis{Window: window, Features: feats, Price: price, Signal: sig}, nil
}

// Price returns the current price for spec, used by standalone heartbeats.
func (p *SignalPipeline) Price(ctx context.Context, spec models.AssetJobSpec) (float64, error) {
	src, err := p.sources.Get(spec.Provider)
	if err != nil {
		return 0, err
	}
	return src.CurrentPrice(ctx, spec.Symbol)
}

// Supports reports whether the provider serves interval.
func (p *SignalPipeline) Supports(provider, interval string) bool {
	return p.sources.Supports(provider, interval)
}

// outcomeOf maps a run error to its record outcome. The run context is checked
// first, because stages wrap context errors in their own kinds.
func outcomeOf(runCtx context.Context, err error) models.Outcome {
	if err == nil {
		return models.OutcomeSuccess
	}
	switch runCtx.Err() {
	case context.DeadlineExceeded:
		return models.OutcomeTimeout
	case context.Canceled:
		return models.OutcomeCancelled
	}
	switch errs.KindOf(err) {
	case errs.KindDataUnavailable, errs.KindRateLimited, errs.KindProvider, errs.KindInsufficientData, errs.KindConfig:
		return models.OutcomeDataError
	case errs.KindClassifier, errs.KindClassifierTimeout, errs.KindClassifierRateLimited:
		return models.OutcomeClassifyError
	case errs.KindDeliveryFailed:
		return models.OutcomeDeliverError
	case errs.KindTimeout:
		return models.OutcomeTimeout
	case errs.KindCancelled:
		return models.OutcomeCancelled
	default:
		return models.OutcomeDataError
	}
}
