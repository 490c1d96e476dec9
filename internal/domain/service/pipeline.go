package service

import (
	"context"

	"SignalPulse/internal/domain/models"
)

// IndicatorPipeline turns a candle window into features. Compute must be pure.
type IndicatorPipeline interface {
	Compute(window models.CandleWindow) (models.FeatureVector, error)
	MinBars() int
}

// Classifier asks a model for a trading signal.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, req models.ClassifyRequest) (*models.Signal, error)
}

// Sink posts a message to one outbound destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg models.Message) error
}

// Delivery delivers a message to all configured sinks.
type Delivery interface {
	Deliver(ctx context.Context, msg models.Message) error
}
