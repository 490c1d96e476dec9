package delivery

import (
    "context"

    "SignalPulse/internal/domain/models"
    "SignalPulse/pkg/logger"
)

// LogSink writes rendered messages to the application log.
type LogSink struct {
    logger *logger.Logger
    format *Formatter
}

func NewLogSink(lgr *logger.Logger, format *Formatter) *LogSink {
    return &LogSink{logger: lgr, format: format}
}

func (l *LogSink) Name() string { return "log" }

func (l *LogSink) Send(_ context.Context, msg models.Message) error {
    r := l.format.Render(msg)
    l.logger.Info(r.Title,
        logger.String("kind", string(msg.Kind)),
        logger.String("job", msg.JobKey),
        logger.Bool("mention", msg.Mention),
        logger.String("text", r.Text()))
    return nil
}
