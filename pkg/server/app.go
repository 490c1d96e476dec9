package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalPulse/internal/service/finnhub"
	"SignalPulse/internal/usecase"
	"SignalPulse/pkg/config"
	xhttp "SignalPulse/pkg/http"
	applogger "SignalPulse/pkg/logger"
	"SignalPulse/pkg/queue"

	"go.uber.org/multierr"
)

// App encapsulates the application lifecycle.
type App struct {
	cfg        *config.Config
	logger     *applogger.Logger
	scheduler  *usecase.Scheduler
	httpServer *xhttp.Server
	queue      *queue.RedisQueue
	tracker    *finnhub.Tracker

	streamWG sync.WaitGroup
	cancel   context.CancelFunc
}

// New creates an App. queue and tracker may be nil.
func New(
	cfg *config.Config,
	lgr *applogger.Logger,
	sched *usecase.Scheduler,
	srv *xhttp.Server,
	q *queue.RedisQueue,
	tracker *finnhub.Tracker,
) *App {
	return &App{
		cfg:        cfg,
		logger:     lgr,
		scheduler:  sched,
		httpServer: srv,
		queue:      q,
		tracker:    tracker,
	}
}

// Scheduler exposes the scheduler for one-shot commands.
func (a *App) Scheduler() *usecase.Scheduler { return a.scheduler }

// Logger returns the app logger.
func (a *App) Logger() *applogger.Logger { return a.logger }

// Run starts every component and blocks until ctx is cancelled, then shuts
// down gracefully.
func (a *App) Run(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.tracker != nil {
		a.streamWG.Add(1)
		go func() {
			defer a.streamWG.Done()
			a.tracker.Run(streamCtx)
		}()
		a.logger.Info("finnhub price stream started")
	}

	if a.queue != nil {
		if err := a.queue.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("start trigger queue: %w", err)
		}
	}

	if err := a.httpServer.Start(); err != nil {
		cancel()
		return fmt.Errorf("start http server: %w", err)
	}

	if a.cfg.Scheduler.AutoStart {
		if err := a.scheduler.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		a.logger.Info("scheduler auto_start disabled, waiting for POST /schedule/start")
	}

	a.logger.Info("signalpulse running",
		applogger.String("addr", a.httpServer.Addr()),
		applogger.Strings("jobs", a.scheduler.Jobs()))

	<-ctx.Done()
	a.logger.Info("shutdown signal received")
	return a.Shutdown()
}

// Shutdown stops the scheduler first so in-flight runs finish, then the
// queue, the HTTP server and the price stream.
func (a *App) Shutdown() error {
	budget := a.cfg.Scheduler.StopGrace + a.cfg.Server.ShutdownTimeout + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	var err error
	if serr := a.scheduler.Stop(ctx); serr != nil {
		err = multierr.Append(err, serr)
	}
	if a.queue != nil {
		if qerr := a.queue.Stop(ctx); qerr != nil && !errors.Is(qerr, context.Canceled) {
			err = multierr.Append(err, qerr)
		}
	}
	if herr := a.httpServer.Stop(ctx); herr != nil {
		err = multierr.Append(err, herr)
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.streamWG.Wait()

	if err != nil {
		a.logger.Error("shutdown finished with errors", applogger.Error(err))
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}
