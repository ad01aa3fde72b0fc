package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/greenroute/fleetlink/internal/metrics"
	"github.com/greenroute/fleetlink/internal/model"
)

// UpdateSource fetches pending envelopes from the server.
type UpdateSource interface {
	PollUpdates(ctx context.Context) ([]model.Envelope, error)
}

// EnvelopeHandler receives polled envelopes.
type EnvelopeHandler interface {
	HandleEnvelope(env model.Envelope)
}

// HandlerFunc is a function adapter for EnvelopeHandler.
type HandlerFunc func(model.Envelope)

func (f HandlerFunc) HandleEnvelope(env model.Envelope) {
	f(env)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Poll interval (default: 3s)
	Timeout  time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 3 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Poller periodically fetches updates over plain HTTP.
type Poller struct {
	cfg     Config
	source  UpdateSource
	handler EnvelopeHandler
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	warnedOnce bool
}

// New creates a new Poller.
func New(cfg Config, source UpdateSource, handler EnvelopeHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger,
	}
}

// Start begins the polling loop. Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.run(runCtx)

	p.logger.Info("http polling started", "interval", p.cfg.Interval)

	return nil
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("http polling stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll performs one fetch cycle.
func (p *Poller) poll(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	envs, err := p.source.PollUpdates(reqCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.PollErrors.Inc()
		p.logFailure(err)
		return
	}

	for _, env := range envs {
		if ctx.Err() != nil {
			return
		}
		p.handler.HandleEnvelope(env)
	}

	if len(envs) > 0 {
		p.logger.Debug("poll cycle complete", "updates", len(envs))
	}
}

// logFailure warns on the first failure and logs repeats at debug.
func (p *Poller) logFailure(err error) {
	if !p.warnedOnce {
		p.warnedOnce = true
		p.logger.Warn("polling request failed", "error", err)
		return
	}
	p.logger.Debug("polling request failed", "error", err)
}
