package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/wledsync/internal/show"
)

const (
	defaultConcurrency = 8
	defaultQueueSize   = 256
	defaultRetries     = 2
	defaultBackoff     = 100 * time.Millisecond
	defaultTimeout     = 2 * time.Second
	defaultRateLimit   = 50.0
)

// ApplyFunc delivers one action to one endpoint of a controller. The wled
// and hue clients are wired in as backends keyed by controller type.
type ApplyFunc func(ctx context.Context, endpoint string, ctrl *show.Controller, action show.Action) error

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	Concurrency  int           // max simultaneous endpoint commands
	QueueSize    int           // outcome queue capacity
	Retries      int           // extra attempts after the first failed pass
	RetryBackoff time.Duration // pause between attempt passes
	Timeout      time.Duration // overall deadline per controller command
	RateLimit    float64       // commands per second across the facade
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.Retries < 0 {
		o.Retries = defaultRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultBackoff
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.RateLimit <= 0 {
		o.RateLimit = defaultRateLimit
	}
	return o
}

// Engine is the live Dispatcher. Each controller of a dispatched cue gets
// its own goroutine gated by a semaphore and a facade-wide rate limiter, so
// one slow or unreachable device can neither stall the tick loop nor starve
// the rest of the target.
type Engine struct {
	backends map[show.ControllerType]ApplyFunc
	opts     Options

	limiter  *rate.Limiter
	sem      chan struct{}
	outcomes chan Outcome

	wg        sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once
}

// NewEngine creates a live dispatch engine.
func NewEngine(backends map[show.ControllerType]ApplyFunc, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		backends: backends,
		opts:     opts,
		limiter:  rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Concurrency),
		sem:      make(chan struct{}, opts.Concurrency),
		outcomes: make(chan Outcome, opts.QueueSize),
		closing:  make(chan struct{}),
	}
}

// Dispatch fans the cue out to all controllers of the target and returns
// immediately. Failure of one controller never affects delivery to the
// others.
func (e *Engine) Dispatch(ctx context.Context, eventTime time.Duration, cue show.Cue) {
	select {
	case <-e.closing:
		log.Warn().
			Float64("event_time", eventTime.Seconds()).
			Str("target", cue.Target.Ref).
			Msg("Dispatcher closing, dropping cue")
		return
	default:
	}

	for _, ctrl := range cue.Target.Controllers {
		e.wg.Add(1)
		go e.deliver(ctx, eventTime, cue.Target.Ref, ctrl, cue.Action)
	}
}

// Outcomes returns the outcome stream. The channel is never closed; the
// drain loop exits with its context.
func (e *Engine) Outcomes() <-chan Outcome {
	return e.outcomes
}

// deliver runs the full retry/failover policy for a single controller.
func (e *Engine) deliver(ctx context.Context, eventTime time.Duration, target string, ctrl *show.Controller, action show.Action) {
	defer e.wg.Done()

	outcome := Outcome{
		ID:         uuid.New(),
		EventTime:  eventTime,
		Target:     target,
		Controller: ctrl.ID,
		Action:     action.String(),
	}
	start := time.Now()

	// Concurrency gate. Waiting here delays this command, never the tick.
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return
	case <-e.closing:
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		return
	}

	backend, ok := e.backends[ctrl.Type]
	if !ok {
		// Impossible after topology validation; kept as a defensive
		// internal error so one broken cue cannot stop the show.
		outcome.Status = StatusFailed
		outcome.Err = fmt.Errorf("no backend for controller type %q", ctrl.Type)
		outcome.Elapsed = time.Since(start)
		log.Error().Str("controller", string(ctrl.ID)).Str("type", string(ctrl.Type)).
			Msg("No dispatch backend for controller type")
		emit(e.outcomes, outcome)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= e.opts.Retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(e.opts.RetryBackoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				lastErr = ctx.Err()
				goto done
			}
		}
		outcome.Attempts = attempt + 1

		// Redundant URLs for the same device are tried in order within
		// one attempt; any reachable endpoint satisfies the command.
		for _, endpoint := range ctrl.URLs {
			outcome.Endpoint = endpoint
			lastErr = backend(ctx, endpoint, ctrl, action)
			if lastErr == nil {
				outcome.Status = StatusSuccess
				outcome.Elapsed = time.Since(start)
				emit(e.outcomes, outcome)
				return
			}
			log.Debug().Err(lastErr).
				Str("controller", string(ctrl.ID)).
				Str("endpoint", endpoint).
				Int("attempt", attempt+1).
				Msg("Endpoint attempt failed")
			if ctx.Err() != nil {
				goto done
			}
		}
	}

done:
	outcome.Status = StatusFailed
	outcome.Err = lastErr
	outcome.Elapsed = time.Since(start)
	emit(e.outcomes, outcome)
}

// Close stops accepting new work and waits for in-flight deliveries until
// the context expires. Stragglers finish in the background and their
// outcomes are discarded along with the queue.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		close(e.closing)
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Dispatch engine drained")
		return nil
	case <-ctx.Done():
		log.Warn().Msg("Dispatch engine shutdown timed out, abandoning in-flight commands")
		return ctx.Err()
	}
}
