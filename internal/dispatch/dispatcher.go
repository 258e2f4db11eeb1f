// Package dispatch delivers scheduled commands to controller endpoints with
// bounded concurrency, retries and per-controller failure isolation.
package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/show"
)

// Dispatcher realizes one cue against every controller of its resolved
// target. Dispatch is fire-and-forget: it must return without waiting for
// the network, and delivery results surface only on the outcome stream.
// The scheduler holds this interface, so the dry-run facade is a drop-in
// substitution rather than a separate code path.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventTime time.Duration, cue show.Cue)
	Outcomes() <-chan Outcome
	Close(ctx context.Context) error
}

// DryRun is a logging-only Dispatcher. It selects and reports exactly the
// same commands as the live engine but never touches the network and always
// reports success.
type DryRun struct {
	outcomes chan Outcome
}

// NewDryRun creates a dry-run dispatcher.
func NewDryRun(queueSize int) *DryRun {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &DryRun{outcomes: make(chan Outcome, queueSize)}
}

// Dispatch logs each would-be command and reports a dry-run outcome per
// controller.
func (d *DryRun) Dispatch(_ context.Context, eventTime time.Duration, cue show.Cue) {
	for _, ctrl := range cue.Target.Controllers {
		endpoint := ""
		if len(ctrl.URLs) > 0 {
			endpoint = ctrl.URLs[0]
		}
		log.Info().
			Float64("event_time", eventTime.Seconds()).
			Str("target", cue.Target.Ref).
			Str("controller", string(ctrl.ID)).
			Str("action", cue.Action.String()).
			Msg("[dry-run] would dispatch")

		emit(d.outcomes, Outcome{
			ID:         uuid.New(),
			EventTime:  eventTime,
			Target:     cue.Target.Ref,
			Controller: ctrl.ID,
			Endpoint:   endpoint,
			Action:     cue.Action.String(),
			Status:     StatusDryRun,
			Attempts:   0,
		})
	}
}

// Outcomes returns the outcome stream.
func (d *DryRun) Outcomes() <-chan Outcome {
	return d.outcomes
}

// Close is immediate; a dry-run has no in-flight work.
func (d *DryRun) Close(context.Context) error {
	return nil
}

// emit reports an outcome without ever blocking the producer. When the
// queue is full the outcome is dropped with a warning, matching how the
// event bus sheds load elsewhere in the daemon.
func emit(outcomes chan<- Outcome, o Outcome) {
	select {
	case outcomes <- o:
	default:
		log.Warn().
			Str("controller", string(o.Controller)).
			Str("outcome", string(o.Status)).
			Msg("Outcome queue full, dropping record")
	}
}
