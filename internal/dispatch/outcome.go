package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/wledsync/internal/show"
)

// Status classifies the result of one controller delivery.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusDryRun  Status = "dry_run"
)

// Outcome is the structured result of delivering one command to one
// controller. Outcomes are reported on a bounded queue and logged; they
// never travel back to the scheduling loop as errors.
type Outcome struct {
	ID         uuid.UUID
	EventTime  time.Duration
	Target     string
	Controller show.ControllerID
	Endpoint   string
	Action     string
	Status     Status
	Attempts   int
	Elapsed    time.Duration
	Err        error
}

// LogOutcomes drains an outcome channel into the log until the channel is
// closed or the context is cancelled. Failures are warnings naming the
// controller and action; they are never crashes.
func LogOutcomes(ctx context.Context, outcomes <-chan Outcome) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-outcomes:
			if !ok {
				return
			}
			logOutcome(o)
		}
	}
}

func logOutcome(o Outcome) {
	var evt *zerolog.Event
	switch o.Status {
	case StatusFailed:
		evt = log.Warn().Err(o.Err)
	case StatusDryRun:
		evt = log.Info()
	default:
		evt = log.Debug()
	}
	evt.
		Str("dispatch_id", o.ID.String()).
		Float64("event_time", o.EventTime.Seconds()).
		Str("target", o.Target).
		Str("controller", string(o.Controller)).
		Str("endpoint", o.Endpoint).
		Str("action", o.Action).
		Str("outcome", string(o.Status)).
		Int("attempts", o.Attempts).
		Dur("elapsed", o.Elapsed).
		Msg("Dispatch outcome")
}
