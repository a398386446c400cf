package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// Alerter is the secondary channel used when a synchronous write cannot be
// confirmed in time.
type Alerter interface {
	Alert(ctx context.Context, ev Event, cause error)
}

// AlertFunc adapts a function to Alerter.
type AlertFunc func(ctx context.Context, ev Event, cause error)

func (f AlertFunc) Alert(ctx context.Context, ev Event, cause error) { f(ctx, ev, cause) }

// LogAlerter reports pending writes through the process logger.
type LogAlerter struct {
	Log zerolog.Logger
}

func (a LogAlerter) Alert(_ context.Context, ev Event, cause error) {
	a.Log.Error().
		Err(cause).
		Str("event_id", ev.ID).
		Uint64("seq", ev.Seq).
		Str("severity", ev.Severity.String()).
		Str("event_type", string(ev.Type)).
		Bool("blocked", ev.Blocked).
		Msg("audit write pending")
}

// Alerts fans out to several alerters.
type Alerts []Alerter

func (as Alerts) Alert(ctx context.Context, ev Event, cause error) {
	for _, a := range as {
		a.Alert(ctx, ev, cause)
	}
}
