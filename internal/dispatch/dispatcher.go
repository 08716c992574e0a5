// Package dispatch implements the Command Dispatcher (spec §4.A): the
// single place that issues subtitle-stream changes, serialized through
// a single-permit "no-collision gate" and routed primary-then-secondary
// on failure. Grounded in Design Notes §9 ("Command gate: a
// single-permit semaphore; poll-class requests use a different client
// so they cannot starve each other") using golang.org/x/sync/semaphore,
// the way the teacher already depends on golang.org/x/sync elsewhere.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"rewindwatch/internal/diag"
	"rewindwatch/internal/model"
	"rewindwatch/internal/plexapi"
)

// Commander is the subset of plexapi.Client the dispatcher needs.
type Commander interface {
	SetSubtitleStream(ctx context.Context, r plexapi.SetStreamRequest) error
}

// Result is the {ok | failure(reason)} outcome from spec §4.A.
type Result struct {
	OK     bool
	Reason error
}

func ok() Result             { return Result{OK: true} }
func failure(err error) Result { return Result{Reason: err} }

// Dispatcher serializes all outgoing control commands. Poll-class GETs
// never touch this type — they use plexapi.Client directly with the
// poll-class http.Client.
type Dispatcher struct {
	client       Commander
	gate         *semaphore.Weighted
	retryLimiter *rate.Limiter
	preferDirect bool
	log          zerolog.Logger
	metrics      *diag.Metrics
}

// New builds a Dispatcher. preferDirect selects which route is primary:
// true sends to the device directly first and falls back to the
// server; false is the reverse. Either way, the other route is tried
// exactly once when the primary fails with a retryable error (anything
// except ErrUnauthorized). A device with no DirectURL has only the
// server route, so its failures are not retried. metrics may be nil.
func New(client Commander, preferDirect bool, log zerolog.Logger, metrics *diag.Metrics) *Dispatcher {
	return &Dispatcher{
		client:       client,
		gate:         semaphore.NewWeighted(1),
		retryLimiter: rate.NewLimiter(5, 1), // paces fallback-route attempts so a flurry of failures doesn't hammer the secondary route
		preferDirect: preferDirect,
		log:          log.With().Str("component", "dispatch").Logger(),
		metrics:      metrics,
	}
}

// SetSubtitleStream issues one "set stream" command, serialized against
// every other command across all sessions (spec §5: "at most one
// control command is in flight at a time").
func (d *Dispatcher) SetSubtitleStream(ctx context.Context, session model.PlaybackSession, commandID, streamIDOrZero string) Result {
	res := d.setSubtitleStream(ctx, session, commandID, streamIDOrZero)
	d.metrics.CommandResult(res.OK)
	return res
}

func (d *Dispatcher) setSubtitleStream(ctx context.Context, session model.PlaybackSession, commandID, streamIDOrZero string) Result {
	if err := d.gate.Acquire(ctx, 1); err != nil {
		return failure(fmt.Errorf("dispatch: acquiring command gate: %w", err))
	}
	defer d.gate.Release(1)

	primary, secondary := d.routes(session)

	err := d.send(ctx, session, commandID, streamIDOrZero, primary)
	if err == nil {
		return ok()
	}
	if !isRetryable(err) {
		d.log.Warn().Err(err).Str("playback_id", session.PlaybackID).Msg("command failed, not retryable")
		return failure(err)
	}

	d.log.Debug().Err(err).Str("playback_id", session.PlaybackID).Msg("primary route failed, retrying secondary once")
	if secondary.noRoute {
		return failure(err)
	}
	if werr := d.retryLimiter.Wait(ctx); werr != nil {
		return failure(fmt.Errorf("dispatch: waiting for retry pacing: %w", werr))
	}
	if err2 := d.send(ctx, session, commandID, streamIDOrZero, secondary); err2 != nil {
		return failure(fmt.Errorf("both routes failed: primary=%w secondary=%v", err, err2))
	}
	return ok()
}

type route struct {
	direct  bool
	noRoute bool
}

// routes decides which side is primary per the preferDirect flag, and
// whether a secondary route even exists (a device with no DirectURL
// has no direct route to fall back to).
func (d *Dispatcher) routes(session model.PlaybackSession) (primary, secondary route) {
	hasDirect := session.DirectURL != ""
	if d.preferDirect {
		if !hasDirect {
			return route{direct: false}, route{noRoute: true}
		}
		return route{direct: true}, route{direct: false}
	}
	if !hasDirect {
		return route{direct: false}, route{noRoute: true}
	}
	return route{direct: false}, route{direct: true}
}

func (d *Dispatcher) send(ctx context.Context, session model.PlaybackSession, commandID, streamID string, r route) error {
	return d.client.SetSubtitleStream(ctx, plexapi.SetStreamRequest{
		MachineID:        session.MachineID,
		DeviceName:       session.DeviceName,
		DirectURL:        session.DirectURL,
		SubtitleStreamID: streamID,
		Direct:           r.direct,
		CommandID:        commandID,
	})
}

func isRetryable(err error) bool {
	return errors.Is(err, plexapi.ErrOtherHTTP) ||
		errors.Is(err, plexapi.ErrMaintenance) ||
		errors.Is(err, plexapi.ErrTransport) ||
		errors.Is(err, plexapi.ErrNotFound)
}
