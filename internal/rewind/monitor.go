package rewind

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rewindwatch/internal/dispatch"
	"rewindwatch/internal/model"
)

// CommandSender is the subset of *dispatch.Dispatcher a Monitor needs —
// narrowed to an interface so tests can substitute a fake without
// standing up HTTP.
type CommandSender interface {
	SetSubtitleStream(ctx context.Context, session model.PlaybackSession, commandID, streamIDOrZero string) dispatch.Result
}

// KnownSubsRecorder lets a Monitor record that it just issued a command,
// without importing the registry package directly. Spec §4.A: a
// successful enable/disable command sets the session's known_subs_on
// back to unknown until the next timeline observation reconciles it —
// *Registry satisfies this via SetKnownSubsOnUnknown.
type KnownSubsRecorder interface {
	SetKnownSubsOnUnknown(playbackID string)
}

// defaultResolutionMs is the resolution used when the active tick
// period is not positive. effectiveResolution otherwise returns the
// active tick period, whether or not the session has an accurate
// timeline position.
const defaultResolutionMs = 1000

// Monitor is the impure per-session wrapper around the pure State
// machine: it owns the dispatcher call, the PreferencePolicy choice
// made at creation, and the failure semantics of spec §4.E.
type Monitor struct {
	PlaybackID string
	state      State
	dispatcher CommandSender
	recorder   KnownSubsRecorder
	log        zerolog.Logger

	preferred *model.SubtitleStream
	noSubs    bool // true when the session had zero available subtitles at creation
}

// New runs the setup pass (spec §4.E) and resolves PreferencePolicy
// once, at session creation. A playback_id change (new episode on the
// same device) always gets a fresh Monitor with its own New call, so
// the preference is recomputed — see DESIGN.md's Open Question
// resolution. recorder may be nil, in which case known_subs_on is never
// reset to unknown (fine for tests that don't assert on it).
func New(session model.PlaybackSession, cfg model.Config, dispatcher CommandSender, recorder KnownSubsRecorder, log zerolog.Logger) *Monitor {
	activeSubsNonEmpty := len(session.ActiveSubs) > 0
	resolution := effectiveResolution(cfg.ActiveTickPeriod.Milliseconds(), session)

	m := &Monitor{
		PlaybackID: session.PlaybackID,
		state:      NewState(session.BestPosition(), session.KnownSubsOn, activeSubsNonEmpty, resolution),
		dispatcher: dispatcher,
		recorder:   recorder,
		log:        log.With().Str("component", "rewind").Str("playback_id", session.PlaybackID).Logger(),
	}

	if len(session.AvailableSubs) == 0 {
		m.noSubs = true
		return m
	}
	m.preferred = ChoosePreferred(session.AvailableSubs, cfg.PositivePatterns(), cfg.NegativePatterns(), cfg.PreferExternalSubs)
	return m
}

func effectiveResolution(activeTickMs int64, session model.PlaybackSession) int64 {
	if session.HasAccurateTime() && activeTickMs > 0 {
		return activeTickMs
	}
	if activeTickMs > 0 {
		return activeTickMs
	}
	return defaultResolutionMs
}

// State exposes a read-only copy for diagnostics/tests.
func (m *Monitor) State() State { return m.state }

// Preferred exposes the PreferencePolicy's resolved choice, nil when
// the session had no subtitles at creation.
func (m *Monitor) Preferred() *model.SubtitleStream { return m.preferred }

// Tick feeds one position sample through the state machine and
// performs whatever action it prescribes. Any error while reading or
// acting is logged and swallowed — spec §4.E: "An exception within a
// single tick is caught and logged; the tick returns without updating
// state."
func (m *Monitor) Tick(ctx context.Context, session model.PlaybackSession, rMaxMs int64) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("recovered from panic during tick, state unchanged")
		}
	}()

	in := TickInput{
		PositionMs:      session.BestPosition(),
		ActiveSubsEmpty: len(session.ActiveSubs) == 0,
		KnownSubsOn:     session.KnownSubsOn,
	}
	m.state.SmallestResolutionMs = effectiveResolution(m.state.SmallestResolutionMs, session)
	c := DefaultConstants(rMaxMs)

	next, action := Tick(m.state, in, c)

	switch action {
	case ActionEnable:
		if m.enable(ctx, session) {
			// next.TempSubsOn is set here, on the state we are about to
			// commit, rather than on the stale m.state the helper was
			// called with — enable/reachOriginal never touch m.state
			// themselves, so a successful dispatch is never silently
			// discarded by this assignment.
			next.TempSubsOn = true
			m.state = next
		}
		// failure: state.Phase stays Watching — handled by not
		// committing `next` at all.
	case ActionReachOriginal:
		if m.reachOriginal(ctx, session, false) {
			next.TempSubsOn = false
			m.state = next
		} else {
			m.state.PreviousPositionMs = next.PreviousPositionMs
		}
	case ActionForceOff:
		if m.reachOriginal(ctx, session, true) {
			next.TempSubsOn = false
			m.state = next
		} else {
			m.state.PreviousPositionMs = next.PreviousPositionMs
		}
	default:
		m.state = next
	}
}

// enable performs the ActionEnable wire call. Returns true on success.
// Does not touch m.state itself — the caller decides what to commit.
func (m *Monitor) enable(ctx context.Context, session model.PlaybackSession) bool {
	if m.noSubs || m.preferred == nil {
		m.log.Debug().Msg("rewind detected but no subtitles available, no-op")
		return false
	}
	res := m.dispatcher.SetSubtitleStream(ctx, session, uuid.NewString(), m.preferred.ID)
	if !res.OK {
		m.log.Warn().Err(res.Reason).Msg("enable failed, remaining in WATCHING")
		return false
	}
	m.markUnknown(session.PlaybackID)
	m.log.Info().Str("stream_id", m.preferred.ID).Msg("rewind detected, subtitles enabled")
	return true
}

// reachOriginal performs the reach-original/force-off wire call (same
// setStream=0 call; forceOff only changes the log message, per
// spec §4.E.Actions). Does not touch m.state itself.
func (m *Monitor) reachOriginal(ctx context.Context, session model.PlaybackSession, forceOff bool) bool {
	res := m.dispatcher.SetSubtitleStream(ctx, session, uuid.NewString(), "0")
	if !res.OK {
		m.log.Warn().Err(res.Reason).Bool("force_off", forceOff).Msg("disable failed, staying in TEMP_ON")
		return false
	}
	m.markUnknown(session.PlaybackID)
	if forceOff {
		m.log.Info().Msg("force-off: fast-forward or over-rewind past caught-up window")
	} else {
		m.log.Info().Msg("caught up with pre-rewind position, subtitles disabled")
	}
	return true
}

// markUnknown records that a command was just dispatched successfully,
// per spec §4.A: known_subs_on becomes unknown until the next timeline
// poll reconciles it against what the device actually did.
func (m *Monitor) markUnknown(playbackID string) {
	if m.recorder == nil {
		return
	}
	m.recorder.SetKnownSubsOnUnknown(playbackID)
}

// Destroy tears the monitor down: if a temporary-on cycle is open, it
// force-offs before the caller removes the session, per spec §3
// RewindMonitorState lifecycle.
func (m *Monitor) Destroy(ctx context.Context, session model.PlaybackSession) {
	if !m.state.TempSubsOn {
		return
	}
	if m.reachOriginal(ctx, session, true) {
		m.state.TempSubsOn = false
	}
}
