// Package rewind implements the per-session rewind state machine
// (spec §4.E), the heart of the system. state.go is the pure core:
// Tick takes a State, a tick's position sample, and Constants, and
// returns the next State plus the Action the caller must perform. No
// I/O, no locking — the impure Monitor in monitor.go is the only thing
// that calls a dispatcher, per Design Notes §9.
package rewind

import "rewindwatch/internal/model"

// Phase is the three-way sum type from spec §4.E.
type Phase int

const (
	Idle Phase = iota
	Watching
	TempOn
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case Watching:
		return "WATCHING"
	case TempOn:
		return "TEMP_ON"
	default:
		return "UNKNOWN"
	}
}

// State is RewindMonitorState from spec §3.
type State struct {
	Phase                Phase
	UserEnabledSubs      bool
	LatestWatchedMs      int64
	PreviousPositionMs   int64
	TempSubsOn           bool
	SmallestResolutionMs int64
}

// Constants bundles the per-session thresholds derived from
// Configuration (spec §4.E). The resolution (eps) is not part of it; it
// lives on State as SmallestResolutionMs.
type Constants struct {
	RMaxMs          int64
	FFMarginMs      int64
	RewindTriggerMs int64
}

const defaultFFMarginMs = 2000
const defaultRewindTriggerMs = 2000

// DefaultConstants builds Constants from the configured max rewind
// window and the fixed fast-forward margin and rewind trigger.
func DefaultConstants(rMaxMs int64) Constants {
	return Constants{
		RMaxMs:          rMaxMs,
		FFMarginMs:      defaultFFMarginMs,
		RewindTriggerMs: defaultRewindTriggerMs,
	}
}

// NewState runs the setup pass from spec §4.E: snapshot the initial
// position as both the high-water mark and the previous sample, latch
// user_enabled_subs from the session's current subtitle state, and
// enter WATCHING.
func NewState(initialPositionMs int64, knownSubsOn model.TriState, activeSubsNonEmpty bool, smallestResolutionMs int64) State {
	return State{
		Phase:                Watching,
		UserEnabledSubs:      knownSubsOn == model.Yes || activeSubsNonEmpty,
		LatestWatchedMs:      initialPositionMs,
		PreviousPositionMs:   initialPositionMs,
		SmallestResolutionMs: smallestResolutionMs,
	}
}

// Action is what the Monitor must do after a Tick call.
type Action int

const (
	ActionNone Action = iota
	ActionEnable
	ActionReachOriginal
	ActionForceOff
)

// TickInput is one sample fed to the state machine.
type TickInput struct {
	PositionMs        int64
	ActiveSubsEmpty   bool
	KnownSubsOn       model.TriState
}

// eps is the minimum meaningful difference given available telemetry —
// always the session's own SmallestResolutionMs, which the Monitor sets
// before each tick (see effectiveResolution in monitor.go).
func (s State) eps() int64 { return s.SmallestResolutionMs }

// Tick applies one sample to s and returns the next state and the
// action the caller must perform. This is the exact transition table
// from spec §4.E numbered 1-4; order matters.
func Tick(s State, in TickInput, c Constants) (State, Action) {
	eps := s.eps()

	switch {
	case s.UserEnabledSubs:
		// 1. User driving: track forward progress, never command.
		s.LatestWatchedMs = in.PositionMs
		if in.ActiveSubsEmpty && in.KnownSubsOn != model.Unknown {
			s.UserEnabledSubs = false
		}
		s.PreviousPositionMs = in.PositionMs
		return s, ActionNone

	case s.Phase == TempOn:
		switch {
		case in.PositionMs > s.LatestWatchedMs+eps+c.FFMarginMs:
			// Fast-forward detected: position has jumped well past the
			// pre-rewind high-water mark, not just caught up to it.
			s.LatestWatchedMs = in.PositionMs
			s.Phase = Watching
			s.PreviousPositionMs = in.PositionMs
			return s, ActionForceOff

		case in.PositionMs < s.LatestWatchedMs-c.RMaxMs:
			// Over-rewind detected.
			s.LatestWatchedMs = in.PositionMs
			s.Phase = Watching
			s.PreviousPositionMs = in.PositionMs
			return s, ActionForceOff

		case in.PositionMs > s.LatestWatchedMs+eps:
			// Caught up with the pre-rewind high-water mark.
			s.Phase = Watching
			s.PreviousPositionMs = in.PositionMs
			return s, ActionReachOriginal

		default:
			// Still inside the rewound region: no change.
			s.PreviousPositionMs = in.PositionMs
			return s, ActionNone
		}

	default: // Watching, user not driving.
		if in.PositionMs < s.LatestWatchedMs-c.RewindTriggerMs && !(in.PositionMs < s.LatestWatchedMs-c.RMaxMs) {
			s.Phase = TempOn
			s.PreviousPositionMs = in.PositionMs
			return s, ActionEnable
		}
		s.LatestWatchedMs = in.PositionMs
		s.PreviousPositionMs = in.PositionMs
		return s, ActionNone
	}
}
