// Package model holds the data shapes shared by every component of the
// rewind-on-subtitles pipeline: playback sessions, subtitle descriptors,
// and the tri-valued "are subs on" signal the rest of the system reasons
// about.
package model

import "time"

// TriState mirrors the source server's habit of sometimes not knowing an
// answer at all, distinct from a definite "no".
type TriState int

const (
	Unknown TriState = iota
	Yes
	No
)

// SubtitleStream describes one subtitle track on a PlaybackSession. It is
// immutable for the lifetime of the session it belongs to.
type SubtitleStream struct {
	ID         string
	Title      string
	Language   string
	IsExternal bool
	Selected   bool
}

// DisplayTitle is the string the PreferencePolicy matches patterns
// against: title and language joined so a pattern like "english sdh" can
// match across both fields the way a player's on-screen label would.
func (s SubtitleStream) DisplayTitle() string {
	if s.Language == "" {
		return s.Title
	}
	if s.Title == "" {
		return s.Language
	}
	return s.Title + " " + s.Language
}

// PlaybackSession is one active playback on one device, keyed by
// PlaybackID. See spec §3 for the field-level invariants; registry.Registry
// is the sole writer.
type PlaybackSession struct {
	PlaybackID       string
	DeviceName       string
	MachineID        string
	MediaTitle       string
	DirectURL        string
	AvailableSubs    []SubtitleStream
	ActiveSubs       []SubtitleStream
	PreferredSubtitle *SubtitleStream
	ViewOffsetMs     int64
	AccurateTimeMs   *int64
	KnownSubsOn      TriState
	LastSeenEpochMs  *int64
}

// HasAccurateTime reports whether the last timeline poll for this
// session's device returned a usable video entry.
func (s *PlaybackSession) HasAccurateTime() bool { return s.AccurateTimeMs != nil }

// BestPosition returns AccurateTimeMs when present, else ViewOffsetMs —
// the "best available position" the Monitor Manager feeds to a tick.
func (s *PlaybackSession) BestPosition() int64 {
	if s.AccurateTimeMs != nil {
		return *s.AccurateTimeMs
	}
	return s.ViewOffsetMs
}

// TimelineSnapshot is the result of one Timeline Poller call: the
// highest-resolution position available for a device plus its current
// subtitle selection.
type TimelineSnapshot struct {
	TimeMs           int64
	SubtitleStreamID string // "" or "0" means "no subs"
	State            string
}

// SubsOn reports whether the timeline's subtitle id denotes an enabled
// track, per spec §6 ("subtitleStreamID": empty, "0", or a positive id).
func (t TimelineSnapshot) SubsOn() bool {
	return t.SubtitleStreamID != "" && t.SubtitleStreamID != "0"
}

// PlayingEvent is the decoded payload of a `playing` server-sent event.
type PlayingEvent struct {
	SessionKey string
	PlaybackID string
	ViewOffset int64
	State      string
	ReceivedAt time.Time
}
