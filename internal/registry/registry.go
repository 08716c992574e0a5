// Package registry implements the Session Registry (spec §4.C): the
// single source of truth for which playback sessions currently exist,
// refreshed by periodic server-listing polls and kept fresh in between
// by pushed `playing` events, with a grace period before a
// vanished-from-the-listing session is actually retired. Grounded on
// the teacher's internal/poller/poller.go session map (sync.RWMutex
// guarded map, snapshot-then-reconcile apply pattern).
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rewindwatch/internal/model"
)

// Lister is the subset of plexapi.Client the registry needs.
type Lister interface {
	ListSessions(ctx context.Context) ([]model.PlaybackSession, error)
}

// entry wraps a session with the bookkeeping the registry itself needs;
// none of this leaks to callers of List.
type entry struct {
	session     model.PlaybackSession
	lastSeenAt  time.Time
	missingSince *time.Time // nil while the session was present in the last refresh
}

// Registry holds the current set of playback sessions, keyed by
// PlaybackID. Safe for concurrent use.
type Registry struct {
	client       Lister
	gracePeriod  time.Duration
	log          zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// New builds an empty Registry.
func New(client Lister, gracePeriod time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		client:      client,
		gracePeriod: gracePeriod,
		log:         log.With().Str("component", "registry").Logger(),
		entries:     make(map[string]*entry),
	}
}

// List returns a snapshot of every currently tracked session. Safe to
// retain; entries are copied, not shared.
func (r *Registry) List() []model.PlaybackSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.PlaybackSession, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.session)
	}
	return out
}

// Get returns one session by playback_id.
func (r *Registry) Get(playbackID string) (model.PlaybackSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[playbackID]
	if !ok {
		return model.PlaybackSession{}, false
	}
	return e.session, true
}

// Refresh polls the server's session listing and reconciles it against
// the current set (spec §4.C): sessions present in the listing are
// updated or newly added; sessions absent start (or continue) their
// grace-period countdown instead of disappearing immediately, since a
// single missed poll shouldn't tear down a live monitor.
func (r *Registry) Refresh(ctx context.Context, now time.Time) error {
	fresh, err := r.client.ListSessions(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(fresh))
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sess := range fresh {
		seen[sess.PlaybackID] = struct{}{}
		if existing, ok := r.entries[sess.PlaybackID]; ok {
			sess.PreferredSubtitle = existing.session.PreferredSubtitle
			sess.KnownSubsOn = existing.session.KnownSubsOn
			existing.session = sess
			existing.lastSeenAt = now
			existing.missingSince = nil
			continue
		}
		r.entries[sess.PlaybackID] = &entry{session: sess, lastSeenAt: now}
		r.log.Info().Str("playback_id", sess.PlaybackID).Str("device", sess.DeviceName).Msg("session discovered")
	}

	for id, e := range r.entries {
		if _, ok := seen[id]; ok {
			continue
		}
		if e.missingSince == nil {
			e.missingSince = &now
			continue
		}
	}
	return nil
}

// ApplyPushEvent folds one decoded `playing` server-sent event into the
// matching session's position, per spec §4.C, and clears any pending
// retirement since a push event proves the session is still alive.
func (r *Registry) ApplyPushEvent(event model.PlayingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[event.PlaybackID]
	if !ok {
		return
	}
	e.session.ViewOffsetMs = event.ViewOffset
	e.missingSince = nil
}

// ApplyTimelineSnapshot folds one device's timeline poll result into the
// session it belongs to (spec §4.B/§4.C): AccurateTimeMs and the
// server-reported subtitle state both come from this path.
func (r *Registry) ApplyTimelineSnapshot(playbackID string, snap model.TimelineSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[playbackID]
	if !ok {
		return
	}
	t := snap.TimeMs
	e.session.AccurateTimeMs = &t
	if snap.SubsOn() {
		e.session.KnownSubsOn = model.Yes
	} else {
		e.session.KnownSubsOn = model.No
	}
}

// SetPreferredSubtitle records the PreferencePolicy's choice for a
// session, computed once by the Rewind Monitor at creation.
func (r *Registry) SetPreferredSubtitle(playbackID string, sub *model.SubtitleStream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[playbackID]; ok {
		e.session.PreferredSubtitle = sub
	}
}

// SetKnownSubsOnUnknown satisfies rewind.KnownSubsRecorder: the Rewind
// Monitor calls this right after any successful enable/disable command,
// per spec §4.A ("It does set the caller's known_subs_on to unknown on
// success"). The next timeline poll's ApplyTimelineSnapshot call
// reconciles it back to Yes/No.
func (r *Registry) SetKnownSubsOnUnknown(playbackID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[playbackID]; ok {
		e.session.KnownSubsOn = model.Unknown
	}
}

// RetireIfStale removes sessions whose grace period has elapsed and
// returns their playback_ids, so the Monitor Manager can tear down
// their monitors (force-off, then forget). Spec §4.C: "a session
// missing from N consecutive polls spanning at least grace_period is
// retired."
func (r *Registry) RetireIfStale(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var retired []string
	for id, e := range r.entries {
		if e.missingSince == nil {
			continue
		}
		if now.Sub(*e.missingSince) >= r.gracePeriod {
			retired = append(retired, id)
			delete(r.entries, id)
			r.log.Info().Str("playback_id", id).Msg("session retired")
		}
	}
	return retired
}
