// Package manager implements the Monitor Manager (spec §4.F): the
// top-level driver that keeps the Session Registry fresh, owns one
// rewind.Monitor per live playback_id, feeds each a tick on every
// cadence pass, and drains pushed events and timeline polls in between.
// Grounded on the teacher's internal/poller/poller.go run loop (ticker
// + consumeUpdates-before-poll ordering).
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rewindwatch/internal/diag"
	"rewindwatch/internal/eventbus"
	"rewindwatch/internal/model"
	"rewindwatch/internal/registry"
	"rewindwatch/internal/rewind"
	"rewindwatch/internal/timeline"
)

// Dispatcher is the subset of *dispatch.Dispatcher a Monitor needs;
// re-declared here (identical to rewind.CommandSender) so this package
// doesn't have to import dispatch just to name the type in New's
// signature — kept as an alias for clarity at call sites.
type Dispatcher = rewind.CommandSender

// Manager owns the monitor set and the tick loop. It satisfies
// suture.Service (Serve(ctx) error) so the Connection Supervisor can
// run it as a supervised child alongside the Event Listener.
type Manager struct {
	registry   *registry.Registry
	bus        *eventbus.Bus
	poller     *timeline.Poller
	dispatcher Dispatcher
	cfg        model.Config
	log        zerolog.Logger
	metrics    *diag.Metrics

	mu       sync.Mutex
	monitors map[string]*rewind.Monitor
}

// New builds a Manager. metrics may be nil.
func New(reg *registry.Registry, bus *eventbus.Bus, poller *timeline.Poller, dispatcher Dispatcher, cfg model.Config, log zerolog.Logger, metrics *diag.Metrics) *Manager {
	return &Manager{
		registry:   reg,
		bus:        bus,
		poller:     poller,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log.With().Str("component", "manager").Logger(),
		metrics:    metrics,
		monitors:   make(map[string]*rewind.Monitor),
	}
}

// Serve runs the registry-refresh/tick loop until ctx is cancelled. A
// returned error means the upstream server listing became unreachable
// in a way the registry itself couldn't route around; the Connection
// Supervisor's suture tree decides whether/how to restart from there.
func (m *Manager) Serve(ctx context.Context) error {
	events, err := m.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(m.activeCadence())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdownAll(context.Background())
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.onPushPlaying(ev)

		case now := <-ticker.C:
			if err := m.registry.Refresh(ctx, now); err != nil {
				m.log.Warn().Err(err).Msg("registry refresh failed")
				continue
			}
			for _, id := range m.registry.RetireIfStale(now) {
				m.onRetire(ctx, id)
			}
			// Timeline polling happens inside this same tick, not on an
			// independent ticker: spec §4.C folds the poll into refresh,
			// and §5 gives the registry exactly one writer, the tick
			// loop. Tying it to this ticker also means poll cadence
			// backs off to idle_tick_period along with everything else.
			m.poller.PollAll(ctx, m.devices(), m.onTimelineResult)
			m.tickAll(ctx)
			ticker.Reset(m.activeCadence())
		}
	}
}

// activeCadence is active_tick_period while any monitor is outside
// IDLE, idle_tick_period otherwise. Monitors enter WATCHING when they
// are created, so any tracked session selects the active cadence;
// neither the session's playback state nor user_enabled_subs is
// consulted.
func (m *Manager) activeCadence() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mon := range m.monitors {
		if mon.State().Phase != rewind.Idle {
			return m.cfg.ActiveTickPeriod
		}
	}
	return m.cfg.IdleTickPeriod
}

func (m *Manager) devices() []timeline.Device {
	sessions := m.registry.List()
	out := make([]timeline.Device, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, timeline.Device{
			PlaybackID: s.PlaybackID,
			MachineID:  s.MachineID,
			DeviceName: s.DeviceName,
			DirectURL:  s.DirectURL,
		})
	}
	return out
}

func (m *Manager) onTimelineResult(playbackID string, snap *model.TimelineSnapshot) {
	m.registry.ApplyTimelineSnapshot(playbackID, *snap)
}

// onPushPlaying folds a pushed `playing` event into the registry
// immediately, ahead of the next tick pass, per spec §4.D/§4.F.
func (m *Manager) onPushPlaying(ev model.PlayingEvent) {
	m.registry.ApplyPushEvent(ev)
}

// onRetire tears down a monitor whose session has left the registry,
// force-offing any open TEMP_ON cycle first (spec §3 lifecycle).
func (m *Manager) onRetire(ctx context.Context, playbackID string) {
	m.mu.Lock()
	mon, ok := m.monitors[playbackID]
	if ok {
		delete(m.monitors, playbackID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if sess, found := m.registry.Get(playbackID); found {
		mon.Destroy(ctx, sess)
	}
}

// tickAll feeds every live session's current snapshot through its
// monitor, creating monitors for sessions seen for the first time.
func (m *Manager) tickAll(ctx context.Context) {
	sessions := m.registry.List()
	rMaxMs := m.cfg.MaxRewindWindow.Milliseconds()

	m.metrics.SetActiveSessions(len(sessions))

	for _, sess := range sessions {
		mon := m.monitorFor(sess)
		before := mon.State().Phase
		mon.Tick(ctx, sess, rMaxMs)
		if before != rewind.TempOn && mon.State().Phase == rewind.TempOn {
			m.metrics.RewindDetected()
		}
	}
}

func (m *Manager) monitorFor(sess model.PlaybackSession) *rewind.Monitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	mon, ok := m.monitors[sess.PlaybackID]
	if ok {
		return mon
	}
	mon = rewind.New(sess, m.cfg, m.dispatcher, m.registry, m.log)
	m.monitors[sess.PlaybackID] = mon
	if pref := mon.Preferred(); pref != nil {
		m.registry.SetPreferredSubtitle(sess.PlaybackID, pref)
	}
	return mon
}

// shutdownAll force-offs every monitor with an open TEMP_ON cycle, best
// effort, on process shutdown (spec §4.G: "On shutdown... any currently
// TEMP_ON monitor is force-offed on a best-effort basis").
func (m *Manager) shutdownAll(ctx context.Context) {
	m.mu.Lock()
	snapshot := make(map[string]*rewind.Monitor, len(m.monitors))
	for id, mon := range m.monitors {
		snapshot[id] = mon
	}
	m.mu.Unlock()

	for id, mon := range snapshot {
		sess, ok := m.registry.Get(id)
		if !ok {
			continue
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		mon.Destroy(shutdownCtx, sess)
		cancel()
	}
}
