package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewindwatch/internal/dispatch"
	"rewindwatch/internal/eventbus"
	"rewindwatch/internal/model"
	"rewindwatch/internal/registry"
	"rewindwatch/internal/timeline"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

type fakeLister struct {
	mu       sync.Mutex
	sessions []model.PlaybackSession
}

func (f *fakeLister) ListSessions(_ context.Context) ([]model.PlaybackSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.PlaybackSession, len(f.sessions))
	copy(out, f.sessions)
	return out, nil
}

func (f *fakeLister) set(sessions []model.PlaybackSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = sessions
}

type fakeSender struct {
	mu    sync.Mutex
	calls []string // streamIDOrZero, per call
}

func (f *fakeSender) SetSubtitleStream(_ context.Context, _ model.PlaybackSession, _ string, streamIDOrZero string) dispatch.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, streamIDOrZero)
	return dispatch.Result{OK: true}
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSender) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func newTestManager(lister *fakeLister, sender *fakeSender, cfg model.Config) *Manager {
	reg := registry.New(lister, cfg.GracePeriod, testLogger())
	bus := eventbus.New(testLogger())
	poller := timeline.New(&noopTimelineClient{}, testLogger())
	return New(reg, bus, poller, sender, cfg, testLogger(), nil)
}

// noopTimelineClient stands in for the plexapi.Client the poller would
// otherwise hit; these tests call tickAll directly and never go through
// Serve's ticker, so the poller's PollAll is never even invoked.
type noopTimelineClient struct{}

func (noopTimelineClient) PollTimeline(context.Context, string, string, string) (*model.TimelineSnapshot, error) {
	return nil, nil
}

func TestManager_TickAllCreatesMonitorForNewSession(t *testing.T) {
	lister := &fakeLister{sessions: []model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 120000},
	}}
	sender := &fakeSender{}
	cfg := model.Defaults()

	m := newTestManager(lister, sender, cfg)
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())

	m.mu.Lock()
	_, ok := m.monitors["pb-1"]
	m.mu.Unlock()
	assert.True(t, ok)
	assert.Empty(t, sender.calls, "first tick just establishes the baseline position, no command yet")
}

func TestManager_TickAllReusesMonitorAcrossTicks(t *testing.T) {
	lister := &fakeLister{sessions: []model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 120000},
	}}
	sender := &fakeSender{}
	cfg := model.Defaults()

	m := newTestManager(lister, sender, cfg)
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())

	m.mu.Lock()
	first := m.monitors["pb-1"]
	m.mu.Unlock()

	m.tickAll(context.Background())

	m.mu.Lock()
	second := m.monitors["pb-1"]
	m.mu.Unlock()

	assert.Same(t, first, second)
}

func TestManager_TickAllDrivesRewindThroughToReachOriginal(t *testing.T) {
	lister := &fakeLister{sessions: []model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 120000},
	}}
	sender := &fakeSender{}
	cfg := model.Defaults()

	m := newTestManager(lister, sender, cfg)
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background()) // establishes latest=120000

	lister.set([]model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 112000},
	})
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())
	require.Equal(t, 1, sender.callCount())
	assert.Equal(t, "2", sender.lastCall())

	lister.set([]model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 121500},
	})
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())
	require.Equal(t, 2, sender.callCount())
	assert.Equal(t, "0", sender.lastCall())
}

func TestManager_ActiveCadenceReflectsTempOnMonitor(t *testing.T) {
	lister := &fakeLister{sessions: []model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 120000},
	}}
	sender := &fakeSender{}
	cfg := model.Defaults()

	m := newTestManager(lister, sender, cfg)
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())
	assert.Equal(t, cfg.IdleTickPeriod, m.activeCadence(), "nothing rewound yet")

	lister.set([]model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 112000},
	})
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())
	assert.Equal(t, cfg.ActiveTickPeriod, m.activeCadence(), "a TEMP_ON monitor demands active cadence")
}

func TestManager_OnRetireForcesOffOpenTempOnSession(t *testing.T) {
	lister := &fakeLister{sessions: []model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 120000},
	}}
	sender := &fakeSender{}
	cfg := model.Defaults()

	m := newTestManager(lister, sender, cfg)
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())

	lister.set([]model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 112000},
	})
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())
	require.Equal(t, 1, sender.callCount())

	m.onRetire(context.Background(), "pb-1")
	require.Equal(t, 2, sender.callCount())
	assert.Equal(t, "0", sender.lastCall())

	m.mu.Lock()
	_, ok := m.monitors["pb-1"]
	m.mu.Unlock()
	assert.False(t, ok)
}

func TestManager_ShutdownAllForcesOffEveryOpenMonitor(t *testing.T) {
	lister := &fakeLister{sessions: []model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 120000},
	}}
	sender := &fakeSender{}
	cfg := model.Defaults()

	m := newTestManager(lister, sender, cfg)
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())

	lister.set([]model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 112000},
	})
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())
	require.Equal(t, 1, sender.callCount())

	m.shutdownAll(context.Background())
	require.Equal(t, 2, sender.callCount())
	assert.Equal(t, "0", sender.lastCall())
}

// TestManager_DisconnectAndResumePreservesTempOnAcrossListenerGap
// reproduces a disconnect-and-resume: the monitor goes TEMP_ON while the
// push channel is effectively down (nothing arrives on the bus, the
// manager only ever sees progress through registry.Refresh/tickAll, the
// same path a restarted Event Listener's subsequent reconnect would feed
// once it starts delivering again), and the eventual forward tick that
// crosses back over the pre-rewind high-water mark still disables subs.
func TestManager_DisconnectAndResumePreservesTempOnAcrossListenerGap(t *testing.T) {
	lister := &fakeLister{sessions: []model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 120000},
	}}
	sender := &fakeSender{}
	cfg := model.Defaults()

	m := newTestManager(lister, sender, cfg)
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())

	lister.set([]model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 112000},
	})
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())
	require.Equal(t, 1, sender.callCount())

	m.mu.Lock()
	mon := m.monitors["pb-1"]
	m.mu.Unlock()
	require.True(t, mon.State().TempSubsOn, "still temp-on mid-rewind when the listener gap starts")

	// Simulate the listener being down for several ticks: no push events,
	// only registry polls, which still keep the position moving forward
	// via the fallback listing path.
	for _, pos := range []int64{114000, 116000, 118000} {
		lister.set([]model.PlaybackSession{
			{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: pos},
		})
		require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
		m.tickAll(context.Background())
	}
	require.Equal(t, 1, sender.callCount(), "still inside the rewound region, no new command yet")
	assert.True(t, mon.State().TempSubsOn)

	// The listener "reconnects" (irrelevant to this path: the manager
	// never distinguishes push-fed vs poll-fed progress) and position
	// crosses back over the pre-rewind high-water mark of 120000.
	lister.set([]model.PlaybackSession{
		{PlaybackID: "pb-1", AvailableSubs: []model.SubtitleStream{{ID: "2"}}, ViewOffsetMs: 121500},
	})
	require.NoError(t, m.registry.Refresh(context.Background(), time.Now()))
	m.tickAll(context.Background())

	require.Equal(t, 2, sender.callCount())
	assert.Equal(t, "0", sender.lastCall())
	assert.False(t, mon.State().TempSubsOn)
}
