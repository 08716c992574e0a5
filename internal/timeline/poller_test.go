package timeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewindwatch/internal/model"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

type fakeClient struct {
	mu    sync.Mutex
	calls int
	snap  *model.TimelineSnapshot
	err   error
}

func (f *fakeClient) PollTimeline(_ context.Context, _, _, _ string) (*model.TimelineSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.snap, f.err
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPoller_Poll_NoDirectURLIsNotAnError(t *testing.T) {
	client := &fakeClient{}
	p := New(client, testLogger())
	snap := p.Poll(context.Background(), "m1", "TV", "")
	assert.Nil(t, snap)
	assert.Equal(t, 0, client.callCount())
}

func TestPoller_Poll_ReturnsSnapshotOnSuccess(t *testing.T) {
	want := &model.TimelineSnapshot{TimeMs: 42000}
	client := &fakeClient{snap: want}
	p := New(client, testLogger())

	got := p.Poll(context.Background(), "m1", "TV", "http://device:1")
	require.NotNil(t, got)
	assert.Equal(t, int64(42000), got.TimeMs)
}

func TestPoller_Poll_ErrorYieldsNilWithoutPanicking(t *testing.T) {
	client := &fakeClient{err: errors.New("device unreachable")}
	p := New(client, testLogger())

	snap := p.Poll(context.Background(), "m1", "TV", "http://device:1")
	assert.Nil(t, snap)
	assert.Equal(t, 1, client.callCount())
}

func TestPoller_Poll_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	client := &fakeClient{err: errors.New("device unreachable")}
	p := New(client, testLogger())

	for i := 0; i < 5; i++ {
		snap := p.Poll(context.Background(), "m1", "TV", "http://device:1")
		assert.Nil(t, snap)
	}
	require.Equal(t, 5, client.callCount())

	// Breaker should now be open: further polls are skipped entirely,
	// so the underlying client is not called again.
	for i := 0; i < 3; i++ {
		snap := p.Poll(context.Background(), "m1", "TV", "http://device:1")
		assert.Nil(t, snap)
	}
	assert.Equal(t, 5, client.callCount(), "breaker should short-circuit further calls")
}

func TestPoller_Poll_BreakersAreIndependentPerDevice(t *testing.T) {
	client := &fakeClient{err: errors.New("device unreachable")}
	p := New(client, testLogger())

	for i := 0; i < 5; i++ {
		p.Poll(context.Background(), "m1", "TV", "http://device:1")
	}
	require.Equal(t, 5, client.callCount())

	// A different machineID gets its own breaker and still calls through.
	snap := p.Poll(context.Background(), "m2", "Phone", "http://device:2")
	assert.Nil(t, snap)
	assert.Equal(t, 6, client.callCount())
}

func TestPoller_PollAll_CallsOnResultForEachDevice(t *testing.T) {
	client := &fakeClient{snap: &model.TimelineSnapshot{TimeMs: 1000}}
	p := New(client, testLogger())

	var mu sync.Mutex
	results := make(map[string]int64)

	devices := []Device{
		{PlaybackID: "pb-1", MachineID: "m1", DeviceName: "TV", DirectURL: "http://device:1"},
		{PlaybackID: "pb-2", MachineID: "m2", DeviceName: "Phone", DirectURL: "http://device:2"},
	}

	p.PollAll(context.Background(), devices, func(playbackID string, snap *model.TimelineSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		results[playbackID] = snap.TimeMs
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(1000), results["pb-1"])
	assert.Equal(t, int64(1000), results["pb-2"])
	assert.Equal(t, 2, client.callCount())
}

func TestPoller_PollAll_SkipsOnResultWhenSnapshotIsNil(t *testing.T) {
	client := &fakeClient{err: errors.New("no signal")}
	p := New(client, testLogger())

	calls := 0
	devices := []Device{
		{PlaybackID: "pb-1", MachineID: "m1", DeviceName: "TV", DirectURL: "http://device:1"},
	}

	p.PollAll(context.Background(), devices, func(string, *model.TimelineSnapshot) {
		calls++
	})
	assert.Equal(t, 0, calls)
}

func TestPoller_PollAll_SkipsDevicesWithNoDirectURL(t *testing.T) {
	client := &fakeClient{snap: &model.TimelineSnapshot{TimeMs: 500}}
	p := New(client, testLogger())

	devices := []Device{
		{PlaybackID: "pb-1", MachineID: "m1", DeviceName: "TV", DirectURL: ""},
		{PlaybackID: "pb-2", MachineID: "m2", DeviceName: "Phone", DirectURL: "http://device:2"},
	}

	calls := 0
	p.PollAll(context.Background(), devices, func(playbackID string, snap *model.TimelineSnapshot) {
		calls++
		assert.Equal(t, "pb-2", playbackID)
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, client.callCount())
}
