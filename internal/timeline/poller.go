// Package timeline implements the Timeline Poller (spec §4.B): on-demand
// per-device polling of a device's direct timeline endpoint. Grounded on
// the teacher's internal/poller/poller.go snapshot-then-publish shape,
// adapted from "poll every tracked server" to "poll every tracked
// device" — and, per spec §4.C/§5, driven by the Monitor Manager's own
// tick loop rather than an independent ticker, so the registry keeps a
// single writer and poll cadence always matches active/idle tick period.
package timeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"rewindwatch/internal/model"
)

// Client is the subset of plexapi.Client the poller needs.
type Client interface {
	PollTimeline(ctx context.Context, machineID, deviceName, directURL string) (*model.TimelineSnapshot, error)
}

// Poller polls a device's DirectURL on demand and hands each result (or
// miss) to the caller. A gobreaker.CircuitBreaker per machineID stops
// hammering a device app that has stopped responding: after a run of
// timeouts the breaker opens and PollTimeline is skipped entirely for a
// cooldown window, matching spec §4.B's "a timeout...is expected and not
// an error" while still bounding how often we retry a closed app.
type Poller struct {
	client Client
	log    zerolog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*model.TimelineSnapshot]
}

// New builds a Poller.
func New(client Client, log zerolog.Logger) *Poller {
	return &Poller{
		client:   client,
		log:      log.With().Str("component", "timeline").Logger(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[*model.TimelineSnapshot]),
	}
}

func (p *Poller) breakerFor(machineID string) *gobreaker.CircuitBreaker[*model.TimelineSnapshot] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.breakers[machineID]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker[*model.TimelineSnapshot](gobreaker.Settings{
		Name:        "timeline-" + machineID,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.log.Info().Str("device", name).Str("from", from.String()).Str("to", to.String()).Msg("timeline breaker state change")
		},
	})
	p.breakers[machineID] = b
	return b
}

// Poll fetches one snapshot for a single device, going through that
// device's circuit breaker. A nil, nil result means "no usable sample
// this tick" (closed app, open breaker, or a server-side miss) and is
// not logged as an error — spec §4.B treats timeouts as routine.
func (p *Poller) Poll(ctx context.Context, machineID, deviceName, directURL string) *model.TimelineSnapshot {
	if directURL == "" {
		return nil
	}
	b := p.breakerFor(machineID)
	snap, err := b.Execute(func() (*model.TimelineSnapshot, error) {
		s, err := p.client.PollTimeline(ctx, machineID, deviceName, directURL)
		if err == nil && s == nil {
			// The client reports a timeout or unreachable device as
			// (nil, nil); count it as a breaker failure all the same.
			return nil, errors.New("timeline: no usable sample")
		}
		return s, err
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			p.log.Debug().Str("device", deviceName).Msg("timeline breaker open, skipping poll")
		}
		return nil
	}
	return snap
}

// PollAll polls every device once, synchronously, handing each non-nil
// result to onResult before returning. Called from the Monitor Manager's
// own tick loop (spec §4.C: the poll happens inside refresh) rather than
// on an independent ticker, so the Session Registry keeps its single
// writer (spec §5) and poll cadence always tracks active_tick_period /
// idle_tick_period.
func (p *Poller) PollAll(ctx context.Context, devices []Device, onResult func(playbackID string, snap *model.TimelineSnapshot)) {
	for _, d := range devices {
		snap := p.Poll(ctx, d.MachineID, d.DeviceName, d.DirectURL)
		if snap != nil {
			onResult(d.PlaybackID, snap)
		}
	}
}

// Device is the minimal addressing info the poller needs for one
// tracked session; the Monitor Manager derives these from the Session
// Registry's current listing each tick.
type Device struct {
	PlaybackID string
	MachineID  string
	DeviceName string
	DirectURL  string
}
