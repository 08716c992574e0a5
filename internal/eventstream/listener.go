package eventstream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"rewindwatch/internal/diag"
	"rewindwatch/internal/eventbus"
)

// Streamer is the subset of plexapi.Client the listener depends on —
// narrowed so tests can fake it without standing up an HTTP server.
type Streamer interface {
	EventStream(ctx context.Context) (io.ReadCloser, error)
}

// Listener maintains the long-lived SSE connection (spec §4.D) and
// republishes decoded `playing` events onto the shared Bus. It
// satisfies suture.Service (Serve(ctx) error): one Serve call is one
// connection attempt, and the Connection Supervisor's suture tree is
// what supplies the bounded-backoff restart loop (Design Notes §9).
type Listener struct {
	client  Streamer
	bus     *eventbus.Bus
	log     zerolog.Logger
	metrics *diag.Metrics
}

// New builds a Listener over client, publishing decoded events to bus.
// metrics may be nil.
func New(client Streamer, bus *eventbus.Bus, log zerolog.Logger, metrics *diag.Metrics) *Listener {
	return &Listener{client: client, bus: bus, log: log.With().Str("component", "eventstream").Logger(), metrics: metrics}
}

// Serve opens one SSE connection and reads it until ctx is cancelled
// (clean shutdown, returns nil) or the stream ends unexpectedly
// (returns a non-nil error so the supervising suture tree restarts it
// with backoff).
func (l *Listener) Serve(ctx context.Context) error {
	l.metrics.ListenerReconnect()
	body, err := l.client.EventStream(ctx)
	if err != nil {
		return fmt.Errorf("eventstream: connect: %w", err)
	}
	defer body.Close()

	l.log.Info().Msg("event stream connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			body.Close() // unblocks the read within the listener's socket timeout
		case <-done:
		}
	}()

	next := ScanFrames(body)
	for {
		frame, ok, err := next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn().Err(err).Msg("event stream disconnected unexpectedly")
			return err
		}
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			l.log.Warn().Msg("event stream closed by peer")
			return errors.New("eventstream: stream closed by peer")
		}

		ev, decErr := Decode(frame)
		if decErr != nil {
			l.log.Debug().Err(decErr).Str("event", frame.Event).Msg("dropping malformed frame")
			continue
		}
		if ev.Kind == KindPlaying && ev.Playing != nil {
			if err := l.bus.Publish(*ev.Playing); err != nil {
				l.log.Error().Err(err).Msg("publishing playing event")
			}
		}
	}
}
