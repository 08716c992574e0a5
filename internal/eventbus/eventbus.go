// Package eventbus is the in-process publish/subscribe backbone between
// the Event Listener (producer) and the Monitor Manager (consumer)
// described in Design Notes §9: "events are drained at tick boundaries
// so a burst of pushes cannot race the state machine." Built on
// watermill's in-memory gochannel implementation — grounded on
// tomtom215-cartographus's watermill usage, scoped down to the
// single-process pub/sub it ships (no NATS: this agent never
// reconciles across multiple servers, so there is nothing for a
// network broker to fan out to).
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"rewindwatch/internal/model"
)

const playingTopic = "playing"

// Bus carries PlayingEvent values from the listener to the manager.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// New builds a Bus. Buffer size matches the teacher's per-channel
// subscriber buffer convention (internal/poller.Subscribe uses 1; ours
// is a push stream so a slightly larger buffer absorbs bursts without
// blocking the listener's read loop).
func New(log zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, zerologAdapter{log}),
	}
}

// Publish fans a decoded Playing event out to subscribers. Never
// blocks the listener for long: gochannel delivery is buffered per the
// OutputChannelBuffer above.
func (b *Bus) Publish(ev model.PlayingEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventbus: marshal playing event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.pubsub.Publish(playingTopic, msg)
}

// Subscribe returns a channel of decoded PlayingEvents. The Monitor
// Manager drains it at tick boundaries, never mid-tick.
func (b *Bus) Subscribe(ctx context.Context) (<-chan model.PlayingEvent, error) {
	raw, err := b.pubsub.Subscribe(ctx, playingTopic)
	if err != nil {
		return nil, fmt.Errorf("eventbus: subscribe: %w", err)
	}
	out := make(chan model.PlayingEvent, 64)
	go func() {
		defer close(out)
		for msg := range raw {
			var ev model.PlayingEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				msg.Nack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the underlying pub/sub resources.
func (b *Bus) Close() error { return b.pubsub.Close() }

// zerologAdapter bridges watermill.LoggerAdapter to zerolog, the way a
// process-wide structured sink is expected to plug into any library
// that brings its own logging interface.
type zerologAdapter struct{ log zerolog.Logger }

func (z zerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	z.log.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}
func (z zerologAdapter) Info(msg string, fields watermill.LogFields) {
	z.log.Info().Fields(map[string]any(fields)).Msg(msg)
}
func (z zerologAdapter) Debug(msg string, fields watermill.LogFields) {
	z.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}
func (z zerologAdapter) Trace(msg string, fields watermill.LogFields) {
	z.log.Trace().Fields(map[string]any(fields)).Msg(msg)
}
func (z zerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zerologAdapter{z.log.With().Fields(map[string]any(fields)).Logger()}
}
