// Package eventstream implements the Event Listener (spec §4.D): a
// long-lived GET against the server's text/event-stream endpoint,
// folded into typed events. Framing parsing (frame.go) is a pure
// function with no I/O, per Design Notes §9 ("implement as a pure
// line-to-event folder"); listener.go supplies the cancellable line
// reader and disconnect detection around it.
package eventstream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"rewindwatch/internal/model"
)

// Kind enumerates the event names spec §4.D requires the listener to
// distinguish.
type Kind string

const (
	KindPlaying          Kind = "playing"
	KindActivity         Kind = "activity"
	KindTranscodeStart   Kind = "transcodeSession.start"
	KindTranscodeUpdate  Kind = "transcodeSession.update"
	KindTranscodeEnd     Kind = "transcodeSession.end"
	KindPing             Kind = "ping"
	KindUnknown          Kind = "unknown"
)

// Frame is one raw blank-line-terminated SSE record before payload
// decoding.
type Frame struct {
	Event string
	Data  string
}

// Event is a decoded, typed record ready for the Monitor Manager.
// Only Playing carries a populated Playing field; the rest are
// delivered for completeness/logging and otherwise ignored, per spec:
// "Ping keeps the connection alive and is otherwise ignored."
type Event struct {
	Kind    Kind
	Playing *model.PlayingEvent
}

// ScanFrames folds an SSE byte stream into Frame values, one per
// blank-line-terminated record, in the style of a lazy sequence: call
// next() until it returns (Frame{}, false, nil) (clean EOF) or a
// non-nil error (unexpected end-of-stream, spec §4.D).
func ScanFrames(r io.Reader) (next func() (Frame, bool, error)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	return func() (Frame, bool, error) {
		var evName string
		var dataLines []string
		sawAny := false

		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if sawAny {
					return Frame{Event: evName, Data: strings.Join(dataLines, "\n")}, true, nil
				}
				continue
			}
			sawAny = true
			switch {
			case strings.HasPrefix(line, "event:"):
				evName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			default:
				// Comment or unrecognized field: ignore per SSE framing.
			}
		}

		if err := scanner.Err(); err != nil {
			return Frame{}, false, fmt.Errorf("eventstream: unexpected end of stream: %w", err)
		}
		if sawAny {
			// Stream ended without a trailing blank line; treat the
			// partial record as the final frame.
			return Frame{Event: evName, Data: strings.Join(dataLines, "\n")}, true, nil
		}
		return Frame{}, false, nil
	}
}

// Decode converts a raw Frame into a typed Event. A malformed `playing`
// payload is a ParseError (spec §7): Decode returns an Event of kind
// Unknown together with the decode error, and the caller logs and drops
// the frame.
func Decode(f Frame) (Event, error) {
	switch Kind(f.Event) {
	case KindPlaying:
		pe, err := decodePlayingData(f.Data)
		if err != nil {
			return Event{Kind: KindUnknown}, err
		}
		return Event{Kind: KindPlaying, Playing: pe}, nil
	case KindActivity, KindTranscodeStart, KindTranscodeUpdate, KindTranscodeEnd, KindPing:
		return Event{Kind: Kind(f.Event)}, nil
	default:
		return Event{Kind: KindUnknown}, nil
	}
}

type playingPayload map[string]json.RawMessage

type playingInner struct {
	SessionKey string `json:"sessionKey"`
	PlaybackID string `json:"clientIdentifier"`
	ViewOffset int64  `json:"viewOffset"`
	State      string `json:"state"`
}

// decodePlayingData decodes the single-key `playing` data object per
// spec §6.
func decodePlayingData(data string) (*model.PlayingEvent, error) {
	var outer playingPayload
	if err := json.Unmarshal([]byte(data), &outer); err != nil {
		return nil, fmt.Errorf("eventstream: malformed playing payload: %w", err)
	}
	for _, raw := range outer {
		var inner playingInner
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("eventstream: malformed playing payload: %w", err)
		}
		return &model.PlayingEvent{
			SessionKey: inner.SessionKey,
			PlaybackID: inner.PlaybackID,
			ViewOffset: inner.ViewOffset,
			State:      inner.State,
		}, nil
	}
	return nil, fmt.Errorf("eventstream: empty playing payload")
}
