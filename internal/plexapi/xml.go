package plexapi

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"rewindwatch/internal/model"
)

// sessionsContainer mirrors GET /status/sessions per spec §6:
// MediaContainer > Video[] > {Player, Session, Media > Part > Stream[]}.
type sessionsContainer struct {
	XMLName xml.Name     `xml:"MediaContainer"`
	Videos  []videoEntry `xml:"Video"`
}

type videoEntry struct {
	ViewOffset string      `xml:"viewOffset,attr"`
	Title      string      `xml:"title,attr"`
	Player     playerEntry `xml:"Player"`
	Session    sessionID   `xml:"Session"`
	Media      []mediaEntry `xml:"Media"`
}

type playerEntry struct {
	MachineIdentifier string `xml:"machineIdentifier,attr"`
	Title             string `xml:"title,attr"`
	Address           string `xml:"address,attr"`
	PlaybackID        string `xml:"playbackId,attr"`
}

type sessionID struct {
	ID string `xml:"id,attr"`
}

type mediaEntry struct {
	Parts []partEntry `xml:"Part"`
}

type partEntry struct {
	Streams []streamEntry `xml:"Stream"`
}

type streamEntry struct {
	ID         string `xml:"id,attr"`
	StreamType string `xml:"streamType,attr"` // 3 = subtitle
	Title      string `xml:"title,attr"`
	Language   string `xml:"language,attr"`
	Selected   string `xml:"selected,attr"` // "1" when active
	Key        string `xml:"key,attr"`      // presence implies an external subtitle file
}

const subtitleStreamType = "3"

// parseSessions decodes the /status/sessions response into
// PlaybackSession values. Sessions without a Player.PlaybackId are
// skipped — the rest of the pipeline keys everything off playback_id.
func parseSessions(body []byte) ([]model.PlaybackSession, error) {
	var c sessionsContainer
	if err := xml.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	out := make([]model.PlaybackSession, 0, len(c.Videos))
	for _, v := range c.Videos {
		if v.Player.PlaybackID == "" {
			continue
		}
		sess := model.PlaybackSession{
			PlaybackID:   v.Player.PlaybackID,
			DeviceName:   v.Player.Title,
			MachineID:    v.Player.MachineIdentifier,
			MediaTitle:   v.Title,
			DirectURL:    directURLFor(v.Player.Address),
			ViewOffsetMs: atoi64(v.ViewOffset),
			KnownSubsOn:  model.Unknown,
		}
		for _, m := range v.Media {
			for _, p := range m.Parts {
				for _, st := range p.Streams {
					if st.StreamType != subtitleStreamType {
						continue
					}
					sub := model.SubtitleStream{
						ID:         st.ID,
						Title:      st.Title,
						Language:   st.Language,
						IsExternal: st.Key != "",
						Selected:   st.Selected == "1",
					}
					sess.AvailableSubs = append(sess.AvailableSubs, sub)
					if sub.Selected {
						sess.ActiveSubs = append(sess.ActiveSubs, sub)
					}
				}
			}
		}
		out = append(out, sess)
	}
	return out, nil
}

// directURLFor builds the player's direct-callback base URL from the
// address Plex reports on the Player element. Empty when the device
// hasn't advertised a reachable address (common for remote clients).
func directURLFor(address string) string {
	if address == "" {
		return ""
	}
	return "http://" + address + ":32500"
}

// timelineContainer mirrors the device's
// /player/timeline/poll?wait=0 response per spec §6.
type timelineContainer struct {
	XMLName   xml.Name        `xml:"MediaContainer"`
	Timelines []timelineEntry `xml:"Timeline"`
}

type timelineEntry struct {
	Time             string `xml:"time,attr"`
	SubtitleStreamID string `xml:"subtitleStreamID,attr"`
	State            string `xml:"state,attr"`
}

// parseTimeline selects the entry with a non-empty time field, per
// spec §4.B ("Among possibly multiple timeline entries ... selects the
// one with a non-empty time field; if none, returns none").
func parseTimeline(body []byte) (*model.TimelineSnapshot, error) {
	var c timelineContainer
	if err := xml.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	for _, t := range c.Timelines {
		if t.Time == "" {
			continue
		}
		return &model.TimelineSnapshot{
			TimeMs:           atoi64(t.Time),
			SubtitleStreamID: t.SubtitleStreamID,
			State:            t.State,
		}, nil
	}
	return nil, nil
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
