// Package plexapi is the only package in the pipeline that knows the
// external server's wire format. It is a thin, mostly-pure boundary:
// XML decoding lives in xml.go; this file owns the HTTP calls
// themselves. The event stream's SSE framing and JSON payloads are
// parsed by internal/eventstream, not here. Grounded on internal/media/plex/plex.go in the
// teacher (header-setting, DrainBody, LimitReader-bounded bodies).
package plexapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rewindwatch/internal/httpx"
	"rewindwatch/internal/model"
)

// Client talks to the media server's HTTP surface (spec §6). One Client
// is shared by the Command Dispatcher, Timeline Poller, Session
// Registry, and Event Listener; each uses its own http.Client instance
// (command-class vs poll-class) passed in at construction.
type Client struct {
	baseURL        string
	token          string
	clientID       string
	commandClient  *http.Client
	pollClient     *http.Client
	log            zerolog.Logger
}

// New builds a Client against the server's base URL.
func New(baseURL, token, clientID string, commandClient, pollClient *http.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL:       baseURL,
		token:         token,
		clientID:      clientID,
		commandClient: commandClient,
		pollClient:    pollClient,
		log:           log.With().Str("component", "plexapi").Logger(),
	}
}

func (c *Client) setHeaders(req *http.Request, targetClientID, deviceName string, direct bool) {
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Client-Identifier", c.clientID)
	if targetClientID != "" {
		req.Header.Set("X-Plex-Target-Client-Identifier", targetClientID)
	}
	if direct && deviceName != "" {
		req.Header.Set("X-Plex-Device-Name", deviceName)
	}
	req.Header.Set("Accept", "application/xml")
}

// ProbeResult is the outcome of hitting the server's root endpoint,
// per spec §4.G step 1.
type ProbeResult struct {
	OK          bool
	Maintenance bool
	Err         error
}

// Probe hits the server root to decide whether the Connection
// Supervisor should consider the server reachable.
func (c *Client) Probe(ctx context.Context) ProbeResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/identity", nil)
	if err != nil {
		return ProbeResult{Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	c.setHeaders(req, "", "", false)
	resp, err := c.pollClient.Do(req)
	if err != nil {
		return ProbeResult{Err: fmt.Errorf("%w: %v", ErrTransport, err)}
	}
	defer httpx.DrainBody(resp)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return ProbeResult{OK: true}
	case resp.StatusCode == http.StatusServiceUnavailable:
		return ProbeResult{Maintenance: true, Err: ErrMaintenance}
	default:
		return ProbeResult{Err: ClassifyStatus(resp.StatusCode)}
	}
}

// ListSessions fetches the server's active-sessions listing (spec §6,
// §4.C refresh). Used by the Session Registry.
func (c *Client) ListSessions(ctx context.Context) ([]model.PlaybackSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.setHeaders(req, "", "", false)
	resp, err := c.pollClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer httpx.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, ClassifyStatus(resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, httpx.MaxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return parseSessions(body)
}

// PollTimeline fetches one device's timeline. A timeout is expected
// when the device app is closed and is reported as (nil, nil), not an
// error — spec §4.B.
func (c *Client) PollTimeline(ctx context.Context, machineID, deviceName, directURL string) (*model.TimelineSnapshot, error) {
	if directURL == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directURL+"/player/timeline/poll?wait=0", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.setHeaders(req, machineID, deviceName, true)
	resp, err := c.pollClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil // caller-side cancellation, not a poller timeout
		}
		c.log.Debug().Err(err).Str("device", deviceName).Msg("timeline poll timed out or unreachable")
		return nil, nil
	}
	defer httpx.DrainBody(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, httpx.MaxResponseBody))
	if err != nil {
		return nil, nil
	}
	snap, err := parseTimeline(body)
	if err != nil {
		c.log.Debug().Err(err).Msg("malformed timeline response")
		return nil, nil
	}
	return snap, nil
}

// SetStreamRequest is one outgoing "set subtitle stream" call.
type SetStreamRequest struct {
	MachineID        string
	DeviceName       string
	DirectURL        string
	SubtitleStreamID string // "0" disables
	Direct           bool   // true: send to DirectURL, false: send to server baseURL
	CommandID        string // unique per command, per spec §6's commandID=... contract
}

// SetSubtitleStream issues the setStreams command against either the
// primary server route or the device's direct route, per spec §4.A/§6.
func (c *Client) SetSubtitleStream(ctx context.Context, r SetStreamRequest) error {
	base := c.baseURL
	if r.Direct {
		if r.DirectURL == "" {
			return fmt.Errorf("%w: no direct URL for device", ErrOtherHTTP)
		}
		base = r.DirectURL
	}
	commandID := r.CommandID
	if commandID == "" {
		commandID = uuid.NewString()
	}
	q := url.Values{}
	q.Set("subtitleStreamID", r.SubtitleStreamID)
	q.Set("type", "video")
	q.Set("commandID", commandID)
	reqURL := base + "/player/playback/setStreams?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.setHeaders(req, r.MachineID, r.DeviceName, r.Direct)
	resp, err := c.commandClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer httpx.DrainBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ClassifyStatus(resp.StatusCode)
	}
	return nil
}

// EventStream opens the long-lived GET against the notifications
// endpoint (spec §6) and returns the raw body for the Event Listener to
// scan. The caller owns cancellation via ctx.
func (c *Client) EventStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/:/eventsource/notifications?filters=playing", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	c.setHeaders(req, "", "", false)
	req.Header.Set("Accept", "text/event-stream")
	// http.Client.Timeout also bounds reading the body, which would cut
	// the stream off; use the command client's settings without it and
	// leave the connection's lifetime to ctx.
	streamClient := *c.commandClient
	streamClient.Timeout = 0
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		httpx.DrainBody(resp)
		return nil, ClassifyStatus(resp.StatusCode)
	}
	return resp.Body, nil
}
