// Package supervisor implements the Connection Supervisor (spec §4.G):
// it probes the server before standing up the Event Listener and
// Monitor Manager, and keeps them running with bounded backoff after a
// disconnect. Grounded on tomtom215-cartographus's
// internal/supervisor/tree.go (suture.Supervisor tree wrapping
// independently-restarting children, sutureslog event hook), reused
// as-is for the restart-with-backoff machinery instead of hand-rolling
// one: suture's own FailureThreshold/FailureBackoff covers spec's "a
// disconnected listener retries with bounded backoff".
package supervisor

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"rewindwatch/internal/plexapi"
)

// Prober is the subset of plexapi.Client the supervisor needs to decide
// whether the server is reachable before starting its children.
type Prober interface {
	Probe(ctx context.Context) plexapi.ProbeResult
}

// Config holds the supervisor's own backoff tuning, independent of the
// suture children's own restart backoff.
type Config struct {
	// ProbeInterval is how often Serve retries Probe while the server is
	// unreachable or in maintenance.
	ProbeInterval time.Duration
	// MaintenanceBackoff is used instead of ProbeInterval when the last
	// probe reported maintenance mode (spec §4.G: distinct, usually
	// longer, backoff for a known-temporary outage).
	MaintenanceBackoff time.Duration
}

// DefaultConfig mirrors the teacher's DefaultTreeConfig pattern: named
// constants with a constructor, not magic numbers at call sites.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:      5 * time.Second,
		MaintenanceBackoff: 30 * time.Second,
	}
}

// Supervisor is the top-level process: probe, then run the Event
// Listener and Monitor Manager as a suture tree until the server goes
// away, then probe again.
type Supervisor struct {
	client Prober
	cfg    Config
	log    zerolog.Logger

	// newChildren is called once per successful probe, to build the
	// services to run supervised. Returning a fresh pair each time
	// means a stale HTTP body or SSE connection from a previous attempt
	// is never reused.
	newChildren func() []suture.Service

	onShutdown func(ctx context.Context)
}

// New builds a Supervisor. newChildren constructs this run's Event
// Listener and Monitor Manager (or whatever suture.Service set the
// caller wants supervised together); onShutdown is called once, on
// ctx cancellation, to best-effort force-off any open TEMP_ON monitors
// before the process exits (spec §4.G).
func New(client Prober, cfg Config, log zerolog.Logger, newChildren func() []suture.Service, onShutdown func(ctx context.Context)) *Supervisor {
	return &Supervisor{
		client:      client,
		cfg:         cfg,
		log:         log.With().Str("component", "supervisor").Logger(),
		newChildren: newChildren,
		onShutdown:  onShutdown,
	}
}

// Serve implements the probe-then-run loop from spec §4.G. It never
// returns a non-nil error for reachability failures — those are normal
// operation for this component — only for ctx cancellation (nil) or a
// child misbehaving in a way suture itself gives up on.
func (s *Supervisor) Serve(ctx context.Context) error {
	defer func() {
		if ctx.Err() != nil && s.onShutdown != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.onShutdown(shutdownCtx)
			cancel()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		result := s.client.Probe(ctx)
		switch {
		case result.OK:
			if err := s.runTree(ctx); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			// Tree exited because its own failure threshold was
			// exceeded (both children kept crash-looping) — re-probe
			// from scratch rather than spinning a suture tree with no
			// live children.
			s.log.Warn().Msg("supervised tree exited, re-probing before restart")

		case result.Maintenance:
			s.log.Info().Msg("server in maintenance mode, backing off")
			if !s.sleep(ctx, s.cfg.MaintenanceBackoff) {
				return nil
			}
			continue

		default:
			s.log.Debug().Err(result.Err).Msg("server unreachable, retrying probe")
			if !s.sleep(ctx, s.cfg.ProbeInterval) {
				return nil
			}
			continue
		}
	}
}

// runTree builds one suture supervisor tree around this run's children
// and runs it until either ctx is cancelled or suture's own failure
// threshold gives up on a child.
func (s *Supervisor) runTree(ctx context.Context) error {
	handler := &sutureslog.Handler{Logger: slog.New(slog.NewJSONHandler(os.Stderr, nil))}
	root := suture.New("rewindwatch", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
	for _, child := range s.newChildren() {
		root.Add(child)
	}
	return root.Serve(ctx)
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
