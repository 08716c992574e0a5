package model

import "time"

// Config is the process-wide configuration, loaded once at boot and read
// only thereafter. See spec §3.
type Config struct {
	ServerURL    string `koanf:"server_url"`
	AuthToken    string `koanf:"auth_token"`
	ClientID     string `koanf:"client_id"`

	ActiveTickPeriod time.Duration `koanf:"active_tick_period"`
	IdleTickPeriod   time.Duration `koanf:"idle_tick_period"`
	MaxRewindWindow  time.Duration `koanf:"max_rewind_window"`
	GracePeriod      time.Duration `koanf:"grace_period"`

	SubtitlePatterns    []string `koanf:"subtitle_patterns"` // leading '-' = negative
	PreferExternalSubs  bool     `koanf:"prefer_external_subs"`
	SendDirectToDevice  bool     `koanf:"send_direct_to_device"`

	PollTimeout    time.Duration `koanf:"poll_timeout"`
	CommandTimeout time.Duration `koanf:"command_timeout"`

	LogLevel   string `koanf:"log_level"`
	Background bool   `koanf:"background"`
}

// Defaults returns the configuration defaults named in spec §3.
func Defaults() Config {
	return Config{
		ActiveTickPeriod:   1 * time.Second,
		IdleTickPeriod:     5 * time.Second,
		MaxRewindWindow:    60 * time.Second,
		GracePeriod:        20 * time.Second,
		PollTimeout:        1 * time.Second,
		CommandTimeout:     5 * time.Second,
		LogLevel:           "info",
		PreferExternalSubs: false,
		SendDirectToDevice: false,
	}
}

// PositivePatterns and NegativePatterns split SubtitlePatterns on the
// leading '-' marker described in spec §3/§4.E PreferencePolicy.
func (c Config) PositivePatterns() []string { return splitPatterns(c.SubtitlePatterns, false) }
func (c Config) NegativePatterns() []string { return splitPatterns(c.SubtitlePatterns, true) }

func splitPatterns(patterns []string, negative bool) []string {
	var out []string
	for _, p := range patterns {
		isNeg := len(p) > 0 && p[0] == '-'
		if isNeg != negative {
			continue
		}
		if isNeg {
			out = append(out, p[1:])
		} else {
			out = append(out, p)
		}
	}
	return out
}
