// Package config loads the process-wide Configuration once at boot.
// Grounded on tomtom215-cartographus's koanf-layered config (env over
// struct defaults); the on-disk settings/credentials files named in
// spec §6 stay external — this loader only knows env vars and defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"rewindwatch/internal/model"
)

const envPrefix = "REWINDWATCH_"

// Source is the external collaborator contract for an on-disk settings
// or credentials file (spec §6). No implementation ships in this core;
// Load layers each Source passed to it over the struct defaults and
// under the env vars, so env still wins.
type Source interface {
	Load() (map[string]any, error)
}

// Load builds a model.Config from struct defaults overlaid by
// REWINDWATCH_-prefixed environment variables.
func Load(extra ...Source) (model.Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(model.Defaults(), "koanf"), nil); err != nil {
		return model.Config{}, fmt.Errorf("loading config defaults: %w", err)
	}

	for _, src := range extra {
		data, err := src.Load()
		if err != nil {
			return model.Config{}, fmt.Errorf("loading external config source: %w", err)
		}
		if err := k.Load(confmap.Provider(data, "."), nil); err != nil {
			return model.Config{}, fmt.Errorf("merging external config source: %w", err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ToLower(s)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return model.Config{}, fmt.Errorf("loading env config: %w", err)
	}

	var cfg model.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return model.Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants a Configuration must satisfy before any
// component is allowed to read it.
func Validate(cfg model.Config) error {
	if cfg.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if cfg.AuthToken == "" {
		return fmt.Errorf("auth_token is required")
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if cfg.ActiveTickPeriod <= 0 || cfg.IdleTickPeriod <= 0 {
		return fmt.Errorf("tick periods must be positive")
	}
	if cfg.MaxRewindWindow <= 0 {
		return fmt.Errorf("max_rewind_window must be positive")
	}
	return nil
}
