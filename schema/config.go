package schema

import (
	"errors"
	"time"
)

// EngineConfig defines defaults and policy values for the coordination
// engine. The retry backoff list and the builtin seed set are policy, not
// invariants; deployments may override them.
type EngineConfig struct {
	StateDir       string
	AllowedOrigins []string
	RetryBackoff   []time.Duration
	EventLogSize   int
	Builtins       []BuiltinScript
}

// BuiltinScript seeds an extension-provided script record at startup.
type BuiltinScript struct {
	Name  ScriptName
	Code  string
	RunAt RunAt
}

// DefaultRetryBackoff is the scan retry schedule used to catch content that
// appears after the page's load-completed signal. Entries are offsets from
// the navigation commit, not gaps between attempts.
var DefaultRetryBackoff = []time.Duration{
	0,
	300 * time.Millisecond,
	1000 * time.Millisecond,
	3000 * time.Millisecond,
}

// DefaultEventLogSize bounds the engine event ring buffer.
const DefaultEventLogSize = 500

// NormalizeEngineConfig applies defaults and validates the config.
func NormalizeEngineConfig(cfg EngineConfig) (EngineConfig, error) {
	if len(cfg.RetryBackoff) == 0 {
		cfg.RetryBackoff = append([]time.Duration(nil), DefaultRetryBackoff...)
	}
	for _, delay := range cfg.RetryBackoff {
		if delay < 0 {
			return EngineConfig{}, errors.New("retry backoff delays must be non-negative")
		}
	}
	if cfg.EventLogSize <= 0 {
		cfg.EventLogSize = DefaultEventLogSize
	}
	for _, builtin := range cfg.Builtins {
		if builtin.Name == "" {
			return EngineConfig{}, errors.New("builtin script requires a name")
		}
	}
	return cfg, nil
}
