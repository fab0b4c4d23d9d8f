package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/PEZ/epupp/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	ScriptDir     string        `mapstructure:"script_dir" yaml:"script_dir"`
	Engine        EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Bridge        BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
	Hub           HubConfig     `mapstructure:"hub" yaml:"hub"`
	Logging       LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// EngineConfig controls script storage and the injection scanner.
type EngineConfig struct {
	AllowedOrigins []string        `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	RetryBackoffMS []int           `mapstructure:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	EventLogSize   int             `mapstructure:"event_log_size" yaml:"event_log_size"`
	Builtins       []BuiltinScript `mapstructure:"builtins" yaml:"builtins"`
}

// BuiltinScript seeds an extension-provided script from a file on disk.
type BuiltinScript struct {
	Name string `mapstructure:"name" yaml:"name"`
	File string `mapstructure:"file" yaml:"file"`
}

// BridgeConfig configures the framed TCP eval bridge.
type BridgeConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// HubConfig configures the tab websocket hub.
type HubConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	backoff := make([]int, 0, len(schema.DefaultRetryBackoff))
	for _, delay := range schema.DefaultRetryBackoff {
		backoff = append(backoff, int(delay/time.Millisecond))
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".epupp", "state"),
		ScriptDir:     "",
		Engine: EngineConfig{
			AllowedOrigins: []string{},
			RetryBackoffMS: backoff,
			EventLogSize:   schema.DefaultEventLogSize,
			Builtins:       []BuiltinScript{},
		},
		Bridge: BridgeConfig{
			Addr: "127.0.0.1:1338",
		},
		Hub: HubConfig{
			Addr: "127.0.0.1:1340",
		},
		Logging: LoggingConfig{
			Level: "",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".epupp", "config.yaml"), nil
}

// EngineConfig converts the file representation into the engine's config,
// reading builtin script bodies from disk.
func (c Config) EngineConfig() (schema.EngineConfig, error) {
	backoff := make([]time.Duration, 0, len(c.Engine.RetryBackoffMS))
	for _, ms := range c.Engine.RetryBackoffMS {
		backoff = append(backoff, time.Duration(ms)*time.Millisecond)
	}
	builtins := make([]schema.BuiltinScript, 0, len(c.Engine.Builtins))
	for _, builtin := range c.Engine.Builtins {
		code, err := os.ReadFile(builtin.File)
		if err != nil {
			return schema.EngineConfig{}, fmt.Errorf("builtin %q: %w", builtin.Name, err)
		}
		builtins = append(builtins, schema.BuiltinScript{
			Name: schema.ScriptName(builtin.Name),
			Code: string(code),
		})
	}
	return schema.NormalizeEngineConfig(schema.EngineConfig{
		StateDir:       c.StateDir,
		AllowedOrigins: append([]string(nil), c.Engine.AllowedOrigins...),
		RetryBackoff:   backoff,
		EventLogSize:   c.Engine.EventLogSize,
		Builtins:       builtins,
	})
}
