package appconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("script_dir", cfg.ScriptDir)
	v.SetDefault("engine.allowed_origins", cfg.Engine.AllowedOrigins)
	v.SetDefault("engine.retry_backoff_ms", cfg.Engine.RetryBackoffMS)
	v.SetDefault("engine.event_log_size", cfg.Engine.EventLogSize)
	v.SetDefault("bridge.addr", cfg.Bridge.Addr)
	v.SetDefault("hub.addr", cfg.Hub.Addr)
	v.SetDefault("logging.level", cfg.Logging.Level)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, err
			}
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	for _, field := range []struct {
		name string
		addr string
	}{
		{"bridge.addr", cfg.Bridge.Addr},
		{"hub.addr", cfg.Hub.Addr},
	} {
		if _, _, err := net.SplitHostPort(field.addr); err != nil {
			return fmt.Errorf("%s must be host:port: %w", field.name, err)
		}
	}
	for _, builtin := range cfg.Engine.Builtins {
		if strings.TrimSpace(builtin.Name) == "" {
			return fmt.Errorf("engine.builtins entries require a name")
		}
		if strings.TrimSpace(builtin.File) == "" {
			return fmt.Errorf("engine.builtins entry %q requires a file", builtin.Name)
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.ScriptDir = expandEnv(cfg.ScriptDir)
	for i := range cfg.Engine.Builtins {
		cfg.Engine.Builtins[i].File = expandEnv(cfg.Engine.Builtins[i].File)
	}
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}
