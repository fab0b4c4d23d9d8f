package appconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/PEZ/epupp/schema"
)

func TestDefaultConfigMatchesEngineDefaults(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.ConfigVersion != CurrentConfigVersion {
		t.Fatalf("config version = %d", cfg.ConfigVersion)
	}
	if cfg.Engine.EventLogSize != schema.DefaultEventLogSize {
		t.Fatalf("event log size = %d", cfg.Engine.EventLogSize)
	}
	if len(cfg.Engine.RetryBackoffMS) != len(schema.DefaultRetryBackoff) {
		t.Fatalf("backoff = %v", cfg.Engine.RetryBackoffMS)
	}
}

func TestEngineConfigReadsBuiltinFiles(t *testing.T) {
	dir := t.TempDir()
	body := `{:epupp/script-name "Installer"}` + "\n(install)"
	file := filepath.Join(dir, "installer.cljs")
	if err := os.WriteFile(file, []byte(body), 0o644); err != nil {
		t.Fatalf("write builtin: %v", err)
	}

	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	cfg.Engine.Builtins = []BuiltinScript{{Name: "installer.cljs", File: file}}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if len(engineCfg.Builtins) != 1 || engineCfg.Builtins[0].Code != body {
		t.Fatalf("builtins = %+v", engineCfg.Builtins)
	}

	cfg.Engine.Builtins[0].File = filepath.Join(dir, "missing.cljs")
	if _, err := cfg.EngineConfig(); err == nil {
		t.Fatal("expected error for missing builtin file")
	}
}
