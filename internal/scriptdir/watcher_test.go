package scriptdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PEZ/epupp/core"
	"github.com/PEZ/epupp/schema"
)

const scriptBody = `{:epupp/script-name "Greet"}
(println "hello")`

func newService(t *testing.T) core.Service {
	t.Helper()
	svc, err := core.NewService(context.Background(), schema.EngineConfig{StateDir: t.TempDir()}, core.ServiceDeps{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func waitFor(t *testing.T, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func listNames(t *testing.T, svc core.Service) []schema.ScriptName {
	t.Helper()
	resp, err := svc.ListScripts(context.Background(), schema.ListScriptsRequest{})
	if err != nil {
		t.Fatalf("ListScripts: %v", err)
	}
	names := make([]schema.ScriptName, 0, len(resp.Scripts))
	for _, s := range resp.Scripts {
		names = append(names, s.Name)
	}
	return names
}

func TestInitialSyncImportsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "greet.cljs"), []byte(scriptBody), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	svc := newService(t)

	watcher, err := New(dir, svc, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	names := listNames(t, svc)
	if len(names) != 1 || names[0] != "greet.cljs" {
		t.Fatalf("names = %v", names)
	}
}

func TestWriteAndRemoveArePropagated(t *testing.T) {
	dir := t.TempDir()
	svc := newService(t)

	watcher, err := New(dir, svc, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	path := filepath.Join(dir, "greet.cljs")
	if err := os.WriteFile(path, []byte(scriptBody), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "script to appear", func() bool {
		return len(listNames(t, svc)) == 1
	})

	updated := `{:epupp/script-name "Greet"}
(println "changed")`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	waitFor(t, "script code to update", func() bool {
		resp, err := svc.ShowScripts(context.Background(), schema.ShowScriptsRequest{
			Names: []schema.ScriptName{"greet.cljs"},
		})
		if err != nil {
			return false
		}
		code := resp.Code["greet.cljs"]
		return code != nil && *code == updated
	})

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitFor(t, "script to disappear", func() bool {
		return len(listNames(t, svc)) == 0
	})
}

func TestNonScriptFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a script"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	svc := newService(t)

	watcher, err := New(dir, svc, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := watcher.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer watcher.Stop()

	if names := listNames(t, svc); len(names) != 0 {
		t.Fatalf("names = %v", names)
	}
}
