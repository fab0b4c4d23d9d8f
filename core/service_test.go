package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PEZ/epupp/internal/kvstore"
	"github.com/PEZ/epupp/schema"
)

// memStore is an in-memory kvstore.Store for engine tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	return data, ok, nil
}

func (m *memStore) Set(ctx context.Context, key string, value []byte) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memStore) Subscribe(key string, fn func(value []byte)) func() {
	_, _ = key, fn
	return func() {}
}

var _ kvstore.Store = (*memStore)(nil)

// recordSink captures sink notifications for assertions. Injection-path
// tests wait on the events channel to synchronize with background scans.
type recordSink struct {
	mu          sync.Mutex
	events      []schema.Event
	storage     []schema.StorageEvent
	connections []schema.ConnectionEvent
	icons       []schema.IconEvent
	eventCh     chan schema.Event
}

func newRecordSink() *recordSink {
	return &recordSink{eventCh: make(chan schema.Event, 64)}
}

func (r *recordSink) OnEvent(event schema.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	select {
	case r.eventCh <- event:
	default:
	}
}

func (r *recordSink) OnStorage(event schema.StorageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage = append(r.storage, event)
}

func (r *recordSink) OnConnection(event schema.ConnectionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections = append(r.connections, event)
}

func (r *recordSink) OnIcon(event schema.IconEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.icons = append(r.icons, event)
}

func (r *recordSink) storageTypes() []schema.StorageEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.StorageEventType, 0, len(r.storage))
	for _, event := range r.storage {
		out = append(out, event.Type)
	}
	return out
}

func (r *recordSink) waitEvent(t *testing.T, name schema.EventName) schema.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-r.eventCh:
			if event.Name == name {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", name)
		}
	}
}

func newTestService(t *testing.T, cfg schema.EngineConfig, deps ServiceDeps) (Service, *recordSink) {
	t.Helper()
	sink := newRecordSink()
	if deps.Store == nil {
		deps.Store = newMemStore()
	}
	deps.EventSink = sink
	svc, err := NewService(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, sink
}

const greetCode = `{:epupp/script-name "Greet"
 :epupp/auto-run-match "https://example.com/*"
 :epupp/description "Say hello"}
(println "hello")`

func TestSaveScriptDerivesNameFromManifest(t *testing.T) {
	svc, sink := newTestService(t, schema.EngineConfig{}, ServiceDeps{})
	ctx := context.Background()

	resp, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if resp.Pending != nil {
		t.Fatalf("unexpected pending confirmation: %+v", resp.Pending)
	}
	if resp.Script.Name != "greet.cljs" {
		t.Fatalf("name = %q, want greet.cljs", resp.Script.Name)
	}
	if resp.Script.ID == "" {
		t.Fatal("expected a script id")
	}
	if resp.Script.Description != "Say hello" {
		t.Fatalf("description = %q", resp.Script.Description)
	}
	if resp.Script.Match != "https://example.com/*" {
		t.Fatalf("match = %q", resp.Script.Match)
	}
	if got := sink.storageTypes(); len(got) != 1 || got[0] != schema.StorageScriptSaved {
		t.Fatalf("storage events = %v", got)
	}
}

func TestSaveScriptWithoutNameRejects(t *testing.T) {
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{})

	_, err := svc.SaveScript(context.Background(), schema.SaveScriptRequest{Code: `(println "anonymous")`})
	if !errors.Is(err, schema.ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}
}

func TestForceSavePreservesID(t *testing.T) {
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{})
	ctx := context.Background()

	first, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	updated := strings.Replace(greetCode, "hello", "hej", 1)
	second, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: updated, Force: true})
	if err != nil {
		t.Fatalf("force save: %v", err)
	}
	if second.Pending != nil {
		t.Fatal("force save must not defer")
	}
	if second.Script.ID != first.Script.ID {
		t.Fatalf("id changed on force update: %s != %s", second.Script.ID, first.Script.ID)
	}
	show, err := svc.ShowScripts(ctx, schema.ShowScriptsRequest{Names: []schema.ScriptName{"greet.cljs"}})
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	code := show.Code["greet.cljs"]
	if code == nil || !strings.Contains(*code, "hej") {
		t.Fatalf("code not updated: %v", code)
	}
}

func TestSaveNameOverrideRewritesHeader(t *testing.T) {
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{})
	ctx := context.Background()

	resp, err := svc.SaveScript(ctx, schema.SaveScriptRequest{
		Code: `(println "renamed at save")`,
		Name: "My Fancy Script",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if resp.Script.Name != "my_fancy_script.cljs" {
		t.Fatalf("name = %q", resp.Script.Name)
	}
	show, err := svc.ShowScripts(ctx, schema.ShowScriptsRequest{Names: []schema.ScriptName{"my_fancy_script.cljs"}})
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	code := show.Code["my_fancy_script.cljs"]
	if code == nil || !strings.Contains(*code, `:epupp/script-name "My Fancy Script"`) {
		t.Fatalf("header not rewritten: %v", code)
	}
}

func TestUnforcedOverwriteDefersUntilConfirmed(t *testing.T) {
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{})
	ctx := context.Background()

	first, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	updated := strings.Replace(greetCode, "hello", "howdy", 1)
	deferred, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: updated})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if deferred.Pending == nil || deferred.Pending.Op != schema.ConfirmOpOverwrite {
		t.Fatalf("expected overwrite confirmation, got %+v", deferred.Pending)
	}

	// The stored code is untouched until the confirmation is approved.
	show, _ := svc.ShowScripts(ctx, schema.ShowScriptsRequest{Names: []schema.ScriptName{"greet.cljs"}})
	if code := show.Code["greet.cljs"]; code == nil || strings.Contains(*code, "howdy") {
		t.Fatalf("code changed before confirmation: %v", code)
	}

	confirmed, err := svc.Confirm(ctx, schema.ConfirmRequest{Source: "greet.cljs"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Script.ID != first.Script.ID {
		t.Fatalf("id changed on confirmed overwrite")
	}
	show, _ = svc.ShowScripts(ctx, schema.ShowScriptsRequest{Names: []schema.ScriptName{"greet.cljs"}})
	if code := show.Code["greet.cljs"]; code == nil || !strings.Contains(*code, "howdy") {
		t.Fatalf("code not applied after confirmation: %v", code)
	}
	list, _ := svc.ListConfirmations(ctx, schema.ListConfirmationsRequest{})
	if len(list.Confirmations) != 0 {
		t.Fatalf("confirmation not consumed: %+v", list.Confirmations)
	}
}

func TestBuiltinImmutability(t *testing.T) {
	cfg := schema.EngineConfig{Builtins: []schema.BuiltinScript{{
		Name: "epupp_installer.cljs",
		Code: `{:epupp/script-name "epupp installer"}` + "\n(install!)",
	}}}
	svc, _ := newTestService(t, cfg, ServiceDeps{})
	ctx := context.Background()

	for _, force := range []bool{false, true} {
		_, err := svc.SaveScript(ctx, schema.SaveScriptRequest{
			Code:  `{:epupp/script-name "epupp installer"}` + "\n(hijack!)",
			Force: force,
		})
		if !errors.Is(err, schema.ErrBuiltinProtected) {
			t.Fatalf("save force=%v: err = %v, want ErrBuiltinProtected", force, err)
		}
		_, err = svc.RemoveScripts(ctx, schema.RemoveScriptsRequest{
			Names: []schema.ScriptName{"epupp_installer.cljs"},
			Force: force,
		})
		if !errors.Is(err, schema.ErrBuiltinProtected) {
			t.Fatalf("remove force=%v: err = %v, want ErrBuiltinProtected", force, err)
		}
		_, err = svc.RenameScript(ctx, schema.RenameScriptRequest{
			From:  "epupp_installer.cljs",
			To:    "takeover.cljs",
			Force: force,
		})
		if !errors.Is(err, schema.ErrBuiltinProtected) {
			t.Fatalf("rename force=%v: err = %v, want ErrBuiltinProtected", force, err)
		}
	}
}

func TestRemoveReportsExisted(t *testing.T) {
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{})
	ctx := context.Background()

	if _, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode}); err != nil {
		t.Fatalf("save: %v", err)
	}
	resp, err := svc.RemoveScripts(ctx, schema.RemoveScriptsRequest{Names: []schema.ScriptName{"greet.cljs"}})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(resp.Removed) != 1 || !resp.Removed[0].Existed {
		t.Fatalf("removed = %+v", resp.Removed)
	}

	// Removing a single absent name succeeds but is distinguishable.
	resp, err = svc.RemoveScripts(ctx, schema.RemoveScriptsRequest{Names: []schema.ScriptName{"greet.cljs"}})
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if len(resp.Removed) != 1 || resp.Removed[0].Existed {
		t.Fatalf("removed = %+v", resp.Removed)
	}
}

func TestRemoveBatchAllOrNothing(t *testing.T) {
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{})
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		code := `{:epupp/script-name "` + name + `"}` + "\n(noop)"
		if _, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: code}); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	_, err := svc.RemoveScripts(ctx, schema.RemoveScriptsRequest{
		Names: []schema.ScriptName{"a.cljs", "b.cljs", "missing.cljs"},
	})
	if !errors.Is(err, schema.ErrScriptNotFound) {
		t.Fatalf("err = %v, want ErrScriptNotFound", err)
	}
	if !strings.Contains(err.Error(), "missing.cljs") {
		t.Fatalf("error does not name the missing script: %v", err)
	}
	list, _ := svc.ListScripts(ctx, schema.ListScriptsRequest{})
	if len(list.Scripts) != 2 {
		t.Fatalf("batch removed scripts despite failure: %+v", list.Scripts)
	}
}

func TestEmptyBatchesReject(t *testing.T) {
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{})
	ctx := context.Background()

	if _, err := svc.SaveScripts(ctx, schema.SaveScriptsRequest{}); !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("empty save batch: err = %v, want ErrInvalidRequest", err)
	}
	if _, err := svc.RemoveScripts(ctx, schema.RemoveScriptsRequest{}); !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("empty remove batch: err = %v, want ErrInvalidRequest", err)
	}
}

func TestShowKeysFollowRequest(t *testing.T) {
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{})
	ctx := context.Background()

	if _, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode}); err != nil {
		t.Fatalf("save: %v", err)
	}
	show, err := svc.ShowScripts(ctx, schema.ShowScriptsRequest{
		Names: []schema.ScriptName{"Greet", "///"},
	})
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	// Results are keyed as requested, even when the lookup normalizes.
	code, ok := show.Code["Greet"]
	if !ok || code == nil {
		t.Fatalf("code[%q] = %v, %v", "Greet", code, ok)
	}
	bad, ok := show.Code["///"]
	if !ok || bad != nil {
		t.Fatalf("code[%q] = %v, %v", "///", bad, ok)
	}
}

func TestRenameConfirmationSupersession(t *testing.T) {
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{})
	ctx := context.Background()

	if _, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.RenameScript(ctx, schema.RenameScriptRequest{From: "greet.cljs", To: "first.cljs"}); err != nil {
		t.Fatalf("first rename: %v", err)
	}
	if _, err := svc.RenameScript(ctx, schema.RenameScriptRequest{From: "greet.cljs", To: "second.cljs"}); err != nil {
		t.Fatalf("second rename: %v", err)
	}
	list, _ := svc.ListConfirmations(ctx, schema.ListConfirmationsRequest{})
	if len(list.Confirmations) != 1 {
		t.Fatalf("confirmations = %+v, want exactly one", list.Confirmations)
	}
	if got := list.Confirmations[0].Destination; got != "second.cljs" {
		t.Fatalf("destination = %q, want second.cljs", got)
	}
}

func TestConfirmedRenamePreservesIDAndRewritesHeader(t *testing.T) {
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{})
	ctx := context.Background()

	saved, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.RenameScript(ctx, schema.RenameScriptRequest{From: "greet.cljs", To: "welcome.cljs"}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	confirmed, err := svc.Confirm(ctx, schema.ConfirmRequest{Source: "greet.cljs"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Script.ID != saved.Script.ID {
		t.Fatal("rename changed the script id")
	}
	if confirmed.Script.Name != "welcome.cljs" {
		t.Fatalf("name = %q", confirmed.Script.Name)
	}
	show, _ := svc.ShowScripts(ctx, schema.ShowScriptsRequest{Names: []schema.ScriptName{"welcome.cljs"}})
	if code := show.Code["welcome.cljs"]; code == nil || !strings.Contains(*code, `:epupp/script-name "welcome"`) {
		t.Fatalf("header not rewritten: %v", code)
	}
	if _, err := svc.ShowScripts(ctx, schema.ShowScriptsRequest{Names: []schema.ScriptName{"greet.cljs"}}); err != nil {
		t.Fatalf("show old name: %v", err)
	}
}

func TestCancelConfirmation(t *testing.T) {
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{})
	ctx := context.Background()

	if _, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.RenameScript(ctx, schema.RenameScriptRequest{From: "greet.cljs", To: "other.cljs"}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	cancelled, err := svc.CancelConfirmation(ctx, schema.CancelConfirmationRequest{Source: "greet.cljs"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Confirmation.Op != schema.ConfirmOpRename {
		t.Fatalf("op = %q", cancelled.Confirmation.Op)
	}
	if _, err := svc.Confirm(ctx, schema.ConfirmRequest{Source: "greet.cljs"}); !errors.Is(err, schema.ErrConfirmationNotFound) {
		t.Fatalf("confirm after cancel: %v", err)
	}
	list, _ := svc.ListScripts(ctx, schema.ListScriptsRequest{})
	if len(list.Scripts) != 1 || list.Scripts[0].Name != "greet.cljs" {
		t.Fatalf("scripts = %+v", list.Scripts)
	}
}

func TestForcedMutationClearsPending(t *testing.T) {
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{})
	ctx := context.Background()

	if _, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode}); err != nil {
		t.Fatalf("conflicting save: %v", err)
	}
	if _, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode, Force: true}); err != nil {
		t.Fatalf("forced save: %v", err)
	}
	list, _ := svc.ListConfirmations(ctx, schema.ListConfirmationsRequest{})
	if len(list.Confirmations) != 0 {
		t.Fatalf("pending survived forced save: %+v", list.Confirmations)
	}
}

func TestListScriptsHidesBuiltins(t *testing.T) {
	cfg := schema.EngineConfig{Builtins: []schema.BuiltinScript{{
		Name: "epupp_installer.cljs",
		Code: `{:epupp/script-name "epupp installer"}` + "\n(install!)",
	}}}
	svc, _ := newTestService(t, cfg, ServiceDeps{})
	ctx := context.Background()

	if _, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode}); err != nil {
		t.Fatalf("save: %v", err)
	}
	list, _ := svc.ListScripts(ctx, schema.ListScriptsRequest{})
	if len(list.Scripts) != 1 || list.Scripts[0].Name != "greet.cljs" {
		t.Fatalf("visible scripts = %+v", list.Scripts)
	}
	hidden, _ := svc.ListScripts(ctx, schema.ListScriptsRequest{IncludeHidden: true})
	if len(hidden.Scripts) != 2 {
		t.Fatalf("hidden listing = %+v", hidden.Scripts)
	}
	for _, snap := range hidden.Scripts {
		if snap.Name == "epupp_installer.cljs" && (!snap.Builtin || !snap.Enabled) {
			t.Fatalf("builtin snapshot = %+v", snap)
		}
	}
}

func TestScriptsSurviveRestart(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{Store: store})
	ctx := context.Background()

	saved, err := svc.SaveScript(ctx, schema.SaveScriptRequest{Code: greetCode})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	reborn, _ := newTestService(t, schema.EngineConfig{}, ServiceDeps{Store: store})
	list, err := reborn.ListScripts(ctx, schema.ListScriptsRequest{})
	if err != nil {
		t.Fatalf("list after restart: %v", err)
	}
	if len(list.Scripts) != 1 || list.Scripts[0].ID != saved.Script.ID {
		t.Fatalf("scripts after restart = %+v", list.Scripts)
	}
}

func TestEventLogBoundedAndFilterable(t *testing.T) {
	cfg := schema.EngineConfig{EventLogSize: 5}
	svc, _ := newTestService(t, cfg, ServiceDeps{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := svc.RuntimeInjected(ctx, schema.RuntimeInjectedRequest{TabID: schema.TabID(100 + i)}); err != nil {
			t.Fatalf("runtime injected: %v", err)
		}
	}
	events, _ := svc.ListEvents(ctx, schema.ListEventsRequest{})
	if len(events.Events) != 5 {
		t.Fatalf("log size = %d, want 5", len(events.Events))
	}
	filtered, _ := svc.ListEvents(ctx, schema.ListEventsRequest{Name: schema.EventRuntimeLoaded})
	for _, event := range filtered.Events {
		if event.Name != schema.EventRuntimeLoaded {
			t.Fatalf("filter leaked %s", event.Name)
		}
	}
	if _, err := svc.ClearEvents(ctx, schema.ClearEventsRequest{}); err != nil {
		t.Fatalf("clear: %v", err)
	}
	events, _ = svc.ListEvents(ctx, schema.ListEventsRequest{})
	if len(events.Events) != 0 {
		t.Fatalf("log not cleared: %+v", events.Events)
	}
}
