package core

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/PEZ/epupp/internal/kvstore"
	"github.com/PEZ/epupp/internal/manifest"
	"github.com/PEZ/epupp/schema"
	"pkt.systems/pslog"
)

// scriptsKey is the logical storage key holding all script records.
const scriptsKey = "scripts"

// service implements the coordination engine behavior.
type service struct {
	cfg    schema.EngineConfig
	store  kvstore.Store
	sink   EventSink
	pages  PageProvider
	logger pslog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	scripts []schema.Script
	names   map[schema.ScriptName]schema.ScriptID
	pending map[schema.ScriptName]*pendingConfirmation
	conns   map[schema.TabID]schema.Connection
	tabs    map[schema.TabID]*tabState
	toolbar schema.IconState
	log     *eventLog
}

// tabState tracks per-tab injection facts, the in-flight scan, and the
// last icon state reported for the tab.
type tabState struct {
	injected   bool
	scanCancel context.CancelFunc
	icon       schema.IconState
}

// pendingConfirmation stashes the deferred mutation alongside the wire
// record; Code carries the unsaved script body for overwrite confirmations.
type pendingConfirmation struct {
	record  schema.PendingConfirmation
	code    string
	enabled *bool
}

// NewService constructs the coordination engine. Builtin scripts are
// (re)seeded if missing, and EXTENSION_STARTED is emitted once the engine
// is ready.
func NewService(ctx context.Context, cfg schema.EngineConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	if deps.Store == nil {
		if cfg.StateDir == "" {
			return nil, errors.New("store or state dir is required")
		}
		store, err := kvstore.NewFileStoreWithLogger(cfg.StateDir, deps.Logger)
		if err != nil {
			return nil, err
		}
		deps.Store = store
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	s := &service{
		cfg:     cfg,
		store:   deps.Store,
		sink:    deps.EventSink,
		pages:   deps.Pages,
		logger:  logger,
		now:     deps.Now,
		sleep:   deps.Sleep,
		names:   make(map[schema.ScriptName]schema.ScriptID),
		pending: make(map[schema.ScriptName]*pendingConfirmation),
		conns:   make(map[schema.TabID]schema.Connection),
		tabs:    make(map[schema.TabID]*tabState),
		log:     newEventLog(cfg.EventLogSize),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if err := s.loadScripts(ctx); err != nil {
		return nil, err
	}
	if err := s.seedBuiltins(ctx); err != nil {
		return nil, err
	}
	s.emitEvent(schema.EventExtensionStarted, map[string]any{
		"scripts": len(s.scripts),
	})
	logger.Info("engine started", "scripts", len(s.scripts), "builtins", len(cfg.Builtins))
	return s, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// loadScripts reads the persisted script list and rebuilds the name index.
func (s *service) loadScripts(ctx context.Context) error {
	data, ok, err := s.store.Get(ctx, scriptsKey)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var scripts []schema.Script
	if err := json.Unmarshal(data, &scripts); err != nil {
		return err
	}
	s.scripts = scripts
	s.reindexLocked()
	return nil
}

// seedBuiltins ensures every configured builtin record exists. Builtins are
// always enabled and never user-mutable.
func (s *service) seedBuiltins(ctx context.Context) error {
	changed := false
	for _, builtin := range s.cfg.Builtins {
		name, err := schema.NormalizeScriptName(string(builtin.Name))
		if err != nil {
			return err
		}
		if _, exists := s.names[name]; exists {
			continue
		}
		runAt := builtin.RunAt
		if runAt == "" {
			runAt = schema.RunAtDocumentIdle
		}
		m, _ := manifest.Parse(builtin.Code)
		now := s.now()
		s.scripts = append(s.scripts, schema.Script{
			ID:            newScriptID(),
			Code:          builtin.Code,
			Enabled:       true,
			RunAt:         runAt,
			Match:         m.Match,
			Builtin:       true,
			AlwaysEnabled: true,
			Created:       now,
			Modified:      now,
		})
		changed = true
	}
	if !changed {
		return nil
	}
	s.reindexLocked()
	return s.persistLocked(ctx)
}

// reindexLocked rebuilds the derived name index from script code.
func (s *service) reindexLocked() {
	s.names = make(map[schema.ScriptName]schema.ScriptID, len(s.scripts))
	for _, script := range s.scripts {
		if name, ok := deriveName(script); ok {
			s.names[name] = script.ID
		}
	}
}

// persistLocked writes the authoritative script list to storage.
func (s *service) persistLocked(ctx context.Context) error {
	data, err := json.MarshalIndent(s.scripts, "", "  ")
	if err != nil {
		return err
	}
	return s.store.Set(ctx, scriptsKey, data)
}

// deriveName computes a script's storage name from its code.
func deriveName(script schema.Script) (schema.ScriptName, bool) {
	m, _ := manifest.Parse(script.Code)
	if m.Name == "" {
		return "", false
	}
	name, err := schema.NormalizeScriptName(m.Name)
	if err != nil {
		return "", false
	}
	return name, true
}

// snapshot derives the transport view of a record: persisted fields plus
// display fields recomputed from code.
func snapshot(script schema.Script) schema.ScriptSnapshot {
	m, _ := manifest.Parse(script.Code)
	name, _ := deriveName(script)
	return schema.ScriptSnapshot{
		ID:            script.ID,
		Name:          name,
		Description:   m.Description,
		Match:         script.Match,
		RunAt:         script.RunAt,
		Require:       append([]string(nil), m.Require...),
		Enabled:       script.Enabled || script.AlwaysEnabled,
		Builtin:       script.Builtin,
		AlwaysEnabled: script.AlwaysEnabled,
		Created:       script.Created,
		Modified:      script.Modified,
	}
}

func (s *service) snapshotsLocked(includeHidden bool) []schema.ScriptSnapshot {
	out := make([]schema.ScriptSnapshot, 0, len(s.scripts))
	for _, script := range s.scripts {
		if script.Builtin && !includeHidden {
			continue
		}
		out = append(out, snapshot(script))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// indexOfLocked returns the position of the record stored under name.
func (s *service) indexOfLocked(name schema.ScriptName) int {
	id, ok := s.names[name]
	if !ok {
		return -1
	}
	for i, script := range s.scripts {
		if script.ID == id {
			return i
		}
	}
	return -1
}

// sinkEvent collects a sink notification produced while the service lock
// was held, for delivery after unlock.
type sinkEvent struct {
	event      *schema.Event
	storage    *schema.StorageEvent
	connection *schema.ConnectionEvent
	icon       *schema.IconEvent
}

// flushEvents forwards deferred notifications to the sink in order.
func (s *service) flushEvents(events []sinkEvent) {
	if s.sink == nil {
		return
	}
	for _, e := range events {
		switch {
		case e.event != nil:
			s.sink.OnEvent(*e.event)
		case e.storage != nil:
			s.sink.OnStorage(*e.storage)
		case e.connection != nil:
			s.sink.OnConnection(*e.connection)
		case e.icon != nil:
			s.sink.OnIcon(*e.icon)
		}
	}
}

// deferLocked records a pending confirmation for source, replacing any
// earlier request so at most one confirmation per source exists.
func (s *service) deferLocked(source, destination schema.ScriptName, op schema.ConfirmOp, code string, enabled *bool) schema.PendingConfirmation {
	record := schema.PendingConfirmation{
		Source:      source,
		Destination: destination,
		Op:          op,
		RequestedAt: s.now(),
	}
	s.pending[source] = &pendingConfirmation{record: record, code: code, enabled: enabled}
	return record
}

// emitEvent appends to the event log and forwards to the sink.
func (s *service) emitEvent(name schema.EventName, data map[string]any) {
	event := schema.Event{Name: name, Data: data, Timestamp: s.now()}
	s.mu.Lock()
	s.log.Append(event)
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.OnEvent(event)
	}
}

// appendEventLocked records an event while the caller holds the lock; the
// returned event must be forwarded to the sink after unlock.
func (s *service) appendEventLocked(name schema.EventName, data map[string]any) schema.Event {
	event := schema.Event{Name: name, Data: data, Timestamp: s.now()}
	s.log.Append(event)
	return event
}

// ListEvents returns logged events, optionally filtered by name.
func (s *service) ListEvents(ctx context.Context, req schema.ListEventsRequest) (schema.ListEventsResponse, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Name == "" {
		return schema.ListEventsResponse{Events: s.log.All()}, nil
	}
	events := s.log.Filter(func(event schema.Event) bool { return event.Name == req.Name })
	return schema.ListEventsResponse{Events: events}, nil
}

// ClearEvents empties the event log.
func (s *service) ClearEvents(ctx context.Context, req schema.ClearEventsRequest) (schema.ClearEventsResponse, error) {
	_ = ctx
	_ = req
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Clear()
	return schema.ClearEventsResponse{}, nil
}
