package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/PEZ/epupp/internal/logx"
	"github.com/PEZ/epupp/internal/manifest"
	"github.com/PEZ/epupp/schema"
)

// SaveScript creates or updates a script. Unforced saves that collide with
// an existing non-builtin name resolve to a pending confirmation instead of
// an error; builtin names always hard-reject.
func (s *service) SaveScript(ctx context.Context, req schema.SaveScriptRequest) (schema.SaveScriptResponse, error) {
	code, name, err := resolveSave(req)
	if err != nil {
		return schema.SaveScriptResponse{}, err
	}
	log := logx.Ctx(ctx)

	s.mu.Lock()
	resp, events, err := s.saveLocked(ctx, code, name, req.Enabled, req.Force)
	s.mu.Unlock()
	if err != nil {
		logx.WithScript(log, name).Warn("script save failed", "err", err)
		return schema.SaveScriptResponse{}, err
	}
	s.flushEvents(events)
	if resp.Pending != nil {
		logx.WithScript(log, name).Info("script save deferred", "destination", resp.Pending.Destination)
	} else {
		logx.WithScript(log, name).Info("script saved", "id", resp.Script.ID, "forced", req.Force)
	}
	return resp, nil
}

// SaveScripts saves a batch. Validation is all-or-nothing: when any entry
// is invalid the whole batch rejects with an error naming every offender.
func (s *service) SaveScripts(ctx context.Context, req schema.SaveScriptsRequest) (schema.SaveScriptsResponse, error) {
	if len(req.Entries) == 0 {
		return schema.SaveScriptsResponse{}, schema.ErrInvalidRequest
	}
	type prepared struct {
		code    string
		name    schema.ScriptName
		enabled *bool
	}
	entries := make([]prepared, 0, len(req.Entries))
	var invalid []string

	s.mu.Lock()
	for _, entry := range req.Entries {
		code, name, err := resolveSave(entry)
		if err != nil {
			invalid = append(invalid, summarizeCode(entry.Code))
			continue
		}
		if s.isBuiltinLocked(name) {
			invalid = append(invalid, string(name))
			continue
		}
		entries = append(entries, prepared{code: code, name: name, enabled: entry.Enabled})
	}
	if len(invalid) > 0 {
		s.mu.Unlock()
		return schema.SaveScriptsResponse{}, fmt.Errorf("%w: %s", schema.ErrInvalidRequest, strings.Join(invalid, ", "))
	}
	var all []sinkEvent
	results := make([]schema.SaveScriptResponse, 0, len(entries))
	for _, entry := range entries {
		resp, events, err := s.saveLocked(ctx, entry.code, entry.name, entry.enabled, req.Force)
		if err != nil {
			s.mu.Unlock()
			return schema.SaveScriptsResponse{}, err
		}
		results = append(results, resp)
		all = append(all, events...)
	}
	s.mu.Unlock()
	s.flushEvents(all)
	return schema.SaveScriptsResponse{Results: results}, nil
}

// RemoveScripts deletes scripts by name. A single-name request tolerates a
// missing target and reports Existed=false; a batch is all-or-nothing and
// rejects naming every unresolved entry. Builtins reject regardless of force.
func (s *service) RemoveScripts(ctx context.Context, req schema.RemoveScriptsRequest) (schema.RemoveScriptsResponse, error) {
	if len(req.Names) == 0 {
		return schema.RemoveScriptsResponse{}, schema.ErrInvalidRequest
	}
	names := make([]schema.ScriptName, 0, len(req.Names))
	for _, raw := range req.Names {
		name, err := schema.NormalizeScriptName(string(raw))
		if err != nil {
			return schema.RemoveScriptsResponse{}, fmt.Errorf("%w: %q", schema.ErrInvalidName, raw)
		}
		names = append(names, name)
	}
	log := logx.Ctx(ctx)

	s.mu.Lock()
	var protected []string
	for _, name := range names {
		if s.isBuiltinLocked(name) {
			protected = append(protected, string(name))
		}
	}
	if len(protected) > 0 {
		s.mu.Unlock()
		return schema.RemoveScriptsResponse{}, fmt.Errorf("%w: %s", schema.ErrBuiltinProtected, strings.Join(protected, ", "))
	}
	if len(names) > 1 {
		var missing []schema.ScriptName
		for _, name := range names {
			if s.indexOfLocked(name) < 0 {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			s.mu.Unlock()
			return schema.RemoveScriptsResponse{}, &schema.NotFoundError{Names: missing}
		}
	}
	removed := make([]schema.RemovedScript, 0, len(names))
	var events []sinkEvent
	changed := false
	for _, name := range names {
		idx := s.indexOfLocked(name)
		if idx < 0 {
			removed = append(removed, schema.RemovedScript{Name: name, Existed: false})
			continue
		}
		snap := snapshot(s.scripts[idx])
		s.scripts = append(s.scripts[:idx], s.scripts[idx+1:]...)
		delete(s.names, name)
		delete(s.pending, name)
		changed = true
		removed = append(removed, schema.RemovedScript{Name: name, Existed: true})
		events = append(events, sinkEvent{storage: &schema.StorageEvent{
			Type:     schema.StorageScriptRemoved,
			Script:   snap,
			Scripts:  s.snapshotsLocked(false),
			Occurred: s.now(),
		}})
	}
	if changed {
		if err := s.persistLocked(ctx); err != nil {
			s.mu.Unlock()
			return schema.RemoveScriptsResponse{}, err
		}
	}
	s.mu.Unlock()
	s.flushEvents(events)
	log.Info("scripts removed", "count", len(removed))
	return schema.RemoveScriptsResponse{Removed: removed}, nil
}

// RenameScript renames a script. Unforced renames resolve to a pending
// confirmation; forced renames rewrite the script header in place so the
// record id survives the rename.
func (s *service) RenameScript(ctx context.Context, req schema.RenameScriptRequest) (schema.RenameScriptResponse, error) {
	from, err := schema.NormalizeScriptName(string(req.From))
	if err != nil {
		return schema.RenameScriptResponse{}, fmt.Errorf("%w: %q", schema.ErrInvalidName, req.From)
	}
	to, err := schema.NormalizeScriptName(string(req.To))
	if err != nil {
		return schema.RenameScriptResponse{}, fmt.Errorf("%w: %q", schema.ErrInvalidName, req.To)
	}
	log := logx.Ctx(ctx)

	s.mu.Lock()
	resp, events, err := s.renameLocked(ctx, from, to, string(req.To), req.Force)
	s.mu.Unlock()
	if err != nil {
		logx.WithScript(log, from).Warn("script rename failed", "to", to, "err", err)
		return schema.RenameScriptResponse{}, err
	}
	s.flushEvents(events)
	if resp.Pending != nil {
		logx.WithScript(log, from).Info("script rename deferred", "to", to)
	} else {
		logx.WithScript(log, from).Info("script renamed", "to", to)
	}
	return resp, nil
}

// ListScripts returns snapshots with display fields re-derived from code.
// Builtin records are excluded unless IncludeHidden is set.
func (s *service) ListScripts(ctx context.Context, req schema.ListScriptsRequest) (schema.ListScriptsResponse, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return schema.ListScriptsResponse{Scripts: s.snapshotsLocked(req.IncludeHidden)}, nil
}

// ShowScripts returns raw code per requested name. Batch semantics are
// partial: missing names resolve to nil without failing the request. The
// result is keyed by the name as requested, not its normalized form.
func (s *service) ShowScripts(ctx context.Context, req schema.ShowScriptsRequest) (schema.ShowScriptsResponse, error) {
	_ = ctx
	if len(req.Names) == 0 {
		return schema.ShowScriptsResponse{}, schema.ErrInvalidRequest
	}
	out := make(map[schema.ScriptName]*string, len(req.Names))
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range req.Names {
		name, err := schema.NormalizeScriptName(string(raw))
		if err != nil {
			out[raw] = nil
			continue
		}
		idx := s.indexOfLocked(name)
		if idx < 0 {
			out[raw] = nil
			continue
		}
		code := s.scripts[idx].Code
		out[raw] = &code
	}
	return schema.ShowScriptsResponse{Code: out}, nil
}

// saveLocked applies save semantics for a normalized name. It returns the
// sink events to flush after unlock.
func (s *service) saveLocked(ctx context.Context, code string, name schema.ScriptName, enabled *bool, force bool) (schema.SaveScriptResponse, []sinkEvent, error) {
	if s.isBuiltinLocked(name) {
		return schema.SaveScriptResponse{}, nil, fmt.Errorf("%w: %s", schema.ErrBuiltinProtected, name)
	}
	idx := s.indexOfLocked(name)
	if idx >= 0 && !force {
		pending := s.deferLocked(name, name, schema.ConfirmOpOverwrite, code, enabled)
		return schema.SaveScriptResponse{Pending: &pending}, nil, nil
	}
	m, _ := manifest.Parse(code)
	now := s.now()
	var record schema.Script
	if idx >= 0 {
		record = s.scripts[idx]
		record.Code = code
		record.Modified = now
		record.Match = m.Match
		if m.RunAt != "" {
			record.RunAt = m.RunAt
		}
		if enabled != nil {
			record.Enabled = *enabled
		}
		s.scripts[idx] = record
	} else {
		runAt := m.RunAt
		if runAt == "" {
			runAt = schema.RunAtDocumentIdle
		}
		on := true
		if enabled != nil {
			on = *enabled
		}
		record = schema.Script{
			ID:       newScriptID(),
			Code:     code,
			Enabled:  on,
			RunAt:    runAt,
			Match:    m.Match,
			Created:  now,
			Modified: now,
		}
		s.scripts = append(s.scripts, record)
		s.names[name] = record.ID
	}
	delete(s.pending, name)
	if err := s.persistLocked(ctx); err != nil {
		return schema.SaveScriptResponse{}, nil, err
	}
	snap := snapshot(record)
	events := []sinkEvent{{storage: &schema.StorageEvent{
		Type:     schema.StorageScriptSaved,
		Script:   snap,
		Scripts:  s.snapshotsLocked(false),
		Occurred: now,
	}}}
	return schema.SaveScriptResponse{Script: snap}, events, nil
}

// renameLocked applies rename semantics for normalized names.
func (s *service) renameLocked(ctx context.Context, from, to schema.ScriptName, displayTo string, force bool) (schema.RenameScriptResponse, []sinkEvent, error) {
	if s.isBuiltinLocked(from) || s.isBuiltinLocked(to) {
		return schema.RenameScriptResponse{}, nil, fmt.Errorf("%w: %s", schema.ErrBuiltinProtected, from)
	}
	idx := s.indexOfLocked(from)
	if idx < 0 {
		return schema.RenameScriptResponse{}, nil, &schema.NotFoundError{Names: []schema.ScriptName{from}}
	}
	if !force {
		pending := s.deferLocked(from, to, schema.ConfirmOpRename, "", nil)
		return schema.RenameScriptResponse{Pending: &pending}, nil, nil
	}
	var events []sinkEvent
	now := s.now()
	if to != from {
		if destIdx := s.indexOfLocked(to); destIdx >= 0 {
			dest := snapshot(s.scripts[destIdx])
			s.scripts = append(s.scripts[:destIdx], s.scripts[destIdx+1:]...)
			delete(s.names, to)
			if destIdx < idx {
				idx--
			}
			events = append(events, sinkEvent{storage: &schema.StorageEvent{
				Type:     schema.StorageScriptRemoved,
				Script:   dest,
				Scripts:  nil,
				Occurred: now,
			}})
		}
	}
	record := s.scripts[idx]
	record.Code = manifest.SetName(record.Code, displayStem(displayTo))
	record.Modified = now
	s.scripts[idx] = record
	delete(s.names, from)
	s.names[to] = record.ID
	delete(s.pending, from)
	if err := s.persistLocked(ctx); err != nil {
		return schema.RenameScriptResponse{}, nil, err
	}
	snap := snapshot(record)
	events = append(events, sinkEvent{storage: &schema.StorageEvent{
		Type:     schema.StorageScriptRenamed,
		Script:   snap,
		OldName:  from,
		Scripts:  s.snapshotsLocked(false),
		Occurred: now,
	}})
	return schema.RenameScriptResponse{Script: snap}, events, nil
}

// isBuiltinLocked reports whether name belongs to a builtin record or the
// configured builtin seed set.
func (s *service) isBuiltinLocked(name schema.ScriptName) bool {
	if idx := s.indexOfLocked(name); idx >= 0 {
		return s.scripts[idx].Builtin
	}
	for _, builtin := range s.cfg.Builtins {
		if seeded, err := schema.NormalizeScriptName(string(builtin.Name)); err == nil && seeded == name {
			return true
		}
	}
	return false
}

// resolveSave derives the storage name for a save request, rewriting the
// header when an explicit name overrides the manifest.
func resolveSave(req schema.SaveScriptRequest) (string, schema.ScriptName, error) {
	code := req.Code
	if strings.TrimSpace(code) == "" {
		return "", "", schema.ErrInvalidRequest
	}
	if req.Name != "" {
		name, err := schema.NormalizeScriptName(string(req.Name))
		if err != nil {
			return "", "", fmt.Errorf("%w: %q", schema.ErrInvalidName, req.Name)
		}
		if derived, ok := deriveName(schema.Script{Code: code}); !ok || derived != name {
			code = manifest.SetName(code, displayStem(string(req.Name)))
		}
		return code, name, nil
	}
	m, _ := manifest.Parse(code)
	if m.Name == "" {
		return "", "", fmt.Errorf("%w: script declares no name", schema.ErrInvalidName)
	}
	name, err := schema.NormalizeScriptName(m.Name)
	if err != nil {
		return "", "", fmt.Errorf("%w: %q", schema.ErrInvalidName, m.Name)
	}
	return code, name, nil
}

// displayStem strips the storage suffix for header display names.
func displayStem(name string) string {
	return strings.TrimSuffix(strings.TrimSpace(name), schema.ScriptSuffix)
}

func summarizeCode(code string) string {
	m, _ := manifest.Parse(code)
	if m.Name != "" {
		return m.Name
	}
	trimmed := strings.TrimSpace(code)
	if len(trimmed) > 24 {
		trimmed = trimmed[:24] + "…"
	}
	if trimmed == "" {
		return "(empty script)"
	}
	return trimmed
}
