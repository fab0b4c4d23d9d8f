package core

import (
	"context"

	"github.com/PEZ/epupp/internal/logx"
	"github.com/PEZ/epupp/schema"
)

// iconStateLocked derives a tab's icon state from connection and injection
// facts. A live connection wins over a bare runtime injection.
func (s *service) iconStateLocked(tabID schema.TabID) schema.IconState {
	if _, ok := s.conns[tabID]; ok {
		return schema.IconConnected
	}
	if tab, ok := s.tabs[tabID]; ok && tab.injected {
		return schema.IconInjected
	}
	return schema.IconDisconnected
}

// toolbarStateLocked is the best state across all tracked tabs, regardless
// of which tab has focus.
func (s *service) toolbarStateLocked() schema.IconState {
	best := schema.IconDisconnected
	for tabID := range s.tabs {
		best = best.Max(s.iconStateLocked(tabID))
	}
	for tabID := range s.conns {
		best = best.Max(s.iconStateLocked(tabID))
	}
	return best
}

// refreshIconLocked recomputes a tab's icon state and returns the change
// notifications to flush after unlock.
func (s *service) refreshIconLocked(tabID schema.TabID) []sinkEvent {
	state := s.iconStateLocked(tabID)
	tab, ok := s.tabs[tabID]
	if !ok {
		tab = &tabState{}
		s.tabs[tabID] = tab
	}
	var events []sinkEvent
	if tab.icon == state {
		return s.toolbarChangedLocked()
	}
	tab.icon = state
	toolbar := s.toolbarStateLocked()
	s.toolbar = toolbar
	event := s.appendEventLocked(schema.EventIconStateChanged, map[string]any{
		"tab_id":  int(tabID),
		"state":   state.String(),
		"toolbar": toolbar.String(),
	})
	events = append(events,
		sinkEvent{event: &event},
		sinkEvent{icon: &schema.IconEvent{TabID: tabID, State: state, Toolbar: toolbar}},
	)
	return events
}

// toolbarChangedLocked emits an icon event when only the toolbar projection
// moved, for example after a tab was closed.
func (s *service) toolbarChangedLocked() []sinkEvent {
	toolbar := s.toolbarStateLocked()
	if toolbar == s.toolbar {
		return nil
	}
	s.toolbar = toolbar
	event := s.appendEventLocked(schema.EventIconStateChanged, map[string]any{
		"toolbar": toolbar.String(),
	})
	return []sinkEvent{{event: &event}}
}

// RuntimeInjected records that the embedded runtime loaded in a tab and
// reports the tab's icon state after the update.
func (s *service) RuntimeInjected(ctx context.Context, req schema.RuntimeInjectedRequest) (schema.RuntimeInjectedResponse, error) {
	if err := schema.ValidateTabID(req.TabID); err != nil {
		return schema.RuntimeInjectedResponse{}, err
	}
	s.mu.Lock()
	tab, ok := s.tabs[req.TabID]
	if !ok {
		tab = &tabState{}
		s.tabs[req.TabID] = tab
	}
	tab.injected = true
	event := s.appendEventLocked(schema.EventRuntimeLoaded, map[string]any{
		"tab_id": int(req.TabID),
	})
	events := append([]sinkEvent{{event: &event}}, s.refreshIconLocked(req.TabID)...)
	state := s.iconStateLocked(req.TabID)
	s.mu.Unlock()
	s.flushEvents(events)

	logx.WithTab(ctx, req.TabID).Debug("runtime loaded", "state", state.String())
	return schema.RuntimeInjectedResponse{State: state}, nil
}

// TabFocused reports the icon states after an active-tab change. Focus
// never downgrades the toolbar projection.
func (s *service) TabFocused(ctx context.Context, req schema.TabFocusedRequest) (schema.TabFocusedResponse, error) {
	_ = ctx
	if err := schema.ValidateTabID(req.TabID); err != nil {
		return schema.TabFocusedResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return schema.TabFocusedResponse{
		Tab:     s.iconStateLocked(req.TabID),
		Toolbar: s.toolbarStateLocked(),
	}, nil
}

// IconState reports a tab's icon state and the toolbar projection.
func (s *service) IconState(ctx context.Context, req schema.IconStateRequest) (schema.IconStateResponse, error) {
	_ = ctx
	if err := schema.ValidateTabID(req.TabID); err != nil {
		return schema.IconStateResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return schema.IconStateResponse{
		Tab:     s.iconStateLocked(req.TabID),
		Toolbar: s.toolbarStateLocked(),
	}, nil
}
