package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/PEZ/epupp/internal/logx"
	"github.com/PEZ/epupp/schema"
)

// ConnectTab opens (or reuses) a bridge connection for a tab. A tab holds
// at most one connection; reconnecting replaces the endpoint.
func (s *service) ConnectTab(ctx context.Context, req schema.ConnectTabRequest) (schema.ConnectTabResponse, error) {
	if err := schema.ValidateTabID(req.TabID); err != nil {
		return schema.ConnectTabResponse{}, err
	}
	if req.Port <= 0 || req.Port > 65535 {
		return schema.ConnectTabResponse{}, fmt.Errorf("%w: port %d", schema.ErrInvalidRequest, req.Port)
	}
	conn := schema.Connection{TabID: req.TabID, Port: req.Port, Title: req.Title}

	s.mu.Lock()
	prev, replacing := s.conns[req.TabID]
	s.conns[req.TabID] = conn
	events := []sinkEvent{{connection: &schema.ConnectionEvent{Type: schema.ConnectionOpened, Connection: conn}}}
	events = append(events, s.refreshIconLocked(req.TabID)...)
	s.mu.Unlock()
	s.flushEvents(events)

	log := logx.WithTab(ctx, req.TabID)
	if replacing && prev.Port != req.Port {
		log.Info("tab reconnected", "port", req.Port, "previous_port", prev.Port)
	} else {
		log.Info("tab connected", "port", req.Port)
	}
	return schema.ConnectTabResponse{Connection: conn}, nil
}

// DisconnectTab tears down a tab's bridge connection.
func (s *service) DisconnectTab(ctx context.Context, req schema.DisconnectTabRequest) (schema.DisconnectTabResponse, error) {
	if err := schema.ValidateTabID(req.TabID); err != nil {
		return schema.DisconnectTabResponse{}, err
	}
	s.mu.Lock()
	conn, ok := s.conns[req.TabID]
	if !ok {
		s.mu.Unlock()
		return schema.DisconnectTabResponse{}, fmt.Errorf("%w: tab %d", schema.ErrTabNotConnected, req.TabID)
	}
	delete(s.conns, req.TabID)
	events := []sinkEvent{{connection: &schema.ConnectionEvent{Type: schema.ConnectionClosed, Connection: conn}}}
	events = append(events, s.refreshIconLocked(req.TabID)...)
	s.mu.Unlock()
	s.flushEvents(events)

	logx.WithTab(ctx, req.TabID).Info("tab disconnected", "port", conn.Port)
	return schema.DisconnectTabResponse{Connection: conn}, nil
}

// ListConnections reports active connections ordered by tab id.
func (s *service) ListConnections(ctx context.Context, req schema.ListConnectionsRequest) (schema.ListConnectionsResponse, error) {
	_ = ctx
	_ = req
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Connection, 0, len(s.conns))
	for _, conn := range s.conns {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return schema.ListConnectionsResponse{Connections: out}, nil
}

// TabClosed releases everything tracked for a tab: the in-flight scan, the
// bridge connection, and the injection markers.
func (s *service) TabClosed(ctx context.Context, req schema.TabClosedRequest) (schema.TabClosedResponse, error) {
	if err := schema.ValidateTabID(req.TabID); err != nil {
		return schema.TabClosedResponse{}, err
	}
	s.mu.Lock()
	var events []sinkEvent
	if conn, ok := s.conns[req.TabID]; ok {
		delete(s.conns, req.TabID)
		events = append(events, sinkEvent{connection: &schema.ConnectionEvent{Type: schema.ConnectionClosed, Connection: conn}})
	}
	if tab, ok := s.tabs[req.TabID]; ok {
		if tab.scanCancel != nil {
			tab.scanCancel()
		}
		delete(s.tabs, req.TabID)
	}
	events = append(events, s.toolbarChangedLocked()...)
	s.mu.Unlock()
	s.flushEvents(events)

	logx.WithTab(ctx, req.TabID).Debug("tab closed")
	return schema.TabClosedResponse{}, nil
}
