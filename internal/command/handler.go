package command

import (
	"context"
	"fmt"

	"github.com/PEZ/epupp/core"
	"github.com/PEZ/epupp/internal/logx"
	"github.com/PEZ/epupp/schema"
)

// Handler dispatches parsed commands onto the engine service and shapes
// wire results.
type Handler struct {
	service core.Service
}

// NewHandler constructs a command handler.
func NewHandler(service core.Service) *Handler {
	return &Handler{service: service}
}

// ScriptResult is the wire shape of a save/rename outcome.
type ScriptResult struct {
	Script       *schema.ScriptSnapshot      `json:"script,omitempty"`
	Confirmation *schema.PendingConfirmation `json:"confirmation,omitempty"`
}

// RemoveResult is the wire shape of an rm! outcome.
type RemoveResult struct {
	Removed []RemovedEntry `json:"removed"`
}

// RemovedEntry reports one removed name.
type RemovedEntry struct {
	Name    schema.ScriptName `json:"name"`
	Existed bool              `json:"existed?"`
}

// ListResult is the wire shape of an ls outcome.
type ListResult struct {
	Scripts []schema.ScriptSnapshot `json:"scripts"`
}

// ShowResult maps names to code; absent names carry null.
type ShowResult struct {
	Code map[schema.ScriptName]*string `json:"code"`
}

// ConnectionsResult is the wire shape of get-connections.
type ConnectionsResult struct {
	Connections []schema.Connection `json:"connections"`
}

// ConnectionResult reports a single connection change.
type ConnectionResult struct {
	Connection schema.Connection `json:"connection"`
}

// ConfirmationsResult is the wire shape of get-fs-confirmations.
type ConfirmationsResult struct {
	Confirmations []schema.PendingConfirmation `json:"confirmations"`
}

// EventsResult is the wire shape of get-events.
type EventsResult struct {
	Events []schema.Event `json:"events"`
}

// Handle executes one command and returns its wire result. The type switch
// is exhaustive over the Command union.
func (h *Handler) Handle(ctx context.Context, cmd Command) (any, error) {
	log := logx.Ctx(ctx)
	switch c := cmd.(type) {
	case Save:
		resp, err := h.service.SaveScript(ctx, schema.SaveScriptRequest{
			Code:    c.Code,
			Name:    c.Name,
			Force:   c.Force,
			Enabled: c.Enabled,
		})
		if err != nil {
			return nil, err
		}
		if resp.Pending != nil {
			return ScriptResult{Confirmation: resp.Pending}, nil
		}
		script := resp.Script
		return ScriptResult{Script: &script}, nil
	case Remove:
		resp, err := h.service.RemoveScripts(ctx, schema.RemoveScriptsRequest{Names: c.Names, Force: c.Force})
		if err != nil {
			return nil, err
		}
		removed := make([]RemovedEntry, 0, len(resp.Removed))
		for _, entry := range resp.Removed {
			removed = append(removed, RemovedEntry{Name: entry.Name, Existed: entry.Existed})
		}
		return RemoveResult{Removed: removed}, nil
	case Move:
		resp, err := h.service.RenameScript(ctx, schema.RenameScriptRequest{From: c.From, To: c.To, Force: c.Force})
		if err != nil {
			return nil, err
		}
		if resp.Pending != nil {
			return ScriptResult{Confirmation: resp.Pending}, nil
		}
		script := resp.Script
		return ScriptResult{Script: &script}, nil
	case List:
		resp, err := h.service.ListScripts(ctx, schema.ListScriptsRequest{IncludeHidden: c.Hidden})
		if err != nil {
			return nil, err
		}
		return ListResult{Scripts: resp.Scripts}, nil
	case Show:
		resp, err := h.service.ShowScripts(ctx, schema.ShowScriptsRequest{Names: c.Names})
		if err != nil {
			return nil, err
		}
		return ShowResult{Code: resp.Code}, nil
	case ConnectTab:
		resp, err := h.service.ConnectTab(ctx, schema.ConnectTabRequest{TabID: c.TabID, Port: c.Port, Title: c.Title})
		if err != nil {
			return nil, err
		}
		return ConnectionResult{Connection: resp.Connection}, nil
	case DisconnectTab:
		resp, err := h.service.DisconnectTab(ctx, schema.DisconnectTabRequest{TabID: c.TabID})
		if err != nil {
			return nil, err
		}
		return ConnectionResult{Connection: resp.Connection}, nil
	case GetConnections:
		resp, err := h.service.ListConnections(ctx, schema.ListConnectionsRequest{})
		if err != nil {
			return nil, err
		}
		return ConnectionsResult{Connections: resp.Connections}, nil
	case GetConfirmations:
		resp, err := h.service.ListConfirmations(ctx, schema.ListConfirmationsRequest{})
		if err != nil {
			return nil, err
		}
		return ConfirmationsResult{Confirmations: resp.Confirmations}, nil
	case Confirm:
		resp, err := h.service.Confirm(ctx, schema.ConfirmRequest{Source: c.Name})
		if err != nil {
			return nil, err
		}
		script := resp.Script
		return ScriptResult{Script: &script}, nil
	case Cancel:
		resp, err := h.service.CancelConfirmation(ctx, schema.CancelConfirmationRequest{Source: c.Name})
		if err != nil {
			return nil, err
		}
		return ScriptResult{Confirmation: &resp.Confirmation}, nil
	case GetEvents:
		resp, err := h.service.ListEvents(ctx, schema.ListEventsRequest{Name: c.Name})
		if err != nil {
			return nil, err
		}
		return EventsResult{Events: resp.Events}, nil
	default:
		log.Warn("command rejected", "reason", "unhandled type", "command", fmt.Sprintf("%T", cmd))
		return nil, fmt.Errorf("%w: unhandled command %T", schema.ErrInvalidRequest, cmd)
	}
}

// HandlePayload parses and executes a raw command payload.
func (h *Handler) HandlePayload(ctx context.Context, payload []byte) (any, error) {
	cmd, err := Parse(payload)
	if err != nil {
		return nil, err
	}
	return h.Handle(ctx, cmd)
}
