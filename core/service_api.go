package core

import (
	"context"

	"github.com/PEZ/epupp/schema"
)

// Service is the transport-agnostic API of the coordination engine: script
// storage, confirmation-gated mutations, tab connections, navigation-driven
// injection, icon state, and the event log.
type Service interface {
	// Script storage.
	SaveScript(ctx context.Context, req schema.SaveScriptRequest) (schema.SaveScriptResponse, error)
	SaveScripts(ctx context.Context, req schema.SaveScriptsRequest) (schema.SaveScriptsResponse, error)
	RemoveScripts(ctx context.Context, req schema.RemoveScriptsRequest) (schema.RemoveScriptsResponse, error)
	RenameScript(ctx context.Context, req schema.RenameScriptRequest) (schema.RenameScriptResponse, error)
	ListScripts(ctx context.Context, req schema.ListScriptsRequest) (schema.ListScriptsResponse, error)
	ShowScripts(ctx context.Context, req schema.ShowScriptsRequest) (schema.ShowScriptsResponse, error)

	// Pending confirmations.
	Confirm(ctx context.Context, req schema.ConfirmRequest) (schema.ConfirmResponse, error)
	CancelConfirmation(ctx context.Context, req schema.CancelConfirmationRequest) (schema.CancelConfirmationResponse, error)
	ListConfirmations(ctx context.Context, req schema.ListConfirmationsRequest) (schema.ListConfirmationsResponse, error)

	// Connections.
	ConnectTab(ctx context.Context, req schema.ConnectTabRequest) (schema.ConnectTabResponse, error)
	DisconnectTab(ctx context.Context, req schema.DisconnectTabRequest) (schema.DisconnectTabResponse, error)
	ListConnections(ctx context.Context, req schema.ListConnectionsRequest) (schema.ListConnectionsResponse, error)

	// Tab lifecycle and navigation.
	NavigationCommitted(ctx context.Context, req schema.NavigationRequest) (schema.NavigationResponse, error)
	TabClosed(ctx context.Context, req schema.TabClosedRequest) (schema.TabClosedResponse, error)
	TabFocused(ctx context.Context, req schema.TabFocusedRequest) (schema.TabFocusedResponse, error)
	RuntimeInjected(ctx context.Context, req schema.RuntimeInjectedRequest) (schema.RuntimeInjectedResponse, error)
	IconState(ctx context.Context, req schema.IconStateRequest) (schema.IconStateResponse, error)

	// Event log.
	ListEvents(ctx context.Context, req schema.ListEventsRequest) (schema.ListEventsResponse, error)
	ClearEvents(ctx context.Context, req schema.ClearEventsRequest) (schema.ClearEventsResponse, error)
}
