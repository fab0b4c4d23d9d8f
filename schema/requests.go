package schema

// Script storage.

// SaveScriptRequest describes a request to save a script.
// Name overrides the manifest-derived name when set. Unforced saves that
// collide with an existing name resolve to a pending confirmation.
type SaveScriptRequest struct {
	Code    string
	Name    ScriptName
	Force   bool
	Enabled *bool
}

// SaveScriptResponse reports the saved script, or the pending confirmation
// an unforced conflicting save was converted into.
type SaveScriptResponse struct {
	Script  ScriptSnapshot
	Pending *PendingConfirmation
}

// SaveScriptsRequest describes a batch save. Validation is all-or-nothing;
// the error names every offending entry.
type SaveScriptsRequest struct {
	Entries []SaveScriptRequest
	Force   bool
}

// SaveScriptsResponse reports per-entry outcomes in request order.
type SaveScriptsResponse struct {
	Results []SaveScriptResponse
}

// RemoveScriptsRequest describes removal of one or more scripts by name.
type RemoveScriptsRequest struct {
	Names []ScriptName
	Force bool
}

// RemovedScript reports the outcome for one removed name. Existed
// distinguishes "just removed" from "already gone".
type RemovedScript struct {
	Name    ScriptName
	Existed bool
}

// RemoveScriptsResponse reports removal outcomes in request order.
type RemoveScriptsResponse struct {
	Removed []RemovedScript
}

// RenameScriptRequest describes a script rename.
type RenameScriptRequest struct {
	From  ScriptName
	To    ScriptName
	Force bool
}

// RenameScriptResponse reports the renamed script, or the pending
// confirmation an unforced rename was converted into.
type RenameScriptResponse struct {
	Script  ScriptSnapshot
	Pending *PendingConfirmation
}

// ListScriptsRequest describes a request to list scripts.
// Builtin records are excluded unless IncludeHidden is set.
type ListScriptsRequest struct {
	IncludeHidden bool
}

// ListScriptsResponse reports script snapshots with display fields
// re-derived from code.
type ListScriptsResponse struct {
	Scripts []ScriptSnapshot
}

// ShowScriptsRequest describes a request for raw script code. Batch
// semantics are partial: missing names resolve to nil entries.
type ShowScriptsRequest struct {
	Names []ScriptName
}

// ShowScriptsResponse maps each requested name to its code, or nil when
// the name is absent.
type ShowScriptsResponse struct {
	Code map[ScriptName]*string
}

// Confirmations.

// ConfirmRequest approves the pending confirmation for a source name and
// executes the deferred mutation.
type ConfirmRequest struct {
	Source ScriptName
}

// ConfirmResponse reports the result of the executed mutation.
type ConfirmResponse struct {
	Script ScriptSnapshot
}

// CancelConfirmationRequest discards the pending confirmation for a source
// name without applying it.
type CancelConfirmationRequest struct {
	Source ScriptName
}

// CancelConfirmationResponse reports the discarded confirmation.
type CancelConfirmationResponse struct {
	Confirmation PendingConfirmation
}

// ListConfirmationsRequest describes a request for all pending confirmations.
type ListConfirmationsRequest struct{}

// ListConfirmationsResponse reports pending confirmations.
type ListConfirmationsResponse struct {
	Confirmations []PendingConfirmation
}

// Connections.

// ConnectTabRequest opens (or reuses) a bridge connection for a tab.
type ConnectTabRequest struct {
	TabID TabID
	Port  Port
	Title string
}

// ConnectTabResponse reports the active connection.
type ConnectTabResponse struct {
	Connection Connection
}

// DisconnectTabRequest tears down a tab's bridge connection.
type DisconnectTabRequest struct {
	TabID TabID
}

// DisconnectTabResponse reports the closed connection.
type DisconnectTabResponse struct {
	Connection Connection
}

// ListConnectionsRequest describes a request for all active connections.
type ListConnectionsRequest struct{}

// ListConnectionsResponse reports active connections.
type ListConnectionsResponse struct {
	Connections []Connection
}

// Tab lifecycle and navigation.

// NavigationRequest reports a committed navigation in a tab. SPA marks a
// client-side navigation on the same document, which resets injection
// markers before rescanning.
type NavigationRequest struct {
	TabID TabID
	URL   string
	SPA   bool
}

// NavigationResponse reports the immediate scan outcome. Scheduled is true
// while backoff retries remain pending for this navigation.
type NavigationResponse struct {
	Matched   []ScriptName
	Scheduled bool
}

// TabClosedRequest reports a closed tab.
type TabClosedRequest struct {
	TabID TabID
}

// TabClosedResponse reports teardown completion.
type TabClosedResponse struct{}

// TabFocusedRequest reports an active-tab change.
type TabFocusedRequest struct {
	TabID TabID
}

// TabFocusedResponse reports the icon states after the focus change.
type TabFocusedResponse struct {
	Tab     IconState
	Toolbar IconState
}

// RuntimeInjectedRequest reports that the embedded runtime loaded in a tab.
type RuntimeInjectedRequest struct {
	TabID TabID
}

// RuntimeInjectedResponse reports the tab's icon state after the update.
type RuntimeInjectedResponse struct {
	State IconState
}

// IconStateRequest asks for a tab's icon state.
type IconStateRequest struct {
	TabID TabID
}

// IconStateResponse reports per-tab and toolbar icon states.
type IconStateResponse struct {
	Tab     IconState
	Toolbar IconState
}

// Event log.

// ListEventsRequest describes a request for logged events, optionally
// filtered by name.
type ListEventsRequest struct {
	Name EventName
}

// ListEventsResponse reports logged events, oldest first.
type ListEventsResponse struct {
	Events []Event
}

// ClearEventsRequest empties the event log.
type ClearEventsRequest struct{}

// ClearEventsResponse reports completion.
type ClearEventsResponse struct{}
