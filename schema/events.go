package schema

import "time"

// EventName identifies a structured lifecycle event.
type EventName string

const (
	// EventExtensionStarted is emitted once when the engine starts.
	EventExtensionStarted EventName = "EXTENSION_STARTED"
	// EventScriptInjected is emitted after a script body is registered
	// into a page.
	EventScriptInjected EventName = "SCRIPT_INJECTED"
	// EventInjectingRequires is emitted before required library tags are
	// injected; data carries the file list.
	EventInjectingRequires EventName = "INJECTING_REQUIRES"
	// EventLibsInjected is emitted once required libraries are ready.
	EventLibsInjected EventName = "LIBS_INJECTED"
	// EventRuntimeLoaded is emitted when the embedded runtime reports
	// ready in a tab.
	EventRuntimeLoaded EventName = "SCITTLE_LOADED"
	// EventIconStateChanged is emitted when a tab's icon state changes.
	EventIconStateChanged EventName = "ICON_STATE_CHANGED"
	// EventInstallMarkersFound is emitted when a scanned page carries
	// install-from-web markers.
	EventInstallMarkersFound EventName = "INSTALL_MARKERS_FOUND"
)

// Event is an append-only record in the engine event log.
type Event struct {
	Name      EventName      `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// StorageEventType describes a script storage delta.
type StorageEventType string

const (
	// StorageScriptSaved indicates a script was created or updated.
	StorageScriptSaved StorageEventType = "saved"
	// StorageScriptRemoved indicates a script was deleted.
	StorageScriptRemoved StorageEventType = "removed"
	// StorageScriptRenamed indicates a script changed name.
	StorageScriptRenamed StorageEventType = "renamed"
)

// StorageEvent is broadcast to UI surfaces whenever script storage changes,
// so open popups, panels, and pages update live.
type StorageEvent struct {
	Type     StorageEventType `json:"type"`
	Script   ScriptSnapshot   `json:"script"`
	OldName  ScriptName       `json:"old_name,omitempty"`
	Scripts  []ScriptSnapshot `json:"scripts"`
	Occurred time.Time        `json:"occurred"`
}

// IconEvent reports a per-tab icon state change.
type IconEvent struct {
	TabID   TabID     `json:"tab_id"`
	State   IconState `json:"state"`
	Toolbar IconState `json:"toolbar"`
}

// ConnectionEventType describes a connection lifecycle change.
type ConnectionEventType string

const (
	// ConnectionOpened indicates a tab connected to a bridge server.
	ConnectionOpened ConnectionEventType = "opened"
	// ConnectionClosed indicates a tab disconnected.
	ConnectionClosed ConnectionEventType = "closed"
)

// ConnectionEvent reports a connection lifecycle change.
type ConnectionEvent struct {
	Type       ConnectionEventType `json:"type"`
	Connection Connection          `json:"connection"`
}
