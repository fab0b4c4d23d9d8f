package core

import "github.com/PEZ/epupp/schema"

// EventSink receives engine events for UI surfaces and diagnostics.
type EventSink interface {
	OnEvent(event schema.Event)
	OnStorage(event schema.StorageEvent)
	OnConnection(event schema.ConnectionEvent)
	OnIcon(event schema.IconEvent)
}
