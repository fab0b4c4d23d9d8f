package epupp

import (
	"github.com/PEZ/epupp/core"
	"github.com/PEZ/epupp/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnEvent(event schema.Event) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnEvent(event)
	}
}

func (f eventFanout) OnStorage(event schema.StorageEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnStorage(event)
	}
}

func (f eventFanout) OnConnection(event schema.ConnectionEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnConnection(event)
	}
}

func (f eventFanout) OnIcon(event schema.IconEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnIcon(event)
	}
}
