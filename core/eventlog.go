package core

import "github.com/PEZ/epupp/schema"

// eventLog is a bounded append-only ring of engine events. It exists for
// external observability only; no engine component reads it for control
// decisions.
type eventLog struct {
	events []schema.Event
	max    int
}

func newEventLog(max int) *eventLog {
	if max <= 0 {
		max = schema.DefaultEventLogSize
	}
	return &eventLog{max: max}
}

// Append adds an event, evicting the oldest entries beyond the bound.
func (l *eventLog) Append(event schema.Event) {
	l.events = append(l.events, event)
	if len(l.events) > l.max {
		trim := len(l.events) - l.max
		l.events = l.events[trim:]
	}
}

// All returns a copy of the logged events, oldest first.
func (l *eventLog) All() []schema.Event {
	out := make([]schema.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Filter returns events satisfying the predicate, oldest first.
func (l *eventLog) Filter(pred func(schema.Event) bool) []schema.Event {
	var out []schema.Event
	for _, event := range l.events {
		if pred(event) {
			out = append(out, event)
		}
	}
	return out
}

// Clear empties the log.
func (l *eventLog) Clear() {
	l.events = nil
}
