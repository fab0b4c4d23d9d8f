package eventbus

import (
	"testing"
	"time"

	"github.com/PEZ/epupp/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe()
	defer cancel()

	event := schema.Event{Name: schema.EventScriptInjected, Data: map[string]any{"script": "greet.cljs"}}
	bus.OnEvent(event)

	select {
	case got := <-ch:
		if got.Type != EventLifecycle {
			t.Fatalf("expected lifecycle event, got %v", got.Type)
		}
		if got.Lifecycle.Name != event.Name {
			t.Fatalf("unexpected payload: %+v", got.Lifecycle)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestCancelDuringPublishDoesNotPanic(t *testing.T) {
	bus := New(nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			bus.OnIcon(schema.IconEvent{TabID: 1, State: schema.IconInjected})
		}
	}()
	for i := 0; i < 1000; i++ {
		_, cancel := bus.Subscribe()
		cancel()
	}
	<-done
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe()
	defer cancel()

	var sendCh chan Event
	bus.mu.Lock()
	for ch := range bus.subs {
		sendCh = ch
		break
	}
	bus.mu.Unlock()
	if sendCh == nil {
		t.Fatalf("expected subscriber channel")
	}
	sendCh <- Event{Type: EventLifecycle}
	done := make(chan struct{})
	go func() {
		bus.OnIcon(schema.IconEvent{TabID: 1, State: schema.IconConnected})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
}
