package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/Tinlera/Clara-Security/internal/clara"
)

func TestSubscriberReceivesMatchingKindOnly(t *testing.T) {
	bus := NewBus(8)
	bus.Run()
	defer bus.Stop()

	var mu sync.Mutex
	var got []clara.EventKind

	bus.Subscribe(func(ev clara.Event) {
		mu.Lock()
		got = append(got, ev.Kind)
		mu.Unlock()
	}, clara.EventServiceStarted)

	bus.Publish(clara.Event{Kind: clara.EventServiceStarted})
	bus.Publish(clara.Event{Kind: clara.EventServiceStopped})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != clara.EventServiceStarted {
		t.Errorf("got %v, want exactly [service_started]", got)
	}
}

func TestPanickingSubscriberDoesNotStopDispatch(t *testing.T) {
	bus := NewBus(8)
	bus.Run()
	defer bus.Stop()

	var mu sync.Mutex
	secondCalled := false

	bus.Subscribe(func(ev clara.Event) {
		panic("boom")
	}, clara.EventServiceError)
	bus.Subscribe(func(ev clara.Event) {
		mu.Lock()
		secondCalled = true
		mu.Unlock()
	}, clara.EventServiceError)

	bus.Publish(clara.Event{Kind: clara.EventServiceError})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		called := secondCalled
		mu.Unlock()
		if called {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !secondCalled {
		t.Errorf("second subscriber never ran after first panicked")
	}
}

func TestMandatoryEventsSurviveFullQueueViaOverflow(t *testing.T) {
	bus := NewBus(1)
	// Do not call Run yet — fill the main queue, then publish a
	// mandatory event, confirming it lands in overflow instead of
	// being dropped.
	bus.Publish(clara.Event{Kind: clara.EventPermissionAccess})
	bus.Publish(clara.Event{Kind: clara.EventQuarantineEntered})

	var mu sync.Mutex
	var gotMandatory bool
	bus.Subscribe(func(ev clara.Event) {
		if ev.Kind == clara.EventQuarantineEntered {
			mu.Lock()
			gotMandatory = true
			mu.Unlock()
		}
	})

	bus.Run()
	defer bus.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := gotMandatory
		mu.Unlock()
		if got {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if !gotMandatory {
		t.Errorf("mandatory event was dropped instead of using overflow path")
	}
}
