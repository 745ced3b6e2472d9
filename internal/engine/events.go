package engine

import "github.com/Veraticus/subscription-copilot/internal/model"

// EventType identifies a progress event.
type EventType string

// Event types emitted during a scan.
const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Phase is the stage a scan is in.
type Phase string

// Scan phases.
const (
	PhaseSearch Phase = "search"
	PhaseScan   Phase = "scan"
)

// Event reports scan progress to an observer.
type Event struct {
	Type          EventType
	Phase         Phase
	Message       string
	Subscriptions []model.Subscription
	Scanned       int
	Total         int
	Found         int
}

// Observer receives scan events. Observe is called synchronously from the
// scanning goroutine.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// Discard is an Observer that ignores every event.
var Discard Observer = ObserverFunc(func(Event) {})

// MultiObserver fans events out to several observers in order.
func MultiObserver(observers ...Observer) Observer {
	return ObserverFunc(func(e Event) {
		for _, o := range observers {
			if o != nil {
				o.Observe(e)
			}
		}
	})
}

func status(phase Phase, msg string) Event {
	return Event{Type: EventStatus, Phase: phase, Message: msg}
}

func progress(scanned, total, found int) Event {
	return Event{Type: EventProgress, Phase: PhaseScan, Scanned: scanned, Total: total, Found: found}
}
