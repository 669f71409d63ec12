package capture

import "sync"

// EventKind identifies a recorder notification.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventPaused   EventKind = "paused"
	EventResumed  EventKind = "resumed"
	EventLevel    EventKind = "level"
	EventComplete EventKind = "complete"
	EventError    EventKind = "error"
)

// LevelUpdate carries a normalized 0-100 amplitude and approximate peak.
type LevelUpdate struct {
	Level float64
	Peak  float64
}

// Event is a recorder notification payload.
type Event struct {
	Kind   EventKind
	Level  *LevelUpdate
	Result *CaptureResult
	Err    error
}

// Handler receives recorder events.
type Handler func(Event)

// emitter is an explicit observer registry scoped to one recorder. There is
// no process-wide event bus here; subscribers attach to the instance they
// care about.
type emitter struct {
	mu   sync.Mutex
	next int
	subs map[int]subscription
}

type subscription struct {
	kind    EventKind
	handler Handler
}

func newEmitter() *emitter {
	return &emitter{subs: make(map[int]subscription)}
}

// subscribe registers a handler for one event kind and returns an
// unsubscribe function.
func (e *emitter) subscribe(kind EventKind, h Handler) func() {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = subscription{kind: kind, handler: h}
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *emitter) publish(evt Event) {
	e.mu.Lock()
	handlers := make([]Handler, 0, len(e.subs))
	for _, s := range e.subs {
		if s.kind == evt.Kind {
			handlers = append(handlers, s.handler)
		}
	}
	e.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}
