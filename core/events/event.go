package events

// Event represents a structured state change emitted by the chain.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// FanOut broadcasts every emitted event to all of its member emitters, in
// order, letting a node attach more than one downstream subscriber (e.g. a
// logger and an HTTP event log) without either needing to know about the
// other.
type FanOut []Emitter

// Emit implements the Emitter interface.
func (f FanOut) Emit(ev Event) {
	for _, e := range f {
		if e != nil {
			e.Emit(ev)
		}
	}
}
