package resource

// Handle identifies a live foreign object in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Kind distinguishes array handles from other opaque handles.
type Kind uint8

const (
	KindArray Kind = iota
	KindOpaque
)

func (k Kind) String() string {
	if k == KindArray {
		return "array"
	}
	return "opaque"
}

// Entry describes one live foreign object: its manifest type name, the
// foreign pointer it owns and the host value wrapping it.
type Entry struct {
	Value any
	Type  string
	Ref   uint32
	Kind  Kind
}

// EventType is a handle lifecycle transition.
type EventType uint8

const (
	EventCreated EventType = iota
	EventReleased
	EventLeaked
)

func (e EventType) String() string {
	switch e {
	case EventCreated:
		return "created"
	case EventReleased:
		return "released"
	case EventLeaked:
		return "leaked"
	}
	return "unknown"
}

// Event represents a handle lifecycle event.
type Event struct {
	Entry  Entry
	Handle Handle
	Type   EventType
}

// Observer receives notifications about handle lifecycle events.
// Observers are called synchronously and must not call back into the table.
type Observer interface {
	OnHandleEvent(Event)
}

// Stats are cumulative handle counts for a table.
type Stats struct {
	Created  uint64
	Released uint64
	Live     int
}
