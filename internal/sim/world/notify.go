package world

// NotificationKind tags a cross-cutting event published by systems.
type NotificationKind uint8

const (
	NoteEntitySpawned NotificationKind = iota + 1
	NoteEntityDestroyed
	NoteFlowStarted
	NoteFlowTransition
	NoteFlowCompleted
)

func (k NotificationKind) String() string {
	switch k {
	case NoteEntitySpawned:
		return "entity_spawned"
	case NoteEntityDestroyed:
		return "entity_destroyed"
	case NoteFlowStarted:
		return "flow_started"
	case NoteFlowTransition:
		return "flow_transition"
	case NoteFlowCompleted:
		return "flow_completed"
	}
	return "unknown"
}

type Notification struct {
	Kind   NotificationKind
	Tick   int64
	Entity int32
	Stage  uint8
}

// Notifier is a bounded queue for one consumer. Publishing never blocks the
// simulation: when full, the oldest notification is dropped.
type Notifier struct {
	ch      chan Notification
	dropped uint64
}

func NewNotifier(capacity int) *Notifier {
	if capacity <= 0 {
		capacity = 64
	}
	return &Notifier{ch: make(chan Notification, capacity)}
}

func (n *Notifier) C() <-chan Notification { return n.ch }

func (n *Notifier) Dropped() uint64 { return n.dropped }

func (n *Notifier) Publish(note Notification) {
	if n == nil {
		return
	}
	select {
	case n.ch <- note:
		return
	default:
	}
	// Drop one.
	select {
	case <-n.ch:
		n.dropped++
	default:
	}
	select {
	case n.ch <- note:
	default:
		n.dropped++
	}
}

// Drain empties the queue without blocking.
func (n *Notifier) Drain(dst []Notification) []Notification {
	for {
		select {
		case note := <-n.ch:
			dst = append(dst, note)
		default:
			return dst
		}
	}
}
