package command

import (
	"errors"
	"fmt"
)

var (
	ErrNoSystems      = errors.New("command: router needs at least one system")
	ErrNilSystem      = errors.New("command: nil system")
	ErrDuplicateOwner = errors.New("command: command type claimed by two systems")
)

// Handler is the routing side of a gameplay system: it declares the command
// types it owns and accepts them into its inbox.
type Handler interface {
	Name() string
	OwnedCommandTypes() []Type
	EnqueueCommand(conn ConnID, clientSeq uint32, cmd Command)
}

// RoutedBatch is a batch released for a tick, tagged with its connection.
type RoutedBatch struct {
	Conn  ConnID `json:"conn"`
	Batch Batch  `json:"batch"`
}

// Router dispatches commands to the single system owning each type. The
// ownership table is fixed at construction.
type Router struct {
	owners   map[Type]Handler
	handlers []Handler
	dropped  uint64
}

func NewRouter(handlers []Handler) (*Router, error) {
	if len(handlers) == 0 {
		return nil, ErrNoSystems
	}
	r := &Router{owners: make(map[Type]Handler), handlers: handlers}
	for i, h := range handlers {
		if h == nil {
			return nil, fmt.Errorf("%w at index %d", ErrNilSystem, i)
		}
		for _, t := range h.OwnedCommandTypes() {
			if prev, ok := r.owners[t]; ok {
				return nil, fmt.Errorf("%w: %s owned by %s and %s", ErrDuplicateOwner, t, prev.Name(), h.Name())
			}
			r.owners[t] = h
		}
	}
	return r, nil
}

// Owner returns the system that owns t.
func (r *Router) Owner(t Type) (Handler, bool) {
	h, ok := r.owners[t]
	return h, ok
}

// RouteTick pops every batch buffered for tick, connections ascending and
// batches FIFO, and dispatches each command. Unowned types are dropped.
func (r *Router) RouteTick(tick int64, buf *Buffer) []RoutedBatch {
	var routed []RoutedBatch
	for _, conn := range buf.ConnectionIDsForTick(tick) {
		for _, b := range buf.DequeueAllForTick(tick, conn) {
			r.Dispatch(conn, b)
			routed = append(routed, RoutedBatch{Conn: conn, Batch: b})
		}
	}
	return routed
}

// Dispatch routes a single batch. Used directly when replaying a journal.
func (r *Router) Dispatch(conn ConnID, b Batch) {
	for _, c := range b.Commands {
		h, ok := r.owners[c.Type]
		if !ok {
			r.dropped++
			continue
		}
		h.EnqueueCommand(conn, b.ClientSeq, c)
	}
}

// Dropped counts commands discarded for lack of an owner.
func (r *Router) Dropped() uint64 { return r.dropped }
