// Package transport is the contract between the session layer and whatever
// moves bytes: every message is a (lane, bytes) pair. Reliable payloads
// arrive in order or the connection is dropped. Sample payloads may be lost
// or superseded.
package transport

import (
	"errors"
	"sync"
)

type Lane uint8

const (
	LaneReliable Lane = 1
	LaneSample   Lane = 2
)

func (l Lane) String() string {
	switch l {
	case LaneReliable:
		return "reliable"
	case LaneSample:
		return "sample"
	}
	return "unknown"
}

type ConnID uint32

type EventKind uint8

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessage
)

type Event struct {
	Kind    EventKind
	Conn    ConnID
	Lane    Lane
	Payload []byte
}

var (
	ErrUnknownConn = errors.New("transport: unknown connection")
	ErrClosed      = errors.New("transport: connection closed")
	ErrQueueFull   = errors.New("transport: reliable queue full")
	ErrBadLane     = errors.New("transport: bad lane")
)

// Transport is the server side. Poll is non-blocking and called from the
// simulation loop only. Send must not block.
type Transport interface {
	Poll(dst []Event) []Event
	Send(conn ConnID, lane Lane, b []byte) error
	Disconnect(conn ConnID)
}

type Message struct {
	Lane    Lane
	Payload []byte
}

// Conn is the client side of one connection.
type Conn interface {
	Poll(dst []Message) []Message
	Send(lane Lane, b []byte) error
	Close() error
}

// EventQueue is a mutex-guarded FIFO filled by I/O goroutines and drained by
// the simulation loop.
type EventQueue struct {
	mu     sync.Mutex
	events []Event
}

func (q *EventQueue) Push(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

func (q *EventQueue) Drain(dst []Event) []Event {
	q.mu.Lock()
	dst = append(dst, q.events...)
	for i := range q.events {
		q.events[i] = Event{}
	}
	q.events = q.events[:0]
	q.mu.Unlock()
	return dst
}

// MessageQueue is the client-side counterpart of EventQueue.
type MessageQueue struct {
	mu   sync.Mutex
	msgs []Message
}

func (q *MessageQueue) Push(m Message) {
	q.mu.Lock()
	q.msgs = append(q.msgs, m)
	q.mu.Unlock()
}

func (q *MessageQueue) Drain(dst []Message) []Message {
	q.mu.Lock()
	dst = append(dst, q.msgs...)
	for i := range q.msgs {
		q.msgs[i] = Message{}
	}
	q.msgs = q.msgs[:0]
	q.mu.Unlock()
	return dst
}
