package transport

import "sync"

// Filter decides whether a server-to-client payload is delivered. Tests use
// it to simulate loss.
type Filter func(conn ConnID, lane Lane, b []byte) bool

// Pipe is an in-memory Transport. Delivery is immediate and ordered.
type Pipe struct {
	mu     sync.Mutex
	nextID ConnID
	conns  map[ConnID]*PipeConn
	filter Filter

	events EventQueue
}

func NewPipe() *Pipe {
	return &Pipe{conns: map[ConnID]*PipeConn{}}
}

func (p *Pipe) SetFilter(f Filter) {
	p.mu.Lock()
	p.filter = f
	p.mu.Unlock()
}

// Dial opens a new client connection.
func (p *Pipe) Dial() *PipeConn {
	p.mu.Lock()
	p.nextID++
	c := &PipeConn{id: p.nextID, pipe: p}
	p.conns[c.id] = c
	p.mu.Unlock()
	p.events.Push(Event{Kind: EventConnected, Conn: c.id})
	return c
}

func (p *Pipe) Poll(dst []Event) []Event { return p.events.Drain(dst) }

func (p *Pipe) Send(conn ConnID, lane Lane, b []byte) error {
	if lane != LaneReliable && lane != LaneSample {
		return ErrBadLane
	}
	p.mu.Lock()
	c, ok := p.conns[conn]
	f := p.filter
	p.mu.Unlock()
	if !ok {
		return ErrUnknownConn
	}
	if f != nil && !f(conn, lane, b) {
		return nil
	}
	c.in.Push(Message{Lane: lane, Payload: append([]byte(nil), b...)})
	return nil
}

func (p *Pipe) Disconnect(conn ConnID) {
	if p.remove(conn) {
		p.events.Push(Event{Kind: EventDisconnected, Conn: conn})
	}
}

func (p *Pipe) remove(conn ConnID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[conn]
	if !ok {
		return false
	}
	delete(p.conns, conn)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return true
}

type PipeConn struct {
	id   ConnID
	pipe *Pipe
	in   MessageQueue

	mu     sync.Mutex
	closed bool
}

func (c *PipeConn) ID() ConnID { return c.id }

func (c *PipeConn) Poll(dst []Message) []Message { return c.in.Drain(dst) }

func (c *PipeConn) Send(lane Lane, b []byte) error {
	if lane != LaneReliable && lane != LaneSample {
		return ErrBadLane
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.pipe.events.Push(Event{Kind: EventMessage, Conn: c.id, Lane: lane, Payload: append([]byte(nil), b...)})
	return nil
}

func (c *PipeConn) Close() error {
	c.pipe.Disconnect(c.id)
	return nil
}
