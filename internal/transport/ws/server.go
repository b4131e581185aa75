// Package ws carries transport lanes over WebSocket binary messages. Each
// message is one lane byte followed by the payload.
package ws

import (
	"context"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tickcore.dev/internal/transport"
)

type Config struct {
	// ReliableQueue bounds queued reliable frames per connection. A peer that
	// falls this far behind is disconnected.
	ReliableQueue int
	// SampleQueue bounds queued sample frames. The oldest is dropped when full.
	SampleQueue     int
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	MaxMessageBytes int64
}

func DefaultConfig() Config {
	return Config{
		ReliableQueue:   256,
		SampleQueue:     4,
		WriteTimeout:    5 * time.Second,
		ReadTimeout:     60 * time.Second,
		MaxMessageBytes: 1 << 20,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ReliableQueue <= 0 {
		c.ReliableQueue = d.ReliableQueue
	}
	if c.SampleQueue <= 0 {
		c.SampleQueue = d.SampleQueue
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	return c
}

// Server implements transport.Transport for connections accepted by Handler.
type Server struct {
	cfg Config
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint32
	events   transport.EventQueue

	mu    sync.Mutex
	peers map[transport.ConnID]*peer
}

type peer struct {
	id       transport.ConnID
	conn     *websocket.Conn
	reliable chan []byte
	sample   chan []byte
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewServer(cfg Config, logger *log.Logger) *Server {
	return &Server{
		cfg: cfg.withDefaults(),
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		peers: map[transport.ConnID]*peer{},
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(s.cfg.MaxMessageBytes)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		p := &peer{
			id:       transport.ConnID(s.nextID.Add(1)),
			conn:     conn,
			reliable: make(chan []byte, s.cfg.ReliableQueue),
			sample:   make(chan []byte, s.cfg.SampleQueue),
			ctx:      ctx,
			cancel:   cancel,
		}
		s.mu.Lock()
		s.peers[p.id] = p
		s.mu.Unlock()
		s.events.Push(transport.Event{Kind: transport.EventConnected, Conn: p.id})

		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			s.writeLoop(p)
		}()

		s.readLoop(p)

		cancel()
		s.mu.Lock()
		delete(s.peers, p.id)
		s.mu.Unlock()
		s.events.Push(transport.Event{Kind: transport.EventDisconnected, Conn: p.id})

		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) readLoop(p *peer) {
	// Unblock ReadMessage when the peer is dropped from the sim side.
	go func() {
		<-p.ctx.Done()
		_ = p.conn.SetReadDeadline(time.Now())
	}()
	for {
		_ = p.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		mt, msg, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		if p.ctx.Err() != nil {
			return
		}
		if mt != websocket.BinaryMessage || len(msg) < 2 {
			continue
		}
		lane := transport.Lane(msg[0])
		if lane != transport.LaneReliable && lane != transport.LaneSample {
			continue
		}
		s.events.Push(transport.Event{Kind: transport.EventMessage, Conn: p.id, Lane: lane, Payload: msg[1:]})
	}
}

// writeLoop drains reliable frames before sample frames.
func (s *Server) writeLoop(p *peer) {
	for {
		var b []byte
		select {
		case b = <-p.reliable:
		default:
			select {
			case <-p.ctx.Done():
				return
			case b = <-p.reliable:
			case b = <-p.sample:
			}
		}
		_ = p.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := p.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
			p.cancel()
			return
		}
	}
}

func (s *Server) Poll(dst []transport.Event) []transport.Event { return s.events.Drain(dst) }

func (s *Server) Send(conn transport.ConnID, lane transport.Lane, b []byte) error {
	s.mu.Lock()
	p, ok := s.peers[conn]
	s.mu.Unlock()
	if !ok {
		return transport.ErrUnknownConn
	}
	frame := make([]byte, 0, len(b)+1)
	frame = append(frame, byte(lane))
	frame = append(frame, b...)

	switch lane {
	case transport.LaneReliable:
		select {
		case p.reliable <- frame:
			return nil
		default:
			s.logf("conn %d: reliable queue full, disconnecting", conn)
			p.cancel()
			return transport.ErrQueueFull
		}
	case transport.LaneSample:
		sendLatest(p.sample, frame)
		return nil
	}
	return transport.ErrBadLane
}

func (s *Server) Disconnect(conn transport.ConnID) {
	s.mu.Lock()
	p, ok := s.peers[conn]
	s.mu.Unlock()
	if ok {
		p.cancel()
	}
}

// Close drops every connection.
func (s *Server) Close() {
	s.mu.Lock()
	for _, p := range s.peers {
		p.cancel()
	}
	s.mu.Unlock()
}

func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// sendLatest enqueues b, evicting the oldest frame when ch is full.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
