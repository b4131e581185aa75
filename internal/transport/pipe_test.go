package transport

import (
	"errors"
	"testing"
)

func TestPipe_RoundTrip(t *testing.T) {
	p := NewPipe()
	c := p.Dial()

	evs := p.Poll(nil)
	if len(evs) != 1 || evs[0].Kind != EventConnected || evs[0].Conn != c.ID() {
		t.Fatalf("connect events=%v", evs)
	}

	if err := c.Send(LaneReliable, []byte{1, 2}); err != nil {
		t.Fatalf("client send: %v", err)
	}
	evs = p.Poll(evs[:0])
	if len(evs) != 1 || evs[0].Kind != EventMessage || string(evs[0].Payload) != "\x01\x02" {
		t.Fatalf("message events=%v", evs)
	}

	if err := p.Send(c.ID(), LaneSample, []byte{9}); err != nil {
		t.Fatalf("server send: %v", err)
	}
	msgs := c.Poll(nil)
	if len(msgs) != 1 || msgs[0].Lane != LaneSample || msgs[0].Payload[0] != 9 {
		t.Fatalf("client msgs=%v", msgs)
	}
}

func TestPipe_FilterAndDisconnect(t *testing.T) {
	p := NewPipe()
	c := p.Dial()
	p.Poll(nil)

	p.SetFilter(func(_ ConnID, lane Lane, _ []byte) bool { return lane == LaneReliable })
	_ = p.Send(c.ID(), LaneSample, []byte{1})
	_ = p.Send(c.ID(), LaneReliable, []byte{2})
	if msgs := c.Poll(nil); len(msgs) != 1 || msgs[0].Payload[0] != 2 {
		t.Fatalf("filtered msgs=%v", msgs)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	evs := p.Poll(nil)
	if len(evs) != 1 || evs[0].Kind != EventDisconnected {
		t.Fatalf("disconnect events=%v", evs)
	}
	if err := c.Send(LaneReliable, []byte{1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close err=%v", err)
	}
	if err := p.Send(c.ID(), LaneReliable, []byte{1}); !errors.Is(err, ErrUnknownConn) {
		t.Fatalf("server send after close err=%v", err)
	}
	// Second close is a no-op.
	c.Close()
	if evs := p.Poll(nil); len(evs) != 0 {
		t.Fatalf("duplicate disconnect: %v", evs)
	}
}
