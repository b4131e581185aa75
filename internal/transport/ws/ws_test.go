package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tickcore.dev/internal/transport"
)

func waitEvent(t *testing.T, s *Server, kind transport.EventKind) transport.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range s.Poll(nil) {
			if ev.Kind == kind {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event kind %d", kind)
	return transport.Event{}
}

func waitMessage(t *testing.T, c *Client) transport.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := c.Poll(nil); len(msgs) > 0 {
			return msgs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for message")
	return transport.Message{}
}

func TestServer_LanesRoundTrip(t *testing.T) {
	srv := NewServer(Config{}, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	conn := waitEvent(t, srv, transport.EventConnected).Conn
	if conn == 0 {
		t.Fatalf("conn id must be non-zero")
	}

	if err := c.Send(transport.LaneReliable, []byte{5, 6, 7}); err != nil {
		t.Fatalf("client send: %v", err)
	}
	ev := waitEvent(t, srv, transport.EventMessage)
	if ev.Conn != conn || ev.Lane != transport.LaneReliable || string(ev.Payload) != "\x05\x06\x07" {
		t.Fatalf("event=%+v", ev)
	}

	if err := srv.Send(conn, transport.LaneSample, []byte{1, 2}); err != nil {
		t.Fatalf("server send: %v", err)
	}
	m := waitMessage(t, c)
	if m.Lane != transport.LaneSample || string(m.Payload) != "\x01\x02" {
		t.Fatalf("msg=%+v", m)
	}

	srv.Disconnect(conn)
	waitEvent(t, srv, transport.EventDisconnected)
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("client not closed after disconnect")
	}
	if err := srv.Send(conn, transport.LaneReliable, []byte{1}); err != transport.ErrUnknownConn {
		t.Fatalf("send after disconnect err=%v", err)
	}
}

func TestSendLatest_DropsOldest(t *testing.T) {
	ch := make(chan []byte, 2)
	sendLatest(ch, []byte{1})
	sendLatest(ch, []byte{2})
	sendLatest(ch, []byte{3})
	if a, b := <-ch, <-ch; a[0] != 2 || b[0] != 3 {
		t.Fatalf("got %v %v", a, b)
	}
}
