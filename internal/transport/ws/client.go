package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tickcore.dev/internal/transport"
)

// Client is the dialing side of a lane connection.
type Client struct {
	conn *websocket.Conn
	in   transport.MessageQueue

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, done: make(chan struct{})}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer c.close()
	for {
		mt, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage || len(msg) < 2 {
			continue
		}
		c.in.Push(transport.Message{Lane: transport.Lane(msg[0]), Payload: msg[1:]})
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Poll(dst []transport.Message) []transport.Message { return c.in.Drain(dst) }

func (c *Client) Send(lane transport.Lane, b []byte) error {
	if lane != transport.LaneReliable && lane != transport.LaneSample {
		return transport.ErrBadLane
	}
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	frame := make([]byte, 0, len(b)+1)
	frame = append(frame, byte(lane))
	frame = append(frame, b...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.close()
	return nil
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
