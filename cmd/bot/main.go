package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tickcore.dev/internal/client"
	"tickcore.dev/internal/sim/command"
	"tickcore.dev/internal/transport"
	"tickcore.dev/internal/transport/ws"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		hz        = flag.Int("hz", 60, "client frame rate")
		moveEvery = flag.Duration("move_every", 250*time.Millisecond, "interval between move commands")
		flowEvery = flag.Duration("flow_every", 5*time.Second, "interval between flow fire commands (0 to disable)")
		token     = flag.String("resume", "", "resume token from a previous session")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "random walk seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	conn, err := ws.Dial(dialCtx, *url)
	cancel()
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	b := newBot(conn, client.NewSession(64), *hz, rand.New(rand.NewSource(*seed)), logger)
	if err := b.hello(*token); err != nil {
		logger.Fatalf("send hello: %v", err)
	}
	b.run(ctx, conn.Done(), *moveEvery, *flowEvery)
}

type bot struct {
	conn  *ws.Client
	sess  *client.Session
	hz    int
	rng   *rand.Rand
	log   *log.Logger
	start time.Time

	inbox  []transport.Message
	outbox []transport.Message
	flowID int32
}

func newBot(conn *ws.Client, sess *client.Session, hz int, rng *rand.Rand, logger *log.Logger) *bot {
	if hz <= 0 {
		hz = 60
	}
	return &bot{conn: conn, sess: sess, hz: hz, rng: rng, log: logger, start: time.Now()}
}

func (b *bot) nowMs() float64 {
	return float64(time.Since(b.start)) / float64(time.Millisecond)
}

func (b *bot) hello(token string) error {
	msg, err := b.sess.BuildHello(b.hz, token)
	if err != nil {
		return err
	}
	return b.conn.Send(transport.LaneReliable, msg)
}

func (b *bot) run(ctx context.Context, done <-chan struct{}, moveEvery, flowEvery time.Duration) {
	frame := time.NewTicker(time.Second / time.Duration(b.hz))
	defer frame.Stop()
	ping := time.NewTicker(time.Second)
	defer ping.Stop()
	move := time.NewTicker(moveEvery)
	defer move.Stop()

	var flowC <-chan time.Time
	if flowEvery > 0 {
		flow := time.NewTicker(flowEvery)
		defer flow.Stop()
		flowC = flow.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			b.log.Printf("connection closed")
			return
		case <-frame.C:
			b.pump()
		case <-ping.C:
			if b.sess.Welcomed() {
				_ = b.conn.Send(transport.LaneReliable, b.sess.BuildPing(b.nowMs()))
			}
		case <-move.C:
			b.act(command.Command{
				Type:   command.CmdMoveBy,
				Entity: b.sess.AvatarID(),
				X:      int32(b.rng.Intn(3) - 1),
				Y:      int32(b.rng.Intn(3) - 1),
			})
		case <-flowC:
			b.flowID++
			b.act(command.Command{Type: command.CmdFlowFire, Entity: b.sess.AvatarID(), Arg: b.flowID})
		}
	}
}

// pump applies inbound messages, reports notes and flushes queued replies.
func (b *bot) pump() {
	now := b.nowMs()
	b.inbox = b.conn.Poll(b.inbox[:0])
	for _, m := range b.inbox {
		if err := b.sess.HandleMessage(m.Lane, m.Payload, now); err != nil {
			b.log.Printf("lane %d: %v", m.Lane, err)
		}
	}
	for drained := false; !drained; {
		select {
		case n := <-b.sess.Notes():
			b.report(n)
		default:
			drained = true
		}
	}
	b.outbox = b.sess.DrainOutbox(b.outbox[:0])
	for _, m := range b.outbox {
		if err := b.conn.Send(m.Lane, m.Payload); err != nil {
			b.log.Printf("send: %v", err)
			return
		}
	}
}

func (b *bot) report(n client.Note) {
	switch n.Kind {
	case client.NoteWelcome:
		b.log.Printf("WELCOME conn=%d avatar=%d tick_rate=%d token=%s", b.sess.ConnID(), b.sess.AvatarID(), b.sess.TickRateHz(), b.sess.ResumeToken())
	case client.NoteBaselineApplied:
		b.log.Printf("baseline tick=%d entities=%d", n.Tick, b.sess.State.Len())
	case client.NoteDesync:
		b.log.Printf("desync tick=%d reason=%v", n.Tick, n.Reason)
	case client.NoteFlowChanged:
		if n.Entity == b.sess.AvatarID() {
			b.log.Printf("flow tick=%d stage=%d progress=%d", n.Tick, n.Flow.Stage, n.Flow.Progress)
		}
	}
}

func (b *bot) act(cmds ...command.Command) {
	if !b.sess.Welcomed() || !b.sess.CanPredict() {
		return
	}
	msg, target, err := b.sess.BuildCommands(b.nowMs(), cmds...)
	if err != nil {
		return
	}
	if err := b.conn.Send(transport.LaneReliable, msg); err != nil {
		b.log.Printf("send commands for tick %d: %v", target, err)
	}
}
