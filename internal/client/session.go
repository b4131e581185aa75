package client

import (
	"errors"
	"fmt"

	"tickcore.dev/internal/protocol"
	"tickcore.dev/internal/sim/command"
	"tickcore.dev/internal/sim/repop"
	"tickcore.dev/internal/transport"
)

var ErrNotWelcomed = errors.New("client: no welcome received")

type NoteKind uint8

const (
	NoteWelcome NoteKind = iota + 1
	NoteBaselineApplied
	NoteDesync
	NoteEntityAdded
	NoteEntityRemoved
	NoteFlowChanged
)

type Note struct {
	Kind   NoteKind
	Tick   int64
	Entity int32
	Flow   repop.FlowState
	Reason protocol.ResyncReason
}

// Session is the client state machine. It is not safe for concurrent use.
type Session struct {
	Sync  TimeSync
	Delay InputDelay
	State *AuthState

	welcomed       bool
	conn           uint32
	avatar         int32
	token          string
	tickRateHz     int
	maxPastTicks   int
	maxFutureTicks int

	haveBaseline   bool
	baselineTick   int64
	lastTick       int64
	lastSampleTick int64
	expectSeq      uint32
	desynced       bool
	resyncSent     bool

	flows map[int32]repop.FlowState

	nextPingID uint32
	nextCmdSeq uint32

	outbox []transport.Message
	notes  chan Note
}

func NewSession(noteQueue int) *Session {
	if noteQueue <= 0 {
		noteQueue = 64
	}
	return &Session{
		State: NewAuthState(),
		flows: map[int32]repop.FlowState{},
		notes: make(chan Note, noteQueue),
	}
}

func (s *Session) Welcomed() bool          { return s.welcomed }
func (s *Session) ConnID() uint32          { return s.conn }
func (s *Session) AvatarID() int32         { return s.avatar }
func (s *Session) ResumeToken() string     { return s.token }
func (s *Session) TickRateHz() int         { return s.tickRateHz }
func (s *Session) BaselineTick() int64     { return s.baselineTick }
func (s *Session) LastTick() int64         { return s.lastTick }
func (s *Session) NeedsResync() bool       { return s.desynced }
func (s *Session) Notes() <-chan Note      { return s.notes }
func (s *Session) NextReliableSeq() uint32 { return s.expectSeq }

// CanPredict reports whether local prediction is allowed: the clock is
// locked and the mirror is in sync.
func (s *Session) CanPredict() bool {
	return s.Sync.HasLock() && s.haveBaseline && !s.desynced
}

func (s *Session) Flow(entity int32) (repop.FlowState, bool) {
	f, ok := s.flows[entity]
	return f, ok
}

// DrainOutbox returns protocol replies queued by HandleMessage.
func (s *Session) DrainOutbox(dst []transport.Message) []transport.Message {
	dst = append(dst, s.outbox...)
	s.outbox = s.outbox[:0]
	return dst
}

func (s *Session) publish(n Note) {
	select {
	case s.notes <- n:
		return
	default:
	}
	select {
	case <-s.notes:
	default:
	}
	select {
	case s.notes <- n:
	default:
	}
}

func (s *Session) queue(lane transport.Lane, b []byte) {
	s.outbox = append(s.outbox, transport.Message{Lane: lane, Payload: b})
}

// markDesync keeps the last known state and asks once for a new baseline.
func (s *Session) markDesync(reason protocol.ResyncReason) {
	s.desynced = true
	if s.resyncSent {
		return
	}
	s.resyncSent = true
	s.queue(transport.LaneReliable, protocol.ResyncRequestMsg{Reason: reason}.Marshal())
	s.publish(Note{Kind: NoteDesync, Tick: s.lastTick, Reason: reason})
}

// HandleMessage applies one inbound message. Decode failures mark the
// session desynchronized and are returned for diagnostics only.
func (s *Session) HandleMessage(lane transport.Lane, b []byte, nowMs float64) error {
	kind, err := protocol.PeekKind(b)
	if err != nil {
		if lane == transport.LaneReliable {
			s.markDesync(protocol.ResyncDecode)
		}
		return err
	}
	switch kind {
	case protocol.KindWelcome:
		return s.handleWelcome(b)
	case protocol.KindBaseline:
		return s.handleBaseline(b)
	case protocol.KindOps:
		return s.handleOps(lane, b)
	case protocol.KindPong:
		return s.handlePong(b, nowMs)
	}
	return nil
}

func (s *Session) handleWelcome(b []byte) error {
	m, err := protocol.UnmarshalWelcome(b)
	if err != nil {
		s.markDesync(protocol.ResyncDecode)
		return err
	}
	s.welcomed = true
	s.conn = m.ConnID
	s.avatar = m.AvatarID
	s.token = m.ResumeToken
	s.tickRateHz = int(m.TickRateHz)
	s.maxPastTicks = int(m.MaxPastTicks)
	s.maxFutureTicks = int(m.MaxFutureTicks)
	s.Sync.SeedFromWelcome(m.ServerTimeMs, int64(m.ServerTick))
	s.publish(Note{Kind: NoteWelcome, Tick: int64(m.ServerTick), Entity: m.AvatarID})
	return nil
}

func (s *Session) handleBaseline(b []byte) error {
	m, err := protocol.UnmarshalBaseline(b)
	if err != nil {
		s.markDesync(protocol.ResyncDecode)
		return err
	}
	s.State.ApplyFullSnapshot(m.Entities)
	for id := range s.flows {
		if _, ok := s.State.Entity(id); !ok {
			delete(s.flows, id)
		}
	}
	s.haveBaseline = true
	s.baselineTick = int64(m.ServerTick)
	s.lastTick = s.baselineTick
	s.lastSampleTick = s.baselineTick
	s.expectSeq = 0
	s.desynced = false
	s.resyncSent = false
	s.publish(Note{Kind: NoteBaselineApplied, Tick: s.baselineTick})
	return nil
}

func (s *Session) handleOps(lane transport.Lane, b []byte) error {
	m, err := protocol.UnmarshalOps(b)
	if err != nil {
		if lane == transport.LaneReliable {
			s.markDesync(protocol.ResyncDecode)
		}
		return err
	}
	if m.Lane() == repop.LaneSample {
		return s.applySample(m)
	}
	if !s.haveBaseline {
		s.markDesync(protocol.ResyncNoState)
		return nil
	}
	if s.desynced {
		return nil
	}
	if m.ServerSeq != s.expectSeq {
		s.markDesync(protocol.ResyncSeqGap)
		return fmt.Errorf("client: reliable seq %d, expected %d", m.ServerSeq, s.expectSeq)
	}
	ops, err := protocol.DecodeOps(m.OpsPayload, int(m.OpCount))
	if err != nil {
		s.markDesync(protocol.ResyncDecode)
		return err
	}
	s.expectSeq++
	s.queue(transport.LaneReliable, protocol.AckMsg{ReliableSeq: m.ServerSeq}.Marshal())

	tick := int64(m.ServerTick)
	var d Delta
	for _, op := range ops {
		switch op.Type {
		case repop.OpEntitySpawn:
			d.Added = append(d.Added, protocol.EntityState{ID: op.A, X: op.B, Y: op.C, HP: op.D})
			s.publish(Note{Kind: NoteEntityAdded, Tick: tick, Entity: op.A})
		case repop.OpEntityDestroy:
			d.Removed = append(d.Removed, op.A)
			delete(s.flows, op.A)
			s.publish(Note{Kind: NoteEntityRemoved, Tick: tick, Entity: op.A})
		case repop.OpFlowSnapshot:
			f := repop.UnpackFlow(op.A)
			s.flows[op.B] = f
			s.publish(Note{Kind: NoteFlowChanged, Tick: tick, Entity: op.B, Flow: f})
		}
	}
	s.State.ApplyDelta(d)
	if tick > s.lastTick {
		s.lastTick = tick
	}
	return nil
}

// applySample updates positions of known entities. Older samples than the
// newest applied one are ignored.
func (s *Session) applySample(m protocol.ServerOpsMsg) error {
	tick := int64(m.ServerTick)
	if !s.haveBaseline || tick <= s.lastSampleTick {
		return nil
	}
	ops, err := protocol.DecodeOps(m.OpsPayload, int(m.OpCount))
	if err != nil {
		return err
	}
	var d Delta
	for _, op := range ops {
		if op.Type != repop.OpPositionSnapshot {
			continue
		}
		e, ok := s.State.Entity(op.A)
		if !ok {
			continue
		}
		e.X, e.Y = op.B, op.C
		d.Changed = append(d.Changed, e)
	}
	s.State.ApplyDelta(d)
	s.lastSampleTick = tick
	return nil
}

func (s *Session) handlePong(b []byte, nowMs float64) error {
	m, err := protocol.UnmarshalPong(b)
	if err != nil {
		return err
	}
	s.Sync.UpdateOnPong(float64(m.ClientTimeMsEcho), nowMs, m.ServerTimeMs, int64(m.ServerTick))
	s.Delay.Update(s.Sync.RTTMs(), s.tickRateHz)
	return nil
}

func (s *Session) BuildHello(clientTickRateHz int, resumeToken string) ([]byte, error) {
	return protocol.HelloMsg{ClientTickRateHz: int32(clientTickRateHz), ResumeToken: resumeToken}.Marshal()
}

func (s *Session) BuildPing(nowMs float64) []byte {
	s.nextPingID++
	return protocol.PingMsg{
		PingID:       s.nextPingID,
		ClientTimeMs: int64(nowMs),
		ClientTick:   int32(s.Sync.EstimateServerTick(nowMs, s.tickRateHz)),
	}.Marshal()
}

// TargetTick is where commands built now will be scheduled.
func (s *Session) TargetTick(nowMs float64) int64 {
	return s.Sync.PlanCommandTargetTick(nowMs, s.tickRateHz, s.Delay.InputTicks())
}

// BuildCommands stamps cmds with the planned target tick and the next
// client sequence.
func (s *Session) BuildCommands(nowMs float64, cmds ...command.Command) ([]byte, int64, error) {
	if !s.welcomed {
		return nil, 0, ErrNotWelcomed
	}
	target := s.TargetTick(nowMs)
	s.nextCmdSeq++
	b, err := protocol.CommandsMsg{
		ClientTick: int32(target),
		ClientSeq:  s.nextCmdSeq,
		Commands:   cmds,
	}.Marshal()
	return b, target, err
}
