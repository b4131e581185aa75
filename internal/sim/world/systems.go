package world

import (
	"sort"

	"tickcore.dev/internal/sim/command"
	"tickcore.dev/internal/sim/repop"
)

// Emitter receives the ops a system produces during one tick.
type Emitter interface {
	Emit(op repop.Op)
}

// System owns a set of command types and mutates the world once per tick.
type System interface {
	command.Handler
	Execute(tick int64, w *World, out Emitter)
}

// DefaultHP is used when a spawn command carries no hit points.
const DefaultHP = 100

// DefaultSystems returns the standard system set in execution order.
func DefaultSystems(notes *Notifier) []System {
	return []System{
		NewLifecycleSystem(notes),
		NewMovementSystem(),
		NewFlowSystem(notes),
	}
}

func trusted(conn command.ConnID, c command.Command) bool {
	return conn == command.EngineConn && c.Origin == command.OriginEngine
}

type pending struct {
	conn command.ConnID
	seq  uint32
	cmd  command.Command
}

// LifecycleSystem spawns, destroys and assigns ownership of entities. It
// accepts engine-originated commands only.
type LifecycleSystem struct {
	inbox  []pending
	notes  *Notifier
	denied uint64
}

func NewLifecycleSystem(notes *Notifier) *LifecycleSystem {
	return &LifecycleSystem{notes: notes}
}

func (s *LifecycleSystem) Name() string { return "lifecycle" }

func (s *LifecycleSystem) OwnedCommandTypes() []command.Type {
	return []command.Type{command.CmdSpawn, command.CmdDespawn, command.CmdAssignOwner}
}

func (s *LifecycleSystem) EnqueueCommand(conn command.ConnID, seq uint32, c command.Command) {
	s.inbox = append(s.inbox, pending{conn: conn, seq: seq, cmd: c})
}

// Denied counts commands rejected for lack of trust.
func (s *LifecycleSystem) Denied() uint64 { return s.denied }

func (s *LifecycleSystem) Execute(tick int64, w *World, out Emitter) {
	for _, p := range s.inbox {
		c := p.cmd
		if !trusted(p.conn, c) {
			s.denied++
			continue
		}
		switch c.Type {
		case command.CmdSpawn:
			hp := c.Arg
			if hp <= 0 {
				hp = DefaultHP
			}
			e, ok := w.Spawn(c.Entity, c.X, c.Y, hp)
			if !ok {
				continue
			}
			out.Emit(repop.Spawn(e.ID, e.X, e.Y, e.HP))
			s.notes.Publish(Notification{Kind: NoteEntitySpawned, Tick: tick, Entity: e.ID})
		case command.CmdDespawn:
			if !w.Destroy(c.Entity) {
				continue
			}
			out.Emit(repop.Destroy(c.Entity))
			s.notes.Publish(Notification{Kind: NoteEntityDestroyed, Tick: tick, Entity: c.Entity})
		case command.CmdAssignOwner:
			if e, ok := w.Get(c.Entity); ok {
				e.Owner = command.ConnID(c.Arg)
				if e.Owner != command.EngineConn {
					e.Avatar = true
				}
			}
		}
	}
	s.inbox = s.inbox[:0]
}

// perConn keeps one replace-merging bucket per connection.
type perConn struct {
	buckets map[command.ConnID]*command.Bucket
}

func (p *perConn) merge(conn command.ConnID, seq uint32, c command.Command) {
	if p.buckets == nil {
		p.buckets = make(map[command.ConnID]*command.Bucket)
	}
	b, ok := p.buckets[conn]
	if !ok {
		b = command.NewBucket()
		p.buckets[conn] = b
	}
	b.MergeReplace(seq, []command.Command{c})
}

// drain yields each connection's merged commands, connections ascending, and
// resets the buckets.
func (p *perConn) drain(fn func(conn command.ConnID, cmds []command.Command)) {
	if len(p.buckets) == 0 {
		return
	}
	conns := make([]command.ConnID, 0, len(p.buckets))
	for c, b := range p.buckets {
		if b.Len() > 0 {
			conns = append(conns, c)
		}
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i] < conns[j] })
	for _, c := range conns {
		b := p.buckets[c]
		fn(c, b.MaterializeSorted())
		b.Reset()
	}
}

func mayControl(conn command.ConnID, c command.Command, e *Entity) bool {
	return trusted(conn, c) || (conn != command.EngineConn && e.Owner == conn)
}

// MovementSystem applies MOVE_BY. Repeated moves for the same entity within
// a tick collapse to the last one.
type MovementSystem struct {
	in perConn
}

func NewMovementSystem() *MovementSystem { return &MovementSystem{} }

func (s *MovementSystem) Name() string { return "movement" }

func (s *MovementSystem) OwnedCommandTypes() []command.Type {
	return []command.Type{command.CmdMoveBy}
}

func (s *MovementSystem) EnqueueCommand(conn command.ConnID, seq uint32, c command.Command) {
	s.in.merge(conn, seq, c)
}

func (s *MovementSystem) Execute(tick int64, w *World, out Emitter) {
	s.in.drain(func(conn command.ConnID, cmds []command.Command) {
		for _, c := range cmds {
			e, ok := w.Get(c.Entity)
			if !ok || !mayControl(conn, c, e) {
				continue
			}
			if x, y, moved := w.MoveBy(c.Entity, c.X, c.Y); moved {
				out.Emit(repop.Position(c.Entity, x, y))
			}
		}
	})
}

// FlowSystem runs staged flows. A fired flow advances its progress every
// tick; each time progress saturates the stage increments and heat builds,
// until the final stage marks the flow done.
type FlowSystem struct {
	in    perConn
	notes *Notifier
}

func NewFlowSystem(notes *Notifier) *FlowSystem { return &FlowSystem{notes: notes} }

func (s *FlowSystem) Name() string { return "flow" }

func (s *FlowSystem) OwnedCommandTypes() []command.Type {
	return []command.Type{command.CmdFlowFire}
}

func (s *FlowSystem) EnqueueCommand(conn command.ConnID, seq uint32, c command.Command) {
	s.in.merge(conn, seq, c)
}

func (s *FlowSystem) Execute(tick int64, w *World, out Emitter) {
	started := map[int32]bool{}
	s.in.drain(func(conn command.ConnID, cmds []command.Command) {
		for _, c := range cmds {
			e, ok := w.Get(c.Entity)
			if !ok || !mayControl(conn, c, e) {
				continue
			}
			if e.Flow.Flags&repop.FlowFlagActive != 0 {
				continue
			}
			e.FlowID = c.Arg
			e.Flow = repop.FlowState{Flags: repop.FlowFlagActive}
			started[e.ID] = true
			out.Emit(repop.FlowFire(e.ID, e.FlowID, 0))
			out.Emit(repop.FlowSnapshot(e.ID, e.Flow))
			s.notes.Publish(Notification{Kind: NoteFlowStarted, Tick: tick, Entity: e.ID})
		}
	})

	cfg := w.Config()
	for _, id := range w.IDs() {
		if started[id] {
			continue
		}
		e, _ := w.Get(id)
		f := &e.Flow
		if f.Flags&repop.FlowFlagActive == 0 {
			continue
		}
		next := int(f.Progress) + int(cfg.FlowProgressPerTick)
		if next < 255 {
			f.Progress = uint8(next)
			continue
		}
		f.Progress = 0
		f.Stage++
		if f.Heat > 255-16 {
			f.Heat = 255
		} else {
			f.Heat += 16
		}
		kind := NoteFlowTransition
		if f.Stage >= cfg.FlowMaxStage {
			f.Flags = repop.FlowFlagDone
			kind = NoteFlowCompleted
		}
		out.Emit(repop.FlowSnapshot(id, *f))
		s.notes.Publish(Notification{Kind: kind, Tick: tick, Entity: id, Stage: f.Stage})
	}
}
