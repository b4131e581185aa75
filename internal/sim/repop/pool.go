package repop

import "sync"

// Scratch holds per-tick op buffers. Acquire at tick start, Release on every
// exit path; nothing may keep a reference to Ops or Lanes after Release.
type Scratch struct {
	Ops   []Op
	Lanes Lanes
}

var scratchPool = sync.Pool{
	New: func() any {
		return &Scratch{Ops: make([]Op, 0, 256)}
	},
}

func AcquireScratch() *Scratch {
	s := scratchPool.Get().(*Scratch)
	s.Ops = s.Ops[:0]
	s.Lanes.Reset()
	return s
}

func (s *Scratch) Emit(op Op) { s.Ops = append(s.Ops, op) }

func (s *Scratch) Release() {
	if s == nil {
		return
	}
	s.Ops = s.Ops[:0]
	s.Lanes.Reset()
	scratchPool.Put(s)
}

// Clone copies ops out of a scratch buffer so they can outlive the tick.
func Clone(ops []Op) []Op {
	if len(ops) == 0 {
		return nil
	}
	out := make([]Op, len(ops))
	copy(out, ops)
	return out
}
