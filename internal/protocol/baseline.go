package protocol

import (
	"fmt"
	"math"
)

// EntityState holds the replicated scalar fields of one entity.
type EntityState struct {
	ID int32 `json:"id"`
	X  int32 `json:"x"`
	Y  int32 `json:"y"`
	HP int32 `json:"hp"`
}

// Snapshot is the authoritative state after Tick completed. Entities are
// sorted by id.
type Snapshot struct {
	Tick     int64
	Hash     uint32
	Entities []EntityState
}

// BaselineMsg is a full-state seed, sent on connect and on resync.
type BaselineMsg struct {
	ServerTick int32
	StateHash  uint32
	Entities   []EntityState
}

const entityBytes = 16

func (m BaselineMsg) Marshal() ([]byte, error) {
	if len(m.Entities) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d entities", ErrTooLarge, len(m.Entities))
	}
	w := writer{b: make([]byte, 0, 11+len(m.Entities)*entityBytes)}
	w.u8(byte(KindBaseline))
	w.i32(m.ServerTick)
	w.u32(m.StateHash)
	w.u16(uint16(len(m.Entities)))
	for _, e := range m.Entities {
		w.i32(e.ID)
		w.i32(e.X)
		w.i32(e.Y)
		w.i32(e.HP)
	}
	return w.b, nil
}

func UnmarshalBaseline(b []byte) (BaselineMsg, error) {
	var m BaselineMsg
	r, err := expectKind(b, KindBaseline)
	if err != nil {
		return m, err
	}
	m.ServerTick = r.i32()
	m.StateHash = r.u32()
	n := int(r.u16())
	if !r.need(n * entityBytes) {
		return m, r.err
	}
	m.Entities = make([]EntityState, n)
	for i := range m.Entities {
		m.Entities[i] = EntityState{ID: r.i32(), X: r.i32(), Y: r.i32(), HP: r.i32()}
	}
	return m, r.done()
}
