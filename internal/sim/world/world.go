// Package world is the authoritative entity model plus the gameplay systems
// that consume routed commands and emit replication ops.
//
// World is single-threaded: all access must happen on the simulation loop.
package world

import (
	"sort"

	"tickcore.dev/internal/protocol"
	"tickcore.dev/internal/sim/command"
	"tickcore.dev/internal/sim/hash"
	"tickcore.dev/internal/sim/repop"
)

type Config struct {
	Width  int32
	Height int32
	// FlowProgressPerTick advances an active flow's progress byte.
	FlowProgressPerTick uint8
	FlowMaxStage        uint8
}

func DefaultConfig() Config {
	return Config{Width: 256, Height: 256, FlowProgressPerTick: 16, FlowMaxStage: 3}
}

type Entity struct {
	protocol.EntityState

	Owner  command.ConnID
	FlowID int32
	Flow   repop.FlowState
	// Avatar is set once a client connection has owned the entity and
	// survives reassignment to the engine.
	Avatar bool
}

// Record is the persisted form of an entity, including state that is not
// replicated.
type Record struct {
	ID     int32          `json:"id"`
	X      int32          `json:"x"`
	Y      int32          `json:"y"`
	HP     int32          `json:"hp"`
	Owner  command.ConnID `json:"owner,omitempty"`
	FlowID int32          `json:"flow_id,omitempty"`
	Flow   int32          `json:"flow,omitempty"`
	Avatar bool           `json:"avatar,omitempty"`
}

type World struct {
	cfg      Config
	entities map[int32]*Entity
	nextID   int32
}

func New(cfg Config) *World {
	if cfg.Width <= 0 {
		cfg.Width = DefaultConfig().Width
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultConfig().Height
	}
	if cfg.FlowProgressPerTick == 0 {
		cfg.FlowProgressPerTick = DefaultConfig().FlowProgressPerTick
	}
	if cfg.FlowMaxStage == 0 {
		cfg.FlowMaxStage = DefaultConfig().FlowMaxStage
	}
	return &World{cfg: cfg, entities: map[int32]*Entity{}, nextID: 1}
}

func (w *World) Config() Config { return w.cfg }

// AllocateID reserves the next entity id. Ids are never reused.
func (w *World) AllocateID() int32 {
	id := w.nextID
	w.nextID++
	return id
}

func (w *World) NextID() int32 { return w.nextID }

func (w *World) Len() int { return len(w.entities) }

func (w *World) Get(id int32) (*Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

// Spawn inserts a new entity. It fails if id is taken or not positive.
func (w *World) Spawn(id, x, y, hp int32) (*Entity, bool) {
	if id <= 0 {
		return nil, false
	}
	if _, exists := w.entities[id]; exists {
		return nil, false
	}
	x, y = w.clamp(int64(x), int64(y))
	e := &Entity{EntityState: protocol.EntityState{ID: id, X: x, Y: y, HP: hp}}
	w.entities[id] = e
	if id >= w.nextID {
		w.nextID = id + 1
	}
	return e, true
}

func (w *World) Destroy(id int32) bool {
	if _, ok := w.entities[id]; !ok {
		return false
	}
	delete(w.entities, id)
	return true
}

// MoveBy translates an entity and clamps it to the world bounds. moved is
// false when the entity is missing or the clamped position is unchanged.
func (w *World) MoveBy(id, dx, dy int32) (x, y int32, moved bool) {
	e, ok := w.entities[id]
	if !ok {
		return 0, 0, false
	}
	nx, ny := w.clamp(int64(e.X)+int64(dx), int64(e.Y)+int64(dy))
	if nx == e.X && ny == e.Y {
		return nx, ny, false
	}
	e.X, e.Y = nx, ny
	return nx, ny, true
}

// SpawnPoint returns a deterministic in-bounds position for id.
func (w *World) SpawnPoint(id int32) (int32, int32) {
	return int32(int64(id) * 7 % int64(w.cfg.Width)), int32(int64(id) * 13 % int64(w.cfg.Height))
}

// clamp works in int64 so client deltas near the int32 limits cannot wrap.
func (w *World) clamp(x, y int64) (int32, int32) {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x >= int64(w.cfg.Width) {
		x = int64(w.cfg.Width) - 1
	}
	if y >= int64(w.cfg.Height) {
		y = int64(w.cfg.Height) - 1
	}
	return int32(x), int32(y)
}

// IDs returns entity ids ascending.
func (w *World) IDs() []int32 {
	ids := make([]int32, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns replicated state sorted by id.
func (w *World) Snapshot() []protocol.EntityState {
	out := make([]protocol.EntityState, 0, len(w.entities))
	for _, id := range w.IDs() {
		out = append(out, w.entities[id].EntityState)
	}
	return out
}

// OwnedBy lists entities owned by conn, ascending.
func (w *World) OwnedBy(conn command.ConnID) []int32 {
	var out []int32
	for _, id := range w.IDs() {
		if w.entities[id].Owner == conn {
			out = append(out, id)
		}
	}
	return out
}

// Hash fingerprints the authoritative state after tick.
func (w *World) Hash(tick int64) uint32 {
	h := hash.New()
	h.AddInt64(tick)
	h.AddUint32(uint32(len(w.entities)))
	for _, id := range w.IDs() {
		e := w.entities[id]
		h.AddInt32(e.ID)
		h.AddInt32(e.X)
		h.AddInt32(e.Y)
		h.AddInt32(e.HP)
		h.AddUint32(uint32(e.Owner))
		h.AddInt32(e.FlowID)
		h.AddInt32(repop.PackFlow(e.Flow))
		if e.Avatar {
			h.AddByte(1)
		} else {
			h.AddByte(0)
		}
	}
	return h.Sum32()
}

func (w *World) Export() []Record {
	out := make([]Record, 0, len(w.entities))
	for _, id := range w.IDs() {
		e := w.entities[id]
		out = append(out, Record{
			ID: e.ID, X: e.X, Y: e.Y, HP: e.HP,
			Owner: e.Owner, FlowID: e.FlowID, Flow: repop.PackFlow(e.Flow),
			Avatar: e.Avatar,
		})
	}
	return out
}

// Restore replaces all state.
func (w *World) Restore(recs []Record, nextID int32) {
	w.entities = make(map[int32]*Entity, len(recs))
	w.nextID = 1
	for _, r := range recs {
		w.entities[r.ID] = &Entity{
			EntityState: protocol.EntityState{ID: r.ID, X: r.X, Y: r.Y, HP: r.HP},
			Owner:       r.Owner,
			FlowID:      r.FlowID,
			Flow:        repop.UnpackFlow(r.Flow),
			Avatar:      r.Avatar,
		}
		if r.ID >= w.nextID {
			w.nextID = r.ID + 1
		}
	}
	if nextID > w.nextID {
		w.nextID = nextID
	}
}
