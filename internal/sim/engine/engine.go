// Package engine owns the authoritative tick. Each step releases the
// commands buffered for the tick, routes them to systems, runs the systems in
// registration order, fingerprints the result and splits the emitted ops into
// the reliable and sample lanes.
package engine

import (
	"fmt"

	"tickcore.dev/internal/persistence/snapshot"
	"tickcore.dev/internal/protocol"
	"tickcore.dev/internal/sim/command"
	"tickcore.dev/internal/sim/repop"
	"tickcore.dev/internal/sim/world"
)

type Config struct {
	Buffer            command.BufferConfig
	StableSampleOrder bool
	NotifyQueue       int
	SpawnHP           int32
}

func DefaultConfig() Config {
	return Config{
		Buffer:      command.DefaultBufferConfig(),
		NotifyQueue: 256,
		SpawnHP:     world.DefaultHP,
	}
}

// TickResult is what one step produced. Op slices are owned by the caller.
type TickResult struct {
	Tick        int64
	Hash        uint32
	Reliable    []repop.Op
	Sample      []repop.Op
	SampleInput int
	Routed      []command.RoutedBatch
	Purged      int
	// ResumedFrom is set on the first step after RestoreSnapshot.
	ResumedFrom *ResumePoint
}

// ResumePoint names the snapshot a process restored before this step. A
// journal that spans a restart repeats ticks after Tick; replay restores the
// snapshot state to continue.
type ResumePoint struct {
	Tick int64  `json:"tick"`
	Hash uint32 `json:"hash"`
}

// TickRecord is the journal form of a step: enough to re-execute it.
type TickRecord struct {
	Tick        int64                 `json:"tick"`
	Hash        uint32                `json:"hash"`
	Batches     []command.RoutedBatch `json:"batches,omitempty"`
	ResumedFrom *ResumePoint          `json:"resumed_from,omitempty"`
}

func (r TickResult) Record() TickRecord {
	return TickRecord{Tick: r.Tick, Hash: r.Hash, Batches: r.Routed, ResumedFrom: r.ResumedFrom}
}

type Engine struct {
	cfg     Config
	world   *world.World
	buf     *command.Buffer
	router  *command.Router
	systems []world.System
	part    repop.Partitioner
	notes   *world.Notifier
	enc     *protocol.Encoder

	// tick is the next tick Step will execute.
	tick      int64
	lastHash  uint32
	engineSeq uint32
	resumed   *ResumePoint
}

// New builds an engine around w. With no systems the default set is used.
func New(cfg Config, w *world.World, systems ...world.System) (*Engine, error) {
	if cfg.SpawnHP <= 0 {
		cfg.SpawnHP = world.DefaultHP
	}
	notes := world.NewNotifier(cfg.NotifyQueue)
	if len(systems) == 0 {
		systems = world.DefaultSystems(notes)
	}
	handlers := make([]command.Handler, 0, len(systems))
	for _, s := range systems {
		handlers = append(handlers, s)
	}
	router, err := command.NewRouter(handlers)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		world:    w,
		buf:      command.NewBuffer(cfg.Buffer),
		router:   router,
		systems:  systems,
		part:     repop.Partitioner{StableSampleOrder: cfg.StableSampleOrder},
		notes:    notes,
		enc:      protocol.NewEncoder(),
		tick:     1,
		lastHash: w.Hash(0),
	}, nil
}

func (e *Engine) World() *world.World { return e.world }

func (e *Engine) BufferConfig() command.BufferConfig { return e.buf.Config() }

// CurrentTick is the tick the next Step will execute.
func (e *Engine) CurrentTick() int64 { return e.tick }

// LastTick is the most recently completed tick, 0 before the first step.
func (e *Engine) LastTick() int64 { return e.tick - 1 }

func (e *Engine) LastHash() uint32 { return e.lastHash }

func (e *Engine) Pending() int { return e.buf.Len() }

func (e *Engine) Notifications() <-chan world.Notification { return e.notes.C() }

func (e *Engine) DrainNotifications(dst []world.Notification) []world.Notification {
	return e.notes.Drain(dst)
}

// Enqueue schedules a client submission relative to the current tick. cmds
// are stamped with client origin.
func (e *Engine) Enqueue(conn command.ConnID, clientTick int64, clientSeq uint32, cmds []command.Command) (int64, command.RejectReason) {
	for i := range cmds {
		cmds[i].Origin = command.OriginClient
	}
	return e.buf.Enqueue(conn, clientTick, clientSeq, cmds, e.tick)
}

// EnqueueEngine schedules trusted commands for the current tick.
func (e *Engine) EnqueueEngine(cmds ...command.Command) int64 {
	if len(cmds) == 0 {
		return e.tick
	}
	for i := range cmds {
		cmds[i].Origin = command.OriginEngine
	}
	e.engineSeq++
	t, _ := e.buf.Enqueue(command.EngineConn, e.tick, e.engineSeq, cmds, e.tick)
	return t
}

// SpawnOwned allocates an entity owned by conn. It appears when the current
// tick executes.
func (e *Engine) SpawnOwned(conn command.ConnID) int32 {
	id := e.world.AllocateID()
	x, y := e.world.SpawnPoint(id)
	e.EnqueueEngine(
		command.Command{Type: command.CmdSpawn, Entity: id, X: x, Y: y, Arg: e.cfg.SpawnHP},
		command.Command{Type: command.CmdAssignOwner, Entity: id, Arg: int32(conn)},
	)
	return id
}

func (e *Engine) Despawn(ids ...int32) {
	cmds := make([]command.Command, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, command.Command{Type: command.CmdDespawn, Entity: id})
	}
	e.EnqueueEngine(cmds...)
}

func (e *Engine) Reassign(id int32, conn command.ConnID) {
	e.EnqueueEngine(command.Command{Type: command.CmdAssignOwner, Entity: id, Arg: int32(conn)})
}

// Step executes the current tick.
func (e *Engine) Step() TickResult {
	routed := e.router.RouteTick(e.tick, e.buf)
	return e.run(routed)
}

// StepRecorded executes the current tick with journaled input instead of the
// buffer. Used for replay.
func (e *Engine) StepRecorded(batches []command.RoutedBatch) TickResult {
	for _, rb := range batches {
		e.router.Dispatch(rb.Conn, rb.Batch)
	}
	return e.run(batches)
}

func (e *Engine) run(routed []command.RoutedBatch) TickResult {
	t := e.tick
	scratch := repop.AcquireScratch()
	defer scratch.Release()

	for _, s := range e.systems {
		s.Execute(t, e.world, scratch)
	}
	h := e.world.Hash(t)
	if err := e.part.Partition(scratch.Ops, &scratch.Lanes); err != nil {
		panic(fmt.Sprintf("engine: tick %d: %v", t, err))
	}

	res := TickResult{
		Tick:        t,
		Hash:        h,
		Reliable:    repop.Clone(scratch.Lanes.Reliable),
		Sample:      repop.Clone(scratch.Lanes.Sample),
		SampleInput: scratch.Lanes.SampleInput,
		Routed:      routed,
		Purged:      e.buf.DropBeforeTick(t),
		ResumedFrom: e.resumed,
	}
	e.resumed = nil
	e.lastHash = h
	e.tick++
	return res
}

// Snapshot is the state after the last completed tick.
func (e *Engine) Snapshot() protocol.Snapshot {
	return protocol.Snapshot{Tick: e.LastTick(), Hash: e.lastHash, Entities: e.world.Snapshot()}
}

func (e *Engine) Baseline() protocol.BaselineMsg {
	return e.enc.BuildBaseline(e.Snapshot())
}

func (e *Engine) ExportSnapshot(tickRateHz int) snapshot.SnapshotV1 {
	wc := e.world.Config()
	bc := e.buf.Config()
	recs := e.world.Export()
	ents := make([]snapshot.EntityV1, 0, len(recs))
	for _, r := range recs {
		ents = append(ents, snapshot.EntityV1{
			ID: r.ID, X: r.X, Y: r.Y, HP: r.HP,
			Owner: uint32(r.Owner), FlowID: r.FlowID, Flow: r.Flow,
			Avatar: r.Avatar,
		})
	}
	return snapshot.SnapshotV1{
		Header:              snapshot.Header{Version: snapshot.Version, Tick: e.LastTick(), Hash: e.lastHash},
		TickRateHz:          tickRateHz,
		Width:               wc.Width,
		Height:              wc.Height,
		FlowProgressPerTick: wc.FlowProgressPerTick,
		FlowMaxStage:        wc.FlowMaxStage,
		MaxPastTicks:        bc.MaxPastTicks,
		MaxFutureTicks:      bc.MaxFutureTicks,
		NextEntityID:        e.world.NextID(),
		Entities:            ents,
	}
}

// RestoreSnapshot replaces world state and resumes after the snapshot tick.
// Buffered commands are discarded. The recomputed hash must match.
func (e *Engine) RestoreSnapshot(s snapshot.SnapshotV1) error {
	recs := make([]world.Record, 0, len(s.Entities))
	for _, ent := range s.Entities {
		recs = append(recs, world.Record{
			ID: ent.ID, X: ent.X, Y: ent.Y, HP: ent.HP,
			Owner: command.ConnID(ent.Owner), FlowID: ent.FlowID, Flow: ent.Flow,
			Avatar: ent.Avatar,
		})
	}
	e.world.Restore(recs, s.NextEntityID)
	if got := e.world.Hash(s.Header.Tick); got != s.Header.Hash {
		return fmt.Errorf("engine: snapshot tick %d hash mismatch: got %08x want %08x", s.Header.Tick, got, s.Header.Hash)
	}
	e.buf = command.NewBuffer(e.buf.Config())
	e.tick = s.Header.Tick + 1
	e.lastHash = s.Header.Hash
	e.resumed = &ResumePoint{Tick: s.Header.Tick, Hash: s.Header.Hash}
	return nil
}

// WorldConfigFromSnapshot rebuilds the world parameters a snapshot was
// taken with.
func WorldConfigFromSnapshot(s snapshot.SnapshotV1) world.Config {
	return world.Config{
		Width:               s.Width,
		Height:              s.Height,
		FlowProgressPerTick: s.FlowProgressPerTick,
		FlowMaxStage:        s.FlowMaxStage,
	}
}
