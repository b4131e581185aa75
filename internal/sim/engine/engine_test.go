package engine

import (
	"path/filepath"
	"strings"
	"testing"

	"tickcore.dev/internal/persistence/snapshot"
	"tickcore.dev/internal/sim/command"
	"tickcore.dev/internal/sim/repop"
	"tickcore.dev/internal/sim/world"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(DefaultConfig(), world.New(world.DefaultConfig()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestEngine_SpawnThenMove(t *testing.T) {
	e := newEngine(t)
	if e.CurrentTick() != 1 || e.LastTick() != 0 {
		t.Fatalf("initial ticks current=%d last=%d", e.CurrentTick(), e.LastTick())
	}

	id := e.SpawnOwned(7)
	res := e.Step()
	if res.Tick != 1 {
		t.Fatalf("tick=%d want 1", res.Tick)
	}
	if len(res.Reliable) != 1 || res.Reliable[0].Type != repop.OpEntitySpawn || res.Reliable[0].A != id {
		t.Fatalf("reliable=%v", res.Reliable)
	}
	ent, ok := e.World().Get(id)
	if !ok || ent.Owner != 7 {
		t.Fatalf("entity=%+v ok=%v", ent, ok)
	}

	x0, y0 := ent.X, ent.Y
	if _, r := e.Enqueue(7, e.CurrentTick(), 1, []command.Command{command.MoveBy(id, 1, 1)}); r != command.Accepted {
		t.Fatalf("enqueue rejected: %v", r)
	}
	res = e.Step()
	if len(res.Sample) != 1 || res.Sample[0] != repop.Position(id, x0+1, y0+1) {
		t.Fatalf("sample=%v", res.Sample)
	}
	if len(res.Reliable) != 0 {
		t.Fatalf("unexpected reliable ops: %v", res.Reliable)
	}
	if res.Hash != e.LastHash() || e.Snapshot().Tick != 2 {
		t.Fatalf("snapshot tick=%d hash=%08x last=%08x", e.Snapshot().Tick, res.Hash, e.LastHash())
	}
}

func TestEngine_ClientCannotForgeLifecycle(t *testing.T) {
	e := newEngine(t)
	cmd := command.Command{Type: command.CmdSpawn, Origin: command.OriginEngine, Entity: 50}
	if _, r := e.Enqueue(3, 1, 1, []command.Command{cmd}); r != command.Accepted {
		t.Fatalf("enqueue: %v", r)
	}
	e.Step()
	if e.World().Len() != 0 {
		t.Fatalf("client spawned an entity")
	}
}

func TestEngine_ReplayMatchesHashes(t *testing.T) {
	live := newEngine(t)
	var records []TickRecord
	a := live.SpawnOwned(1)
	b := live.SpawnOwned(2)
	records = append(records, live.Step().Record())
	for i := 0; i < 20; i++ {
		tick := live.CurrentTick()
		live.Enqueue(1, tick, uint32(i+1), []command.Command{command.MoveBy(a, 1, 0)})
		live.Enqueue(2, tick+1, uint32(i+1), []command.Command{command.MoveBy(b, 0, -1), command.FlowFire(b, 9)})
		records = append(records, live.Step().Record())
	}

	replay := newEngine(t)
	for _, rec := range records {
		res := replay.StepRecorded(rec.Batches)
		if res.Tick != rec.Tick || res.Hash != rec.Hash {
			t.Fatalf("tick %d: replay hash %08x want %08x", rec.Tick, res.Hash, rec.Hash)
		}
	}
}

func TestEngine_SnapshotRestore(t *testing.T) {
	e := newEngine(t)
	id := e.SpawnOwned(4)
	e.Step()
	e.EnqueueEngine(command.FlowFire(id, 3))
	e.Step()

	path := filepath.Join(t.TempDir(), snapshot.FileName(e.LastTick()))
	if err := snapshot.WriteSnapshot(path, e.ExportSnapshot(20)); err != nil {
		t.Fatalf("write: %v", err)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	restored, err := New(DefaultConfig(), world.New(WorldConfigFromSnapshot(snap)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := restored.RestoreSnapshot(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if ent, ok := restored.World().Get(id); !ok || !ent.Avatar {
		t.Fatalf("avatar flag not restored")
	}
	if restored.CurrentTick() != e.CurrentTick() || restored.LastHash() != e.LastHash() {
		t.Fatalf("restored tick=%d hash=%08x want tick=%d hash=%08x",
			restored.CurrentTick(), restored.LastHash(), e.CurrentTick(), e.LastHash())
	}
	// Both continue identically.
	first := restored.Step()
	if a := e.Step().Hash; a != first.Hash {
		t.Fatalf("diverged after restore: %08x vs %08x", a, first.Hash)
	}
	if rp := first.Record().ResumedFrom; rp == nil || rp.Tick != snap.Header.Tick || rp.Hash != snap.Header.Hash {
		t.Fatalf("first step after restore must name the snapshot, got %+v", rp)
	}
	if restored.Step().ResumedFrom != nil {
		t.Fatalf("resume marker repeated")
	}

	snap.Header.Hash ^= 1
	if err := restored.RestoreSnapshot(snap); err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
}

type rogueSystem struct{}

func (rogueSystem) Name() string                      { return "rogue" }
func (rogueSystem) OwnedCommandTypes() []command.Type { return nil }
func (rogueSystem) EnqueueCommand(command.ConnID, uint32, command.Command) {}
func (rogueSystem) Execute(_ int64, _ *world.World, out world.Emitter) {
	out.Emit(repop.Op{Type: 200})
}

func TestEngine_UnclassifiedOpPanics(t *testing.T) {
	e, err := New(DefaultConfig(), world.New(world.DefaultConfig()), rogueSystem{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	e.Step()
}

func TestEngine_DuplicateOwnerFails(t *testing.T) {
	_, err := New(DefaultConfig(), world.New(world.DefaultConfig()), world.NewMovementSystem(), world.NewMovementSystem())
	if err == nil {
		t.Fatalf("expected duplicate owner error")
	}
}
