package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "tickcore.dev/internal/persistence/log"
	"tickcore.dev/internal/persistence/snapshot"
	"tickcore.dev/internal/sim/command"
	"tickcore.dev/internal/sim/engine"
	"tickcore.dev/internal/sim/world"
	"tickcore.dev/internal/tuning"
)

var errStop = errors.New("stop")

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory containing ticks/")
		snapPath   = flag.String("snapshot", "", "path to .snap.zst to start from (default: replay from tick 1)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "tuning used by the recorded run (ignored with -snapshot)")
		fromTick   = flag.Int64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick     = flag.Int64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	eng, err := openEngine(*snapPath, *tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	startTick := eng.CurrentTick()

	checked, err := replay(eng, *dataDir, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks (from tick=%d to tick=%d entities=%d)\n",
		checked, startTick, eng.LastTick(), eng.World().Len())
}

func openEngine(snapPath, tuningPath string) (*engine.Engine, error) {
	if snapPath != "" {
		snap, err := snapshot.ReadSnapshot(snapPath)
		if err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
		fmt.Printf("snapshot v%d tick=%d hash=%08x size=%dx%d entities=%d next_id=%d\n",
			snap.Header.Version, snap.Header.Tick, snap.Header.Hash, snap.Width, snap.Height, len(snap.Entities), snap.NextEntityID)
		eng, err := engine.New(engine.DefaultConfig(), world.New(engine.WorldConfigFromSnapshot(snap)))
		if err != nil {
			return nil, err
		}
		if err := eng.RestoreSnapshot(snap); err != nil {
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
		return eng, nil
	}

	tune, err := tuning.Load(tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load tuning: %w", err)
		}
		tune = tuning.Defaults()
	}
	return engine.New(engine.Config{
		Buffer: command.BufferConfig{
			MaxPastTicks:   tune.MaxPastTicks,
			MaxFutureTicks: tune.MaxFutureTicks,
			MaxStoredTicks: tune.MaxStoredTicks,
		},
		StableSampleOrder: tune.StableSampleOrder,
		SpawnHP:           tune.SpawnHP,
	}, world.New(world.Config{
		Width:               tune.World.Width,
		Height:              tune.World.Height,
		FlowProgressPerTick: tune.FlowProgressPerTick,
		FlowMaxStage:        tune.FlowMaxStage,
	}))
}

// replay re-executes the journal on eng and compares every state hash at
// or after verifyFrom. Records before the engine's current tick are skipped.
// A record that resumes from a snapshot at an earlier tick rewinds eng to
// that snapshot's state first. Replay stops at the first record past toTick.
func replay(eng *engine.Engine, dataDir string, verifyFrom, toTick int64) (uint64, error) {
	if verifyFrom == 0 {
		verifyFrom = eng.CurrentTick()
	}
	startTick := eng.CurrentTick()

	// Checkpoints keep the replayed state at every tick a later run
	// resumed from, so a rewind does not depend on snapshot retention.
	need, err := resumeTicks(dataDir)
	if err != nil {
		return 0, err
	}
	checkpoints := make(map[int64]snapshot.SnapshotV1, len(need))
	if need[eng.LastTick()] {
		checkpoints[eng.LastTick()] = eng.ExportSnapshot(0)
	}

	var checked uint64
	var seen bool
	err = persistlog.ForEachTick(dataDir, func(rec engine.TickRecord) error {
		if !seen && rec.Tick < startTick {
			return nil
		}
		if toTick != 0 && rec.Tick > toTick {
			return errStop
		}
		if rp := rec.ResumedFrom; rp != nil && rec.Tick != eng.CurrentTick() {
			if err := rewind(eng, dataDir, *rp, checkpoints); err != nil {
				return fmt.Errorf("tick %d: %w", rec.Tick, err)
			}
		}
		seen = true
		if rec.Tick != eng.CurrentTick() {
			return fmt.Errorf("tick mismatch: want=%d got=%d", eng.CurrentTick(), rec.Tick)
		}
		res := eng.StepRecorded(rec.Batches)
		if res.Tick >= verifyFrom {
			checked++
			if res.Hash != rec.Hash {
				return fmt.Errorf("hash mismatch at tick %d: got=%08x want=%08x", res.Tick, res.Hash, rec.Hash)
			}
		}
		if need[res.Tick] {
			checkpoints[res.Tick] = eng.ExportSnapshot(0)
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return checked, err
	}
	if !seen {
		return 0, fmt.Errorf("no journal records at or after tick %d in %s", startTick, persistlog.TickDir(dataDir))
	}
	return checked, nil
}

// resumeTicks collects the snapshot ticks named by resume markers.
func resumeTicks(dataDir string) (map[int64]bool, error) {
	need := map[int64]bool{}
	err := persistlog.ForEachTick(dataDir, func(rec engine.TickRecord) error {
		if rec.ResumedFrom != nil {
			need[rec.ResumedFrom.Tick] = true
		}
		return nil
	})
	return need, err
}

// rewind restores eng to the state after rp.Tick, from a replayed
// checkpoint or else from the run's snapshot directory.
func rewind(eng *engine.Engine, dataDir string, rp engine.ResumePoint, checkpoints map[int64]snapshot.SnapshotV1) error {
	snap, ok := checkpoints[rp.Tick]
	if !ok {
		path := filepath.Join(snapshot.Dir(dataDir), snapshot.FileName(rp.Tick))
		var err error
		if snap, err = snapshot.ReadSnapshot(path); err != nil {
			return fmt.Errorf("resume from tick %d: %w", rp.Tick, err)
		}
	}
	if snap.Header.Hash != rp.Hash {
		return fmt.Errorf("resume from tick %d: state hash %08x, run resumed from %08x", rp.Tick, snap.Header.Hash, rp.Hash)
	}
	return eng.RestoreSnapshot(snap)
}
