package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"tickcore.dev/internal/persistence/archive"
	"tickcore.dev/internal/persistence/snapshot"
	"tickcore.dev/internal/server"
	"tickcore.dev/internal/sim/engine"
)

type multiTickLogger struct {
	a server.TickLogger
	b server.TickLogger
}

func (m multiTickLogger) WriteTick(rec engine.TickRecord) error {
	if m.a != nil {
		_ = m.a.WriteTick(rec)
	}
	if m.b != nil {
		_ = m.b.WriteTick(rec)
	}
	return nil
}

type multiAuditLogger struct {
	a server.AuditLogger
	b server.AuditLogger
}

func (m multiAuditLogger) WriteAudit(e server.AuditEntry) error {
	if m.a != nil {
		_ = m.a.WriteAudit(e)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(e)
	}
	return nil
}

type snapshotRecorder interface {
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
}

type retention struct {
	// ArchiveEveryTicks copies snapshots at multiples of this tick into
	// the archive. Zero disables archiving.
	ArchiveEveryTicks int64
	// Keep bounds the rolling snapshot directory. Zero keeps everything.
	Keep int
}

// snapshotWriter moves snapshot encoding off the simulation loop. If a
// write is still in flight the newer snapshot is dropped.
type snapshotWriter struct {
	dataDir string
	ret     retention
	ch      chan snapshot.SnapshotV1
	idx     snapshotRecorder
	log     *log.Logger
	dropped atomic.Uint64
	written atomic.Uint64
}

func newSnapshotWriter(dataDir string, ret retention, idx snapshotRecorder, logger *log.Logger) *snapshotWriter {
	return &snapshotWriter{
		dataDir: dataDir,
		ret:     ret,
		ch:      make(chan snapshot.SnapshotV1, 2),
		idx:     idx,
		log:     logger,
	}
}

func (w *snapshotWriter) logf(format string, args ...any) {
	if w.log != nil {
		w.log.Printf(format, args...)
	}
}

func (w *snapshotWriter) WriteSnapshot(snap snapshot.SnapshotV1) error {
	select {
	case w.ch <- snap:
	default:
		w.dropped.Add(1)
	}
	return nil
}

func (w *snapshotWriter) Dropped() uint64 { return w.dropped.Load() }
func (w *snapshotWriter) Written() uint64 { return w.written.Load() }

func (w *snapshotWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-w.ch:
			w.write(snap)
		}
	}
}

func (w *snapshotWriter) write(snap snapshot.SnapshotV1) {
	dir := snapshotDir(w.dataDir)
	path := filepath.Join(dir, snapshot.FileName(snap.Header.Tick))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		w.logf("snapshot write: %v", err)
		return
	}
	w.written.Add(1)
	if w.idx != nil {
		w.idx.RecordSnapshot(path, snap)
	}

	if archived, ok, err := archive.ArchiveCheckpoint(w.dataDir, path, snap, w.ret.ArchiveEveryTicks); err != nil {
		w.logf("archive checkpoint: %v", err)
	} else if ok {
		w.logf("archived checkpoint tick=%d path=%s", snap.Header.Tick, archived)
	}
	if _, err := archive.Prune(dir, w.ret.Keep); err != nil {
		w.logf("prune snapshots: %v", err)
	}
}

func snapshotDir(dataDir string) string { return snapshot.Dir(dataDir) }

func latestSnapshot(dataDir string) string {
	dir := snapshotDir(dataDir)
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick int64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseInt(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
