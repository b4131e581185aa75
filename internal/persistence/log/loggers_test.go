package log

import (
	"path/filepath"
	"testing"
	"time"

	"tickcore.dev/internal/server"
	"tickcore.dev/internal/sim/command"
	"tickcore.dev/internal/sim/engine"
)

func TestTickLogger_RoundTripAcrossHours(t *testing.T) {
	dataDir := t.TempDir()
	l := NewTickLogger(dataDir)

	now := time.Date(2026, 1, 2, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return now }

	recs := []engine.TickRecord{
		{Tick: 1, Hash: 11, Batches: []command.RoutedBatch{{Conn: 2, Batch: command.Batch{
			ScheduledTick: 1, ClientSeq: 5, Commands: []command.Command{{Type: command.CmdMoveBy, Entity: 1, X: 1}},
		}}}},
		{Tick: 2, Hash: 22},
		{Tick: 3, Hash: 33},
	}
	for i, r := range recs {
		if i == 2 {
			now = now.Add(2 * time.Minute)
		}
		if err := l.WriteTick(r); err != nil {
			t.Fatalf("write %d: %v", r.Tick, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := tickJournal(dataDir).Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%v want 2 hourly files", files)
	}
	if filepath.Base(files[0]) != "ticks-2026-01-02-10.jsonl.zst" {
		t.Fatalf("first file %q", filepath.Base(files[0]))
	}

	var got []engine.TickRecord
	if err := ForEachTick(dataDir, func(r engine.TickRecord) error {
		got = append(got, r)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != len(recs) {
		t.Fatalf("read %d records want %d", len(got), len(recs))
	}
	for i := range recs {
		if got[i].Tick != recs[i].Tick || got[i].Hash != recs[i].Hash {
			t.Fatalf("record %d = %+v want %+v", i, got[i], recs[i])
		}
	}
	if len(got[0].Batches) != 1 || got[0].Batches[0].Batch.Commands[0].X != 1 {
		t.Fatalf("batches not preserved: %+v", got[0].Batches)
	}
}

func TestAuditLogger_AppendsAfterReopen(t *testing.T) {
	dataDir := t.TempDir()
	fixed := func() time.Time { return time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC) }

	for _, reason := range []string{"stale", "duplicate_seq"} {
		l := NewAuditLogger(dataDir)
		l.w.now = fixed
		if err := l.WriteAudit(server.AuditEntry{Tick: 4, Conn: 1, Reason: reason}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	var reasons []string
	if err := ForEachAudit(dataDir, func(e server.AuditEntry) error {
		reasons = append(reasons, e.Reason)
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(reasons) != 2 || reasons[0] != "stale" || reasons[1] != "duplicate_seq" {
		t.Fatalf("reasons=%v", reasons)
	}
}

func TestForEachTick_MissingDirIsEmpty(t *testing.T) {
	n := 0
	err := ForEachTick(t.TempDir(), func(engine.TickRecord) error {
		n++
		return nil
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 0 {
		t.Fatalf("n=%d", n)
	}
}

func TestJournal_FilesFilterByPrefix(t *testing.T) {
	dir := t.TempDir()
	at := func() time.Time { return time.Date(2026, 3, 4, 5, 0, 0, 0, time.UTC) }
	for _, prefix := range []string{"ticks", "audit"} {
		w := NewWriter(Journal{Dir: dir, Prefix: prefix})
		w.now = at
		if err := w.Append(map[string]string{"from": prefix}); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}

	j := Journal{Dir: dir, Prefix: "ticks"}
	files, err := j.Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "ticks-2026-03-04-05.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}
	var from []string
	if err := decodeEach(j, func(v map[string]string) error {
		from = append(from, v["from"])
		return nil
	}); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(from) != 1 || from[0] != "ticks" {
		t.Fatalf("from=%v", from)
	}
}

func TestWriter_CloseIsIdempotent(t *testing.T) {
	w := NewWriter(Journal{Dir: t.TempDir(), Prefix: "x"})
	if err := w.Close(); err != nil {
		t.Fatalf("close unopened: %v", err)
	}
	if err := w.Append(1); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
