package main

import (
	"os"
	"path/filepath"
	"testing"

	persistlog "tickcore.dev/internal/persistence/log"
	"tickcore.dev/internal/persistence/snapshot"
	"tickcore.dev/internal/server"
)

func TestReadAudit_Filters(t *testing.T) {
	dataDir := t.TempDir()
	l := persistlog.NewAuditLogger(dataDir)
	for _, e := range []server.AuditEntry{
		{Tick: 1, Conn: 1, Reason: "stale"},
		{Tick: 2, Conn: 2, Reason: "duplicate_seq"},
		{Tick: 3, Conn: 1, Reason: "stale"},
		{Tick: 9, Conn: 1, Reason: "rate_limited"},
	} {
		if err := l.WriteAudit(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var got []server.AuditEntry
	counts, err := readAudit(dataDir, auditFilter{SinceTick: 2, ToTick: 5, Conn: 1}, func(v any) {
		got = append(got, v.(server.AuditEntry))
	})
	if err != nil {
		t.Fatalf("readAudit: %v", err)
	}
	if len(got) != 1 || got[0].Tick != 3 {
		t.Fatalf("got=%+v", got)
	}
	if counts["stale"] != 1 || len(counts) != 1 {
		t.Fatalf("counts=%v", counts)
	}

	counts, err = readAudit(dataDir, auditFilter{Reason: "stale"}, nil)
	if err != nil {
		t.Fatalf("readAudit: %v", err)
	}
	if counts["stale"] != 2 {
		t.Fatalf("counts=%v", counts)
	}
}

func TestSnapshotFiles_SortedByTick(t *testing.T) {
	dataDir := t.TempDir()
	for _, tick := range []int64{100, 7, 30} {
		path := filepath.Join(dataDir, "snapshots", snapshot.FileName(tick))
		if err := snapshot.WriteSnapshot(path, snapshot.SnapshotV1{Header: snapshot.Header{Tick: tick}}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dataDir, "snapshots", "notes.txt"), nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	paths, err := snapshotFiles(dataDir)
	if err != nil {
		t.Fatalf("snapshotFiles: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("paths=%v", paths)
	}
	h, err := snapshot.ReadHeader(paths[2])
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Tick != 100 {
		t.Fatalf("last tick=%d", h.Tick)
	}
}
