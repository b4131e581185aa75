package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"tickcore.dev/internal/persistence/snapshot"
)

func writeDummy(t *testing.T, path string, body []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestArchiveCheckpoint_CopiesOnMultiple(t *testing.T) {
	dataDir := t.TempDir()
	src := filepath.Join(dataDir, "snapshots", snapshot.FileName(200))
	want := []byte("dummy")
	writeDummy(t, src, want)

	snap := snapshot.SnapshotV1{Header: snapshot.Header{Version: snapshot.Version, Tick: 200, Hash: 0xabc}}
	dst, ok, err := ArchiveCheckpoint(dataDir, src, snap, 100)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !ok {
		t.Fatalf("expected archive at tick 200")
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("archived contents differ")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dst), "meta.json")); err != nil {
		t.Fatalf("meta.json: %v", err)
	}

	snap.Header.Tick = 250
	if _, ok, err := ArchiveCheckpoint(dataDir, src, snap, 100); err != nil || ok {
		t.Fatalf("tick 250 archived=%v err=%v", ok, err)
	}
	if _, ok, _ := ArchiveCheckpoint(dataDir, src, snap, 0); ok {
		t.Fatalf("archiving disabled but copied")
	}
}

func TestPrune_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for _, tick := range []int64{5, 100, 20, 40} {
		writeDummy(t, filepath.Join(dir, snapshot.FileName(tick)), nil)
	}
	writeDummy(t, filepath.Join(dir, "keep.txt"), nil)

	removed, err := Prune(dir, 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed=%v", removed)
	}
	for _, tick := range []int64{40, 100} {
		if _, err := os.Stat(filepath.Join(dir, snapshot.FileName(tick))); err != nil {
			t.Fatalf("tick %d pruned: %v", tick, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "keep.txt")); err != nil {
		t.Fatalf("non-snapshot removed: %v", err)
	}
	if removed, _ := Prune(filepath.Join(dir, "missing"), 1); len(removed) != 0 {
		t.Fatalf("missing dir removed=%v", removed)
	}
}
