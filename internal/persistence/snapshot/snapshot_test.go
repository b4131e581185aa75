package snapshot

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestSnapshot_WriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap", FileName(42))
	in := SnapshotV1{
		Header:       Header{Tick: 42, Hash: 0xdeadbeef},
		TickRateHz:   20,
		Width:        64,
		Height:       32,
		NextEntityID: 9,
		Entities: []EntityV1{
			{ID: 1, X: 2, Y: 3, HP: 100, Owner: 5},
			{ID: 8, X: -1, Y: 0, HP: 1, FlowID: 2, Flow: 0x01000102},
		},
	}
	if err := WriteSnapshot(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	in.Header.Version = Version
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("roundtrip mismatch:\n in=%+v\nout=%+v", in, out)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Tick != 42 || h.Hash != 0xdeadbeef || h.Version != Version {
		t.Fatalf("header=%+v", h)
	}
}

func TestSnapshot_MissingFile(t *testing.T) {
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error")
	}
}
