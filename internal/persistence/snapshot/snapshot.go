package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

var ErrVersion = errors.New("snapshot: unsupported version")

type Header struct {
	Version int    `json:"version"`
	Tick    int64  `json:"tick"`
	Hash    uint32 `json:"hash"`
}

// SnapshotV1 is the authoritative state after Header.Tick, plus the
// parameters needed to resume or replay from it.
type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRateHz          int   `json:"tick_rate_hz"`
	Width               int32 `json:"width"`
	Height              int32 `json:"height"`
	FlowProgressPerTick uint8 `json:"flow_progress_per_tick"`
	FlowMaxStage        uint8 `json:"flow_max_stage"`
	MaxPastTicks        int64 `json:"max_past_ticks"`
	MaxFutureTicks      int64 `json:"max_future_ticks"`

	NextEntityID int32      `json:"next_entity_id"`
	Entities     []EntityV1 `json:"entities"`
}

type EntityV1 struct {
	ID     int32  `json:"id"`
	X      int32  `json:"x"`
	Y      int32  `json:"y"`
	HP     int32  `json:"hp"`
	Owner  uint32 `json:"owner,omitempty"`
	FlowID int32  `json:"flow_id,omitempty"`
	Flow   int32  `json:"flow,omitempty"`
	Avatar bool   `json:"avatar,omitempty"`
}

// Dir is the rolling snapshot directory of a server data dir.
func Dir(dataDir string) string { return filepath.Join(dataDir, "snapshots") }

// FileName is the conventional name for a snapshot taken after tick.
func FileName(tick int64) string { return fmt.Sprintf("%012d.snap.zst", tick) }

func WriteSnapshot(path string, snap SnapshotV1) error {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The header line is duplicated inside the gob payload.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("%w: %d", ErrVersion, snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("parse header: %w", err)
	}
	return h, nil
}
