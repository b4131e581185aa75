// Package archive keeps long-lived checkpoints out of the rolling snapshot
// directory and prunes the rest.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tickcore.dev/internal/persistence/snapshot"
)

type CheckpointMeta struct {
	Tick      int64  `json:"tick"`
	Hash      string `json:"hash"`
	Snapshot  string `json:"snapshot"`
	Entities  int    `json:"entities"`
	CreatedAt string `json:"created_at"`
}

func Dir(dataDir string) string { return filepath.Join(dataDir, "archives") }

// ArchiveCheckpoint copies a snapshot into dataDir/archives/tick_<N>/ when
// its tick is a multiple of everyTicks. It reports whether a copy was made.
func ArchiveCheckpoint(dataDir, snapshotPath string, snap snapshot.SnapshotV1, everyTicks int64) (archivedPath string, archived bool, err error) {
	if everyTicks <= 0 || snap.Header.Tick <= 0 || snap.Header.Tick%everyTicks != 0 {
		return "", false, nil
	}

	archiveDir := filepath.Join(Dir(dataDir), fmt.Sprintf("tick_%012d", snap.Header.Tick))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := CheckpointMeta{
		Tick:      snap.Header.Tick,
		Hash:      fmt.Sprintf("%08x", snap.Header.Hash),
		Snapshot:  filepath.Base(dst),
		Entities:  len(snap.Entities),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return dst, true, nil
}

// Prune removes all but the newest keep snapshots in dir. Snapshot names are
// zero-padded ticks, so lexical order is tick order.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".snap.zst") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil, nil
	}
	sort.Strings(names)

	var removed []string
	for _, name := range names[:len(names)-keep] {
		p := filepath.Join(dir, name)
		if err := os.Remove(p); err != nil {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
