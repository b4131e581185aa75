package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "tickcore.dev/internal/persistence/log"
	"tickcore.dev/internal/persistence/snapshot"
	"tickcore.dev/internal/server"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the header of every snapshot in the data dir, oldest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	paths, err := snapshotFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, p := range paths {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(p), err)
			continue
		}
		printJSON(struct {
			Path    string `json:"path"`
			Version int    `json:"version"`
			Tick    int64  `json:"tick"`
			Hash    string `json:"hash"`
		}{p, h.Version, h.Tick, fmt.Sprintf("%08x", h.Hash)})
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	entities := fs.Bool("entities", false, "print every entity")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		paths, err := snapshotFiles(*dataDir)
		if err != nil || len(paths) == 0 {
			fmt.Fprintln(os.Stderr, "no snapshots found")
			os.Exit(2)
		}
		path = paths[len(paths)-1]
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	owned := 0
	for _, e := range snap.Entities {
		if e.Owner != 0 {
			owned++
		}
	}
	printJSON(struct {
		Path         string `json:"path"`
		Tick         int64  `json:"tick"`
		Hash         string `json:"hash"`
		TickRateHz   int    `json:"tick_rate_hz"`
		Width        int32  `json:"width"`
		Height       int32  `json:"height"`
		NextEntityID int32  `json:"next_entity_id"`
		Entities     int    `json:"entities"`
		Owned        int    `json:"owned"`
	}{path, snap.Header.Tick, fmt.Sprintf("%08x", snap.Header.Hash), snap.TickRateHz, snap.Width, snap.Height, snap.NextEntityID, len(snap.Entities), owned})
	if *entities {
		for _, e := range snap.Entities {
			printJSON(e)
		}
	}
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	sinceTick := fs.Int64("since_tick", 0, "first tick (inclusive)")
	toTick := fs.Int64("to_tick", 0, "last tick (inclusive, optional)")
	conn := fs.Uint("conn", 0, "connection filter (optional)")
	reason := fs.String("reason", "", "reason filter (optional)")
	_ = fs.Parse(args)

	f := auditFilter{SinceTick: *sinceTick, ToTick: *toTick, Conn: uint32(*conn), Reason: strings.TrimSpace(*reason)}
	counts, err := readAudit(*dataDir, f, printJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, "audit:", err)
		os.Exit(1)
	}
	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(os.Stderr, "%s=%d\n", r, counts[r])
	}
}

type auditFilter struct {
	SinceTick int64
	ToTick    int64
	Conn      uint32
	Reason    string
}

func (f auditFilter) match(e server.AuditEntry) bool {
	if e.Tick < f.SinceTick {
		return false
	}
	if f.ToTick != 0 && e.Tick > f.ToTick {
		return false
	}
	if f.Conn != 0 && e.Conn != f.Conn {
		return false
	}
	return f.Reason == "" || e.Reason == f.Reason
}

// readAudit streams matching entries to emit and returns per-reason counts.
func readAudit(dataDir string, f auditFilter, emit func(any)) (map[string]int, error) {
	counts := map[string]int{}
	err := persistlog.ForEachAudit(dataDir, func(e server.AuditEntry) error {
		if !f.match(e) {
			return nil
		}
		counts[e.Reason]++
		if emit != nil {
			emit(e)
		}
		return nil
	})
	return counts, err
}

func snapshotFiles(dataDir string) ([]string, error) {
	dir := filepath.Join(dataDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	// Zero-padded tick names sort chronologically.
	sort.Strings(out)
	return out, nil
}
