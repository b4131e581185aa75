package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

var dbQueries = map[string]string{
	"ticks":     `SELECT tick,hash,batches,commands FROM ticks WHERE tick >= ? ORDER BY tick DESC LIMIT ?`,
	"commands":  `SELECT tick,seq,conn,client_seq,type,entity,x,y,arg FROM commands WHERE tick >= ? ORDER BY tick DESC, seq LIMIT ?`,
	"rejects":   `SELECT tick,seq,conn,reason,client_tick,client_seq,commands FROM rejects WHERE tick >= ? ORDER BY tick DESC, seq LIMIT ?`,
	"snapshots": `SELECT tick,path,hash,entities,next_entity_id FROM snapshots WHERE tick >= ? ORDER BY tick DESC LIMIT ?`,
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	sinceTick := fs.Int64("since_tick", 0, "first tick (inclusive)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "tickcore.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if q == "tuning" {
		var digest, raw, updated string
		if err := db.QueryRow(`SELECT digest,json,updated_at FROM config WHERE name='tuning'`).Scan(&digest, &raw, &updated); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		printJSON(struct {
			Digest    string          `json:"digest"`
			UpdatedAt string          `json:"updated_at"`
			Tuning    json.RawMessage `json:"tuning"`
		}{digest, updated, json.RawMessage(raw)})
		return
	}

	query, ok := dbQueries[q]
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-since_tick T] [-limit N] ticks|commands|rejects|snapshots|tuning")
		os.Exit(2)
	}
	if *limit <= 0 {
		*limit = 20
	}
	rows, err := db.Query(query, *sinceTick, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()
	if err := printRows(rows); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}

// printRows prints each row as a JSON object keyed by column name.
func printRows(rows *sql.Rows) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		r := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				r[c] = string(b)
				continue
			}
			r[c] = vals[i]
		}
		printJSON(r)
	}
	return rows.Err()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
