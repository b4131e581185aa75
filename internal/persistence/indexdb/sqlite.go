// Package indexdb maintains a SQLite read model of the tick journal. The
// compressed JSONL logs remain the source of truth; the index may drop rows
// when its writer falls behind.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"tickcore.dev/internal/persistence/snapshot"
	"tickcore.dev/internal/server"
	"tickcore.dev/internal/sim/engine"
	"tickcore.dev/internal/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqAudit
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     engine.TickRecord
	audit    server.AuditEntry
	snapshot snapshotRow
}

type snapshotRow struct {
	Tick     int64
	Path     string
	Hash     uint32
	Entities int
	NextID   int32
}

// Options tunes the writer. Zero values use defaults.
type Options struct {
	QueueSize     int
	CommitEvery   int
	CommitMaxWait time.Duration
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return OpenSQLiteWithOptions(path, Options{})
}

func OpenSQLiteWithOptions(path string, opt Options) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 65536
	}
	if opt.CommitEvery <= 0 {
		opt.CommitEvery = 2000
	}
	if opt.CommitMaxWait <= 0 {
		opt.CommitMaxWait = 2 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, opt.QueueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(opt)
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS config (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			hash INTEGER NOT NULL,
			batches INTEGER NOT NULL,
			commands INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS commands (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			conn INTEGER NOT NULL,
			client_seq INTEGER NOT NULL,
			type INTEGER NOT NULL,
			entity INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			arg INTEGER NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_conn_tick ON commands(conn, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_entity_tick ON commands(entity, tick);`,
		`CREATE TABLE IF NOT EXISTS rejects (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			conn INTEGER NOT NULL,
			reason TEXT NOT NULL,
			client_tick INTEGER NOT NULL,
			client_seq INTEGER NOT NULL,
			commands INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rejects_conn_tick ON rejects(conn, tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			hash INTEGER NOT NULL,
			entities INTEGER NOT NULL,
			next_entity_id INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) DB() *sql.DB { return s.db }

// Dropped counts requests discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req) {
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) WriteTick(rec engine.TickRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqTick, tick: rec})
	return nil
}

func (s *SQLiteIndex) WriteAudit(e server.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqAudit, audit: e})
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: snapshotRow{
		Tick:     snap.Header.Tick,
		Path:     path,
		Hash:     snap.Header.Hash,
		Entities: len(snap.Entities),
		NextID:   snap.NextEntityID,
	}})
}

// UpsertTuning stores the tuning actually applied, keyed by digest.
func (s *SQLiteIndex) UpsertTuning(t tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO config(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"tuning", hex.EncodeToString(sum[:]), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop(opt Options) {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,hash,batches,commands,raw_json) VALUES(?,?,?,?,?)`)
	insertCommand, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(tick,seq,conn,client_seq,type,entity,x,y,arg) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertReject, _ := s.db.Prepare(`INSERT OR REPLACE INTO rejects(tick,seq,conn,reason,client_tick,client_seq,commands,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,hash,entities,next_entity_id) VALUES(?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertCommand, insertReject, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()

		lastRejectTick int64 = -1
		rejectSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= opt.CommitEvery || time.Since(lastCommit) >= opt.CommitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			if insertTick == nil || insertCommand == nil {
				continue
			}
			rec := r.tick
			n := 0
			for _, rb := range rec.Batches {
				n += len(rb.Batch.Commands)
			}
			raw, _ := json.Marshal(rec)
			if _, err := tx.Stmt(insertTick).Exec(rec.Tick, int64(rec.Hash), len(rec.Batches), n, string(raw)); err != nil {
				rollback()
				continue
			}
			opCount++
			seq := 0
		batches:
			for _, rb := range rec.Batches {
				for _, c := range rb.Batch.Commands {
					if _, err := tx.Stmt(insertCommand).Exec(
						rec.Tick, seq, int64(rb.Conn), int64(rb.Batch.ClientSeq),
						int(c.Type), c.Entity, c.X, c.Y, c.Arg,
					); err != nil {
						rollback()
						break batches
					}
					seq++
					opCount++
				}
			}

		case reqAudit:
			if insertReject == nil {
				continue
			}
			a := r.audit
			if a.Tick != lastRejectTick {
				lastRejectTick = a.Tick
				rejectSeq = 0
			}
			seq := rejectSeq
			rejectSeq++
			raw, _ := json.Marshal(a)
			if _, err := tx.Stmt(insertReject).Exec(
				a.Tick, seq, int64(a.Conn), a.Reason, a.ClientTick, int64(a.ClientSeq), a.Commands, string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqSnapshot:
			if insertSnapshot == nil {
				continue
			}
			sn := r.snapshot
			if _, err := tx.Stmt(insertSnapshot).Exec(sn.Tick, sn.Path, int64(sn.Hash), sn.Entities, sn.NextID); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}

	commit()
}
