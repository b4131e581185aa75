// Package log journals simulation records as hourly zstd JSON lines and
// reads them back in write order.
package log

import (
	"path/filepath"

	"tickcore.dev/internal/server"
	"tickcore.dev/internal/sim/engine"
)

func TickDir(dataDir string) string  { return filepath.Join(dataDir, "ticks") }
func AuditDir(dataDir string) string { return filepath.Join(dataDir, "audit") }

func tickJournal(dataDir string) Journal  { return Journal{Dir: TickDir(dataDir), Prefix: "ticks"} }
func auditJournal(dataDir string) Journal { return Journal{Dir: AuditDir(dataDir), Prefix: "audit"} }

// TickLogger journals one record per tick: the routed input and the
// resulting state hash.
type TickLogger struct{ w *Writer }

func NewTickLogger(dataDir string) *TickLogger {
	return &TickLogger{w: NewWriter(tickJournal(dataDir))}
}

func (l *TickLogger) WriteTick(v engine.TickRecord) error { return l.w.Append(v) }
func (l *TickLogger) Close() error                        { return l.w.Close() }

// AuditLogger records rejected submissions.
type AuditLogger struct{ w *Writer }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: NewWriter(auditJournal(dataDir))}
}

func (l *AuditLogger) WriteAudit(v server.AuditEntry) error { return l.w.Append(v) }
func (l *AuditLogger) Close() error                         { return l.w.Close() }

func ForEachTick(dataDir string, fn func(engine.TickRecord) error) error {
	return decodeEach(tickJournal(dataDir), fn)
}

func ForEachAudit(dataDir string, fn func(server.AuditEntry) error) error {
	return decodeEach(auditJournal(dataDir), fn)
}
