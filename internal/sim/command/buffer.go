package command

import (
	"sort"
	"sync"
)

// BufferConfig bounds the scheduling window around the server tick.
type BufferConfig struct {
	MaxPastTicks   int64
	MaxFutureTicks int64
	// MaxStoredTicks is how far behind the current tick entries may linger
	// before DropBeforeTick purges them.
	MaxStoredTicks int64
}

func DefaultBufferConfig() BufferConfig {
	return BufferConfig{MaxPastTicks: 2, MaxFutureTicks: 2, MaxStoredTicks: 8}
}

// RejectReason explains why Enqueue refused a submission.
type RejectReason uint8

const (
	Accepted RejectReason = iota
	RejectEmpty
	RejectStale
	RejectDuplicate
	RejectRateLimited
)

func (r RejectReason) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectEmpty:
		return "empty"
	case RejectStale:
		return "stale"
	case RejectDuplicate:
		return "duplicate"
	case RejectRateLimited:
		return "rate_limited"
	}
	return "unknown"
}

// Buffer maps (connection, requested tick) submissions onto valid server
// ticks. Batches are stored per (scheduled tick, connection) in FIFO order.
// It is safe for concurrent use; the lock is held only for map operations.
type Buffer struct {
	cfg BufferConfig

	mu    sync.Mutex
	ticks map[int64]map[ConnID][]Batch
	count int
}

func NewBuffer(cfg BufferConfig) *Buffer {
	if cfg.MaxPastTicks < 0 {
		cfg.MaxPastTicks = 0
	}
	if cfg.MaxFutureTicks < 0 {
		cfg.MaxFutureTicks = 0
	}
	if cfg.MaxStoredTicks < cfg.MaxPastTicks {
		cfg.MaxStoredTicks = cfg.MaxPastTicks
	}
	return &Buffer{cfg: cfg, ticks: make(map[int64]map[ConnID][]Batch)}
}

func (b *Buffer) Config() BufferConfig { return b.cfg }

// Schedule applies the window policy without storing anything.
func (b *Buffer) Schedule(clientTick, serverTick int64) (int64, RejectReason) {
	lo := serverTick - b.cfg.MaxPastTicks
	hi := serverTick + b.cfg.MaxFutureTicks
	switch {
	case clientTick < lo:
		return 0, RejectStale
	case clientTick > hi:
		return hi, Accepted
	case clientTick < serverTick:
		return serverTick, Accepted
	default:
		return clientTick, Accepted
	}
}

// Enqueue schedules cmds for conn. The returned tick is only meaningful when
// the reason is Accepted. cmds is copied.
func (b *Buffer) Enqueue(conn ConnID, clientTick int64, clientSeq uint32, cmds []Command, serverTick int64) (int64, RejectReason) {
	if len(cmds) == 0 {
		return 0, RejectEmpty
	}
	tick, reason := b.Schedule(clientTick, serverTick)
	if reason != Accepted {
		return 0, reason
	}
	batch := Batch{
		ScheduledTick: tick,
		ClientSeq:     clientSeq,
		Commands:      append([]Command(nil), cmds...),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	byConn := b.ticks[tick]
	if byConn == nil {
		byConn = make(map[ConnID][]Batch)
		b.ticks[tick] = byConn
	}
	byConn[conn] = append(byConn[conn], batch)
	b.count++
	return tick, Accepted
}

// DequeueForTick pops the oldest batch for (tick, conn).
func (b *Buffer) DequeueForTick(tick int64, conn ConnID) (Batch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	byConn := b.ticks[tick]
	q := byConn[conn]
	if len(q) == 0 {
		return Batch{}, false
	}
	out := q[0]
	q[0] = Batch{}
	q = q[1:]
	b.count--
	if len(q) == 0 {
		delete(byConn, conn)
		if len(byConn) == 0 {
			delete(b.ticks, tick)
		}
	} else {
		byConn[conn] = q
	}
	return out, true
}

// DequeueAllForTick pops every batch for (tick, conn) in FIFO order.
func (b *Buffer) DequeueAllForTick(tick int64, conn ConnID) []Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	byConn := b.ticks[tick]
	q := byConn[conn]
	if len(q) == 0 {
		return nil
	}
	delete(byConn, conn)
	if len(byConn) == 0 {
		delete(b.ticks, tick)
	}
	b.count -= len(q)
	return q
}

// ConnectionIDsForTick lists connections with batches at tick, ascending.
// It does not modify the buffer.
func (b *Buffer) ConnectionIDsForTick(tick int64) []ConnID {
	b.mu.Lock()
	byConn := b.ticks[tick]
	out := make([]ConnID, 0, len(byConn))
	for id, q := range byConn {
		if len(q) > 0 {
			out = append(out, id)
		}
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DropBeforeTick purges entries strictly older than tick-MaxStoredTicks and
// returns how many batches were discarded.
func (b *Buffer) DropBeforeTick(tick int64) int {
	cutoff := tick - b.cfg.MaxStoredTicks
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for t, byConn := range b.ticks {
		if t >= cutoff {
			continue
		}
		for _, q := range byConn {
			dropped += len(q)
		}
		delete(b.ticks, t)
	}
	b.count -= dropped
	return dropped
}

// Len reports the number of stored batches.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
