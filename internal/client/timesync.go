// Package client holds the client-side half of the replication contract:
// clock estimation, input delay, the authoritative entity mirror and the
// session state machine that ties them to the wire.
package client

import "math"

type SyncState uint8

const (
	SyncUnseeded SyncState = iota
	SyncSeeded
	SyncLocked
)

func (s SyncState) String() string {
	switch s {
	case SyncUnseeded:
		return "unseeded"
	case SyncSeeded:
		return "seeded"
	case SyncLocked:
		return "locked"
	}
	return "unknown"
}

const (
	RTTAlpha    = 0.15
	OffsetAlpha = 0.15
)

// TimeSync estimates the server clock from pong samples, assuming symmetric
// latency.
type TimeSync struct {
	state    SyncState
	samples  int
	rttMs    float64
	offsetMs float64

	lastServerTick   int64
	lastServerTimeMs float64
}

// SeedFromWelcome records the server's self-reported clock. The offset is
// not trusted until the first pong.
func (t *TimeSync) SeedFromWelcome(serverTimeMs float64, serverTick int64) {
	t.lastServerTimeMs = serverTimeMs
	t.lastServerTick = serverTick
	t.samples = 0
	t.rttMs = 0
	t.offsetMs = 0
	t.state = SyncSeeded
}

func (t *TimeSync) UpdateOnPong(clientSendMs, clientRecvMs, serverTimeMs float64, serverTick int64) {
	rtt := math.Max(0, clientRecvMs-clientSendMs)
	serverAtRecv := serverTimeMs + rtt/2
	offset := serverAtRecv - clientRecvMs

	if t.samples == 0 {
		t.rttMs = rtt
		t.offsetMs = offset
	} else {
		t.rttMs += (rtt - t.rttMs) * RTTAlpha
		t.offsetMs += (offset - t.offsetMs) * OffsetAlpha
	}
	t.samples++
	t.lastServerTimeMs = serverTimeMs
	t.lastServerTick = serverTick
	t.state = SyncLocked
}

func (t *TimeSync) State() SyncState  { return t.state }
func (t *TimeSync) HasLock() bool     { return t.state == SyncLocked }
func (t *TimeSync) RTTMs() float64    { return t.rttMs }
func (t *TimeSync) OffsetMs() float64 { return t.offsetMs }

func (t *TimeSync) LastServerTick() int64 { return t.lastServerTick }

func (t *TimeSync) EstimateServerNowMs(clientNowMs float64) float64 {
	return clientNowMs + t.offsetMs
}

// EstimateServerTick projects the last known server tick forward. Without a
// tick rate it returns the last known tick.
func (t *TimeSync) EstimateServerTick(clientNowMs float64, tickRateHz int) int64 {
	if tickRateHz <= 0 {
		return t.lastServerTick
	}
	elapsed := t.EstimateServerNowMs(clientNowMs) - t.lastServerTimeMs
	return t.lastServerTick + int64(math.Round(elapsed*float64(tickRateHz)/1000))
}

// PlanCommandTargetTick is the tick a client stamps on outgoing commands.
func (t *TimeSync) PlanCommandTargetTick(clientNowMs float64, tickRateHz, inputLeadTicks int) int64 {
	if inputLeadTicks < 0 {
		inputLeadTicks = 0
	}
	return t.EstimateServerTick(clientNowMs, tickRateHz) + int64(inputLeadTicks)
}
