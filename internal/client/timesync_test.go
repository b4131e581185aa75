package client

import (
	"math"
	"testing"
)

func TestTimeSync_StateMachine(t *testing.T) {
	var ts TimeSync
	if ts.State() != SyncUnseeded || ts.HasLock() {
		t.Fatalf("zero value state=%v", ts.State())
	}
	ts.SeedFromWelcome(5000, 100)
	if ts.State() != SyncSeeded || ts.HasLock() {
		t.Fatalf("after welcome state=%v", ts.State())
	}
	if ts.OffsetMs() != 0 {
		t.Fatalf("offset trusted before pong")
	}
	ts.UpdateOnPong(1000, 1100, 5050, 101)
	if ts.State() != SyncLocked || !ts.HasLock() {
		t.Fatalf("after pong state=%v", ts.State())
	}
}

func TestTimeSync_FirstSampleRaw(t *testing.T) {
	var ts TimeSync
	ts.SeedFromWelcome(0, 0)
	// rtt 100, server at recv = 5050+50 = 5100, offset = 5100-1100 = 4000.
	ts.UpdateOnPong(1000, 1100, 5050, 10)
	if ts.RTTMs() != 100 || ts.OffsetMs() != 4000 {
		t.Fatalf("rtt=%v offset=%v", ts.RTTMs(), ts.OffsetMs())
	}
	// Second sample is smoothed.
	ts.UpdateOnPong(2000, 2200, 6100, 30)
	wantRTT := 100 + (200-100)*RTTAlpha
	wantOff := 4000 + ((6100+100-2200)-4000)*OffsetAlpha
	if math.Abs(ts.RTTMs()-wantRTT) > 1e-9 || math.Abs(ts.OffsetMs()-wantOff) > 1e-9 {
		t.Fatalf("rtt=%v want %v offset=%v want %v", ts.RTTMs(), wantRTT, ts.OffsetMs(), wantOff)
	}
}

func TestTimeSync_NegativeRTTClamped(t *testing.T) {
	var ts TimeSync
	ts.UpdateOnPong(1000, 900, 5000, 1)
	if ts.RTTMs() != 0 {
		t.Fatalf("rtt=%v want 0", ts.RTTMs())
	}
}

func TestTimeSync_Converges(t *testing.T) {
	const (
		trueRTT    = 80.0
		trueOffset = 12345.0
	)
	var ts TimeSync
	ts.SeedFromWelcome(0, 0)
	// Noisy first sample, then constant truth.
	ts.UpdateOnPong(0, 300, 100, 0)
	for i := 0; i < 200; i++ {
		send := float64(1000 + i*50)
		recv := send + trueRTT
		serverAtRecv := recv + trueOffset
		ts.UpdateOnPong(send, recv, serverAtRecv-trueRTT/2, int64(i))
	}
	if math.Abs(ts.RTTMs()-trueRTT) > 0.01 {
		t.Fatalf("rtt=%v want ~%v", ts.RTTMs(), trueRTT)
	}
	if math.Abs(ts.OffsetMs()-trueOffset) > 0.01 {
		t.Fatalf("offset=%v want ~%v", ts.OffsetMs(), trueOffset)
	}
}

func TestTimeSync_EstimateServerTick(t *testing.T) {
	var ts TimeSync
	ts.SeedFromWelcome(0, 0)
	// offset 1000, last server tick 40 at server time 2000.
	ts.UpdateOnPong(1000, 1000, 2000, 40)
	if got := ts.EstimateServerNowMs(1000); got != 2000 {
		t.Fatalf("now=%v want 2000", got)
	}
	// 240ms later at 20Hz is 4.8 ticks, rounds to 5.
	if got := ts.EstimateServerTick(1240, 20); got != 45 {
		t.Fatalf("tick=%d want 45", got)
	}
	if got := ts.EstimateServerTick(1240, 0); got != 40 {
		t.Fatalf("no-rate tick=%d want 40", got)
	}
	if got := ts.PlanCommandTargetTick(1240, 20, 3); got != 48 {
		t.Fatalf("target=%d want 48", got)
	}
	if got := ts.PlanCommandTargetTick(1240, 20, -2); got != 45 {
		t.Fatalf("negative lead target=%d want 45", got)
	}
}
