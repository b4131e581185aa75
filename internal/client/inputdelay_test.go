package client

import "testing"

func TestInputDelayTicks(t *testing.T) {
	cases := []struct {
		rtt  float64
		hz   int
		want int
	}{
		{0, 20, 1},
		{100, 20, 2},  // 50ms one-way = 1 tick
		{120, 20, 3},  // 60ms = 1.2 ticks -> 2 + 1
		{1000, 20, 8}, // 10 ticks + 1, clamped
		{-5, 20, 1},
		{200, 0, 1},
	}
	for _, c := range cases {
		if got := InputDelayTicks(c.rtt, c.hz); got != c.want {
			t.Errorf("InputDelayTicks(%v, %d)=%d want %d", c.rtt, c.hz, got, c.want)
		}
	}
}

func TestInputDelay_RenderFollowsInput(t *testing.T) {
	var d InputDelay
	if d.InputTicks() != 1 || d.RenderTicks() != 2 {
		t.Fatalf("defaults input=%d render=%d", d.InputTicks(), d.RenderTicks())
	}
	d.Update(120, 20)
	if d.InputTicks() != 3 || d.RenderTicks() != 4 {
		t.Fatalf("input=%d render=%d", d.InputTicks(), d.RenderTicks())
	}
}
