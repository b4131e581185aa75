package client

import "math"

const (
	MinInputDelayTicks = 1
	MaxInputDelayTicks = 8
)

// InputDelayTicks converts a round trip into a command lead:
// clamp(ceil(one-way ticks) + 1, 1, 8).
func InputDelayTicks(rttMs float64, tickRateHz int) int {
	if rttMs < 0 || math.IsNaN(rttMs) {
		rttMs = 0
	}
	if tickRateHz < 0 {
		tickRateHz = 0
	}
	ticks := rttMs / 2 / 1000 * float64(tickRateHz)
	d := int(math.Ceil(ticks)) + 1
	if d < MinInputDelayTicks {
		d = MinInputDelayTicks
	}
	if d > MaxInputDelayTicks {
		d = MaxInputDelayTicks
	}
	return d
}

// InputDelay keeps the last computed delays.
type InputDelay struct {
	input  int
	render int
}

func (d *InputDelay) Update(rttMs float64, tickRateHz int) int {
	d.input = InputDelayTicks(rttMs, tickRateHz)
	d.render = d.input + 1
	return d.input
}

// InputTicks defaults to the minimum before the first update.
func (d *InputDelay) InputTicks() int {
	if d.input == 0 {
		return MinInputDelayTicks
	}
	return d.input
}

func (d *InputDelay) RenderTicks() int {
	if d.render == 0 {
		return MinInputDelayTicks + 1
	}
	return d.render
}
