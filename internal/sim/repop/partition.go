package repop

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnclassifiedOp reports an op type with no lane policy. It is a
// configuration error, never a runtime condition.
var ErrUnclassifiedOp = errors.New("repop: op type has no lane policy")

// Lanes is the output of one partition pass.
type Lanes struct {
	Reliable []Op
	Sample   []Op

	// SampleInput counts sample-lane ops before coalescing.
	SampleInput int

	index map[sampleKey]int
}

type sampleKey struct {
	t   Type
	key int32
}

func (l *Lanes) Reset() {
	l.Reliable = l.Reliable[:0]
	l.Sample = l.Sample[:0]
	l.SampleInput = 0
	for k := range l.index {
		delete(l.index, k)
	}
}

func (l *Lanes) Empty() bool { return len(l.Reliable) == 0 && len(l.Sample) == 0 }

// Partitioner splits a tick's ops into the reliable and sample lanes.
type Partitioner struct {
	// StableSampleOrder sorts the sample lane by (type, key). Off by default;
	// the unsorted order is first-write order, which is already deterministic.
	StableSampleOrder bool
}

// Partition writes ops into out. Reliable ops keep their input order.
// Sample ops are coalesced by (type, replace key), last write wins, and keep
// the position of the first write for that key.
func (p Partitioner) Partition(ops []Op, out *Lanes) error {
	out.Reset()
	if out.index == nil {
		out.index = make(map[sampleKey]int)
	}
	for _, op := range ops {
		lane, ok := Policy(op.Type)
		if !ok {
			out.Reset()
			return fmt.Errorf("%w: type=%d", ErrUnclassifiedOp, op.Type)
		}
		switch lane {
		case LaneReliable:
			out.Reliable = append(out.Reliable, op)
		case LaneSample:
			out.SampleInput++
			k := sampleKey{t: op.Type, key: ReplaceKey(op)}
			if i, seen := out.index[k]; seen {
				out.Sample[i] = op
				continue
			}
			out.index[k] = len(out.Sample)
			out.Sample = append(out.Sample, op)
		}
	}
	if p.StableSampleOrder && len(out.Sample) > 1 {
		sort.SliceStable(out.Sample, func(i, j int) bool {
			a, b := out.Sample[i], out.Sample[j]
			if a.Type != b.Type {
				return a.Type < b.Type
			}
			return ReplaceKey(a) < ReplaceKey(b)
		})
	}
	return nil
}
