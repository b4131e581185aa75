package repop

import "sort"

// Lane selects delivery semantics for an op.
type Lane uint8

const (
	// LaneReliable carries lifecycle truth in emission order.
	LaneReliable Lane = 1
	// LaneSample carries latest-wins snapshots; never ground truth.
	LaneSample Lane = 2
)

func (l Lane) String() string {
	switch l {
	case LaneReliable:
		return "reliable"
	case LaneSample:
		return "sample"
	}
	return "unknown"
}

// Spec describes one op type: its name, how many leading slots are
// meaningful on the wire, its lane, and which slot holds the replace key.
type Spec struct {
	Name    string
	Fields  int
	Lane    Lane
	KeySlot int
}

var specs = map[Type]Spec{
	OpEntitySpawn:      {Name: "entity_spawn", Fields: 4, Lane: LaneReliable},
	OpEntityDestroy:    {Name: "entity_destroy", Fields: 1, Lane: LaneReliable},
	OpFlowFire:         {Name: "flow_fire", Fields: 3, Lane: LaneReliable},
	OpFlowSnapshot:     {Name: "flow_snapshot", Fields: 2, Lane: LaneReliable, KeySlot: 1},
	OpPositionSnapshot: {Name: "position_snapshot", Fields: 3, Lane: LaneSample},
}

// Describe returns the layout of t.
func Describe(t Type) (Spec, bool) {
	s, ok := specs[t]
	return s, ok
}

// Policy returns the lane assigned to t. ok is false for unclassified types.
func Policy(t Type) (Lane, bool) {
	s, ok := specs[t]
	if !ok || s.Lane == 0 {
		return 0, false
	}
	return s.Lane, true
}

// ReplaceKey identifies the state an op overwrites within its type.
// For OpPositionSnapshot this is the entity id.
func ReplaceKey(o Op) int32 {
	s, ok := specs[o.Type]
	if !ok {
		return o.A
	}
	return o.Slot(s.KeySlot)
}

// Types lists every known op type in ascending order.
func Types() []Type {
	out := make([]Type, 0, len(specs))
	for t := range specs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
