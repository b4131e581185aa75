// Package repop defines replication ops: fixed-width records describing one
// authoritative state change, and the lane policy that decides how each op
// travels to clients.
package repop

import "fmt"

// Type tags an op. Values are part of the wire contract and are append-only.
type Type uint8

const (
	OpEntitySpawn      Type = 1
	OpEntityDestroy    Type = 2
	OpFlowFire         Type = 3
	OpFlowSnapshot     Type = 4
	OpPositionSnapshot Type = 5
)

// Slots is the number of integer slots carried by every op.
const Slots = 8

// Op is a structurally typed union: Type decides which of A..H are meaningful.
// Ops are values and must not be mutated once emitted.
//
//	OpEntitySpawn       A=entity B=x C=y D=hp
//	OpEntityDestroy     A=entity
//	OpFlowFire          A=entity B=flow C=stage
//	OpFlowSnapshot      A=packed(stage,progress,heat,flags) B=entity
//	OpPositionSnapshot  A=entity B=x C=y
type Op struct {
	Type Type
	A    int32
	B    int32
	C    int32
	D    int32
	E    int32
	F    int32
	G    int32
	H    int32
}

// Slot returns slot i (0 = A).
func (o Op) Slot(i int) int32 {
	switch i {
	case 0:
		return o.A
	case 1:
		return o.B
	case 2:
		return o.C
	case 3:
		return o.D
	case 4:
		return o.E
	case 5:
		return o.F
	case 6:
		return o.G
	case 7:
		return o.H
	}
	return 0
}

// SetSlot writes slot i (0 = A). Only used while building an op.
func (o *Op) SetSlot(i int, v int32) {
	switch i {
	case 0:
		o.A = v
	case 1:
		o.B = v
	case 2:
		o.C = v
	case 3:
		o.D = v
	case 4:
		o.E = v
	case 5:
		o.F = v
	case 6:
		o.G = v
	case 7:
		o.H = v
	}
}

func (o Op) String() string {
	if s, ok := Describe(o.Type); ok {
		return fmt.Sprintf("%s%v", s.Name, o.slots(s.Fields))
	}
	return fmt.Sprintf("op(%d)%v", o.Type, o.slots(Slots))
}

func (o Op) slots(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = o.Slot(i)
	}
	return out
}

func Spawn(entity, x, y, hp int32) Op {
	return Op{Type: OpEntitySpawn, A: entity, B: x, C: y, D: hp}
}

func Destroy(entity int32) Op {
	return Op{Type: OpEntityDestroy, A: entity}
}

func FlowFire(entity, flow int32, stage uint8) Op {
	return Op{Type: OpFlowFire, A: entity, B: flow, C: int32(stage)}
}

func FlowSnapshot(entity int32, f FlowState) Op {
	return Op{Type: OpFlowSnapshot, A: PackFlow(f), B: entity}
}

func Position(entity, x, y int32) Op {
	return Op{Type: OpPositionSnapshot, A: entity, B: x, C: y}
}

// FlowState is the sub-field layout packed into slot A of OpFlowSnapshot:
// byte 0 stage, byte 1 progress, byte 2 heat, byte 3 flags.
type FlowState struct {
	Stage    uint8
	Progress uint8
	Heat     uint8
	Flags    uint8
}

const (
	FlowFlagActive uint8 = 1 << 0
	FlowFlagDone   uint8 = 1 << 1
)

func PackFlow(f FlowState) int32 {
	return int32(uint32(f.Stage) | uint32(f.Progress)<<8 | uint32(f.Heat)<<16 | uint32(f.Flags)<<24)
}

func UnpackFlow(v int32) FlowState {
	u := uint32(v)
	return FlowState{
		Stage:    uint8(u),
		Progress: uint8(u >> 8),
		Heat:     uint8(u >> 16),
		Flags:    uint8(u >> 24),
	}
}
