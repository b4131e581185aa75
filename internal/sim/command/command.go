// Package command holds the command model and the per-tick scheduling
// structures that turn client submissions into deterministic simulation input.
package command

import "fmt"

// ConnID identifies a connection. EngineConn is reserved for trusted
// engine-internal commands.
type ConnID uint32

const EngineConn ConnID = 0

// Type tags a command variant. Values are part of the wire contract.
type Type uint8

const (
	CmdMoveBy      Type = 1
	CmdSpawn       Type = 2
	CmdDespawn     Type = 3
	CmdFlowFire    Type = 4
	CmdAssignOwner Type = 5
)

func (t Type) String() string {
	switch t {
	case CmdMoveBy:
		return "MOVE_BY"
	case CmdSpawn:
		return "SPAWN"
	case CmdDespawn:
		return "DESPAWN"
	case CmdFlowFire:
		return "FLOW_FIRE"
	case CmdAssignOwner:
		return "ASSIGN_OWNER"
	}
	return fmt.Sprintf("CMD(%d)", uint8(t))
}

// Origin records whether a command came from an untrusted client or from the
// engine itself.
type Origin uint8

const (
	OriginClient Origin = 0
	OriginEngine Origin = 1
)

// Command is "an actor wants to do X". Field meaning per type:
//
//	MOVE_BY       Entity, X=dx, Y=dy
//	SPAWN         Entity (pre-allocated id), X, Y, Arg=hp
//	DESPAWN       Entity
//	FLOW_FIRE     Entity, Arg=flow id
//	ASSIGN_OWNER  Entity, Arg=connection id
type Command struct {
	Type   Type   `json:"type"`
	Origin Origin `json:"origin,omitempty"`
	Entity int32  `json:"entity"`
	X      int32  `json:"x,omitempty"`
	Y      int32  `json:"y,omitempty"`
	Arg    int32  `json:"arg,omitempty"`
}

// ReplaceKey is the per-type identity used for coalescing. Every current
// variant targets one entity, so the entity id is the key.
func (c Command) ReplaceKey() int32 { return c.Entity }

// Key is the composite coalescing identity (type, replace key).
type Key struct {
	Type    Type
	Replace int32
}

func (c Command) Key() Key { return Key{Type: c.Type, Replace: c.ReplaceKey()} }

func (k Key) Less(o Key) bool {
	if k.Type != o.Type {
		return k.Type < o.Type
	}
	return k.Replace < o.Replace
}

func MoveBy(entity, dx, dy int32) Command {
	return Command{Type: CmdMoveBy, Entity: entity, X: dx, Y: dy}
}

func FlowFire(entity, flow int32) Command {
	return Command{Type: CmdFlowFire, Entity: entity, Arg: flow}
}

// Batch is one accepted submission, owned by the buffer until dequeued.
type Batch struct {
	ScheduledTick int64     `json:"tick"`
	ClientSeq     uint32    `json:"seq"`
	Commands      []Command `json:"commands"`
}
