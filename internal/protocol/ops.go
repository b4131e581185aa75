package protocol

import (
	"fmt"
	"math"

	"tickcore.dev/internal/sim/repop"
)

// ServerOpsMsg carries one lane's ops for one tick. ServerSeq is the
// per-connection reliable sequence, always 0 on the sample lane.
type ServerOpsMsg struct {
	ProtocolVersion byte
	ScopeID         byte
	Phase           byte
	ServerTick      int32
	ServerSeq       uint32
	StateHash       uint32
	OpCount         uint16
	OpsPayload      []byte
}

// Lane maps Phase back to the lane the message belongs to.
func (m ServerOpsMsg) Lane() repop.Lane {
	if m.Phase == PhaseSample {
		return repop.LaneSample
	}
	return repop.LaneReliable
}

func (m ServerOpsMsg) Marshal() []byte {
	w := writer{b: make([]byte, 0, 20+len(m.OpsPayload))}
	w.u8(byte(KindOps))
	w.u8(m.ProtocolVersion)
	w.u8(m.ScopeID)
	w.u8(m.Phase)
	w.i32(m.ServerTick)
	w.u32(m.ServerSeq)
	w.u32(m.StateHash)
	w.u16(m.OpCount)
	w.raw(m.OpsPayload)
	return w.b
}

func UnmarshalOps(b []byte) (ServerOpsMsg, error) {
	var m ServerOpsMsg
	r, err := expectKind(b, KindOps)
	if err != nil {
		return m, err
	}
	m.ProtocolVersion = r.u8()
	m.ScopeID = r.u8()
	m.Phase = r.u8()
	m.ServerTick = r.i32()
	m.ServerSeq = r.u32()
	m.StateHash = r.u32()
	m.OpCount = r.u16()
	if r.err != nil {
		return m, r.err
	}
	if m.ProtocolVersion != Version {
		return m, fmt.Errorf("%w: %d", ErrVersion, m.ProtocolVersion)
	}
	if m.Phase != PhaseReliable && m.Phase != PhaseSample {
		return m, fmt.Errorf("%w: phase %d", ErrMalformed, m.Phase)
	}
	m.OpsPayload = append([]byte(nil), r.rest()...)
	return m, nil
}

// Encoder turns snapshots and op batches into wire payloads. Each encode call
// resets the internal cursor, so a returned payload is only valid until the
// next call on the same Encoder.
type Encoder struct {
	Scope byte
	buf   []byte
}

func NewEncoder() *Encoder {
	return &Encoder{Scope: ScopeWorld, buf: make([]byte, 0, 4096)}
}

// BuildBaseline is a pure transform of s.
func (e *Encoder) BuildBaseline(s Snapshot) BaselineMsg {
	ents := make([]EntityState, len(s.Entities))
	copy(ents, s.Entities)
	return BaselineMsg{ServerTick: int32(s.Tick), StateHash: s.Hash, Entities: ents}
}

// MaxOpsPerMsg is the most ops one ServerOpsMsg can count.
const MaxOpsPerMsg = math.MaxUint16

// EncodeReliable writes every reliable-policy op. Types without a policy or
// layout are skipped. More than MaxOpsPerMsg kept ops is ErrTooLarge.
func (e *Encoder) EncodeReliable(ops []repop.Op) ([]byte, int, error) {
	return e.encode(ops, func(t repop.Type) bool {
		lane, ok := repop.Policy(t)
		return ok && lane == repop.LaneReliable
	})
}

// EncodeSample writes only position snapshots.
func (e *Encoder) EncodeSample(ops []repop.Op) ([]byte, int, error) {
	return e.encode(ops, func(t repop.Type) bool { return t == repop.OpPositionSnapshot })
}

func (e *Encoder) encode(ops []repop.Op, keep func(repop.Type) bool) ([]byte, int, error) {
	w := writer{b: e.buf[:0]}
	n := 0
	for _, op := range ops {
		if !keep(op.Type) {
			continue
		}
		spec, ok := repop.Describe(op.Type)
		if !ok {
			continue
		}
		if n == MaxOpsPerMsg {
			e.buf = w.b
			return nil, 0, fmt.Errorf("%w: more than %d ops", ErrTooLarge, MaxOpsPerMsg)
		}
		w.u8(byte(op.Type))
		w.u16(uint16(spec.Fields * 4))
		for i := 0; i < spec.Fields; i++ {
			w.i32(op.Slot(i))
		}
		n++
	}
	e.buf = w.b
	return w.b, n, nil
}

// BuildOpsMsg encodes ops for lane and wraps them with header metadata. The
// payload is copied out of the encoder. seq must be 0 for the sample lane;
// reliable sequence numbers are allocated by the session layer. A lane
// that cannot fit in one message is ErrTooLarge; nothing is truncated.
func (e *Encoder) BuildOpsMsg(lane repop.Lane, tick int64, worldHash uint32, seq uint32, ops []repop.Op) (ServerOpsMsg, error) {
	var (
		payload []byte
		n       int
		err     error
		phase   = PhaseReliable
	)
	if lane == repop.LaneSample {
		payload, n, err = e.EncodeSample(ops)
		phase = PhaseSample
		seq = 0
	} else {
		payload, n, err = e.EncodeReliable(ops)
	}
	if err != nil {
		return ServerOpsMsg{}, err
	}
	return ServerOpsMsg{
		ProtocolVersion: Version,
		ScopeID:         e.Scope,
		Phase:           phase,
		ServerTick:      int32(tick),
		ServerSeq:       seq,
		StateHash:       worldHash,
		OpCount:         uint16(n),
		OpsPayload:      append([]byte(nil), payload...),
	}, nil
}

// DecodeOps reads count entries from payload. Unknown tags are skipped using
// their length; known tags with extra trailing bytes keep the known prefix.
func DecodeOps(payload []byte, count int) ([]repop.Op, error) {
	r := &reader{b: payload}
	out := make([]repop.Op, 0, count)
	for i := 0; i < count; i++ {
		t := repop.Type(r.u8())
		size := int(r.u16())
		body := r.bytes(size)
		if r.err != nil {
			return nil, r.err
		}
		spec, ok := repop.Describe(t)
		if !ok {
			continue
		}
		if size < spec.Fields*4 {
			return nil, fmt.Errorf("%w: op %d (%s) has %d bytes, need %d", ErrMalformed, i, spec.Name, size, spec.Fields*4)
		}
		op := repop.Op{Type: t}
		for f := 0; f < spec.Fields; f++ {
			op.SetSlot(f, int32(le.Uint32(body[f*4:])))
		}
		out = append(out, op)
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return out, nil
}
