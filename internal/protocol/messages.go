package protocol

import (
	"fmt"
	"math"

	"tickcore.dev/internal/sim/command"
)

// HelloMsg opens a session (client -> server). ResumeToken is optional and
// re-attaches a recently disconnected avatar.
type HelloMsg struct {
	ClientTickRateHz int32
	ResumeToken      string
}

func (m HelloMsg) Marshal() ([]byte, error) {
	w := writer{b: make([]byte, 0, 8+len(m.ResumeToken))}
	w.u8(byte(KindHello))
	w.i32(m.ClientTickRateHz)
	if m.ResumeToken != "" {
		if err := w.str8(m.ResumeToken); err != nil {
			return nil, err
		}
	}
	return w.b, nil
}

func UnmarshalHello(b []byte) (HelloMsg, error) {
	var m HelloMsg
	r, err := expectKind(b, KindHello)
	if err != nil {
		return m, err
	}
	m.ClientTickRateHz = r.i32()
	if r.err == nil && r.remaining() > 0 {
		m.ResumeToken = r.str8()
	}
	return m, r.done()
}

// WelcomeMsg answers Hello (server -> client).
type WelcomeMsg struct {
	ConnID         uint32
	AvatarID       int32
	ServerTick     int32
	ServerTimeMs   float64
	TickRateHz     uint16
	MaxPastTicks   uint8
	MaxFutureTicks uint8
	ResumeToken    string
}

func (m WelcomeMsg) Marshal() ([]byte, error) {
	w := writer{b: make([]byte, 0, 32+len(m.ResumeToken))}
	w.u8(byte(KindWelcome))
	w.u32(m.ConnID)
	w.i32(m.AvatarID)
	w.i32(m.ServerTick)
	w.f64(m.ServerTimeMs)
	w.u16(m.TickRateHz)
	w.u8(m.MaxPastTicks)
	w.u8(m.MaxFutureTicks)
	if err := w.str8(m.ResumeToken); err != nil {
		return nil, err
	}
	return w.b, nil
}

func UnmarshalWelcome(b []byte) (WelcomeMsg, error) {
	var m WelcomeMsg
	r, err := expectKind(b, KindWelcome)
	if err != nil {
		return m, err
	}
	m.ConnID = r.u32()
	m.AvatarID = r.i32()
	m.ServerTick = r.i32()
	m.ServerTimeMs = r.f64()
	m.TickRateHz = r.u16()
	m.MaxPastTicks = r.u8()
	m.MaxFutureTicks = r.u8()
	m.ResumeToken = r.str8()
	return m, r.done()
}

type PingMsg struct {
	PingID       uint32
	ClientTimeMs int64
	ClientTick   int32
}

func (m PingMsg) Marshal() []byte {
	w := writer{b: make([]byte, 0, 17)}
	w.u8(byte(KindPing))
	w.u32(m.PingID)
	w.i64(m.ClientTimeMs)
	w.i32(m.ClientTick)
	return w.b
}

func UnmarshalPing(b []byte) (PingMsg, error) {
	var m PingMsg
	r, err := expectKind(b, KindPing)
	if err != nil {
		return m, err
	}
	m.PingID = r.u32()
	m.ClientTimeMs = r.i64()
	m.ClientTick = r.i32()
	return m, r.done()
}

type PongMsg struct {
	PingID           uint32
	ClientTimeMsEcho int64
	ServerTimeMs     float64
	ServerTick       int32
}

func (m PongMsg) Marshal() []byte {
	w := writer{b: make([]byte, 0, 25)}
	w.u8(byte(KindPong))
	w.u32(m.PingID)
	w.i64(m.ClientTimeMsEcho)
	w.f64(m.ServerTimeMs)
	w.i32(m.ServerTick)
	return w.b
}

func UnmarshalPong(b []byte) (PongMsg, error) {
	var m PongMsg
	r, err := expectKind(b, KindPong)
	if err != nil {
		return m, err
	}
	m.PingID = r.u32()
	m.ClientTimeMsEcho = r.i64()
	m.ServerTimeMs = r.f64()
	m.ServerTick = r.i32()
	if r.err == nil && (math.IsNaN(m.ServerTimeMs) || math.IsInf(m.ServerTimeMs, 0)) {
		return m, fmt.Errorf("%w: server time is not finite", ErrMalformed)
	}
	return m, r.done()
}

// AckMsg acknowledges every reliable ops message up to ReliableSeq.
type AckMsg struct {
	ReliableSeq uint32
}

func (m AckMsg) Marshal() []byte {
	w := writer{b: make([]byte, 0, 5)}
	w.u8(byte(KindAck))
	w.u32(m.ReliableSeq)
	return w.b
}

func UnmarshalAck(b []byte) (AckMsg, error) {
	var m AckMsg
	r, err := expectKind(b, KindAck)
	if err != nil {
		return m, err
	}
	m.ReliableSeq = r.u32()
	return m, r.done()
}

type ResyncRequestMsg struct {
	Reason ResyncReason
}

func (m ResyncRequestMsg) Marshal() []byte {
	return []byte{byte(KindResyncRequest), byte(m.Reason)}
}

func UnmarshalResyncRequest(b []byte) (ResyncRequestMsg, error) {
	var m ResyncRequestMsg
	r, err := expectKind(b, KindResyncRequest)
	if err != nil {
		return m, err
	}
	m.Reason = ResyncReason(r.u8())
	return m, r.done()
}

// commandFieldBytes is the body size of one command entry: entity, x, y, arg.
const commandFieldBytes = 16

// CommandsMsg submits one batch (client -> server).
type CommandsMsg struct {
	ClientTick int32
	ClientSeq  uint32
	Commands   []command.Command
}

func (m CommandsMsg) Marshal() ([]byte, error) {
	if len(m.Commands) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d commands", ErrTooLarge, len(m.Commands))
	}
	w := writer{b: make([]byte, 0, 11+len(m.Commands)*(3+commandFieldBytes))}
	w.u8(byte(KindCommands))
	w.i32(m.ClientTick)
	w.u32(m.ClientSeq)
	w.u16(uint16(len(m.Commands)))
	for _, c := range m.Commands {
		w.u8(byte(c.Type))
		w.u16(commandFieldBytes)
		w.i32(c.Entity)
		w.i32(c.X)
		w.i32(c.Y)
		w.i32(c.Arg)
	}
	return w.b, nil
}

// UnmarshalCommands decodes a client batch. Decoded commands are always
// marked OriginClient; entries longer than known are skipped past.
func UnmarshalCommands(b []byte) (CommandsMsg, error) {
	var m CommandsMsg
	r, err := expectKind(b, KindCommands)
	if err != nil {
		return m, err
	}
	m.ClientTick = r.i32()
	m.ClientSeq = r.u32()
	n := int(r.u16())
	if r.err != nil {
		return m, r.err
	}
	m.Commands = make([]command.Command, 0, n)
	for i := 0; i < n; i++ {
		t := command.Type(r.u8())
		size := int(r.u16())
		body := r.bytes(size)
		if r.err != nil {
			return m, r.err
		}
		if size < commandFieldBytes {
			return m, fmt.Errorf("%w: command entry %d has %d bytes", ErrMalformed, i, size)
		}
		m.Commands = append(m.Commands, command.Command{
			Type:   t,
			Origin: command.OriginClient,
			Entity: int32(le.Uint32(body[0:])),
			X:      int32(le.Uint32(body[4:])),
			Y:      int32(le.Uint32(body[8:])),
			Arg:    int32(le.Uint32(body[12:])),
		})
	}
	return m, r.done()
}
