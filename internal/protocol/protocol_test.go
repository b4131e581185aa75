package protocol

import (
	"bytes"
	"errors"
	"testing"

	"tickcore.dev/internal/sim/command"
	"tickcore.dev/internal/sim/repop"
)

func TestBaseline_RoundTrip(t *testing.T) {
	enc := NewEncoder()
	in := enc.BuildBaseline(Snapshot{
		Tick: 812,
		Hash: 0xdeadbeef,
		Entities: []EntityState{
			{ID: 1, X: -4, Y: 9, HP: 100},
			{ID: 7, X: 2147483647, Y: -2147483648, HP: 0},
		},
	})
	b, err := in.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := UnmarshalBaseline(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ServerTick != 812 || out.StateHash != 0xdeadbeef || len(out.Entities) != 2 {
		t.Fatalf("header mismatch: %+v", out)
	}
	for i := range in.Entities {
		if out.Entities[i] != in.Entities[i] {
			t.Fatalf("entity %d: got %+v want %+v", i, out.Entities[i], in.Entities[i])
		}
	}
	again, _ := out.Marshal()
	if !bytes.Equal(again, b) {
		t.Fatalf("re-encoding is not bit-exact")
	}
}

func TestBaseline_Truncated(t *testing.T) {
	b, _ := BaselineMsg{ServerTick: 1, Entities: []EntityState{{ID: 1}}}.Marshal()
	if _, err := UnmarshalBaseline(b[:len(b)-3]); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestOpsMsg_ReliableRoundTrip(t *testing.T) {
	ops := []repop.Op{
		repop.Spawn(3, 10, 20, 50),
		repop.Position(3, 11, 20),
		repop.FlowFire(3, 2, 0),
		repop.FlowSnapshot(3, repop.FlowState{Stage: 1, Progress: 4, Flags: repop.FlowFlagActive}),
		repop.Destroy(3),
	}
	enc := NewEncoder()
	msg, err := enc.BuildOpsMsg(repop.LaneReliable, 44, 77, 9, ops)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if msg.OpCount != 4 {
		t.Fatalf("reliable sink must skip the position snapshot, count=%d", msg.OpCount)
	}

	got, err := UnmarshalOps(msg.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ServerTick != 44 || got.ServerSeq != 9 || got.StateHash != 77 || got.Lane() != repop.LaneReliable {
		t.Fatalf("header mismatch: %+v", got)
	}
	dec, err := DecodeOps(got.OpsPayload, int(got.OpCount))
	if err != nil {
		t.Fatalf("decode ops: %v", err)
	}
	want := []repop.Op{ops[0], ops[2], ops[3], ops[4]}
	if len(dec) != len(want) {
		t.Fatalf("decoded %d ops, want %d", len(dec), len(want))
	}
	for i := range want {
		if dec[i] != want[i] {
			t.Fatalf("op %d: got %v want %v", i, dec[i], want[i])
		}
	}
}

func TestOpsMsg_SampleLaneHasNoSeq(t *testing.T) {
	enc := NewEncoder()
	msg, err := enc.BuildOpsMsg(repop.LaneSample, 5, 1, 123, []repop.Op{repop.Position(1, 2, 3), repop.Spawn(2, 0, 0, 1)})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if msg.ServerSeq != 0 || msg.Phase != PhaseSample || msg.OpCount != 1 {
		t.Fatalf("unexpected sample header: %+v", msg)
	}
}

func TestEncoder_ResetsCursor(t *testing.T) {
	enc := NewEncoder()
	first, n1, err := enc.EncodeReliable([]repop.Op{repop.Spawn(1, 0, 0, 1), repop.Spawn(2, 0, 0, 1)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	size1 := len(first)
	second, n2, err := enc.EncodeReliable([]repop.Op{repop.Destroy(1)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if n1 != 2 || n2 != 1 {
		t.Fatalf("counts: %d %d", n1, n2)
	}
	if len(second) != 1+2+4 || size1 != 2*(1+2+16) {
		t.Fatalf("cursor not reset: first=%d second=%d", size1, len(second))
	}
}

func TestEncoder_RejectsOverflowingLane(t *testing.T) {
	ops := make([]repop.Op, 0, MaxOpsPerMsg+2)
	for i := 0; i < MaxOpsPerMsg; i++ {
		ops = append(ops, repop.Destroy(int32(i+1)))
	}
	ops = append(ops, repop.Position(1, 0, 0))
	enc := NewEncoder()
	if _, n, err := enc.EncodeReliable(ops); err != nil || n != MaxOpsPerMsg {
		t.Fatalf("exactly full lane: n=%d err=%v", n, err)
	}

	ops = append(ops, repop.Destroy(MaxOpsPerMsg+1))
	if _, _, err := enc.EncodeReliable(ops); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := enc.BuildOpsMsg(repop.LaneReliable, 1, 0, 0, ops); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("BuildOpsMsg: expected ErrTooLarge, got %v", err)
	}
	if _, n, err := enc.EncodeSample(ops); err != nil || n != 1 {
		t.Fatalf("sample lane counts only positions: n=%d err=%v", n, err)
	}
}

func TestDecodeOps_SkipsUnknownByLength(t *testing.T) {
	w := writer{}
	w.u8(200)
	w.u16(6)
	w.raw([]byte{1, 2, 3, 4, 5, 6})
	w.u8(byte(repop.OpEntityDestroy))
	w.u16(8) // one known field plus a future extension
	w.i32(42)
	w.i32(-1)

	ops, err := DecodeOps(w.b, 2)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ops) != 1 || ops[0] != repop.Destroy(42) {
		t.Fatalf("unexpected ops: %v", ops)
	}
}

func TestDecodeOps_Malformed(t *testing.T) {
	w := writer{}
	w.u8(byte(repop.OpEntitySpawn))
	w.u16(4)
	w.i32(1)
	if _, err := DecodeOps(w.b, 1); !errors.Is(err, ErrMalformed) {
		t.Fatalf("short known op: expected ErrMalformed, got %v", err)
	}
	if _, err := DecodeOps(w.b, 2); !errors.Is(err, ErrMalformed) {
		t.Fatalf("count overrun: expected ErrMalformed, got %v", err)
	}
}

func TestUnmarshalOps_RejectsVersion(t *testing.T) {
	msg, err := NewEncoder().BuildOpsMsg(repop.LaneReliable, 1, 1, 1, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	msg.ProtocolVersion = Version + 1
	if _, err := UnmarshalOps(msg.Marshal()); !errors.Is(err, ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}
}

func TestCommands_RoundTripForcesClientOrigin(t *testing.T) {
	in := CommandsMsg{
		ClientTick: 101,
		ClientSeq:  7,
		Commands: []command.Command{
			{Type: command.CmdSpawn, Origin: command.OriginEngine, Entity: 9, X: 1, Y: 2, Arg: 50},
			command.MoveBy(5, -1, 0),
		},
	}
	b, err := in.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := UnmarshalCommands(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ClientTick != 101 || out.ClientSeq != 7 || len(out.Commands) != 2 {
		t.Fatalf("header mismatch: %+v", out)
	}
	if out.Commands[0].Origin != command.OriginClient {
		t.Fatalf("wire commands must never claim engine origin")
	}
	if out.Commands[1] != command.MoveBy(5, -1, 0) {
		t.Fatalf("command mismatch: %+v", out.Commands[1])
	}
}

func TestHello_OptionalToken(t *testing.T) {
	b, _ := HelloMsg{ClientTickRateHz: 60}.Marshal()
	m, err := UnmarshalHello(b)
	if err != nil || m.ClientTickRateHz != 60 || m.ResumeToken != "" {
		t.Fatalf("bare hello: %+v %v", m, err)
	}
	b, _ = HelloMsg{ClientTickRateHz: 30, ResumeToken: "tok"}.Marshal()
	m, err = UnmarshalHello(b)
	if err != nil || m.ResumeToken != "tok" {
		t.Fatalf("hello with token: %+v %v", m, err)
	}
}

func TestWelcomePingPongAck_RoundTrip(t *testing.T) {
	wb, err := WelcomeMsg{ConnID: 3, AvatarID: 11, ServerTick: 90, ServerTimeMs: 1234.5, TickRateHz: 20, MaxPastTicks: 2, MaxFutureTicks: 2, ResumeToken: "abc"}.Marshal()
	if err != nil {
		t.Fatalf("welcome: %v", err)
	}
	w, err := UnmarshalWelcome(wb)
	if err != nil || w.AvatarID != 11 || w.ServerTimeMs != 1234.5 || w.ResumeToken != "abc" {
		t.Fatalf("welcome: %+v %v", w, err)
	}

	p, err := UnmarshalPing(PingMsg{PingID: 1, ClientTimeMs: -5, ClientTick: 8}.Marshal())
	if err != nil || p.ClientTimeMs != -5 || p.ClientTick != 8 {
		t.Fatalf("ping: %+v %v", p, err)
	}
	pong, err := UnmarshalPong(PongMsg{PingID: 1, ClientTimeMsEcho: 100, ServerTimeMs: 99.25, ServerTick: 4}.Marshal())
	if err != nil || pong.ServerTimeMs != 99.25 || pong.ServerTick != 4 {
		t.Fatalf("pong: %+v %v", pong, err)
	}
	ack, err := UnmarshalAck(AckMsg{ReliableSeq: 77}.Marshal())
	if err != nil || ack.ReliableSeq != 77 {
		t.Fatalf("ack: %+v %v", ack, err)
	}
	rs, err := UnmarshalResyncRequest(ResyncRequestMsg{Reason: ResyncSeqGap}.Marshal())
	if err != nil || rs.Reason != ResyncSeqGap {
		t.Fatalf("resync: %+v %v", rs, err)
	}
}

func TestPeekKind(t *testing.T) {
	if k, err := PeekKind(AckMsg{}.Marshal()); err != nil || k != KindAck {
		t.Fatalf("peek ack: %v %v", k, err)
	}
	if _, err := PeekKind(nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("peek empty: %v", err)
	}
	if _, err := PeekKind([]byte{77}); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("peek unknown: %v", err)
	}
	if _, err := UnmarshalPing(AckMsg{}.Marshal()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("kind mismatch: %v", err)
	}
}
