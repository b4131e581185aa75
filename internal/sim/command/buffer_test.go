package command

import "testing"

func windowBuffer() *Buffer {
	return NewBuffer(BufferConfig{MaxPastTicks: 2, MaxFutureTicks: 2, MaxStoredTicks: 4})
}

func TestBuffer_ScheduleScenario(t *testing.T) {
	b := windowBuffer()
	cmds := []Command{MoveBy(1, 1, 0)}
	cases := []struct {
		clientTick int64
		want       int64
		reason     RejectReason
	}{
		{97, 0, RejectStale},
		{98, 100, Accepted},
		{99, 100, Accepted},
		{100, 100, Accepted},
		{101, 101, Accepted},
		{102, 102, Accepted},
		{103, 102, Accepted},
		{500, 102, Accepted},
	}
	for _, c := range cases {
		got, reason := b.Enqueue(7, c.clientTick, 1, cmds, 100)
		if reason != c.reason {
			t.Fatalf("client_tick=%d: reason got %s want %s", c.clientTick, reason, c.reason)
		}
		if reason == Accepted && got != c.want {
			t.Fatalf("client_tick=%d: scheduled got %d want %d", c.clientTick, got, c.want)
		}
	}
}

func TestBuffer_WindowIsAlwaysAccepted(t *testing.T) {
	b := windowBuffer()
	for server := int64(0); server < 20; server++ {
		for ct := server - 2; ct <= server+2; ct++ {
			got, reason := b.Enqueue(1, ct, 0, []Command{MoveBy(1, 0, 0)}, server)
			if reason != Accepted {
				t.Fatalf("server=%d client=%d rejected: %s", server, ct, reason)
			}
			if got < server || got > server+2 {
				t.Fatalf("server=%d client=%d scheduled out of range: %d", server, ct, got)
			}
		}
	}
}

func TestBuffer_EmptyRejected(t *testing.T) {
	b := windowBuffer()
	if _, reason := b.Enqueue(1, 100, 1, nil, 100); reason != RejectEmpty {
		t.Fatalf("expected RejectEmpty, got %s", reason)
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer")
	}
}

func TestBuffer_FIFOPerConnection(t *testing.T) {
	b := windowBuffer()
	b.Enqueue(3, 10, 1, []Command{MoveBy(1, 1, 0)}, 10)
	b.Enqueue(3, 10, 2, []Command{MoveBy(1, 2, 0)}, 10)
	b.Enqueue(4, 10, 9, []Command{MoveBy(2, 1, 0)}, 10)

	first, ok := b.DequeueForTick(10, 3)
	if !ok || first.ClientSeq != 1 {
		t.Fatalf("expected seq 1 first, got %+v ok=%v", first, ok)
	}
	second, ok := b.DequeueForTick(10, 3)
	if !ok || second.ClientSeq != 2 {
		t.Fatalf("expected seq 2 second, got %+v ok=%v", second, ok)
	}
	if _, ok := b.DequeueForTick(10, 3); ok {
		t.Fatalf("expected connection queue drained")
	}
	if b.Len() != 1 {
		t.Fatalf("expected one batch left, got %d", b.Len())
	}
}

func TestBuffer_ConnectionIDsSortedAndNonMutating(t *testing.T) {
	b := windowBuffer()
	for _, id := range []ConnID{9, 2, 5} {
		b.Enqueue(id, 50, 1, []Command{MoveBy(1, 0, 0)}, 50)
	}
	ids := b.ConnectionIDsForTick(50)
	want := []ConnID{2, 5, 9}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids: got %v want %v", ids, want)
		}
	}
	if again := b.ConnectionIDsForTick(50); len(again) != 3 || b.Len() != 3 {
		t.Fatalf("enumeration must not mutate the buffer")
	}
}

func TestBuffer_DropBeforeTick(t *testing.T) {
	b := windowBuffer()
	b.Enqueue(1, 10, 1, []Command{MoveBy(1, 0, 0)}, 10)
	b.Enqueue(1, 14, 2, []Command{MoveBy(1, 0, 0)}, 14)

	if n := b.DropBeforeTick(14); n != 0 {
		t.Fatalf("tick 10 is inside the stored window at 14, dropped=%d", n)
	}
	if n := b.DropBeforeTick(15); n != 1 {
		t.Fatalf("expected tick 10 purged at 15, dropped=%d", n)
	}
	if _, ok := b.DequeueForTick(14, 1); !ok {
		t.Fatalf("tick 14 batch must survive")
	}
}

func TestBuffer_CopiesCommands(t *testing.T) {
	b := windowBuffer()
	cmds := []Command{MoveBy(1, 1, 0)}
	b.Enqueue(1, 5, 1, cmds, 5)
	cmds[0].X = 99
	got, _ := b.DequeueForTick(5, 1)
	if got.Commands[0].X != 1 {
		t.Fatalf("buffer must not alias caller slice")
	}
}
