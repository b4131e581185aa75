package command

import "testing"

func TestBucket_ReplaceWithinBatch(t *testing.T) {
	b := NewBucket()
	b.MergeReplace(1, []Command{MoveBy(5, 1, 0), MoveBy(5, -1, 0)})
	got := b.MaterializeSorted()
	if len(got) != 1 {
		t.Fatalf("expected one surviving command, got %d", len(got))
	}
	if got[0].X != -1 {
		t.Fatalf("expected second move to win, got dx=%d", got[0].X)
	}
}

func TestBucket_LaterCallWins(t *testing.T) {
	b := NewBucket()
	b.MergeReplace(4, []Command{MoveBy(5, 3, 3)})
	b.MergeReplace(2, []Command{MoveBy(5, 7, 7)})
	got := b.MaterializeSorted()
	if len(got) != 1 || got[0].X != 7 {
		t.Fatalf("expected later call to overwrite, got %+v", got)
	}
	if b.MaxClientCmdSeq() != 4 {
		t.Fatalf("max seq: got %d want 4", b.MaxClientCmdSeq())
	}
}

func TestBucket_SortedByTypeThenKey(t *testing.T) {
	in := []Command{FlowFire(2, 1), MoveBy(9, 0, 1), MoveBy(3, 1, 0), FlowFire(1, 1)}

	a := NewBucket()
	a.MergeReplace(1, in)

	rev := make([]Command, len(in))
	for i := range in {
		rev[len(in)-1-i] = in[i]
	}
	b := NewBucket()
	b.MergeReplace(1, rev)

	ga, gb := a.MaterializeSorted(), b.MaterializeSorted()
	want := []Key{{CmdMoveBy, 3}, {CmdMoveBy, 9}, {CmdFlowFire, 1}, {CmdFlowFire, 2}}
	for i := range want {
		if ga[i].Key() != want[i] || gb[i].Key() != want[i] {
			t.Fatalf("order mismatch at %d: %v / %v want %v", i, ga[i].Key(), gb[i].Key(), want[i])
		}
	}
}

func TestBucket_Reset(t *testing.T) {
	b := NewBucket()
	b.MergeReplace(3, []Command{MoveBy(1, 1, 1)})
	b.Reset()
	if b.Len() != 0 || b.MaxClientCmdSeq() != 0 || b.MaterializeSorted() != nil {
		t.Fatalf("expected empty bucket after reset")
	}
}
