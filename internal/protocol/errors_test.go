package protocol

import "testing"

func TestIsKnownResyncReason(t *testing.T) {
	for _, r := range []ResyncReason{ResyncSeqGap, ResyncDecode, ResyncManual, ResyncNoState} {
		if !IsKnownResyncReason(r) {
			t.Fatalf("expected known reason: %d", r)
		}
	}
	if IsKnownResyncReason(0) || IsKnownResyncReason(200) {
		t.Fatalf("expected unknown reason rejected")
	}
	if ResyncSeqGap.String() != "seq_gap" {
		t.Fatalf("unexpected name %q", ResyncSeqGap.String())
	}
}
