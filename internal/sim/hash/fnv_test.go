package hash

import (
	"hash/fnv"
	"testing"
)

func TestFnv1a32_MatchesReference(t *testing.T) {
	in := []byte("tick=100 entities=3")
	ref := fnv.New32a()
	_, _ = ref.Write(in)

	h := New()
	h.AddBytes(in)
	if got, want := h.Sum32(), ref.Sum32(); got != want {
		t.Fatalf("sum mismatch: got %08x want %08x", got, want)
	}
}

func TestFnv1a32_EmptyIsOffsetBasis(t *testing.T) {
	if got := New().Sum32(); got != 2166136261 {
		t.Fatalf("empty sum: got %d", got)
	}
}

func TestFnv1a32_OrderSensitive(t *testing.T) {
	a := New()
	a.AddInt32(1)
	a.AddInt32(2)

	b := New()
	b.AddInt32(2)
	b.AddInt32(1)

	if a.Sum32() == b.Sum32() {
		t.Fatalf("expected different sums for different orders")
	}
}

func TestFnv1a32_ResetAndIntsAreLittleEndian(t *testing.T) {
	h := New()
	h.AddInt32(-7)
	h.Reset()
	h.AddUint32(0x04030201)

	ref := fnv.New32a()
	_, _ = ref.Write([]byte{1, 2, 3, 4})
	if h.Sum32() != ref.Sum32() {
		t.Fatalf("expected little-endian mixing")
	}
}
