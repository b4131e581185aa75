// Package hash fingerprints authoritative state for desync detection.
package hash

const (
	offset32 uint32 = 2166136261
	prime32  uint32 = 16777619
)

// Fnv1a32 is an FNV-1a accumulator. The result depends on the order values
// are added, so callers must feed state in a canonical order.
type Fnv1a32 struct {
	sum uint32
}

func New() *Fnv1a32 {
	return &Fnv1a32{sum: offset32}
}

func (h *Fnv1a32) Reset() { h.sum = offset32 }

func (h *Fnv1a32) Sum32() uint32 { return h.sum }

func (h *Fnv1a32) AddByte(b byte) {
	h.sum ^= uint32(b)
	h.sum *= prime32
}

func (h *Fnv1a32) AddBytes(b []byte) {
	for _, c := range b {
		h.AddByte(c)
	}
}

// AddUint32 mixes v as four little-endian bytes.
func (h *Fnv1a32) AddUint32(v uint32) {
	h.AddByte(byte(v))
	h.AddByte(byte(v >> 8))
	h.AddByte(byte(v >> 16))
	h.AddByte(byte(v >> 24))
}

func (h *Fnv1a32) AddInt32(v int32) { h.AddUint32(uint32(v)) }

func (h *Fnv1a32) AddUint64(v uint64) {
	h.AddUint32(uint32(v))
	h.AddUint32(uint32(v >> 32))
}

func (h *Fnv1a32) AddInt64(v int64) { h.AddUint64(uint64(v)) }

// Write implements io.Writer so the accumulator can sit behind encoders.
func (h *Fnv1a32) Write(p []byte) (int, error) {
	h.AddBytes(p)
	return len(p), nil
}
