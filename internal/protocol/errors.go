package protocol

// ResyncReason explains why a client asks for a fresh baseline.
type ResyncReason byte

const (
	ResyncSeqGap  ResyncReason = 1
	ResyncDecode  ResyncReason = 2
	ResyncManual  ResyncReason = 3
	ResyncNoState ResyncReason = 4
)

var knownResyncReasons = map[ResyncReason]string{
	ResyncSeqGap:  "seq_gap",
	ResyncDecode:  "decode",
	ResyncManual:  "manual",
	ResyncNoState: "no_state",
}

func IsKnownResyncReason(r ResyncReason) bool {
	_, ok := knownResyncReasons[r]
	return ok
}

func (r ResyncReason) String() string {
	if s, ok := knownResyncReasons[r]; ok {
		return s
	}
	return "unknown"
}
