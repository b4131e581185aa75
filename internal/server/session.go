package server

import (
	"golang.org/x/time/rate"

	"tickcore.dev/internal/sim/command"
	"tickcore.dev/internal/transport"
)

type session struct {
	conn    transport.ConnID
	welcome bool
	avatar  int32
	token   string

	// nextReliableSeq restarts at 0 after every baseline.
	nextReliableSeq      uint32
	lastAckedReliableSeq uint32
	acked                bool
	lastSeenTick         int64

	lastClientSeq uint32
	hasClientSeq  bool

	cmdLimiter  *rate.Limiter
	pingLimiter *rate.Limiter
}

func (s *session) cmdConn() command.ConnID { return command.ConnID(s.conn) }

// unacked is how many reliable messages the peer has not confirmed.
func (s *session) unacked() uint32 {
	if !s.acked {
		return s.nextReliableSeq
	}
	return s.nextReliableSeq - s.lastAckedReliableSeq - 1
}

type detached struct {
	avatar int32
	since  int64
}

// SessionInfo is a read-only view of one connection.
type SessionInfo struct {
	Conn                 transport.ConnID
	Avatar               int32
	NextReliableSeq      uint32
	LastAckedReliableSeq uint32
	Unacked              uint32
	LastSeenTick         int64
	LastClientSeq        uint32
}
