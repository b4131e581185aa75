// Package protocol is the binary wire contract between server and clients.
// Every message is a kind byte followed by a little-endian body.
package protocol

import (
	"errors"
	"fmt"
)

// Version is carried in ServerOpsMsg and checked by decoders.
const Version byte = 1

// Kind identifies a message on the wire.
type Kind byte

const (
	KindHello         Kind = 1
	KindWelcome       Kind = 2
	KindBaseline      Kind = 3
	KindOps           Kind = 4
	KindCommands      Kind = 5
	KindPing          Kind = 6
	KindPong          Kind = 7
	KindAck           Kind = 8
	KindResyncRequest Kind = 9
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "HELLO"
	case KindWelcome:
		return "WELCOME"
	case KindBaseline:
		return "BASELINE"
	case KindOps:
		return "OPS"
	case KindCommands:
		return "COMMANDS"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindAck:
		return "ACK"
	case KindResyncRequest:
		return "RESYNC"
	}
	return fmt.Sprintf("KIND(%d)", byte(k))
}

// ScopeWorld is the only op scope: ops apply to the shared world.
const ScopeWorld byte = 1

// Phase tells the receiver which lane an ops message traveled on.
const (
	PhaseReliable byte = 1
	PhaseSample   byte = 2
)

var (
	ErrMalformed      = errors.New("protocol: malformed message")
	ErrUnknownMessage = errors.New("protocol: unknown message kind")
	ErrVersion        = errors.New("protocol: unsupported protocol version")
	ErrTooLarge       = errors.New("protocol: message field exceeds wire limit")
)

// PeekKind reports the kind of b without decoding the body.
func PeekKind(b []byte) (Kind, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrMalformed)
	}
	k := Kind(b[0])
	if k < KindHello || k > KindResyncRequest {
		return k, fmt.Errorf("%w: %d", ErrUnknownMessage, b[0])
	}
	return k, nil
}

func expectKind(b []byte, want Kind) (*reader, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if Kind(b[0]) != want {
		return nil, fmt.Errorf("%w: want %s got %s", ErrMalformed, want, Kind(b[0]))
	}
	return &reader{b: b, off: 1}, nil
}
