package xwebsocket

import (
	"errors"
	"strconv"
)

var (
	ErrClosed       = errors.New("transport closed")
	ErrConnClosed   = errors.New("connection closed")
	ErrBackpressure = errors.New("connection write queue is full")
)

// ConnID identifies a connection for its whole lifetime. IDs are never reused by Transport.
type ConnID uint64

func (id ConnID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

type EventKind int

const (
	EventConnect EventKind = iota + 1
	EventMessage
	EventDisconnect
	EventError
	EventWritable
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventMessage:
		return "message"
	case EventDisconnect:
		return "disconnect"
	case EventError:
		return "error"
	case EventWritable:
		return "writable"
	default:
		return "unknown"
	}
}

// Event is a raw lifecycle notification produced by Poll.
// Data is set for EventMessage, Err for EventError.
type Event struct {
	Kind EventKind
	Conn ConnID
	Data []byte
	Err  string
}
