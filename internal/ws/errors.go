package ws

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by Start when Init has not been called
	ErrNotInitialized = errors.New("ws: client not initialized")
	// ErrAlreadyRunning is returned by Start while the worker and ping tasks are alive
	ErrAlreadyRunning = errors.New("ws: client already running")
	// ErrReceiveTimeout is returned by Conn.Receive when no frame arrived in time
	ErrReceiveTimeout = errors.New("ws: receive timeout")
	// ErrNotObject is returned by JSONCodec when a frame is valid JSON but not an object
	ErrNotObject = errors.New("ws: frame is not a JSON object")
)

// Kind classifies a failure reported through the error channel
type Kind int

const (
	KindUnexpected Kind = iota // recovered panic or uncategorised failure
	KindTransport              // dial, handshake, socket or write failure
	KindTimeout                // receive deadline expired
	KindDecode                 // inbound frame could not be decoded
	KindEncode                 // outbound packet could not be encoded
	KindCallback               // OnPacket returned an error or panicked
	KindHeartbeat              // ping frame could not be written
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindDecode:
		return "decode"
	case KindEncode:
		return "encode"
	case KindCallback:
		return "callback"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unexpected"
	}
}

// Error is the value delivered to ErrorHandler.OnError and ReportSink
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Report *ErrorReport
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ws %s: %s failure", e.Op, e.Kind)
	}
	return fmt.Sprintf("ws %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or KindUnexpected when err carries none
func KindOf(err error) Kind {
	var wsErr *Error
	if errors.As(err, &wsErr) {
		return wsErr.Kind
	}
	return KindUnexpected
}

// IsKind reports whether err was classified as kind
func IsKind(err error, kind Kind) bool {
	var wsErr *Error
	return errors.As(err, &wsErr) && wsErr.Kind == kind
}
