package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
)

// ErrorKind classifies why a protocol exchange failed.
type ErrorKind int

const (
	KindIO ErrorKind = iota
	KindConnectionClosed
	KindMalformedVarInt
	KindUnexpectedPacket
	KindShortRead
	KindInvalidLength
	KindConnectTimeout
	KindConnectRefused
	KindTimeout
)

var kindStrings = map[ErrorKind]string{
	KindIO:               "io",
	KindConnectionClosed: "connection_closed",
	KindMalformedVarInt:  "malformed_varint",
	KindUnexpectedPacket: "unexpected_packet",
	KindShortRead:        "short_read",
	KindInvalidLength:    "invalid_length",
	KindConnectTimeout:   "connect_timeout",
	KindConnectRefused:   "connect_refused",
	KindTimeout:          "operation_timeout",
}

// String returns the snake_case name used in logs and JSON.
func (k ErrorKind) String() string {
	if s, ok := kindStrings[k]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON serializes ErrorKind as its string name.
func (k ErrorKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// Error is the single error type produced by the codec and the probe.
// Op names the step that failed ("read varint", "handshake", ...).
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare sentinel of the same kind, so that
// errors.Is(err, ErrMalformedVarInt) works for any wrapped *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrIO               = &Error{Kind: KindIO}
	ErrConnectionClosed = &Error{Kind: KindConnectionClosed}
	ErrMalformedVarInt  = &Error{Kind: KindMalformedVarInt}
	ErrUnexpectedPacket = &Error{Kind: KindUnexpectedPacket}
	ErrShortRead        = &Error{Kind: KindShortRead}
	ErrInvalidLength    = &Error{Kind: KindInvalidLength}
	ErrConnectTimeout   = &Error{Kind: KindConnectTimeout}
	ErrConnectRefused   = &Error{Kind: KindConnectRefused}
	ErrTimeout          = &Error{Kind: KindTimeout}
)

// KindOf extracts the ErrorKind of err. Errors that are not *Error are
// classified from their cause.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return classify(err, KindIO)
}

// Wrap converts a raw I/O error from step op into an *Error. An end of
// stream in the middle of a value is ErrShortRead.
func Wrap(op string, err error) error {
	return wrap(op, err, KindShortRead)
}

// wrap converts a raw I/O error into an *Error. short is the kind used for
// an EOF that arrives after part of a fixed-size value was read.
func wrap(op string, err error, short ErrorKind) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: classify(err, short), Op: op, Err: err}
}

func classify(err error, short ErrorKind) ErrorKind {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		return KindConnectionClosed
	case errors.Is(err, io.ErrUnexpectedEOF):
		return short
	case errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	case errors.As(err, &ne) && ne.Timeout():
		return KindTimeout
	case errors.Is(err, net.ErrClosed):
		return KindConnectionClosed
	default:
		return KindIO
	}
}
