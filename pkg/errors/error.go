package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strconv"
)

// Kind classifies an error.
type Kind string

const (
	KindConnect     Kind = "connect"
	KindMalformed   Kind = "malformed"
	KindIncomplete  Kind = "incomplete"
	KindFlowControl Kind = "flow_control"
	KindTimeout     Kind = "timeout"
	KindEncodeIndex Kind = "encode_index"
	KindDecodeIndex Kind = "decode_index"
	KindStreamReset Kind = "stream_reset"
	KindGoAway      Kind = "goaway"
	KindClosed      Kind = "closed"
	KindBlocked     Kind = "blocked"
	KindUsage       Kind = "usage"
	KindConfig      Kind = "config"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrConnect     = &Error{Kind: KindConnect, Message: "connect failed"}
	ErrMalformed   = &Error{Kind: KindMalformed, Message: "malformed input"}
	ErrIncomplete  = &Error{Kind: KindIncomplete, Message: "incomplete input"}
	ErrFlowControl = &Error{Kind: KindFlowControl, Message: "flow-control window exceeded"}
	ErrTimeout     = &Error{Kind: KindTimeout, Message: "timeout"}
	ErrEncodeIndex = &Error{Kind: KindEncodeIndex, Message: "header table encode index error"}
	ErrDecodeIndex = &Error{Kind: KindDecodeIndex, Message: "header table decode index error"}
	ErrStreamReset = &Error{Kind: KindStreamReset, Message: "stream reset by peer"}
	ErrGoAway      = &Error{Kind: KindGoAway, Message: "connection going away"}
	ErrClosed      = &Error{Kind: KindClosed, Message: "connection closed"}
	ErrBlocked     = &Error{Kind: KindBlocked, Message: "header section blocked"}
	ErrUsage       = &Error{Kind: KindUsage, Message: "invalid usage"}
	ErrConfig      = &Error{Kind: KindConfig, Message: "invalid configuration"}
)

// Error is a structured rawhttp error.
type Error struct {
	// Code is a registered identifier (e.g. "R010"). May be empty.
	Code string

	// Kind is the taxonomy class.
	Kind Kind

	// Message is a short description.
	Message string

	// Detail is a longer explanation.
	Detail string

	// Suggestion is a hint shown by the CLI.
	Suggestion string

	// Stream is the stream the error refers to, when HasStream is set.
	Stream    uint64
	HasStream bool

	// ResetCode is the peer's error code for stream resets and GOAWAY.
	ResetCode uint64

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.HasStream {
		msg += " (stream " + strconv.FormatUint(e.Stream, 10) + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is a sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == "" && t.Detail == ""
}

// WithDetail adds a detailed explanation to the error.
func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

// WithSuggestion adds a hint to the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithStream attaches a stream id.
func (e *Error) WithStream(id uint64) *Error {
	e.Stream = id
	e.HasStream = true
	return e
}

// WithResetCode attaches the peer's error code.
func (e *Error) WithResetCode(code uint64) *Error {
	e.ResetCode = code
	return e
}

// Wrap wraps another error.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// New creates an Error from a registered code.
func New(code string) *Error {
	template, ok := registry[code]
	if !ok {
		return &Error{
			Code:    code,
			Kind:    KindUsage,
			Message: "Unknown error",
		}
	}
	return &Error{
		Code:       code,
		Kind:       template.Kind,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates an Error of the given kind with a formatted message (no code).
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in an Error with the given code.
// Context and deadline errors become timeouts regardless of code.
func FromError(err error, code string) error {
	if err == nil {
		return nil
	}
	var re *Error
	if stderrors.As(err, &re) {
		return err
	}
	if IsDeadline(err) {
		return New("R030").Wrap(err)
	}
	return New(code).Wrap(err)
}

// FromContext converts a context or deadline error into a timeout.
// Other errors are returned unchanged.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if IsDeadline(err) {
		var re *Error
		if stderrors.As(err, &re) {
			return err
		}
		return New("R030").Wrap(err)
	}
	return err
}

// IsDeadline reports whether err is a context deadline, cancellation or an
// expired I/O deadline.
func IsDeadline(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, context.Canceled) ||
		stderrors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return stderrors.As(err, &ne) && ne.Timeout()
}

// KindOf returns the Kind of err, or "" when err is not a rawhttp error.
func KindOf(err error) Kind {
	var re *Error
	if stderrors.As(err, &re) {
		return re.Kind
	}
	return ""
}
