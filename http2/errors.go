package http2

import (
	"errors"
	"fmt"
)

// ErrorCode is an HTTP/2 error code as carried on the wire in RST_STREAM and
// GOAWAY frames.
//
// https://tools.ietf.org/html/rfc7540#section-11.4
type ErrorCode uint32

const (
	NoError            ErrorCode = 0x0
	ProtocolError      ErrorCode = 0x1
	InternalError      ErrorCode = 0x2
	FlowControlError   ErrorCode = 0x3
	SettingsTimeout    ErrorCode = 0x4
	StreamClosedError  ErrorCode = 0x5
	FrameSizeError     ErrorCode = 0x6
	RefusedStreamError ErrorCode = 0x7
	CancelError        ErrorCode = 0x8
	CompressionError   ErrorCode = 0x9
	ConnectError       ErrorCode = 0xa
	EnhanceYourCalm    ErrorCode = 0xb
	InadequateSecurity ErrorCode = 0xc
	HTTP11Required     ErrorCode = 0xd
)

var errorCodeNames = map[ErrorCode]string{
	NoError:            "NO_ERROR",
	ProtocolError:      "PROTOCOL_ERROR",
	InternalError:      "INTERNAL_ERROR",
	FlowControlError:   "FLOW_CONTROL_ERROR",
	SettingsTimeout:    "SETTINGS_TIMEOUT",
	StreamClosedError:  "STREAM_CLOSED",
	FrameSizeError:     "FRAME_SIZE_ERROR",
	RefusedStreamError: "REFUSED_STREAM",
	CancelError:        "CANCEL",
	CompressionError:   "COMPRESSION_ERROR",
	ConnectError:       "CONNECT_ERROR",
	EnhanceYourCalm:    "ENHANCE_YOUR_CALM",
	InadequateSecurity: "INADEQUATE_SECURITY",
	HTTP11Required:     "HTTP_1_1_REQUIRED",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_ERROR_CODE_%d", uint32(c))
}

// ConnectionError is fatal to the whole connection: the engine answers it by
// emitting exactly one GOAWAY (per spec §4.4.11/§7) and marking the
// connection closed at once. Reading stops immediately; the writer closes
// after the output already queued (the GOAWAY included) has been written.
// Streams below the GOAWAY's last-stream-id are not left to finish.
type ConnectionError struct {
	Code  ErrorCode
	Debug string
}

func NewConnectionError(code ErrorCode, debug string) error {
	return &ConnectionError{Code: code, Debug: debug}
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s: %s", e.Code, e.Debug)
}

// StreamError is fatal to a single stream: the engine answers it with a
// RST_STREAM, leaving every other stream untouched.
type StreamError struct {
	StreamID uint32
	Code     ErrorCode
}

func NewStreamError(id uint32, code ErrorCode) error {
	return &StreamError{StreamID: id, Code: code}
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error: stream=%d code=%s", e.StreamID, e.Code)
}

// asConnectionError / asStreamError let dispatch code classify an error
// returned from a handle* function without caring whether it came wrapped
// (errors.As unwraps both %w chains and bare values).
func asConnectionError(err error) (*ConnectionError, bool) {
	var ce *ConnectionError
	ok := errors.As(err, &ce)
	return ce, ok
}

func asStreamError(err error) (*StreamError, bool) {
	var se *StreamError
	ok := errors.As(err, &se)
	return se, ok
}

var (
	errEOFBody          = errors.New("http2: body buffer closed and drained")
	ErrUnknownFrameType = errors.New("http2: unknown frame type")
	ErrMissingBytes     = errors.New("http2: frame payload too short")
	ErrPayloadExceeds   = errors.New("http2: frame payload exceeds negotiated maximum size")
	ErrBadPreface       = errors.New("http2: bad connection preface")
	ErrReadWhilePending = errors.New("http2: schedule_read called while a read is already pending")
	ErrWakeupOnClosed   = errors.New("http2: yield_writer called on a closed connection")
)
