package http2

import (
	"github.com/valyala/fasthttp"
)

// StreamState is the tagged variant from the stream state machine: Idle ->
// Reserved|Open -> HalfClosed -> Closed. Backward transitions are illegal
// and every setter here enforces that lattice.
type StreamState int8

const (
	StreamIdle StreamState = iota
	StreamReservedLocal
	StreamReservedRemote
	StreamOpen
	StreamHalfClosed
	StreamClosed
)

func (ss StreamState) String() string {
	switch ss {
	case StreamIdle:
		return "Idle"
	case StreamReservedLocal:
		return "Reserved(local)"
	case StreamReservedRemote:
		return "Reserved(remote)"
	case StreamOpen:
		return "Open"
	case StreamHalfClosed:
		return "HalfClosed"
	case StreamClosed:
		return "Closed"
	}
	return "Unknown"
}

// OpenPhase is the sub-state of StreamOpen. At most one phase is current.
type OpenPhase int8

const (
	PhaseWaitingForPeer OpenPhase = iota
	PhasePartialHeaders
	PhaseFullHeaders
	PhaseActiveMessage
)

// ClosedReason records why a stream left the Open/HalfClosed states.
type ClosedReason int8

const (
	ClosedFinished ClosedReason = iota
	ClosedResetByUs
	ClosedResetByThem
)

// headerParseState is the per-block accumulator fed by HEADERS and any
// following CONTINUATION frames (spec §4.4.1's "partial-header parse
// state"). It is discarded once END_HEADERS finalizes the block.
type headerParseState struct {
	raw       []byte
	maxLen    int
	endStream bool
	trailers  bool
}

func (hp *headerParseState) append(b []byte) error {
	if hp.maxLen > 0 && len(hp.raw)+len(b) > hp.maxLen {
		return NewConnectionError(ProtocolError, "header block exceeds configured maximum")
	}
	hp.raw = append(hp.raw, b...)
	return nil
}

// Stream is one HTTP/2 stream: its protocol state, flow-control windows,
// and (while Active) the in-flight request/response plumbing.
//
// Grounded on serverConn.go's per-stream bookkeeping (clientWindow,
// currentWindow accounting, handleHeaderFrame/handleEndRequest), generalized
// into the spec's explicit state machine instead of the teacher's implicit
// one (the teacher never names "HalfClosed(request_info)" or
// "Open(PartialHeaders)" as such, but handleStreams/handleFrame branch on
// exactly these cases).
type Stream struct {
	id uint32

	state     StreamState
	openPhase OpenPhase

	closedReason ClosedReason
	closedCode   ErrorCode

	// outboundWindow/inboundWindow are kept as int64 so transient
	// arithmetic (e.g. a negative SETTINGS delta) never wraps a 32-bit
	// value; callers must keep them within [-2^31, 2^31-1] per invariant 4.
	outboundWindow int64
	inboundWindow  int64

	maxFrameSize uint32

	weight uint8
	parent uint32

	headers       *headerParseState
	trailerParser *headerParseState

	req  *fasthttp.Request
	res  *fasthttp.Response
	body *BodyBuffer

	contentLength     int64 // -1 when not declared
	bodyBytesReceived int64

	errorHandler func(err error, code ErrorCode)
	onClose      func(*Stream)

	// node is this stream's index in the Scheduler's dense node vector.
	node int
}

// NewStream builds a stream in state Idle. Corresponds to spec §4.2's
// `create(id, max_frame_size, writer, error_handler, on_close)`.
func NewStream(id uint32, maxFrameSize uint32, errorHandler func(error, ErrorCode), onClose func(*Stream)) *Stream {
	return &Stream{
		id:            id,
		state:         StreamIdle,
		maxFrameSize:  maxFrameSize,
		weight:        16, // RFC 7540 §5.3.5 default weight
		contentLength: -1,
		errorHandler:  errorHandler,
		onClose:       onClose,
	}
}

func (s *Stream) ID() uint32 { return s.id }

func (s *Stream) State() StreamState { return s.state }

func (s *Stream) Phase() OpenPhase { return s.openPhase }

func (s *Stream) ClosedReason() ClosedReason { return s.closedReason }

// markReserved moves an Idle stream into Reserved(local|remote) for
// server push (spec §3's "Reserved(local|remote)").
func (s *Stream) markReserved(local bool) {
	if s.state != StreamIdle {
		return
	}
	if local {
		s.state = StreamReservedLocal
	} else {
		s.state = StreamReservedRemote
	}
}

// beginPartialHeaders transitions Idle (or the trailers path on an already
// Open stream) into Open(PartialHeaders{...}), per spec §4.4.1.
func (s *Stream) beginPartialHeaders(endStream, endHeaders, trailers bool, maxLen int) {
	if s.state == StreamIdle {
		s.state = StreamOpen
	}
	s.openPhase = PhasePartialHeaders
	hp := &headerParseState{maxLen: maxLen, endStream: endStream, trailers: trailers}
	if trailers {
		s.trailerParser = hp
	} else {
		s.headers = hp
	}
	_ = endHeaders // finalization is driven by the END_HEADERS flag at the call site
}

// finishHeaders transitions Open(PartialHeaders) -> Open(FullHeaders),
// clearing the parse state that's now been finalized.
func (s *Stream) finishHeaders() {
	s.openPhase = PhaseFullHeaders
	s.headers = nil
}

// markActiveMessage transitions Open(FullHeaders) -> Open(ActiveMessage):
// the request handler has been (or is about to be) invoked and a body may
// still be streaming in.
func (s *Stream) markActiveMessage(req *fasthttp.Request, body *BodyBuffer) {
	s.openPhase = PhaseActiveMessage
	s.req = req
	s.body = body
}

// markHalfClosed transitions Open -> HalfClosed: the peer is done sending,
// our response may still be in flight.
func (s *Stream) markHalfClosed() {
	if s.state == StreamOpen {
		s.state = StreamHalfClosed
	}
}

// requiresOutput reports whether this stream still has work for the
// scheduler to flush: pending body bytes or the not-yet-sent final empty
// DATA frame (headers are written directly, never queued here). Grounded
// on spec §4.2's `requires_output`.
func (s *Stream) requiresOutput() bool {
	if s.state == StreamClosed {
		return false
	}
	if s.body == nil {
		return false
	}
	return s.body.buffered() > 0 || !s.body.finalFrameSent()
}

// finish transitions to Closed{reason} from any non-Closed state.
// Idempotent: repeated calls after the first are a no-op, matching spec
// §8's "repeated finish_stream(Closed{...}) is a no-op after the first".
func (s *Stream) finish(reason ClosedReason, code ErrorCode) {
	if s.state == StreamClosed {
		return
	}
	s.state = StreamClosed
	s.closedReason = reason
	s.closedCode = code
	if s.body != nil {
		s.body.closeReader()
	}
	if s.onClose != nil {
		s.onClose(s)
	}
}

// resetStream transitions to Closed{ResetByUs(code)}; the caller (the
// connection engine) is responsible for actually emitting the RST_STREAM
// frame - this only updates bookkeeping.
func (s *Stream) resetStream(code ErrorCode) {
	s.finish(ClosedResetByUs, code)
}

// resetByThem mirrors resetStream for a peer-initiated RST_STREAM.
func (s *Stream) resetByThem(code ErrorCode) {
	s.finish(ClosedResetByThem, code)
}

// deliverTrailerHeaders records trailer headers on the active message
// (spec §4.2's `deliver_trailer_headers`).
func (s *Stream) deliverTrailerHeaders(fields []*HeaderField) {
	if s.req == nil {
		return
	}
	for _, f := range fields {
		s.req.Header.AddBytesKV(f.KeyBytes(), f.ValueBytes())
	}
}

// reportError invokes the stream's error handler (to let it synthesize a
// response body). It does not change the stream's state or emit anything;
// callers follow it with a StreamError through Conn.reportError, which
// sends the RST_STREAM. Spec §4.2's `report_error`.
func (s *Stream) reportError(err error, code ErrorCode) {
	if s.errorHandler != nil {
		s.errorHandler(err, code)
	}
}

// addOutboundWindow applies delta to the stream's outbound credit,
// returning false iff the result would exceed 2^31-1 (spec §4.3's
// `add_flow`).
func (s *Stream) addOutboundWindow(delta int64) bool {
	n := s.outboundWindow + delta
	if n > maxWindowSize {
		return false
	}
	s.outboundWindow = n
	return true
}

// addInboundWindow mirrors addOutboundWindow for the inbound direction
// (spec §4.3's `add_inflow`).
func (s *Stream) addInboundWindow(delta int64) bool {
	n := s.inboundWindow + delta
	if n > maxWindowSize {
		return false
	}
	s.inboundWindow = n
	return true
}

// deductInboundWindow decreases the inbound window by n bytes. May go
// negative on error paths; the engine is responsible for treating that as
// a flow-control violation before this is called on the happy path.
func (s *Stream) deductInboundWindow(n int64) {
	s.inboundWindow -= n
}
