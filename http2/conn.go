package http2

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// clientPreface is the 24-byte magic RFC 7540 §3.5 requires before any
// frame.
var clientPreface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// RequestHandler is the opaque application callback spec §6 calls
// "request_handler: stream_descriptor -> ()". Kept as fasthttp's handler
// signature, invoked synchronously once a stream's headers (and, for
// non-streaming responses, its body) are ready - grounded on
// serverConn.go's handleEndRequest, which calls sc.h(ctx) the same way.
type RequestHandler = fasthttp.RequestHandler

// ReadOp is next_read_operation's result.
type ReadOp int

const (
	ReadOpRead ReadOp = iota
	ReadOpClose
)

// WriteOpKind is next_write_operation's result tag.
type WriteOpKind int

const (
	WriteOpWrite WriteOpKind = iota
	WriteOpYield
	WriteOpClose
)

// WriteOp is what next_write_operation hands back to the driver.
type WriteOp struct {
	Kind WriteOpKind
	Data []byte
}

// Conn is the connection engine: spec §3's "Connection state" plus the
// dispatch logic of §4.4, driven externally via the Next*/Read*/Report*
// methods below (§6). It owns no threads and no socket.
//
// Grounded on serverConn.go's struct and handleStreams/handleFrame/
// writeLoop, restructured from goroutines+channels into the
// externally-driven shape §5 requires: the "lazy self-reference" problem
// (§9) is solved the same way the teacher solves it implicitly - the
// struct's own methods close over `c` via the method receiver, no
// two-phase construction needed in Go.
type Conn struct {
	cfg *Config

	handler      RequestHandler
	errorHandler func(req *fasthttp.RequestHeader, err error, body *BodyBuffer)

	sched *Scheduler

	encoder *HPACK
	decoder *HPACK

	// local is what we've told the peer (merged, last-value-wins per
	// identifier); remote is what the peer has told us. Spec §3's
	// "Settings" type, tracked here as plain fields rather than replaying
	// raw SETTINGS entries.
	local           connSettings
	remote          connSettings
	unackedSettings int

	prefaceSeen      bool
	prefaceSent      bool
	didSendGoAway    bool
	closed           bool
	receivingHeaders uint32 // 0 = none, else the stream id (spec's receiving_headers_for_stream)

	pending  bytes.Buffer // unparsed bytes fed via Read/ReadEOF
	inputEOF bool

	outbound bytes.Buffer
	bw       *bufio.Writer

	wakeWriter func()

	nextPushID           uint32
	currentClientStreams uint32

	ctxPool sync.Pool
}

// NewConn builds a connection engine around handler, ready to receive a
// client preface via Read. Corresponds to spec §6's `create`.
func NewConn(cfg *Config, handler RequestHandler) *Conn {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := &Conn{
		cfg:        cfg,
		handler:    handler,
		sched:      NewScheduler(),
		encoder:    NewHPACK(),
		decoder:    NewHPACK(),
		nextPushID: 2,
		wakeWriter: func() {},
	}
	c.bw = bufio.NewWriter(&c.outbound)
	c.ctxPool.New = func() interface{} { return &fasthttp.RequestCtx{} }

	c.local = defaultConnSettings()
	c.local.maxConcurrentStreams = cfg.MaxConcurrentStreams
	c.local.initialWindowSize = cfg.InitialWindowSize
	c.local.enablePush = cfg.EnableServerPush
	c.local.maxFrameSize = cfg.ReadBufferSize

	c.remote = defaultConnSettings()

	c.sched.nodes[rootNode].inflow = int64(DefaultInitialWindowSize)
	c.sched.nodes[rootNode].flow = int64(DefaultInitialWindowSize)

	return c
}

// wake consumes the one-shot writer-wakeup slot (spec §5/§9).
func (c *Conn) wake() {
	k := c.wakeWriter
	c.wakeWriter = func() {}
	k()
}

// YieldWriter registers a one-shot resume callback. Attempting to register
// one on a closed connection is a programming error (spec §5).
func (c *Conn) YieldWriter(k func()) {
	if c.closed {
		panic(ErrWakeupOnClosed)
	}
	c.wakeWriter = k
}

// NextReadOperation reports whether further input is welcome.
func (c *Conn) NextReadOperation() ReadOp {
	if c.closed {
		return ReadOpClose
	}
	return ReadOpRead
}

// Read feeds bytes (with more expected to follow) into the engine,
// parsing and dispatching as many complete frames as are available.
func (c *Conn) Read(p []byte) (consumed int, err error) {
	c.pending.Write(p)
	c.drainFrames()
	return len(p), nil
}

// ReadEOF feeds a final chunk of bytes (possibly empty) and marks the
// input side as exhausted. Bytes still pending afterward form a truncated
// final frame and are reported as a connection PROTOCOL_ERROR.
func (c *Conn) ReadEOF(p []byte) (consumed int) {
	c.pending.Write(p)
	c.inputEOF = true
	c.drainFrames()
	if c.pending.Len() > 0 {
		c.reportError(NewConnectionError(ProtocolError, "connection closed mid-frame"))
	}
	return len(p)
}

func (c *Conn) drainFrames() {
	defer func() {
		if r := recover(); r != nil {
			c.reportError(NewConnectionError(InternalError, string(debug.Stack())))
		}
	}()

	for {
		if !c.prefaceSeen {
			if c.pending.Len() < len(clientPreface) {
				return
			}
			if !bytes.Equal(c.pending.Bytes()[:len(clientPreface)], clientPreface) {
				c.reportError(NewConnectionError(ProtocolError, "bad connection preface"))
				return
			}
			c.pending.Next(len(clientPreface))
			c.prefaceSeen = true
			c.sendPreface()
		}

		raw := c.pending.Bytes()
		if len(raw) < DefaultFrameSize {
			return
		}

		br := bufio.NewReader(bytes.NewReader(raw))
		before := len(raw)

		frh, err := ReadFrameFromWithSize(br, c.local.maxFrameSize)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}
			if err == ErrUnknownFrameType {
				// skip the whole frame; unknown types are ignored
				c.pending.Next(before - br.Buffered())
				continue
			}
			c.reportError(NewConnectionError(ProtocolError, err.Error()))
			return
		}

		consumed := before - br.Buffered()
		c.pending.Next(consumed)

		c.dispatch(frh)
		ReleaseFrameHeader(frh)

		if c.closed {
			return
		}
	}
}

// sendPreface emits our SETTINGS (non-empty iff we differ from defaults)
// and, if configured above the RFC default, a connection WINDOW_UPDATE.
// Spec §4.5.
func (c *Conn) sendPreface() {
	st := AcquireFrame(FrameSettings).(*Settings)
	if c.cfg.MaxConcurrentStreams != DefaultMaxConcurrentStreams {
		st.AddMaxConcurrentStreams(c.cfg.MaxConcurrentStreams)
	}
	if c.cfg.InitialWindowSize != DefaultInitialWindowSize {
		st.AddInitialWindowSize(c.cfg.InitialWindowSize)
	}
	if !c.cfg.EnableServerPush {
		st.AddEnablePush(false)
	}
	if c.cfg.ReadBufferSize != DefaultMaxFrameSize {
		st.AddMaxFrameSize(c.cfg.ReadBufferSize)
	}

	frh := AcquireFrameHeader()
	frh.SetBody(st)
	frh.WriteTo(c.bw)
	ReleaseFrameHeader(frh)
	c.unackedSettings++

	if c.cfg.InitialWindowSize > DefaultInitialWindowSize {
		c.writeWindowUpdate(0, c.cfg.InitialWindowSize-DefaultInitialWindowSize)
	}

	c.prefaceSent = true
	c.wake()
}

// NextWriteOperation flushes the scheduler, then reports whatever bytes
// accumulated: Write if there's output, Yield if not (the driver then
// registers its resume callback via YieldWriter), Close once torn down
// with nothing left to send.
func (c *Conn) NextWriteOperation() WriteOp {
	if err := c.sched.Flush(c.bw); err != nil {
		c.reportError(NewConnectionError(InternalError, err.Error()))
	}
	c.bw.Flush()

	if c.outbound.Len() > 0 {
		return WriteOp{Kind: WriteOpWrite, Data: c.outbound.Bytes()}
	}
	if c.closed {
		return WriteOp{Kind: WriteOpClose}
	}
	return WriteOp{Kind: WriteOpYield}
}

// ReportWriteResult acknowledges n bytes of the last Write op were sent
// (err != nil meaning the sink is gone).
func (c *Conn) ReportWriteResult(n int, err error) {
	if err != nil {
		c.closed = true
		return
	}
	b := c.outbound.Bytes()
	if n >= len(b) {
		c.outbound.Reset()
	} else {
		remaining := append([]byte(nil), b[n:]...)
		c.outbound.Reset()
		c.outbound.Write(remaining)
	}
}

func (c *Conn) writeWindowUpdate(streamID uint32, increment uint32) {
	frh := AcquireFrameHeader()
	frh.SetStream(streamID)
	wu := AcquireFrame(FrameWindowUpdate).(*WindowUpdate)
	wu.SetIncrement(int(increment))
	frh.SetBody(wu)
	frh.WriteTo(c.bw)
	ReleaseFrameHeader(frh)
	c.wake()
}

func (c *Conn) writeRstStream(streamID uint32, code ErrorCode) {
	frh := AcquireFrameHeader()
	frh.SetStream(streamID)
	rst := AcquireFrame(FrameResetStream).(*RstStream)
	rst.SetCode(code)
	frh.SetBody(rst)
	frh.WriteTo(c.bw)
	ReleaseFrameHeader(frh)
	c.wake()
}

// SendPing emits a PING frame carrying the current time, so a driver can
// use the eventual ack's round-trip to detect a dead peer. Grounded on
// serverConn.go's sendPingAndSchedule/writePing, moved here since timers
// belong to the driver, not the core (spec §9 / SPEC_FULL.md §C.4).
func (c *Conn) SendPing() {
	frh := AcquireFrameHeader()
	ping := AcquireFrame(FramePing).(*Ping)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(time.Now().UnixNano()))
	ping.SetData(buf[:])
	frh.SetBody(ping)
	frh.WriteTo(c.bw)
	ReleaseFrameHeader(frh)
	c.wake()
}

// Shutdown sends a graceful GOAWAY(NoError) and marks the connection
// closed, mirroring serverConn.go's closeIdleConn.
func (c *Conn) Shutdown(reason string) {
	c.writeGoAway(NoError, reason)
	c.wake()
}

// IsClosed reports whether the engine has torn down (sent or received a
// fatal GOAWAY, or had a write fail).
func (c *Conn) IsClosed() bool {
	return c.closed
}

func (c *Conn) writeGoAway(code ErrorCode, debug string) {
	if c.didSendGoAway {
		return
	}
	c.didSendGoAway = true

	frh := AcquireFrameHeader()
	ga := AcquireFrame(FrameGoAway).(*GoAway)
	ga.SetStream(c.sched.MaxClientStreamID())
	ga.SetCode(code)
	ga.SetData([]byte(debug))
	frh.SetBody(ga)
	frh.WriteTo(c.bw)
	ReleaseFrameHeader(frh)

	c.closed = true
	c.wake()
}
