package http2

import (
	"github.com/valyala/fasthttp"
)

// dispatch is the global dispatch function spec §4.4 describes: the
// header-continuation gate, then routing by frame type. Grounded on
// serverConn.go's handleFrame + the inline stream-0 branch in readLoop,
// collapsed into one synchronous function since the engine no longer owns
// a reader goroutine separate from a per-stream handler goroutine.
func (c *Conn) dispatch(frh *FrameHeader) {
	if c.receivingHeaders != 0 {
		if frh.Type() != FrameContinuation || frh.Stream() != c.receivingHeaders {
			c.reportError(NewConnectionError(ProtocolError,
				"HEADERS or PUSH_PROMISE without the END_HEADERS flag set must be followed by a CONTINUATION frame for the same stream"))
			return
		}
	}

	switch frh.Type() {
	case FrameHeaders:
		c.handleHeaders(frh)
	case FrameData:
		c.handleData(frh)
	case FramePriority:
		c.handlePriority(frh)
	case FrameResetStream:
		c.handleRstStream(frh)
	case FrameSettings:
		c.handleSettings(frh)
	case FramePing:
		c.handlePing(frh)
	case FrameGoAway:
		c.handleGoAway(frh)
	case FrameWindowUpdate:
		c.handleWindowUpdate(frh)
	case FrameContinuation:
		c.handleContinuation(frh)
	default:
		// unknown frame types are silently ignored (spec §4.4.10)
	}
}

// reportError is spec §4.4.11's `report_error`.
func (c *Conn) reportError(err error) {
	if ce, ok := asConnectionError(err); ok {
		if c.didSendGoAway {
			return
		}
		if c.cfg.ConnectionErrorHook != nil {
			c.cfg.ConnectionErrorHook(ce)
		}
		c.cfg.Logger.Errorf("connection error: %s", ce)
		c.writeGoAway(ce.Code, ce.Debug)
		return
	}

	if se, ok := asStreamError(err); ok {
		if strm := c.sched.Find(se.StreamID); strm != nil {
			strm.resetStream(se.Code)
			c.writeRstStream(se.StreamID, se.Code)
			c.sched.MarkForRemoval(se.StreamID, ClosedResetByUs)
		} else if !c.sched.BelowClosedWatermark(se.StreamID) {
			c.writeRstStream(se.StreamID, se.Code)
		}
		return
	}

	c.reportError(NewConnectionError(InternalError, err.Error()))
}

func isClientStream(id uint32) bool { return id%2 == 1 }

// 4.4.1 HEADERS
func (c *Conn) handleHeaders(frh *FrameHeader) {
	h := frh.Body().(*Headers)
	id := frh.Stream()

	if !isClientStream(id) {
		c.reportError(NewConnectionError(ProtocolError, "HEADERS on an even (server-only) stream id"))
		return
	}

	if h.HasPriority() && h.Stream() == id {
		c.reportError(NewStreamError(id, ProtocolError))
		return
	}

	strm := c.sched.Find(id)
	trailers := false

	if strm == nil {
		if id <= c.sched.MaxClientStreamID() {
			c.reportError(NewConnectionError(ProtocolError, "stream id reused or out of order"))
			return
		}
		c.closeIdleStreamsBelow(id)
		strm = NewStream(id, c.remote.maxFrameSize, c.makeErrorHandler(id), c.onStreamClose)
		c.sched.Add(strm, 0, 16, int32(c.local.initialWindowSize))
	} else {
		switch strm.state {
		case StreamOpen:
			switch strm.openPhase {
			case PhaseFullHeaders, PhaseActiveMessage:
				trailers = true
				if !frh.Flags().Has(FlagEndStream) {
					c.reportError(NewStreamError(id, ProtocolError))
					return
				}
			}
		case StreamHalfClosed:
			c.reportError(NewStreamError(id, StreamClosedError))
			return
		case StreamClosed:
			if strm.closedReason == ClosedResetByThem {
				c.reportError(NewStreamError(id, StreamClosedError))
			} else {
				c.reportError(NewConnectionError(StreamClosedError, "HEADERS against a closed stream"))
			}
			return
		case StreamReservedLocal, StreamReservedRemote:
			c.reportError(NewConnectionError(StreamClosedError, "HEADERS against a reserved stream"))
			return
		}
	}

	maxLen := len(h.Headers())
	if !frh.Flags().Has(FlagEndHeaders) {
		maxLen *= 2
	}
	strm.beginPartialHeaders(frh.Flags().Has(FlagEndStream), frh.Flags().Has(FlagEndHeaders), trailers, maxLen)
	if err := strm.headersTarget(trailers).append(h.Headers()); err != nil {
		c.reportError(err)
		return
	}

	if frh.Flags().Has(FlagEndHeaders) {
		c.finalizeHeaders(strm, trailers)
	} else {
		c.receivingHeaders = id
	}
}

// headersTarget picks which parse-state slot (headers vs trailers) is
// currently accumulating fragments.
func (s *Stream) headersTarget(trailers bool) *headerParseState {
	if trailers {
		return s.trailerParser
	}
	return s.headers
}

// finalizeHeaders runs once END_HEADERS completes a block, for both the
// HEADERS and CONTINUATION paths (spec §4.4.1/§4.4.9's shared
// finalization).
func (c *Conn) finalizeHeaders(strm *Stream, trailers bool) {
	c.receivingHeaders = 0
	hp := strm.headersTarget(trailers)

	if trailers {
		fields, err := c.decoder.Next(hp.raw)
		if err != nil {
			c.reportError(NewConnectionError(CompressionError, err.Error()))
			return
		}
		forbidden := false
		for _, f := range fields {
			if f.IsPseudo() {
				forbidden = true
			}
		}
		strm.deliverTrailerHeaders(fields)
		for _, f := range fields {
			ReleaseHeaderField(f)
		}
		strm.trailerParser = nil
		if forbidden {
			c.reportError(NewStreamError(strm.id, ProtocolError))
			return
		}
		if strm.body != nil {
			strm.body.closeReader()
		}
		return
	}

	ctx := c.ctxPool.Get().(*fasthttp.RequestCtx)
	ctx.Request.Reset()
	ctx.Response.Reset()

	scheme, err := decodeHeadersInto(c.decoder, hp.raw, &ctx.Request)
	_ = scheme
	if err != nil {
		c.reportError(NewConnectionError(CompressionError, err.Error()))
		return
	}

	c.sched.AdvanceWatermark(strm.id, 0)

	if c.currentClientStreams+1 > c.local.maxConcurrentStreams {
		if c.unackedSettings > 0 {
			c.reportError(NewStreamError(strm.id, RefusedStreamError))
		} else {
			c.reportError(NewStreamError(strm.id, ProtocolError))
		}
		return
	}

	if err := validatePseudoHeaders(&ctx.Request); err != nil {
		strm.reportError(err, ProtocolError)
		c.reportError(NewStreamError(strm.id, ProtocolError))
		return
	}

	endStream := hp.endStream
	declaredLen := ctx.Request.Header.ContentLength()
	if endStream && declaredLen > 0 {
		strm.reportError(newApplicationError("content-length with no body"), ProtocolError)
		c.reportError(NewStreamError(strm.id, ProtocolError))
		return
	}

	strm.finishHeaders()
	c.currentClientStreams++

	bodySize := c.cfg.RequestBodyBufferSize
	if declaredLen > 0 {
		strm.contentLength = int64(declaredLen)
		bodySize = declaredLen
	}

	body := AcquireBodyBuffer(bodySize, func() { c.wake() })
	strm.markActiveMessage(&ctx.Request, body)
	ctx.Request.Header.SetProtocolBytes(StringHTTP2)

	if endStream {
		body.CloseWriter()
		strm.markHalfClosed()
	}

	c.invokeHandler(strm, ctx)
}

func (c *Conn) invokeHandler(strm *Stream, ctx *fasthttp.RequestCtx) {
	defer func() {
		if r := recover(); r != nil {
			c.reportError(NewConnectionError(InternalError, "panic in request handler"))
		}
	}()

	c.handler(ctx)

	c.writeResponseHeaders(strm, ctx)
}

func (c *Conn) writeResponseHeaders(strm *Stream, ctx *fasthttp.RequestCtx) {
	body := AcquireBodyBuffer(c.cfg.ResponseBodyBufferSize, func() { c.wake() })
	respBody := append([]byte(nil), ctx.Response.Body()...)
	strm.res = &ctx.Response

	frh := AcquireFrameHeader()
	frh.SetStream(strm.id)
	h := AcquireFrame(FrameHeaders).(*Headers)
	h.SetEndHeaders(true)
	// END_STREAM always travels on the body's final DATA frame (see
	// BodyBuffer.TransferToWriter), even when the body is empty.
	h.SetEndStream(false)
	encodeResponseHeaders(h, c.encoder, &ctx.Response)
	frh.SetBody(h)
	frh.WriteTo(c.bw)
	ReleaseFrameHeader(frh)

	old := strm.body
	strm.body = body
	if old != nil {
		ReleaseBodyBuffer(old)
	}
	if len(respBody) > 0 {
		body.Write(respBody)
	}
	body.CloseWriter()

	c.ctxPool.Put(ctx)
	c.wake()
}

func (c *Conn) makeErrorHandler(id uint32) func(error, ErrorCode) {
	return func(err error, code ErrorCode) {
		if c.cfg.ErrorHandler == nil {
			return
		}
		strm := c.sched.Find(id)
		if strm == nil || strm.body == nil {
			return
		}
		c.cfg.ErrorHandler(&strm.req.Header, err, strm.body)
	}
}

// closeIdleStreamsBelow implements RFC 7540 §5.1.1's implicit closure: a
// client opening stream id makes every lower-numbered Idle stream (one
// that only ever got a node from an earlier PRIORITY frame and was never
// itself opened with HEADERS) impossible to open later, so it is closed
// now instead of lingering. Grounded on serverConn.go's handleStreams
// idle-closure loop, adapted to this scheduler's lazily-materialized
// nodes instead of the teacher's pre-populated stream slice.
func (c *Conn) closeIdleStreamsBelow(id uint32) {
	var idle []*Stream
	c.sched.Iter(func(s *Stream) {
		if s.id < id && s.state == StreamIdle {
			idle = append(idle, s)
		}
	})
	for _, s := range idle {
		s.resetStream(CancelError)
		c.writeRstStream(s.id, CancelError)
	}
}

func (c *Conn) onStreamClose(strm *Stream) {
	if isClientStream(strm.id) && c.currentClientStreams > 0 {
		c.currentClientStreams--
	}
	c.sched.MarkForRemoval(strm.id, strm.closedReason)
}

// 4.4.2 DATA
func (c *Conn) handleData(frh *FrameHeader) {
	d := frh.Body().(*Data)
	id := frh.Stream()
	payloadLen := int64(frh.Len())

	if !isClientStream(id) {
		c.reportError(NewConnectionError(ProtocolError, "DATA on an even stream id"))
		return
	}

	c.sched.DeductInflow(0, payloadLen)

	strm := c.sched.Find(id)
	if strm == nil {
		if !c.sched.BelowClosedWatermark(id) {
			c.reportError(NewConnectionError(ProtocolError, "DATA on unknown stream"))
		}
		return
	}

	switch strm.state {
	case StreamIdle:
		c.reportError(NewConnectionError(ProtocolError, "DATA on idle stream"))
		return
	case StreamClosed:
		if strm.closedReason == ClosedResetByUs && strm.closedCode == NoError {
			c.writeWindowUpdate(0, uint32(payloadLen))
			return
		}
		c.writeWindowUpdate(0, uint32(payloadLen))
		c.reportError(NewStreamError(id, StreamClosedError))
		return
	case StreamOpen:
		if strm.openPhase != PhaseActiveMessage {
			return
		}
	default:
		return
	}

	if strm.inboundWindow < payloadLen {
		c.reportError(NewStreamError(id, FlowControlError))
		return
	}
	strm.deductInboundWindow(payloadLen)

	strm.bodyBytesReceived += payloadLen
	if strm.contentLength >= 0 && strm.bodyBytesReceived > strm.contentLength {
		c.writeWindowUpdate(0, uint32(payloadLen))
		strm.reportError(newApplicationError("content-length exceeded"), ProtocolError)
		c.reportError(NewStreamError(id, ProtocolError))
		return
	}

	endStream := d.EndStream()
	if endStream {
		if strm.requiresOutput() {
			strm.markHalfClosed()
		} else {
			strm.finish(ClosedFinished, NoError)
		}
	}

	c.writeWindowUpdate(0, uint32(payloadLen))
	c.writeWindowUpdate(id, uint32(payloadLen))

	if strm.body != nil {
		strm.body.Write(d.Data())
		if endStream {
			strm.body.CloseWriter()
		}
	}
}

// 4.4.3 PRIORITY
func (c *Conn) handlePriority(frh *FrameHeader) {
	pr := frh.Body().(*Priority)
	id := frh.Stream()

	if !isClientStream(id) {
		c.reportError(NewConnectionError(ProtocolError, "PRIORITY on an even stream id"))
		return
	}
	if pr.Stream() == id {
		c.reportError(NewStreamError(id, ProtocolError))
		return
	}

	if strm := c.sched.Find(id); strm != nil {
		if err := c.sched.Reprioritize(id, pr.Stream(), pr.Weight(), false); err != nil {
			c.reportError(err)
		}
		return
	}

	if c.sched.BelowClosedWatermark(id) {
		return
	}

	strm := NewStream(id, c.remote.maxFrameSize, c.makeErrorHandler(id), c.onStreamClose)
	c.sched.Add(strm, pr.Stream(), pr.Weight(), int32(c.local.initialWindowSize))
}

// 4.4.4 RST_STREAM
func (c *Conn) handleRstStream(frh *FrameHeader) {
	rst := frh.Body().(*RstStream)
	id := frh.Stream()

	strm := c.sched.Find(id)
	if strm == nil {
		if !c.sched.BelowClosedWatermark(id) {
			c.reportError(NewConnectionError(ProtocolError, "RST_STREAM on idle stream"))
		}
		return
	}
	strm.resetByThem(rst.Code())
}

// 4.4.5 SETTINGS
func (c *Conn) handleSettings(frh *FrameHeader) {
	st := frh.Body().(*Settings)

	if st.Ack() {
		c.unackedSettings--
		if c.unackedSettings < 0 {
			c.reportError(NewConnectionError(ProtocolError, "received SETTINGS with ACK but no ACK was pending"))
		}
		return
	}

	var applyErr error
	st.ForEach(func(id uint16, val uint32) bool {
		switch id {
		case settingHeaderTableSize:
			c.remote.headerTableSize = val
			c.encoder.SetMaxTableSize(val)
		case settingEnablePush:
			c.remote.enablePush = val == 1
		case settingMaxConcurrentStreams:
			c.remote.maxConcurrentStreams = val
		case settingInitialWindowSize:
			delta := int64(val) - int64(c.remote.initialWindowSize)
			c.remote.initialWindowSize = val
			ok := true
			c.sched.Iter(func(s *Stream) {
				if !s.addOutboundWindow(delta) {
					ok = false
				}
			})
			if !ok {
				applyErr = NewConnectionError(FlowControlError, "SETTINGS_INITIAL_WINDOW_SIZE overflowed a stream window")
				return false
			}
		case settingMaxFrameSize:
			c.remote.maxFrameSize = val
			c.sched.Iter(func(s *Stream) {
				if s.state == StreamOpen && s.requiresOutput() {
					s.maxFrameSize = val
				}
			})
		case settingMaxHeaderListSize:
			c.remote.maxHeaderListSize = val
		}
		return true
	})

	if applyErr != nil {
		c.reportError(applyErr)
		return
	}

	ack := AcquireFrame(FrameSettings).(*Settings)
	ack.SetAck(true)
	frh2 := AcquireFrameHeader()
	frh2.SetBody(ack)
	frh2.WriteTo(c.bw)
	ReleaseFrameHeader(frh2)
	c.unackedSettings++
	c.wake()
}

// 4.4.6 PING
func (c *Conn) handlePing(frh *FrameHeader) {
	ping := frh.Body().(*Ping)
	if ping.ack {
		return
	}

	reply := AcquireFrame(FramePing).(*Ping)
	reply.SetAck(true)
	reply.SetData(ping.Data())
	frh2 := AcquireFrameHeader()
	frh2.SetBody(reply)
	frh2.WriteTo(c.bw)
	ReleaseFrameHeader(frh2)
	c.wake()
}

// 4.4.7 GOAWAY (received)
func (c *Conn) handleGoAway(frh *FrameHeader) {
	c.closed = true
	c.wake()
}

// 4.4.8 WINDOW_UPDATE
func (c *Conn) handleWindowUpdate(frh *FrameHeader) {
	wu := frh.Body().(*WindowUpdate)
	id := frh.Stream()

	if id == 0 {
		if !c.sched.AddFlow(0, int64(wu.Increment())) {
			c.reportError(NewConnectionError(FlowControlError, "connection window overflow"))
		} else if wu.Increment() > 0 {
			c.wake()
		}
		return
	}

	strm := c.sched.Find(id)
	if strm == nil {
		if !c.sched.BelowClosedWatermark(id) {
			c.reportError(NewConnectionError(ProtocolError, "WINDOW_UPDATE on idle stream"))
		}
		return
	}
	if strm.state == StreamClosed {
		return
	}

	if !strm.addOutboundWindow(int64(wu.Increment())) {
		c.reportError(NewStreamError(id, FlowControlError))
		return
	}
	if wu.Increment() > 0 {
		c.wake()
	}
}

// 4.4.9 CONTINUATION
func (c *Conn) handleContinuation(frh *FrameHeader) {
	cont := frh.Body().(*Continuation)
	id := frh.Stream()

	if !isClientStream(id) {
		c.reportError(NewConnectionError(ProtocolError, "CONTINUATION on an even stream id"))
		return
	}

	strm := c.sched.Find(id)
	trailers := strm != nil && strm.trailerParser != nil
	if strm == nil || (strm.headers == nil && strm.trailerParser == nil) {
		c.reportError(NewConnectionError(ProtocolError, "CONTINUATION without a live header block"))
		return
	}

	hp := strm.headersTarget(trailers)
	if err := hp.append(cont.Headers()); err != nil {
		c.reportError(err)
		return
	}

	if cont.EndHeaders() {
		c.finalizeHeaders(strm, trailers)
	}
}

// CreatePushStream implements spec §4.4.12's `create_push_stream`: it
// allocates the next even stream id, reserves it, and emits the
// PUSH_PROMISE frame (on associatedStreamID) carrying promised's
// pseudo-headers so the peer knows what the pushed stream will deliver.
func (c *Conn) CreatePushStream(associatedStreamID uint32, promised *fasthttp.Request) (*Stream, error) {
	if !c.remote.enablePush {
		return nil, newApplicationError("push disabled by peer")
	}
	if c.nextPushID+2 > maxWindowSize {
		c.writeGoAway(NoError, "push id space exhausted")
		return nil, newApplicationError("stream ids exhausted")
	}

	id := c.nextPushID
	c.nextPushID += 2

	strm := NewStream(id, c.remote.maxFrameSize, c.makeErrorHandler(id), c.onStreamClose)
	strm.markReserved(true)
	c.sched.Add(strm, 0, 16, int32(c.local.initialWindowSize))
	c.sched.AdvanceWatermark(0, id)

	pp := AcquireFrame(FramePushPromise).(*PushPromise)
	pp.SetStream(id)
	encodePushPromiseHeaders(pp, c.encoder, promised)

	frh := AcquireFrameHeader()
	frh.SetStream(associatedStreamID)
	frh.SetBody(pp)
	frh.WriteTo(c.bw)
	ReleaseFrameHeader(frh)
	c.wake()

	return strm, nil
}
