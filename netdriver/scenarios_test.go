package netdriver_test

import (
	"testing"
	"time"

	"github.com/nullsum/h2engine/http2"
	"github.com/nullsum/h2engine/netdriver"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// ackServerSettings drains and ACKs the server's preface SETTINGS frame,
// bringing unacked_settings back to zero the way a conformant client would.
func ackServerSettings(t *testing.T, rc *rawClient) {
	t.Helper()
	fr, err := rc.readNext()
	require.NoError(t, err)
	require.Equal(t, http2.FrameSettings, fr.Type())
	http2.ReleaseFrameHeader(fr)

	ack := http2.AcquireFrame(http2.FrameSettings).(*http2.Settings)
	ack.SetAck(true)
	frh := http2.AcquireFrameHeader()
	frh.SetBody(ack)
	frh.WriteTo(rc.bw)
	rc.bw.Flush()
}

func (rc *rawClient) sendData(id uint32, payload []byte, endStream bool) {
	frh := http2.AcquireFrameHeader()
	frh.SetStream(id)
	d := http2.AcquireFrame(http2.FrameData).(*http2.Data)
	d.SetData(payload)
	d.SetEndStream(endStream)
	frh.SetBody(d)
	frh.WriteTo(rc.bw)
	rc.bw.Flush()
}

func (rc *rawClient) sendPriority(id, dependsOn uint32, weight byte) {
	frh := http2.AcquireFrameHeader()
	frh.SetStream(id)
	p := http2.AcquireFrame(http2.FramePriority).(*http2.Priority)
	p.SetStream(dependsOn)
	p.SetWeight(weight)
	frh.SetBody(p)
	frh.WriteTo(rc.bw)
	rc.bw.Flush()
}

func (rc *rawClient) sendPing(data [8]byte) {
	frh := http2.AcquireFrameHeader()
	p := http2.AcquireFrame(http2.FramePing).(*http2.Ping)
	p.SetData(data[:])
	frh.SetBody(p)
	frh.WriteTo(rc.bw)
	rc.bw.Flush()
}

// readUntil reads frames until f returns true for one of them, or the
// deadline passes; it returns that frame (not yet released).
func readUntil(t *testing.T, rc *rawClient, f func(*http2.FrameHeader) bool) *http2.FrameHeader {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rc.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		fr, err := rc.readNext()
		if err != nil {
			continue
		}
		if f(fr) {
			return fr
		}
		http2.ReleaseFrameHeader(fr)
	}
	return nil
}

func launchScenarioServer(t *testing.T, cfg *http2.Config, handler fasthttp.RequestHandler) (*fasthttputil.InmemoryListener, func()) {
	t.Helper()
	s := &fasthttp.Server{Handler: handler}
	serveConn := netdriver.ConfigureServer(s, cfg)

	ln := fasthttputil.NewInmemoryListener()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(c)
		}
	}()
	return ln, func() { ln.Close() }
}

// TestConcurrentStreamLimitRejectsSecondStream covers spec §8 scenario 2:
// with max_concurrent_streams=1 and unacked_settings brought to zero, a
// second concurrently open stream must be refused while the first survives.
func TestConcurrentStreamLimitRejectsSecondStream(t *testing.T) {
	cfg := http2.NewConfig(http2.WithMaxConcurrentStreams(1))
	ln, closeFn := launchScenarioServer(t, cfg, func(ctx *fasthttp.RequestCtx) {})
	defer closeFn()

	rc := dialClient(t, ln)
	defer rc.conn.Close()
	ackServerSettings(t, rc)

	rc.sendHeaders(1, false, [][2]string{
		{":method", "GET"}, {":path", "/a"}, {":scheme", "https"}, {":authority", "h"},
	})
	rc.sendHeaders(3, true, [][2]string{
		{":method", "GET"}, {":path", "/b"}, {":scheme", "https"}, {":authority", "h"},
	})

	fr := readUntil(t, rc, func(f *http2.FrameHeader) bool {
		return f.Type() == http2.FrameResetStream && f.Stream() == 3
	})
	require.NotNil(t, fr, "expected RST_STREAM(3, ...) once the concurrent-stream limit is exceeded")
	rst := fr.Body().(*http2.RstStream)
	require.True(t, rst.Code() == http2.ProtocolError || rst.Code() == http2.RefusedStreamError)
	http2.ReleaseFrameHeader(fr)
}

// TestContentLengthMismatchResetsStreamNotConnection covers spec §8
// scenario 3: a DATA payload exceeding the declared content-length gets the
// stream reset with PROTOCOL_ERROR, and the connection keeps serving other
// streams afterwards.
func TestContentLengthMismatchResetsStreamNotConnection(t *testing.T) {
	cfg := http2.NewConfig()
	cfg.ErrorHandler = func(_ *fasthttp.RequestHeader, _ error, body *http2.BodyBuffer) {
		body.Write([]byte("bad request"))
		body.CloseWriter()
	}
	ln, closeFn := launchScenarioServer(t, cfg, func(ctx *fasthttp.RequestCtx) {})
	defer closeFn()

	rc := dialClient(t, ln)
	defer rc.conn.Close()
	ackServerSettings(t, rc)

	rc.sendHeaders(5, false, [][2]string{
		{":method", "POST"}, {":path", "/"}, {":scheme", "https"}, {":authority", "h"},
		{"content-length", "5"},
	})
	rc.sendData(5, []byte("1234567"), true)

	fr := readUntil(t, rc, func(f *http2.FrameHeader) bool {
		return f.Type() == http2.FrameResetStream && f.Stream() == 5
	})
	require.NotNil(t, fr, "expected RST_STREAM(5, PROTOCOL_ERROR) on content-length overrun")
	rst := fr.Body().(*http2.RstStream)
	require.Equal(t, http2.ProtocolError, rst.Code())
	http2.ReleaseFrameHeader(fr)

	rc.sendHeaders(7, true, [][2]string{
		{":method", "GET"}, {":path", "/ok"}, {":scheme", "https"}, {":authority", "h"},
	})
	ok := readUntil(t, rc, func(f *http2.FrameHeader) bool {
		return f.Type() == http2.FrameHeaders && f.Stream() == 7
	})
	require.NotNil(t, ok, "the connection must keep serving stream 7 after stream 5 is reset")
	http2.ReleaseFrameHeader(ok)
}

// TestSelfDependentPriorityIsRejected covers spec §8 scenario 4: a PRIORITY
// frame depending on its own stream id is a stream error, not a connection
// error, and creates no stream state.
func TestSelfDependentPriorityIsRejected(t *testing.T) {
	cfg := http2.NewConfig()
	ln, closeFn := launchScenarioServer(t, cfg, func(ctx *fasthttp.RequestCtx) {})
	defer closeFn()

	rc := dialClient(t, ln)
	defer rc.conn.Close()
	ackServerSettings(t, rc)

	rc.sendPriority(7, 7, 15)

	fr := readUntil(t, rc, func(f *http2.FrameHeader) bool {
		return f.Type() == http2.FrameResetStream && f.Stream() == 7
	})
	require.NotNil(t, fr, "expected RST_STREAM(7, PROTOCOL_ERROR)")
	rst := fr.Body().(*http2.RstStream)
	require.Equal(t, http2.ProtocolError, rst.Code())
	http2.ReleaseFrameHeader(fr)
}

// TestFlowControlViolationResetsStream covers spec §8 scenario 5: a DATA
// frame larger than the granted stream window is a stream-level
// FLOW_CONTROL_ERROR.
func TestFlowControlViolationResetsStream(t *testing.T) {
	cfg := http2.NewConfig(http2.WithInitialWindowSize(100))
	ln, closeFn := launchScenarioServer(t, cfg, func(ctx *fasthttp.RequestCtx) {})
	defer closeFn()

	rc := dialClient(t, ln)
	defer rc.conn.Close()
	ackServerSettings(t, rc)

	rc.sendHeaders(1, false, [][2]string{
		{":method", "POST"}, {":path", "/"}, {":scheme", "https"}, {":authority", "h"},
	})
	rc.sendData(1, make([]byte, 150), true)

	fr := readUntil(t, rc, func(f *http2.FrameHeader) bool {
		return f.Type() == http2.FrameResetStream && f.Stream() == 1
	})
	require.NotNil(t, fr, "expected RST_STREAM(1, FLOW_CONTROL_ERROR)")
	rst := fr.Body().(*http2.RstStream)
	require.Equal(t, http2.FlowControlError, rst.Code())
	http2.ReleaseFrameHeader(fr)
}

// TestContinuationInterleavingTearsDownConnection covers spec §8 scenario 6:
// any frame other than CONTINUATION on the same stream, while a HEADERS
// block is still open, is a connection error ending in exactly one GOAWAY.
func TestContinuationInterleavingTearsDownConnection(t *testing.T) {
	cfg := http2.NewConfig()
	ln, closeFn := launchScenarioServer(t, cfg, func(ctx *fasthttp.RequestCtx) {})
	defer closeFn()

	rc := dialClient(t, ln)
	defer rc.conn.Close()
	ackServerSettings(t, rc)

	frh := http2.AcquireFrameHeader()
	frh.SetStream(1)
	h := http2.AcquireFrame(http2.FrameHeaders).(*http2.Headers)
	hf := http2.AcquireHeaderField()
	hf.Set(":method", "GET")
	h.AppendHeaderField(rc.enc, hf, true)
	http2.ReleaseHeaderField(hf)
	h.SetEndHeaders(false)
	h.SetEndStream(true)
	frh.SetBody(h)
	frh.WriteTo(rc.bw)
	rc.bw.Flush()

	rc.sendPing([8]byte{1, 2, 3, 4, 5, 6, 7, 8})

	fr := readUntil(t, rc, func(f *http2.FrameHeader) bool {
		return f.Type() == http2.FrameGoAway
	})
	require.NotNil(t, fr, "expected a GOAWAY once a non-CONTINUATION frame interrupts an open header block")
	ga := fr.Body().(*http2.GoAway)
	require.Equal(t, http2.ProtocolError, ga.Code())
	http2.ReleaseFrameHeader(fr)
}
