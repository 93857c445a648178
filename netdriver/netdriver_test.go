package netdriver_test

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/nullsum/h2engine/http2"
	"github.com/nullsum/h2engine/netdriver"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// rawClient drives the wire protocol by hand (no H2 client library),
// mirroring server_test.go's makeHeaders/writeFrame/readNext helpers from
// the teacher, adapted to Conn's externally-driven engine sitting behind
// netdriver.Serve.
type rawClient struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	enc  *http2.HPACK
}

func dialClient(t *testing.T, ln *fasthttputil.InmemoryListener) *rawClient {
	t.Helper()
	c, err := ln.Dial()
	require.NoError(t, err)

	rc := &rawClient{
		conn: c,
		br:   bufio.NewReader(c),
		bw:   bufio.NewWriter(c),
		enc:  http2.NewHPACK(),
	}

	_, err = rc.bw.Write([]byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"))
	require.NoError(t, err)
	require.NoError(t, rc.bw.Flush())

	return rc
}

func (rc *rawClient) sendHeaders(id uint32, endStream bool, hs [][2]string) {
	frh := http2.AcquireFrameHeader()
	frh.SetStream(id)

	h := http2.AcquireFrame(http2.FrameHeaders).(*http2.Headers)
	hf := http2.AcquireHeaderField()
	defer http2.ReleaseHeaderField(hf)

	for _, kv := range hs {
		hf.Set(kv[0], kv[1])
		h.AppendHeaderField(rc.enc, hf, kv[0][0] == ':')
	}

	h.SetEndHeaders(true)
	h.SetEndStream(endStream)
	frh.SetBody(h)

	frh.WriteTo(rc.bw)
	rc.bw.Flush()
}

func (rc *rawClient) readNext() (*http2.FrameHeader, error) {
	return http2.ReadFrameFromWithSize(rc.br, 0)
}

func TestServeConnGetEmptyBody(t *testing.T) {
	s := &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			require.Equal(t, "GET", string(ctx.Method()))
			require.Equal(t, "/hello", string(ctx.Path()))
			io.WriteString(ctx, "hello from h2")
		},
	}

	cfg := http2.NewConfig()
	serveConn := netdriver.ConfigureServer(s, cfg)

	ln := fasthttputil.NewInmemoryListener()
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(c)
		}
	}()

	rc := dialClient(t, ln)
	defer rc.conn.Close()

	// drain the server's preface SETTINGS frame before sending our request.
	fr, err := rc.readNext()
	require.NoError(t, err)
	require.Equal(t, http2.FrameSettings, fr.Type())
	http2.ReleaseFrameHeader(fr)

	rc.sendHeaders(1, true, [][2]string{
		{":method", "GET"},
		{":path", "/hello"},
		{":scheme", "https"},
		{":authority", "localhost"},
	})

	var gotHeaders, gotData bool
	deadline := time.Now().Add(2 * time.Second)
	for (!gotHeaders || !gotData) && time.Now().Before(deadline) {
		rc.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		fr, err := rc.readNext()
		if err != nil {
			continue
		}
		switch fr.Type() {
		case http2.FrameHeaders:
			gotHeaders = true
		case http2.FrameData:
			gotData = true
			data := fr.Body().(*http2.Data).Data()
			if len(data) > 0 {
				require.Equal(t, "hello from h2", string(data))
			}
		}
		http2.ReleaseFrameHeader(fr)
	}

	require.True(t, gotHeaders, "expected a HEADERS frame in the response")
	require.True(t, gotData, "expected at least one DATA frame in the response")
}
