package netdriver

import (
	"net"

	"github.com/nullsum/h2engine/http2"
	"github.com/valyala/fasthttp"
)

// ConfigureServer wires h2engine into s's ALPN negotiation, the same way
// fasthttp2/server.go's ConfigureServer calls s.NextProto(http2.H2TLSProto,
// ...). The returned func can also be invoked directly for h2c (plain-TCP,
// prior-knowledge) listeners that never go through fasthttp's TLS Serve
// path.
func ConfigureServer(s *fasthttp.Server, cfg *http2.Config, opts ...http2.Option) func(net.Conn) error {
	if cfg == nil {
		cfg = http2.NewConfig(opts...)
	}

	serveConn := func(c net.Conn) error {
		conn := http2.NewConn(cfg, s.Handler)
		return Serve(c, conn, cfg)
	}

	s.NextProto(http2.H2TLSProto, serveConn)

	return serveConn
}
