package http2

// Pre-allocated byte forms of the header names/values the engine itself
// reads or writes, so the hot request/response path never allocates a
// string just to compare or set one of these.
var (
	StringStatus        = []byte(":status")
	StringMethod        = []byte(":method")
	StringPath          = []byte(":path")
	StringScheme        = []byte(":scheme")
	StringAuthority     = []byte(":authority")
	StringContentLength = []byte("content-length")
	StringHTTP2         = []byte("HTTP/2")
)

// ToLower lowercases b in place (HPACK/HTTP2 header names are always
// lowercase; fasthttp's incoming header casing is not guaranteed to be).
func ToLower(b []byte) []byte {
	for i := range b {
		if 'A' <= b[i] && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return b
}

// H2TLSProto is the ALPN protocol id ConfigureServer registers (RFC 7540
// §3.3).
const H2TLSProto = "h2"
