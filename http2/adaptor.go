package http2

import (
	"strconv"

	"github.com/valyala/fasthttp"
)

// decodeHeadersInto feeds a finalized HPACK-encoded header block into req,
// switching on HTTP/2 pseudo-headers the way RFC 7540 §8.1.2.3 requires.
// Grounded on fasthttp2/server.go's OnFrame pseudo-header switch, updated
// to go through the HPACK wrapper in hpack.go instead of indexing into a
// raw []byte per call.
func decodeHeadersInto(hp *HPACK, raw []byte, req *fasthttp.Request) (scheme []byte, err error) {
	scheme = []byte("https")

	fields, err := hp.Next(raw)
	if err != nil {
		return scheme, err
	}

	for _, hf := range fields {
		k, v := hf.KeyBytes(), hf.ValueBytes()

		if !hf.IsPseudo() {
			req.Header.AddBytesKV(k, v)
			ReleaseHeaderField(hf)
			continue
		}

		switch k[1] {
		case 'm': // :method
			req.Header.SetMethodBytes(v)
		case 'p': // :path
			req.Header.SetRequestURIBytes(v)
		case 's': // :scheme
			scheme = append(scheme[:0], v...)
		case 'a': // :authority
			req.Header.SetHostBytes(v)
			req.Header.AddBytesV("Host", v)
		}
		ReleaseHeaderField(hf)
	}

	req.URI().SetSchemeBytes(scheme)

	return scheme, nil
}

// validatePseudoHeaders enforces spec §4.4.1's "Validate pseudo-headers
// :method, :path, :scheme; malformed headers -> Bad_request/PROTOCOL_ERROR".
func validatePseudoHeaders(req *fasthttp.Request) error {
	if len(req.Header.Method()) == 0 {
		return errBadRequest
	}
	if len(req.URI().Path()) == 0 && len(req.Header.RequestURI()) == 0 {
		return errBadRequest
	}
	return nil
}

// encodeResponseHeaders HPACK-encodes res's status line and header fields
// into h, ready to be sent as a HEADERS frame. Grounded on serverConn.go's
// fasthttpResponseHeaders, updated to drop Connection/Transfer-Encoding
// (forbidden over HTTP/2 per RFC 7540 §8.1.2.2) and to go through the new
// HPACK wrapper.
func encodeResponseHeaders(h *Headers, hp *HPACK, res *fasthttp.Response) {
	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	hf.SetKeyBytes(StringStatus)
	hf.SetValue(strconv.Itoa(res.StatusCode()))
	h.AppendHeaderField(hp, hf, true)

	if cl := res.Header.ContentLength(); cl >= 0 {
		hf.Reset()
		hf.SetKeyBytes(StringContentLength)
		hf.SetValue(strconv.Itoa(cl))
		h.AppendHeaderField(hp, hf, true)
	}

	res.Header.VisitAll(func(k, v []byte) {
		switch string(k) {
		case "Connection", "Transfer-Encoding", "Content-Length":
			return
		}

		hf.Reset()
		hf.SetKeyBytes(ToLower(append([]byte(nil), k...)))
		hf.SetValueBytes(v)
		h.AppendHeaderField(hp, hf, true)
	})
}

// encodePushPromiseHeaders HPACK-encodes the promised request's
// pseudo-headers into pp, per spec §4.4.12's create_push_stream.
func encodePushPromiseHeaders(pp *PushPromise, hp *HPACK, req *fasthttp.Request) {
	hf := AcquireHeaderField()
	defer ReleaseHeaderField(hf)

	hf.SetKeyBytes(StringMethod)
	hf.SetValueBytes(req.Header.Method())
	pp.AppendHeaderField(hp, hf, true)

	hf.Reset()
	hf.SetKeyBytes(StringPath)
	hf.SetValueBytes(req.URI().PathOriginal())
	pp.AppendHeaderField(hp, hf, true)

	hf.Reset()
	hf.SetKeyBytes(StringScheme)
	hf.SetValueBytes(req.URI().Scheme())
	pp.AppendHeaderField(hp, hf, true)

	hf.Reset()
	hf.SetKeyBytes(StringAuthority)
	hf.SetValueBytes(req.Header.Host())
	pp.AppendHeaderField(hp, hf, true)
}

var errBadRequest = newApplicationError("malformed pseudo-headers")

// applicationError is a Bad_request/Internal_server_error routed through
// the user error handler per spec §7's "Application error" category - it
// never becomes a ConnectionError on its own.
type applicationError struct{ msg string }

func newApplicationError(msg string) error { return &applicationError{msg: msg} }
func (e *applicationError) Error() string  { return "http2: " + e.msg }
