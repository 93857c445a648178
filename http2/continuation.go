package http2

// FrameContinuation is RFC 7540 §6.10's frame type id.
const FrameContinuation FrameType = 0x9

var (
	_ Frame            = &Continuation{}
	_ FrameWithHeaders = &Continuation{}
)

// Continuation carries the overflow of a header block that didn't fit in
// a single HEADERS (or PUSH_PROMISE) frame. The engine only ever receives
// these - it never splits an outgoing header block across frames itself,
// so Serialize exists only to satisfy Frame.
//
// https://tools.ietf.org/html/rfc7540#section-6.10
type Continuation struct {
	endHeaders bool
	rawHeaders []byte
}

func (c *Continuation) Type() FrameType { return FrameContinuation }

func (c *Continuation) Reset() {
	c.endHeaders = false
	c.rawHeaders = c.rawHeaders[:0]
}

// Headers returns the raw header block fragment carried by this frame.
func (c *Continuation) Headers() []byte { return c.rawHeaders }

// EndHeaders reports whether this frame closes the header block
// (RFC 7540 §6.10's END_HEADERS flag).
func (c *Continuation) EndHeaders() bool { return c.endHeaders }

func (c *Continuation) Deserialize(fr *FrameHeader) error {
	c.endHeaders = fr.Flags().Has(FlagEndHeaders)
	c.rawHeaders = append(c.rawHeaders[:0], fr.payload...)
	return nil
}

func (c *Continuation) Serialize(fr *FrameHeader) {
	if c.endHeaders {
		fr.SetFlags(fr.Flags().Add(FlagEndHeaders))
	}
	fr.setPayload(c.rawHeaders)
}
