package http2

import "github.com/nullsum/h2engine/http2utils"

// FramePushPromise is RFC 7540 §6.6's frame type id.
const FramePushPromise FrameType = 0x5

var _ Frame = &PushPromise{}

// PushPromise announces a pushed stream's promised request on the stream
// that triggered it (CreatePushStream is the only place that builds one
// for writing). The engine never expects to receive a PUSH_PROMISE - a
// client sending one is a protocol violation - but Deserialize still
// parses defensively instead of panicking on a malformed frame.
//
// https://tools.ietf.org/html/rfc7540#section-6.6
type PushPromise struct {
	stream uint32 // promised (pushed) stream id
	header []byte
}

func (pp *PushPromise) Type() FrameType { return FramePushPromise }

func (pp *PushPromise) Reset() {
	pp.stream = 0
	pp.header = pp.header[:0]
}

// Stream returns the promised stream id.
func (pp *PushPromise) Stream() uint32 { return pp.stream }

// SetStream sets the promised stream id.
func (pp *PushPromise) SetStream(stream uint32) { pp.stream = stream & (1<<31 - 1) }

// AppendHeaderField HPACK-encodes hf via hp and appends it to the frame's
// header block, mirroring Headers.AppendHeaderField.
func (pp *PushPromise) AppendHeaderField(hp *HPACK, hf *HeaderField, store bool) {
	pp.header = hp.AppendHeader(pp.header, hf, store)
}

func (pp *PushPromise) Deserialize(fr *FrameHeader) error {
	payload := fr.payload

	if fr.Flags().Has(FlagPadded) {
		var err error
		payload, err = http2utils.CutPadding(payload, fr.Len())
		if err != nil {
			return err
		}
	}

	if len(payload) < 4 {
		return ErrMissingBytes
	}

	pp.stream = http2utils.BytesToUint32(payload) & (1<<31 - 1)
	pp.header = append(pp.header[:0], payload[4:]...)

	return nil
}

// Serialize always emits the full header block in this one frame with
// END_HEADERS set - the engine never splits a push promise's headers
// across a following CONTINUATION.
func (pp *PushPromise) Serialize(fr *FrameHeader) {
	fr.SetFlags(fr.Flags().Add(FlagEndHeaders))

	var streamBuf [4]byte
	http2utils.Uint32ToBytes(streamBuf[:], pp.stream)

	fr.payload = append(fr.payload[:0], streamBuf[:]...)
	fr.payload = append(fr.payload, pp.header...)
}
