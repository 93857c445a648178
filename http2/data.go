package http2

import "github.com/nullsum/h2engine/http2utils"

// FrameData is RFC 7540 §6.1's frame type id.
const FrameData FrameType = 0x0

var _ Frame = &Data{}

// Data is a DATA frame: a chunk of a request or response body, optionally
// END_STREAM-flagged. The engine never emits PADDED frames itself, but
// Deserialize still has to strip padding a peer sent us.
//
// https://tools.ietf.org/html/rfc7540#section-6.1
type Data struct {
	endStream bool
	b         []byte
}

func (data *Data) Type() FrameType { return FrameData }

func (data *Data) Reset() {
	data.endStream = false
	data.b = data.b[:0]
}

func (data *Data) SetEndStream(value bool) { data.endStream = value }

func (data *Data) EndStream() bool { return data.endStream }

// Data returns the frame's body bytes.
func (data *Data) Data() []byte { return data.b }

// SetData replaces the frame's body bytes with b.
func (data *Data) SetData(b []byte) {
	data.b = append(data.b[:0], b...)
}

func (data *Data) Deserialize(fr *FrameHeader) error {
	payload := fr.payload

	if fr.Flags().Has(FlagPadded) {
		var err error
		payload, err = http2utils.CutPadding(payload, fr.Len())
		if err != nil {
			return err
		}
	}

	data.endStream = fr.Flags().Has(FlagEndStream)
	data.b = append(data.b[:0], payload...)

	return nil
}

func (data *Data) Serialize(fr *FrameHeader) {
	if data.endStream {
		fr.SetFlags(fr.Flags().Add(FlagEndStream))
	}
	fr.setPayload(data.b)
}
