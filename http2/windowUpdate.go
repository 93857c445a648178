package http2

import "github.com/nullsum/h2engine/http2utils"

// FrameWindowUpdate is RFC 7540 §6.9's frame type id.
const FrameWindowUpdate FrameType = 0x8

var _ Frame = &WindowUpdate{}

// WindowUpdate carries one flow-control credit increment, either for a
// stream (non-zero FrameHeader.Stream()) or the connection as a whole
// (stream id 0).
//
// https://tools.ietf.org/html/rfc7540#section-6.9
type WindowUpdate struct {
	increment int
}

func (wu *WindowUpdate) Type() FrameType { return FrameWindowUpdate }

func (wu *WindowUpdate) Reset() { wu.increment = 0 }

// Increment returns the window-size increment (RFC 7540 §6.9's 31-bit,
// always-positive field).
func (wu *WindowUpdate) Increment() int { return wu.increment }

// SetIncrement sets the window-size increment.
func (wu *WindowUpdate) SetIncrement(increment int) { wu.increment = increment }

func (wu *WindowUpdate) Deserialize(fr *FrameHeader) error {
	if len(fr.payload) < 4 {
		wu.increment = 0
		return ErrMissingBytes
	}
	wu.increment = int(http2utils.BytesToUint32(fr.payload) & (1<<31 - 1))
	return nil
}

func (wu *WindowUpdate) Serialize(fr *FrameHeader) {
	fr.payload = http2utils.AppendUint32Bytes(fr.payload[:0], uint32(wu.increment))
	fr.length = 4
}
