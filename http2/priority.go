package http2

import "github.com/nullsum/h2engine/http2utils"

// FramePriority is RFC 7540 §6.3's frame type id.
const FramePriority FrameType = 0x2

var _ Frame = &Priority{}

// Priority is a PRIORITY frame: a dependency/weight pair the scheduler
// feeds straight into Scheduler.Reprioritize or Scheduler.Add. The engine
// itself never emits one (it doesn't reprioritize its own responses);
// Serialize/SetStream/SetWeight exist for test harnesses driving the wire
// protocol by hand, the same way the engine's own raw client test helpers
// build HEADERS frames.
//
// https://tools.ietf.org/html/rfc7540#section-6.3
type Priority struct {
	stream uint32
	weight byte
}

func (pry *Priority) Type() FrameType { return FramePriority }

func (pry *Priority) Reset() {
	pry.stream = 0
	pry.weight = 0
}

// Stream returns the stream id this frame's subject depends on.
func (pry *Priority) Stream() uint32 { return pry.stream }

// SetStream sets the stream id this frame's subject depends on.
func (pry *Priority) SetStream(stream uint32) { pry.stream = stream & (1<<31 - 1) }

// Weight returns the weight byte exactly as carried on the wire (0-255,
// i.e. RFC 7540 §5.3's 1-256 weight minus one).
func (pry *Priority) Weight() byte { return pry.weight }

// SetWeight sets the dependency weight.
func (pry *Priority) SetWeight(w byte) { pry.weight = w }

func (pry *Priority) Deserialize(fr *FrameHeader) error {
	if len(fr.payload) < 5 {
		return ErrMissingBytes
	}
	pry.stream = http2utils.BytesToUint32(fr.payload) & (1<<31 - 1)
	pry.weight = fr.payload[4]
	return nil
}

func (pry *Priority) Serialize(fr *FrameHeader) {
	fr.payload = http2utils.AppendUint32Bytes(fr.payload[:0], pry.stream)
	fr.payload = append(fr.payload, pry.weight)
}
