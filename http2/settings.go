package http2

import (
	"github.com/nullsum/h2engine/http2utils"
)

const FrameSettings FrameType = 0x4

var _ Frame = &Settings{}

// SETTINGS identifiers.
//
// https://tools.ietf.org/html/rfc7540#section-6.5.2
const (
	settingHeaderTableSize      uint16 = 0x1
	settingEnablePush           uint16 = 0x2
	settingMaxConcurrentStreams uint16 = 0x3
	settingInitialWindowSize    uint16 = 0x4
	settingMaxFrameSize         uint16 = 0x5
	settingMaxHeaderListSize    uint16 = 0x6
)

// RFC 7540 §6.5.2 defaults and bounds.
const (
	DefaultHeaderTableSize      = 4096
	DefaultMaxConcurrentStreams = 250 // no RFC default; teacher/spec pick a bound
	DefaultInitialWindowSize    = 65535
	DefaultMaxFrameSize         = 1 << 14
	maxMaxFrameSize             = 1<<24 - 1
	maxWindowSize               = 1<<31 - 1
)

// Settings represents a SETTINGS frame: either a set of parameter changes
// the peer is announcing, or (with Ack set) the empty acknowledgement of a
// previously sent one.
//
// A decoded Settings frame only carries the entries actually present on
// the wire (via ForEach); the connection engine is responsible for
// tracking each side's *effective* settings across frames (spec §3's
// "Settings" type) by folding each entry in as it arrives.
//
// https://tools.ietf.org/html/rfc7540#section-6.5
type Settings struct {
	ack     bool
	entries []settingEntry
}

type settingEntry struct {
	id  uint16
	val uint32
}

func (st *Settings) Type() FrameType {
	return FrameSettings
}

func (st *Settings) Reset() {
	st.ack = false
	st.entries = st.entries[:0]
}

// Ack reports whether this is a SETTINGS acknowledgement.
func (st *Settings) Ack() bool { return st.ack }

// SetAck marks this Settings frame as an acknowledgement. An ack frame
// carries no entries.
func (st *Settings) SetAck(ack bool) { st.ack = ack }

// ForEach calls f for every (identifier, value) pair present in the frame,
// in wire order, stopping early if f returns false.
func (st *Settings) ForEach(f func(id uint16, val uint32) bool) {
	for _, e := range st.entries {
		if !f(e.id, e.val) {
			return
		}
	}
}

func (st *Settings) add(id uint16, val uint32) {
	st.entries = append(st.entries, settingEntry{id: id, val: val})
}

// AddHeaderTableSize appends a SETTINGS_HEADER_TABLE_SIZE entry.
func (st *Settings) AddHeaderTableSize(v uint32) { st.add(settingHeaderTableSize, v) }

// AddEnablePush appends a SETTINGS_ENABLE_PUSH entry.
func (st *Settings) AddEnablePush(v bool) {
	n := uint32(0)
	if v {
		n = 1
	}
	st.add(settingEnablePush, n)
}

// AddMaxConcurrentStreams appends a SETTINGS_MAX_CONCURRENT_STREAMS entry.
func (st *Settings) AddMaxConcurrentStreams(v uint32) { st.add(settingMaxConcurrentStreams, v) }

// AddInitialWindowSize appends a SETTINGS_INITIAL_WINDOW_SIZE entry.
func (st *Settings) AddInitialWindowSize(v uint32) { st.add(settingInitialWindowSize, v) }

// AddMaxFrameSize appends a SETTINGS_MAX_FRAME_SIZE entry.
func (st *Settings) AddMaxFrameSize(v uint32) { st.add(settingMaxFrameSize, v) }

// AddMaxHeaderListSize appends a SETTINGS_MAX_HEADER_LIST_SIZE entry.
func (st *Settings) AddMaxHeaderListSize(v uint32) { st.add(settingMaxHeaderListSize, v) }

func (st *Settings) Deserialize(frh *FrameHeader) error {
	st.ack = frh.Flags().Has(FlagAck)

	payload := frh.payload
	if st.ack {
		if len(payload) != 0 {
			return NewConnectionError(FrameSizeError, "SETTINGS ack carries a payload")
		}
		return nil
	}

	if len(payload)%6 != 0 {
		return NewConnectionError(FrameSizeError, "SETTINGS payload not a multiple of 6")
	}

	for len(payload) > 0 {
		id := uint16(payload[0])<<8 | uint16(payload[1])
		val := http2utils.BytesToUint32(payload[2:6])

		if err := validateSetting(id, val); err != nil {
			return err
		}

		st.add(id, val)
		payload = payload[6:]
	}

	return nil
}

func validateSetting(id uint16, val uint32) error {
	switch id {
	case settingEnablePush:
		if val > 1 {
			return NewConnectionError(ProtocolError, "SETTINGS_ENABLE_PUSH out of range")
		}
	case settingInitialWindowSize:
		if val > maxWindowSize {
			return NewConnectionError(FlowControlError, "SETTINGS_INITIAL_WINDOW_SIZE exceeds 2^31-1")
		}
	case settingMaxFrameSize:
		if val < DefaultMaxFrameSize || val > maxMaxFrameSize {
			return NewConnectionError(ProtocolError, "SETTINGS_MAX_FRAME_SIZE out of range")
		}
	}
	return nil
}

// connSettings is one side's effective settings (spec §3: "each side
// tracks its own effective settings"), folded in as SETTINGS entries
// arrive rather than replayed from raw frames.
type connSettings struct {
	headerTableSize      uint32
	enablePush           bool
	maxConcurrentStreams uint32
	initialWindowSize    uint32
	maxFrameSize         uint32
	maxHeaderListSize    uint32
}

func defaultConnSettings() connSettings {
	return connSettings{
		headerTableSize:      DefaultHeaderTableSize,
		enablePush:           true,
		maxConcurrentStreams: DefaultMaxConcurrentStreams,
		initialWindowSize:    DefaultInitialWindowSize,
		maxFrameSize:         DefaultMaxFrameSize,
		maxHeaderListSize:    0, // 0 == unbounded
	}
}

func (st *Settings) Serialize(frh *FrameHeader) {
	frh.payload = frh.payload[:0]

	if st.ack {
		frh.SetFlags(frh.Flags().Add(FlagAck))
		return
	}

	for _, e := range st.entries {
		var buf [6]byte
		buf[0] = byte(e.id >> 8)
		buf[1] = byte(e.id)
		http2utils.Uint32ToBytes(buf[2:6], e.val)
		frh.payload = append(frh.payload, buf[:]...)
	}
}
