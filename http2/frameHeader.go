package http2

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"github.com/nullsum/h2engine/http2utils"
)

const (
	// DefaultFrameSize is the fixed 9-byte size of a frame header.
	//
	// https://tools.ietf.org/html/rfc7540#section-4.1
	DefaultFrameSize = 9

	// defaultMaxLen is the SETTINGS_MAX_FRAME_SIZE default.
	//
	// https://tools.ietf.org/html/rfc7540#section-6.5.2
	defaultMaxLen = 1 << 14

	FlagAck        FrameFlags = 0x1
	FlagEndStream  FrameFlags = 0x1
	FlagEndHeaders FrameFlags = 0x4
	FlagPadded     FrameFlags = 0x8
	FlagPriority   FrameFlags = 0x20
)

var frameHeaderPool = sync.Pool{
	New: func() interface{} {
		return &FrameHeader{}
	},
}

// FrameHeader is the wire representation of an HTTP/2 frame: the 9-byte
// fixed header plus whichever Frame body its Type selects.
//
// Use AcquireFrameHeader/ReleaseFrameHeader to pool FrameHeader instances.
// A FrameHeader MUST NOT be used from more than one goroutine at a time.
//
// https://tools.ietf.org/html/rfc7540#section-4.1
type FrameHeader struct {
	length int        // 24 bits
	kind   FrameType  // 8 bits
	flags  FrameFlags // 8 bits
	stream uint32     // 31 bits

	maxLen uint32

	rawHeader [DefaultFrameSize]byte
	payload   []byte

	fr Frame
}

// AcquireFrameHeader gets a FrameHeader from the pool.
func AcquireFrameHeader() *FrameHeader {
	frh := frameHeaderPool.Get().(*FrameHeader)
	frh.Reset()
	return frh
}

// ReleaseFrameHeader releases frh's body back to its pool and returns frh to
// the FrameHeader pool.
func ReleaseFrameHeader(frh *FrameHeader) {
	ReleaseFrame(frh.fr)
	frh.fr = nil
	frameHeaderPool.Put(frh)
}

// Reset resets frh so it can be reused for a new frame.
func (frh *FrameHeader) Reset() {
	frh.kind = 0
	frh.flags = 0
	frh.stream = 0
	frh.length = 0
	frh.maxLen = defaultMaxLen
	frh.fr = nil
	frh.payload = frh.payload[:0]
}

// Type returns the frame type.
func (frh *FrameHeader) Type() FrameType { return frh.kind }

// Flags returns the frame's flags bitset.
func (frh *FrameHeader) Flags() FrameFlags { return frh.flags }

// SetFlags replaces frh's flags bitset.
func (frh *FrameHeader) SetFlags(flags FrameFlags) { frh.flags = flags }

// Stream returns the stream id the frame belongs to (0 for connection-level
// frames).
func (frh *FrameHeader) Stream() uint32 { return frh.stream }

// SetStream sets the stream id.
func (frh *FrameHeader) SetStream(stream uint32) { frh.stream = stream & (1<<31 - 1) }

// Len returns the payload length as last parsed/serialized.
func (frh *FrameHeader) Len() int { return frh.length }

// MaxLen returns the maximum payload length this FrameHeader will accept
// when reading (the negotiated SETTINGS_MAX_FRAME_SIZE).
func (frh *FrameHeader) MaxLen() uint32 { return frh.maxLen }

// SetMaxLen sets the maximum payload length this FrameHeader will accept.
func (frh *FrameHeader) SetMaxLen(max uint32) { frh.maxLen = max }

// Body returns the frame's typed payload.
func (frh *FrameHeader) Body() Frame { return frh.fr }

// SetBody attaches fr as frh's payload, deriving frh's Type from it.
func (frh *FrameHeader) SetBody(fr Frame) {
	if fr == nil {
		panic("http2: FrameHeader body cannot be nil")
	}
	frh.kind = fr.Type()
	frh.fr = fr
}

func (frh *FrameHeader) parseValues(header []byte) {
	frh.length = int(http2utils.BytesToUint24(header[:3]))
	frh.kind = FrameType(header[3])
	frh.flags = FrameFlags(header[4])
	frh.stream = http2utils.BytesToUint32(header[5:]) & (1<<31 - 1)
}

func (frh *FrameHeader) buildHeader(header []byte) {
	http2utils.Uint24ToBytes(header[:3], uint32(frh.length))
	header[3] = byte(frh.kind)
	header[4] = byte(frh.flags)
	http2utils.Uint32ToBytes(header[5:], frh.stream)
}

// ReadFrameFrom reads and decodes one frame from br.
func ReadFrameFrom(br *bufio.Reader) (*FrameHeader, error) {
	return ReadFrameFromWithSize(br, 0)
}

// ReadFrameFromWithSize reads and decodes one frame from br, rejecting any
// payload longer than max (0 disables the check).
func ReadFrameFromWithSize(br *bufio.Reader, max uint32) (*FrameHeader, error) {
	frh := AcquireFrameHeader()
	frh.maxLen = max

	_, err := frh.readFrom(br)
	if err != nil {
		if frh.fr != nil {
			ReleaseFrameHeader(frh)
		} else {
			frameHeaderPool.Put(frh)
		}
		return nil, err
	}

	return frh, nil
}

func (frh *FrameHeader) checkLen() error {
	if frh.maxLen != 0 && frh.length > int(frh.maxLen) {
		return ErrPayloadExceeds
	}
	return nil
}

func (frh *FrameHeader) readFrom(br *bufio.Reader) (int64, error) {
	header, err := br.Peek(DefaultFrameSize)
	if err != nil {
		return -1, err
	}
	if _, err := br.Discard(DefaultFrameSize); err != nil {
		return -1, err
	}

	rn := int64(DefaultFrameSize)

	frh.parseValues(header)
	if err := frh.checkLen(); err != nil {
		return rn, err
	}

	if frh.kind > maxFrameType {
		if _, err := br.Discard(frh.length); err != nil {
			return rn, err
		}
		return rn, ErrUnknownFrameType
	}

	frh.fr = AcquireFrame(frh.kind)

	if frh.length > 0 {
		n := frh.length
		if n < 0 {
			panic(fmt.Sprintf("http2: negative frame length %d", n))
		}

		frh.payload = http2utils.Resize(frh.payload, n)

		rd, err := io.ReadFull(br, frh.payload[:n])
		rn += int64(rd)
		if err != nil {
			return rn, err
		}
	}

	return rn, frh.fr.Deserialize(frh)
}

// WriteTo serializes frh's body and writes header + payload to bw.
func (frh *FrameHeader) WriteTo(bw *bufio.Writer) (int64, error) {
	frh.fr.Serialize(frh)

	frh.length = len(frh.payload)
	frh.buildHeader(frh.rawHeader[:])

	var wb int64
	n, err := bw.Write(frh.rawHeader[:])
	wb += int64(n)
	if err != nil {
		return wb, err
	}

	n, err = bw.Write(frh.payload)
	wb += int64(n)
	return wb, err
}

func (frh *FrameHeader) setPayload(payload []byte) {
	frh.payload = append(frh.payload[:0], payload...)
}

func (frh *FrameHeader) appendCheckingLen(dst, src []byte) ([]byte, error) {
	if frh.maxLen > 0 && uint32(len(src)+len(dst)) > frh.maxLen {
		return dst, ErrPayloadExceeds
	}
	dst = append(dst, src...)
	frh.length = len(dst)
	return dst, nil
}
