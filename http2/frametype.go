package http2

import (
	"fmt"
	"sync"
)

// FrameType is the one-byte frame type field of an HTTP/2 frame header.
//
// https://tools.ietf.org/html/rfc7540#section-11.2
type FrameType uint8

const (
	minFrameType FrameType = 0x0
	maxFrameType FrameType = 0x9
)

var frameTypeNames = map[FrameType]string{
	FrameData:         "DATA",
	FrameHeaders:      "HEADERS",
	FramePriority:     "PRIORITY",
	FrameResetStream:  "RST_STREAM",
	FrameSettings:     "SETTINGS",
	FramePushPromise:  "PUSH_PROMISE",
	FramePing:         "PING",
	FrameGoAway:       "GOAWAY",
	FrameWindowUpdate: "WINDOW_UPDATE",
	FrameContinuation: "CONTINUATION",
}

func (t FrameType) String() string {
	if s, ok := frameTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN_FRAME_TYPE_%d", uint8(t))
}

// FrameFlags is the flags bitset carried in a frame header. The meaning of
// each bit depends on the frame Type; see the individual frame files.
type FrameFlags uint8

// Has reports whether f contains all the bits set in v.
func (f FrameFlags) Has(v FrameFlags) bool {
	return (f & v) == v
}

// Add returns f with the bits of v set.
func (f FrameFlags) Add(v FrameFlags) FrameFlags {
	return f | v
}

// Delete returns f with the bits of v cleared.
func (f FrameFlags) Delete(v FrameFlags) FrameFlags {
	return f &^ v
}

// Frame is satisfied by every frame payload type (Headers, Data, Settings,
// ...). A FrameHeader owns exactly one Frame at a time, acquired from the
// pool matching its Type.
//
// A Frame instance MUST NOT be used by more than one goroutine concurrently;
// the engine itself is single-threaded (see the Connection engine docs) so
// this is a non-issue for the core, but driver code pooling Frames across
// connections must respect it.
type Frame interface {
	Type() FrameType
	Reset()
	// Deserialize populates the frame from frh's raw payload and flags.
	Deserialize(frh *FrameHeader) error
	// Serialize writes the frame's fields into frh's flags/payload ready
	// for wire encoding.
	Serialize(frh *FrameHeader)
}

var framePools = [maxFrameType + 1]*sync.Pool{
	FrameData:         {New: func() interface{} { return &Data{} }},
	FrameHeaders:      {New: func() interface{} { return &Headers{} }},
	FramePriority:     {New: func() interface{} { return &Priority{} }},
	FrameResetStream:  {New: func() interface{} { return &RstStream{} }},
	FrameSettings:     {New: func() interface{} { return &Settings{} }},
	FramePushPromise:  {New: func() interface{} { return &PushPromise{} }},
	FramePing:         {New: func() interface{} { return &Ping{} }},
	FrameGoAway:       {New: func() interface{} { return &GoAway{} }},
	FrameWindowUpdate: {New: func() interface{} { return &WindowUpdate{} }},
	FrameContinuation: {New: func() interface{} { return &Continuation{} }},
}

// AcquireFrame returns a pooled Frame implementation for t. The caller must
// call ReleaseFrame once it is done with it (FrameHeader does this for you
// via ReleaseFrameHeader).
func AcquireFrame(t FrameType) Frame {
	if t > maxFrameType {
		return nil
	}
	return framePools[t].Get().(Frame)
}

// ReleaseFrame resets fr and returns it to its type's pool.
func ReleaseFrame(fr Frame) {
	if fr == nil {
		return
	}
	fr.Reset()
	framePools[fr.Type()].Put(fr)
}
