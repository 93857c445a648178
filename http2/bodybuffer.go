package http2

import (
	"bufio"
	"sync"

	"github.com/valyala/bytebufferpool"
)

// BodyBuffer is a single-producer, single-consumer byte conduit with an
// optional one-shot EOF notification, per spec §4.1. One instance backs
// either the request body (producer: connection engine, consumer: request
// handler) or the response body (producer: handler, consumer: the
// scheduler's flush path), never both.
//
// Grounded on serverConn.go's streamWrite (the chunked DATA-frame writer
// serving the response path); generalized here into the bidirectional
// buffer the spec names, backed by bytebufferpool instead of the teacher's
// ad hoc byte slice so pooled buffers are reused across requests.
type BodyBuffer struct {
	mu sync.Mutex

	buf *bytebufferpool.ByteBuffer
	// readOff is how far the consumer has already drained buf.
	readOff int

	closed     bool
	eofWritten bool // write_final_data_frame latch: fires exactly once

	// inFlight is not updated by any method. TransferToWriter advances
	// readOff as soon as it hands a chunk to the writer, so successive
	// calls never send the same bytes twice (spec §4.1's `buffered_bytes`
	// concern is covered by readOff, not by this field).
	inFlight int

	onReadEOF   func()
	onRead      func()
	readPending bool

	readyToWrite func()
}

var bodyBufferPool = sync.Pool{
	New: func() interface{} { return &BodyBuffer{} },
}

// AcquireBodyBuffer gets a BodyBuffer from the pool, wired to wake
// readyToWrite whenever new output becomes available. sizeHint
// pre-grows the backing buffer's capacity (spec §4.4.1's "allocate a
// request body buffer: content-length bytes if Fixed, else
// request_body_buffer_size from config"; §6's response_body_buffer_size
// is the analogous per-stream response allocation). A zero sizeHint
// leaves the pooled buffer's existing capacity alone.
func AcquireBodyBuffer(sizeHint int, readyToWrite func()) *BodyBuffer {
	bb := bodyBufferPool.Get().(*BodyBuffer)
	bb.buf = bytebufferpool.Get()
	if sizeHint > cap(bb.buf.B) {
		grown := make([]byte, sizeHint)
		bb.buf.B = grown[:0]
	}
	bb.readyToWrite = readyToWrite
	return bb
}

// ReleaseBodyBuffer resets bb and returns it (and its backing buffer) to
// their pools.
func ReleaseBodyBuffer(bb *BodyBuffer) {
	bytebufferpool.Put(bb.buf)
	*bb = BodyBuffer{}
	bodyBufferPool.Put(bb)
}

// Write appends p as body output and wakes any registered writer. Writes
// after close_writer fail silently (spec §4.1).
func (bb *BodyBuffer) Write(p []byte) (int, error) {
	bb.mu.Lock()
	if bb.closed {
		bb.mu.Unlock()
		return len(p), nil
	}
	bb.buf.B = append(bb.buf.B, p...)
	onRead, pending := bb.onRead, bb.readPending
	if pending {
		bb.readPending = false
		bb.onRead, bb.onReadEOF = nil, nil
	}
	bb.mu.Unlock()

	if pending && onRead != nil {
		onRead()
	}
	if bb.readyToWrite != nil {
		bb.readyToWrite()
	}
	return len(p), nil
}

// CloseWriter idempotently closes the producer side. Further writes fail
// silently; EOF becomes observable to both schedule_read and
// transfer_to_writer.
func (bb *BodyBuffer) CloseWriter() {
	bb.mu.Lock()
	if bb.closed {
		bb.mu.Unlock()
		return
	}
	bb.closed = true
	onEOF, pending := bb.onReadEOF, bb.readPending
	if pending {
		bb.readPending = false
		bb.onRead, bb.onReadEOF = nil, nil
	}
	bb.mu.Unlock()

	if pending && onEOF != nil {
		onEOF()
	}
	if bb.readyToWrite != nil {
		bb.readyToWrite()
	}
}

// closeReader is the consumer-facing counterpart invoked when a stream is
// reset or finished: it drops any pending data so a closed stream never
// reports requiresOutput again.
func (bb *BodyBuffer) closeReader() {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	bb.closed = true
	bb.buf.B = bb.buf.B[:0]
	bb.readOff = 0
}

// ScheduleRead registers a one-shot (on_eof, on_read) callback pair. If
// data is already buffered or the buffer is already closed, it dispatches
// immediately; otherwise the callbacks fire on the next Write/CloseWriter.
// Re-entrant scheduling while a read is pending is an error (spec §4.1).
func (bb *BodyBuffer) ScheduleRead(onEOF, onRead func()) error {
	bb.mu.Lock()

	if bb.readPending {
		bb.mu.Unlock()
		return ErrReadWhilePending
	}

	hasData := bb.readOff < len(bb.buf.B)
	closed := bb.closed

	if !hasData && !closed {
		bb.onReadEOF = onEOF
		bb.onRead = onRead
		bb.readPending = true
		bb.mu.Unlock()
		return nil
	}
	bb.mu.Unlock()

	switch {
	case hasData:
		if onRead != nil {
			onRead()
		}
	case closed:
		if onEOF != nil {
			onEOF()
		}
	}
	return nil
}

// Read drains up to len(p) buffered bytes without blocking; it never waits
// for more data to arrive (use ScheduleRead for that).
func (bb *BodyBuffer) Read(p []byte) (int, error) {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	n := copy(p, bb.buf.B[bb.readOff:])
	bb.readOff += n

	if n == 0 && bb.closed {
		return 0, errEOFBody
	}
	return n, nil
}

func (bb *BodyBuffer) buffered() int {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return len(bb.buf.B) - bb.readOff
}

func (bb *BodyBuffer) finalFrameSent() bool {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return bb.eofWritten
}

// dataChunkSize bounds how many body bytes go into a single DATA frame
// absent a tighter negotiated max frame size, mirroring serverConn.go's
// streamWrite chunking constant.
const dataChunkSize = 1 << 14

// TransferToWriter drains up to maxBytes worth of pending output from bb
// into DATA frames (via bw) bounded by maxFrameSize, honoring the stream's
// outbound flow-control credit (debited by the caller through window).
// When bb is closed and drained, emits exactly one empty DATA frame with
// END_STREAM latched by eofWritten, even at zero credit. Returns the
// number of payload bytes written.
//
// Spec §4.1's `transfer_to_writer`.
func (bb *BodyBuffer) TransferToWriter(bw *bufio.Writer, streamID uint32, maxFrameSize uint32, maxBytes int64) (int64, error) {
	bb.mu.Lock()

	if maxFrameSize == 0 || maxFrameSize > dataChunkSize {
		maxFrameSize = dataChunkSize
	}

	var written int64

	for {
		avail := int64(len(bb.buf.B) - bb.readOff)
		if avail <= 0 {
			break
		}
		n := avail
		if n > maxBytes-written {
			n = maxBytes - written
		}
		if n <= 0 {
			break
		}
		if n > int64(maxFrameSize) {
			n = int64(maxFrameSize)
		}

		chunk := bb.buf.B[bb.readOff : bb.readOff+int(n)]
		bb.readOff += int(n)
		bb.mu.Unlock()

		if err := writeDataFrame(bw, streamID, chunk, false); err != nil {
			return written, err
		}
		written += n
		bb.mu.Lock()
	}

	emitFinal := bb.closed && bb.readOff >= len(bb.buf.B) && !bb.eofWritten
	if emitFinal {
		bb.eofWritten = true
	}
	bb.mu.Unlock()

	if emitFinal {
		if err := writeDataFrame(bw, streamID, nil, true); err != nil {
			return written, err
		}
	}

	return written, nil
}

func writeDataFrame(bw *bufio.Writer, streamID uint32, chunk []byte, endStream bool) error {
	frh := AcquireFrameHeader()
	defer ReleaseFrameHeader(frh)

	frh.SetStream(streamID)
	data := AcquireFrame(FrameData).(*Data)
	data.SetData(chunk)
	data.SetEndStream(endStream)
	frh.SetBody(data)

	_, err := frh.WriteTo(bw)
	return err
}
