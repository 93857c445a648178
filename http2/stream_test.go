package http2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamBeginsIdle(t *testing.T) {
	s := NewStream(1, DefaultMaxFrameSize, nil, nil)
	require.Equal(t, StreamIdle, s.State())
	require.Equal(t, int64(-1), s.contentLength)
}

func TestStreamOpensOnPartialHeaders(t *testing.T) {
	s := NewStream(1, DefaultMaxFrameSize, nil, nil)
	s.beginPartialHeaders(false, false, false, 0)
	require.Equal(t, StreamOpen, s.State())
	require.Equal(t, PhasePartialHeaders, s.Phase())

	s.finishHeaders()
	require.Equal(t, PhaseFullHeaders, s.Phase())
	require.Nil(t, s.headers)
}

func TestStreamHalfClosedOnlyFromOpen(t *testing.T) {
	s := NewStream(1, DefaultMaxFrameSize, nil, nil)
	s.markHalfClosed()
	require.Equal(t, StreamIdle, s.State(), "markHalfClosed must not fire from Idle")

	s.beginPartialHeaders(true, true, false, 0)
	s.markHalfClosed()
	require.Equal(t, StreamHalfClosed, s.State())
}

// TestStreamFinishIsIdempotent covers spec §8's "repeated finish_stream(Closed{...})
// is a no-op after the first": onClose must fire exactly once, and the reason/code
// recorded by the first call must survive a later call with different arguments.
func TestStreamFinishIsIdempotent(t *testing.T) {
	closes := 0
	s := NewStream(1, DefaultMaxFrameSize, nil, func(*Stream) { closes++ })

	s.finish(ClosedResetByUs, FlowControlError)
	require.Equal(t, StreamClosed, s.State())
	require.Equal(t, ClosedResetByUs, s.ClosedReason())
	require.Equal(t, 1, closes)

	s.finish(ClosedFinished, NoError)
	require.Equal(t, ClosedResetByUs, s.ClosedReason(), "second finish must not overwrite the first reason")
	require.Equal(t, 1, closes, "onClose must not fire twice")
}

func TestStreamResetStreamAndResetByThem(t *testing.T) {
	s := NewStream(1, DefaultMaxFrameSize, nil, nil)
	s.resetStream(CancelError)
	require.Equal(t, StreamClosed, s.State())
	require.Equal(t, ClosedResetByUs, s.ClosedReason())
	require.Equal(t, CancelError, s.closedCode)

	other := NewStream(3, DefaultMaxFrameSize, nil, nil)
	other.resetByThem(ProtocolError)
	require.Equal(t, ClosedResetByThem, other.ClosedReason())
}

// TestStreamWindowBoundsRejectOverflow covers spec §8's invariant that
// outbound/inbound windows never exceed 2^31-1.
func TestStreamWindowBoundsRejectOverflow(t *testing.T) {
	s := NewStream(1, DefaultMaxFrameSize, nil, nil)
	s.outboundWindow = maxWindowSize - 10

	ok := s.addOutboundWindow(5)
	require.True(t, ok)
	require.Equal(t, int64(maxWindowSize-5), s.outboundWindow)

	ok = s.addOutboundWindow(10)
	require.False(t, ok, "a delta pushing outboundWindow past 2^31-1 must be rejected")
	require.Equal(t, int64(maxWindowSize-5), s.outboundWindow, "rejected delta must not be applied")

	s.inboundWindow = maxWindowSize
	require.False(t, s.addInboundWindow(1))
}

func TestStreamDeductInboundWindow(t *testing.T) {
	s := NewStream(1, DefaultMaxFrameSize, nil, nil)
	s.inboundWindow = 100
	s.deductInboundWindow(150)
	require.Equal(t, int64(-50), s.inboundWindow, "deduction past zero is the caller's flow-control violation to detect")
}

func TestStreamRequiresOutput(t *testing.T) {
	s := NewStream(1, DefaultMaxFrameSize, nil, nil)
	require.False(t, s.requiresOutput(), "a stream with no body is never pending output")

	body := AcquireBodyBuffer(0, nil)
	defer ReleaseBodyBuffer(body)
	s.body = body
	require.True(t, s.requiresOutput(), "an open body buffer with no final frame sent still requires output")

	body.CloseWriter()
	bw, _ := newTestWriter()
	_, err := body.TransferToWriter(bw, s.id, s.maxFrameSize, maxWindowSize)
	require.NoError(t, bw.Flush())
	require.NoError(t, err)
	require.False(t, s.requiresOutput(), "once the final empty DATA frame latches, no further output is required")
}
