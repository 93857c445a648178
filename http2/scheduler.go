package http2

import "bufio"

// schedNode is one entry in the Scheduler's dense node vector: either a
// live stream (or the connection root at index 0) or a free slot linked
// into the free list via nextFree.
//
// Per spec §9's Design Note: "use indices into a dense vector plus a free
// list, not owned pointers, to avoid ownership cycles and make iter
// cheap". Grounded on priority.go's (stream, weight) pair, generalized
// into a reparentable tree instead of the teacher's flat sorted slice
// (streams.go), which never modeled priority dependencies at all.
type schedNode struct {
	streamID uint32
	strm     *Stream // nil for the root and for free slots

	parent   int
	weight   uint8
	children []int

	flow   int64 // outbound credit mirror, connection root only meaningful
	inflow int64 // inbound credit mirror, connection root only meaningful

	markedForRemoval bool
	free             bool
	nextFree         int
}

const rootNode = 0

// Scheduler is the priority tree rooted at the connection pseudo-node
// (spec §4.3). It owns no I/O; Flush drains each stream's BodyBuffer
// through frame writes subject to flow-control and priority order.
type Scheduler struct {
	nodes    []schedNode
	byID     map[uint32]int
	freeHead int

	maxClientStreamID uint32
	maxPushedStreamID uint32
}

// NewScheduler builds a scheduler with just the connection root node.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		byID:     make(map[uint32]int),
		freeHead: -1,
	}
	s.nodes = append(s.nodes, schedNode{parent: -1})
	return s
}

func (s *Scheduler) allocNode() int {
	if s.freeHead != -1 {
		i := s.freeHead
		s.freeHead = s.nodes[i].nextFree
		s.nodes[i] = schedNode{}
		return i
	}
	s.nodes = append(s.nodes, schedNode{})
	return len(s.nodes) - 1
}

// Add inserts strm into the tree as a child of dependsOn (0 for the root)
// with the given weight, recording its initial outbound/inbound window.
// Spec §4.3's `add(streams, stream, priority?, initial_window_size)`.
func (s *Scheduler) Add(strm *Stream, dependsOn uint32, weight uint8, initialWindowSize int32) {
	i := s.allocNode()
	parent := rootNode
	if p, ok := s.byID[dependsOn]; ok {
		parent = p
	}

	s.nodes[i] = schedNode{
		streamID: strm.id,
		strm:     strm,
		parent:   parent,
		weight:   weight,
	}
	s.nodes[parent].children = append(s.nodes[parent].children, i)
	s.byID[strm.id] = i

	strm.node = i
	strm.weight = weight
	strm.parent = dependsOn
	strm.outboundWindow = int64(initialWindowSize)
	strm.inboundWindow = int64(initialWindowSize)

	if strm.id%2 == 1 {
		if strm.id > s.maxClientStreamID {
			// maxClientStreamID is only advanced on successful header
			// decode (spec §4.4.1), not here - Add only tracks the node.
		}
	} else if strm.id > s.maxPushedStreamID {
		s.maxPushedStreamID = strm.id
	}
}

// GetNode reports whether id has a node (stream or otherwise) in the tree.
func (s *Scheduler) GetNode(id uint32) (int, bool) {
	i, ok := s.byID[id]
	return i, ok
}

// Find unwraps a node id to its Stream descriptor, per spec §4.3's `find`.
func (s *Scheduler) Find(id uint32) *Stream {
	i, ok := s.byID[id]
	if !ok {
		return nil
	}
	return s.nodes[i].strm
}

// Reprioritize updates weight and parent link for id, detecting the
// "depend on self" illegal input the caller must reject before calling
// this (spec §4.3's `reprioritize_stream`).
func (s *Scheduler) Reprioritize(id, dependsOn uint32, weight uint8, exclusive bool) error {
	if id == dependsOn {
		return NewStreamError(id, ProtocolError)
	}

	i, ok := s.byID[id]
	if !ok {
		return nil
	}

	newParent := rootNode
	if p, ok := s.byID[dependsOn]; ok {
		newParent = p
	}

	oldParent := s.nodes[i].parent
	if oldParent >= 0 {
		s.removeChild(oldParent, i)
	}

	s.nodes[i].parent = newParent
	s.nodes[i].weight = weight
	if s.nodes[i].strm != nil {
		s.nodes[i].strm.parent = dependsOn
		s.nodes[i].strm.weight = weight
	}

	if exclusive {
		for _, c := range s.nodes[newParent].children {
			if c != i {
				s.nodes[c].parent = i
				s.nodes[i].children = append(s.nodes[i].children, c)
			}
		}
		s.nodes[newParent].children = []int{i}
	} else {
		s.nodes[newParent].children = append(s.nodes[newParent].children, i)
	}

	return nil
}

func (s *Scheduler) removeChild(parent, child int) {
	c := s.nodes[parent].children
	for idx, v := range c {
		if v == child {
			s.nodes[parent].children = append(c[:idx], c[idx+1:]...)
			return
		}
	}
}

// AddFlow increases node's outbound window, returning false iff the result
// would exceed 2^31-1.
func (s *Scheduler) AddFlow(id uint32, delta int64) bool {
	i := s.resolve(id)
	n := s.nodes[i].flow + delta
	if id == 0 {
		if n > maxWindowSize {
			return false
		}
		s.nodes[i].flow = n
		return true
	}
	strm := s.nodes[i].strm
	if strm == nil {
		return true
	}
	return strm.addOutboundWindow(delta)
}

// AddInflow mirrors AddFlow for the inbound direction.
func (s *Scheduler) AddInflow(id uint32, delta int64) bool {
	i := s.resolve(id)
	if id == 0 {
		n := s.nodes[i].inflow + delta
		if n > maxWindowSize {
			return false
		}
		s.nodes[i].inflow = n
		return true
	}
	strm := s.nodes[i].strm
	if strm == nil {
		return true
	}
	return strm.addInboundWindow(delta)
}

// DeductInflow decreases node's inbound window by n bytes.
func (s *Scheduler) DeductInflow(id uint32, n int64) {
	i := s.resolve(id)
	if id == 0 {
		s.nodes[i].inflow -= n
		return
	}
	if strm := s.nodes[i].strm; strm != nil {
		strm.deductInboundWindow(n)
	}
}

// ConnectionInflow returns the connection-level inbound window.
func (s *Scheduler) ConnectionInflow() int64 { return s.nodes[rootNode].inflow }

// ConnectionFlow returns the connection-level outbound window.
func (s *Scheduler) ConnectionFlow() int64 { return s.nodes[rootNode].flow }

// AllowedToReceive reports whether both the connection and stream inbound
// windows admit n more bytes (spec §4.3's `allowed_to_receive`).
func (s *Scheduler) AllowedToReceive(id uint32, n int64) bool {
	if s.nodes[rootNode].inflow < n {
		return false
	}
	i, ok := s.byID[id]
	if !ok {
		return true
	}
	if strm := s.nodes[i].strm; strm != nil {
		return strm.inboundWindow >= n
	}
	return true
}

func (s *Scheduler) resolve(id uint32) int {
	if id == 0 {
		return rootNode
	}
	return s.byID[id]
}

// MarkForRemoval flags id's node as closed; it is actually freed once the
// watermark (maxClientStreamID/maxPushedStreamID) passes it or a flush
// observes no further output is required (spec §5's grace window).
func (s *Scheduler) MarkForRemoval(id uint32, reason ClosedReason) {
	i, ok := s.byID[id]
	if !ok {
		return
	}
	s.nodes[i].markedForRemoval = true
	_ = reason
}

// AdvanceWatermark updates the scheduler's client/pushed watermarks. Called
// by the connection engine once a HEADERS block finishes decoding
// successfully (spec §4.4.1: "max_client_stream_id <- stream.id ... after
// successful decode").
func (s *Scheduler) AdvanceWatermark(clientID, pushedID uint32) {
	if clientID > s.maxClientStreamID {
		s.maxClientStreamID = clientID
	}
	if pushedID > s.maxPushedStreamID {
		s.maxPushedStreamID = pushedID
	}
}

func (s *Scheduler) MaxClientStreamID() uint32 { return s.maxClientStreamID }
func (s *Scheduler) MaxPushedStreamID() uint32 { return s.maxPushedStreamID }

// BelowClosedWatermark reports whether id is at or below a watermark this
// connection has already advanced past - i.e. it's plausibly a late frame
// for an evicted stream rather than a protocol violation.
func (s *Scheduler) BelowClosedWatermark(id uint32) bool {
	if id%2 == 1 {
		return id <= s.maxClientStreamID
	}
	return id <= s.maxPushedStreamID
}

func (s *Scheduler) evict(i int) {
	n := &s.nodes[i]
	if n.parent >= 0 {
		s.removeChild(n.parent, i)
	}
	delete(s.byID, n.streamID)
	*n = schedNode{free: true, nextFree: s.freeHead}
	s.freeHead = i
}

// Flush walks the tree in priority order, draining each Open or
// HalfClosed stream with pending output into DATA frames via its
// BodyBuffer, capped by the stream's outbound window and the connection
// window. A stream marked for removal is evicted from the tree once it is
// at or below the scheduler's own client/pushed watermark, or once it has
// no output left to send.
//
// Spec §4.3's `flush(streams, (max_client_id, max_pushed_id))`.
func (s *Scheduler) Flush(bw *bufio.Writer) error {
	var toEvict []int

	var walk func(i int) error
	walk = func(i int) error {
		n := &s.nodes[i]

		if n.markedForRemoval {
			belowWatermark := n.streamID%2 == 1 && n.streamID <= s.maxClientStreamID ||
				n.streamID%2 == 0 && n.streamID <= s.maxPushedStreamID
			noOutput := n.strm == nil || !n.strm.requiresOutput()
			if belowWatermark || noOutput {
				toEvict = append(toEvict, i)
			}
		}

		if n.strm != nil && (n.strm.state == StreamOpen || n.strm.state == StreamHalfClosed) && n.strm.requiresOutput() {
			budget := s.nodes[rootNode].flow
			if n.strm.outboundWindow < budget {
				budget = n.strm.outboundWindow
			}
			if budget < 0 {
				budget = 0
			}

			written, err := n.strm.body.TransferToWriter(bw, n.streamID, n.strm.maxFrameSize, budget)
			if err != nil {
				return err
			}
			n.strm.outboundWindow -= written
			s.nodes[rootNode].flow -= written
		}

		for _, c := range n.children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(rootNode); err != nil {
		return err
	}

	for _, i := range toEvict {
		s.evict(i)
	}

	return bw.Flush()
}

// Iter visits every live stream exactly once in unspecified order (spec
// §4.3's `iter`).
func (s *Scheduler) Iter(f func(*Stream)) {
	for _, n := range s.nodes {
		if n.strm != nil && !n.free {
			f(n.strm)
		}
	}
}
