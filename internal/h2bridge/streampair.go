// Package h2bridge implements the central state machine: it runs one
// HTTP/2 session toward the client (server role) and one toward the
// upstream (client role) over raw frames, pairing streams 1:1 and
// forwarding HEADERS/DATA/RST_STREAM/GOAWAY while mirroring every frame
// into the Decoder and Session Store.
package h2bridge

import (
	"sync"

	"github.com/proxide/proxide/internal/decoder"
	uuid "github.com/satori/go.uuid"
)

// StreamState is a paired stream's position in its transition table:
// Open -> HalfClosed{Local,Remote} -> Closed, with Reset terminal from
// either side.
type StreamState int

const (
	StreamOpen StreamState = iota
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
	StreamReset
)

// pair is the bookkeeping for one downstream<->upstream stream pairing.
type pair struct {
	downstreamID uint32
	upstreamID   uint32

	requestID  uuid.UUID
	responseID uuid.UUID

	state StreamState

	decoder *decoder.Stream

	// downstreamEndSeen/upstreamEndSeen track which of the two directions
	// has reached END_STREAM, since Closed requires both.
	downstreamEndSeen bool
	upstreamEndSeen   bool

	// reqSeq/resSeq are this pair's private Message.Sequence counters,
	// since the Session Store enforces contiguity per parent and request
	// messages and response messages are different parents.
	reqSeq uint64
	resSeq uint64
}

func (p *pair) nextReqSeq() uint64 {
	s := p.reqSeq
	p.reqSeq++
	return s
}

func (p *pair) nextResSeq() uint64 {
	s := p.resSeq
	p.resSeq++
	return s
}

// advance applies an event to a stream's state, following its transition
// table exactly. fromDownstream true means the event arrived from the
// client (downstream) side, false means from the upstream side.
func (p *pair) advance(event string, fromDownstream bool) {
	switch event {
	case "RST_STREAM":
		p.state = StreamReset
		return
	case "END_STREAM":
		if fromDownstream {
			p.downstreamEndSeen = true
		} else {
			p.upstreamEndSeen = true
		}
		switch p.state {
		case StreamOpen:
			if fromDownstream {
				p.state = StreamHalfClosedLocal
			} else {
				p.state = StreamHalfClosedRemote
			}
		case StreamHalfClosedLocal:
			if !fromDownstream {
				p.state = StreamClosed
			}
		case StreamHalfClosedRemote:
			if fromDownstream {
				p.state = StreamClosed
			}
		}
	}
}

func (p *pair) terminal() bool {
	return p.state == StreamClosed || p.state == StreamReset
}

// streamTable is the bijection between downstream and upstream stream IDs
// for one connection, guarded by a single mutex since pairing is created
// and destroyed from both relay goroutines.
type streamTable struct {
	mu       sync.Mutex
	byDownID map[uint32]*pair
	byUpID   map[uint32]*pair
	nextUpID uint32

	// maxDownID/maxUpID are the highest stream IDs seen on each side,
	// reported as GOAWAY's last-stream-id so the peer knows exactly which
	// of its streams were processed before an abort.
	maxDownID uint32
	maxUpID   uint32
}

func newStreamTable() *streamTable {
	return &streamTable{
		byDownID: make(map[uint32]*pair),
		byUpID:   make(map[uint32]*pair),
		nextUpID: 1,
	}
}

// open creates a new pairing for a client-initiated stream, assigning the
// next odd-numbered upstream stream ID (client-initiated streams on the
// upstream H2 connection are always odd, per RFC 7540 §5.1.1).
func (t *streamTable) open(downstreamID uint32) *pair {
	t.mu.Lock()
	defer t.mu.Unlock()

	upID := t.nextUpID
	t.nextUpID += 2

	p := &pair{
		downstreamID: downstreamID,
		upstreamID:   upID,
		state:        StreamOpen,
		decoder:      decoder.NewStream(),
	}
	t.byDownID[downstreamID] = p
	t.byUpID[upID] = p
	if downstreamID > t.maxDownID {
		t.maxDownID = downstreamID
	}
	if upID > t.maxUpID {
		t.maxUpID = upID
	}
	return p
}

// highWater returns the highest downstream and upstream stream IDs paired
// so far, for GOAWAY's last-stream-id field.
func (t *streamTable) highWater() (down, up uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxDownID, t.maxUpID
}

// openCount reports how many pairings have not yet reached a terminal
// state, used to tell when a drain has finished.
func (t *streamTable) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byDownID)
}

func (t *streamTable) byDownstream(id uint32) (*pair, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byDownID[id]
	return p, ok
}

func (t *streamTable) byUpstream(id uint32) (*pair, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byUpID[id]
	return p, ok
}

// closeIfTerminal removes a pairing once both directions have reached a
// terminal state, freeing its decoder state.
func (t *streamTable) closeIfTerminal(p *pair) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !p.terminal() {
		return
	}
	delete(t.byDownID, p.downstreamID)
	delete(t.byUpID, p.upstreamID)
}

// all returns a snapshot of every still-open pairing, used to RST every
// paired stream when a protocol violation forces a connection-wide abort.
func (t *streamTable) all() []*pair {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*pair, 0, len(t.byDownID))
	for _, p := range t.byDownID {
		out = append(out, p)
	}
	return out
}
