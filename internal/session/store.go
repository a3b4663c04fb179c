package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"
)

const defaultSubscriberBuffer = 256

// Store is the append-only, ordered log of Connection/Request/Response/
// Message mutations. It is the sole owner of entity storage; everything it
// hands out is an immutable snapshot, never a pointer into live state.
// All mutations are serialized by mu.
type Store struct {
	mu sync.Mutex

	connections map[uuid.UUID]Connection
	requests    map[uuid.UUID]Request
	responses   map[uuid.UUID]Response
	// lastSeqByParent tracks the last appended Message.Sequence per parent,
	// enforcing the "contiguous from 0" invariant without storing every
	// message body in memory for the lifetime of the process.
	lastSeqByParent map[uuid.UUID]int64

	seq atomic.Uint64

	subMu       sync.Mutex
	subs        map[uint64]*subscriber
	nextSubID   uint64
	subBuffer   int
}

// ErrLagged is the error an emitter reports when the Store dropped its
// subscription for overflowing its buffer; the Store itself signals that
// drop by closing the subscriber's lagged channel.
var ErrLagged = fmt.Errorf("subscriber lagged and was dropped")

type subscriber struct {
	ch     chan Change
	lagged chan struct{}
}

// New creates an empty Session Store.
func New() *Store {
	return &Store{
		connections:     make(map[uuid.UUID]Connection),
		requests:        make(map[uuid.UUID]Request),
		responses:       make(map[uuid.UUID]Response),
		lastSeqByParent: make(map[uuid.UUID]int64),
		subs:            make(map[uint64]*subscriber),
		subBuffer:       defaultSubscriberBuffer,
	}
}

// Subscribe registers a new Change subscriber. The returned channel is
// closed and the subscriber dropped if it can't keep up with the store's
// buffer bound; the returned lagged channel is closed exactly once, at the
// moment that happens, so callers can surface a Lagged notification.
// cancel unregisters the subscriber and must be called when done.
func (s *Store) Subscribe() (ch <-chan Change, lagged <-chan struct{}, cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	sub := &subscriber{
		ch:     make(chan Change, s.subBuffer),
		lagged: make(chan struct{}),
	}
	s.subs[id] = sub

	cancelFn := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if cur, ok := s.subs[id]; ok && cur == sub {
			delete(s.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, sub.lagged, cancelFn
}

// broadcast delivers change to every live subscriber in insertion order,
// dropping (and marking Lagged) any subscriber whose buffer is full.
func (s *Store) broadcast(change Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for id, sub := range s.subs {
		select {
		case sub.ch <- change:
		default:
			delete(s.subs, id)
			close(sub.ch)
			close(sub.lagged)
		}
	}
}

func (s *Store) nextChange(kind ChangeKind) Change {
	return Change{
		Seq:       s.seq.Add(1),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// InsertConnection records a newly accepted Connection and returns its
// immutable snapshot's Change event.
func (s *Store) InsertConnection(c Connection) Change {
	s.mu.Lock()
	s.connections[c.ID] = c
	s.mu.Unlock()

	change := s.nextChange(ConnectionOpened)
	snap := c
	change.Connection = &snap
	s.broadcast(change)
	return change
}

// UpdateConnectionStatus transitions a Connection to a terminal status.
func (s *Store) UpdateConnectionStatus(id uuid.UUID, status ConnStatus, failureReason string) (Change, error) {
	s.mu.Lock()
	c, ok := s.connections[id]
	if !ok {
		s.mu.Unlock()
		return Change{}, fmt.Errorf("session: unknown connection %s", id)
	}
	now := time.Now()
	c.Status = status
	c.ClosedAt = &now
	c.FailureReason = failureReason
	s.connections[id] = c
	s.mu.Unlock()

	kind := ConnectionClosed
	if status == ConnFailed {
		kind = ErrorEvent
	}
	change := s.nextChange(kind)
	snap := c
	change.Connection = &snap
	if status == ConnFailed {
		change.Detail = failureReason
	}
	s.broadcast(change)
	return change, nil
}

// InsertRequest records a new Request, created on the first HEADERS frame
// of a stream. At most one Request may exist per (connection, stream).
func (s *Store) InsertRequest(r Request) (Change, error) {
	s.mu.Lock()
	for _, existing := range s.requests {
		if existing.ConnectionID == r.ConnectionID && existing.H2StreamID == r.H2StreamID {
			s.mu.Unlock()
			return Change{}, fmt.Errorf("session: request already exists for connection %s stream %d", r.ConnectionID, r.H2StreamID)
		}
	}
	r.Headers = cloneHeaders(r.Headers)
	s.requests[r.ID] = r
	s.mu.Unlock()

	change := s.nextChange(RequestStarted)
	snap := r
	snap.Headers = cloneHeaders(r.Headers)
	change.Request = &snap
	s.broadcast(change)
	return change, nil
}

// AppendMessage appends one Message to its parent's ordered sequence. The
// sequence number must be exactly one past the last message appended for
// that parent (0 for the first), enforcing the contiguity invariant.
func (s *Store) AppendMessage(m Message) (Change, error) {
	s.mu.Lock()
	last, seen := s.lastSeqByParent[m.ParentID]
	wantSeq := int64(0)
	if seen {
		wantSeq = last + 1
	}
	if int64(m.Sequence) != wantSeq {
		s.mu.Unlock()
		return Change{}, fmt.Errorf("session: out-of-order message for parent %s: got seq %d, want %d", m.ParentID, m.Sequence, wantSeq)
	}
	s.lastSeqByParent[m.ParentID] = int64(m.Sequence)
	s.mu.Unlock()

	kind := MessageReceived
	change := s.nextChange(kind)
	snap := m
	snap.Bytes = append([]byte(nil), m.Bytes...)
	change.Message = &snap
	if m.EndStream || m.Truncated {
		change.Kind = MessageDone
	}
	s.broadcast(change)
	return change, nil
}

// FinalizeRequest marks a Request terminal (Completed/Failed/Cancelled).
func (s *Store) FinalizeRequest(id uuid.UUID, status RequestStatus, errMsg *string) (Change, error) {
	s.mu.Lock()
	r, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return Change{}, fmt.Errorf("session: unknown request %s", id)
	}
	now := time.Now()
	r.Status = status
	r.EndedAt = &now
	r.Error = errMsg
	s.requests[id] = r
	s.mu.Unlock()

	change := s.nextChange(RequestDone)
	snap := r
	snap.Headers = cloneHeaders(r.Headers)
	change.Request = &snap
	s.broadcast(change)
	return change, nil
}

// InsertResponse records a new Response, created on the first HEADERS
// frame on the response direction of a paired stream.
func (s *Store) InsertResponse(r Response) (Change, error) {
	s.mu.Lock()
	if _, ok := s.requests[r.RequestID]; !ok {
		s.mu.Unlock()
		return Change{}, fmt.Errorf("session: response references unknown request %s", r.RequestID)
	}
	r.Headers = cloneHeaders(r.Headers)
	s.responses[r.ID] = r
	s.mu.Unlock()

	change := s.nextChange(ResponseStarted)
	snap := r
	snap.Headers = cloneHeaders(r.Headers)
	change.Response = &snap
	s.broadcast(change)
	return change, nil
}

// FinalizeResponse marks a Response terminal and attaches trailers.
func (s *Store) FinalizeResponse(id uuid.UUID, status RequestStatus, trailers []HeaderField, grpcStatus *int, errMsg *string) (Change, error) {
	s.mu.Lock()
	r, ok := s.responses[id]
	if !ok {
		s.mu.Unlock()
		return Change{}, fmt.Errorf("session: unknown response %s", id)
	}
	now := time.Now()
	r.Status = status
	r.EndedAt = &now
	r.Trailers = cloneHeaders(trailers)
	r.GRPCStatus = grpcStatus
	r.Error = errMsg
	s.responses[id] = r
	s.mu.Unlock()

	change := s.nextChange(ResponseDone)
	snap := r
	snap.Headers = cloneHeaders(r.Headers)
	snap.Trailers = cloneHeaders(r.Trailers)
	change.Response = &snap
	s.broadcast(change)
	return change, nil
}

// Snapshot returns point-in-time copies of every entity, ordered by
// StartedAt/OpenedAt with a stable tiebreak on ID, for the Live UI's list
// views: ordering by started_at is a stable total order via tiebreak on id.
func (s *Store) Snapshot() (conns []Connection, reqs []Request, resps []Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns = lo.MapToSlice(s.connections, func(_ uuid.UUID, c Connection) Connection { return c })
	reqs = lo.MapToSlice(s.requests, func(_ uuid.UUID, r Request) Request { return r })
	resps = lo.MapToSlice(s.responses, func(_ uuid.UUID, r Response) Response { return r })

	sortByStart(conns, func(c Connection) (time.Time, uuid.UUID) { return c.OpenedAt, c.ID })
	sortByStart(reqs, func(r Request) (time.Time, uuid.UUID) { return r.StartedAt, r.ID })
	sortByStart(resps, func(r Response) (time.Time, uuid.UUID) { return r.StartedAt, r.ID })
	return conns, reqs, resps
}

func cloneHeaders(h []HeaderField) []HeaderField {
	if h == nil {
		return nil
	}
	return append([]HeaderField(nil), h...)
}
