// Package streamtable maps QUIC stream IDs to stream handles, assigning
// locally-initiated IDs, admitting peer-initiated ones on first sight,
// and tracking each stream's open/half-closed/closed/reset lifecycle
// and flow-control credit. It mirrors the streams map + streamsMutex
// pattern an older quic-go Session used, generalized to track credit
// instead of leaving that to a separate structure.
package streamtable

import (
	"errors"
	"sync"
)

// Direction distinguishes bidirectional streams (both sides write) from
// unidirectional ones (only the initiator writes).
type Direction int

const (
	Bidirectional Direction = iota
	Unidirectional
)

// Initiator records which role opened a stream; QUIC stream IDs encode
// this in their low bit.
type Initiator int

const (
	Client Initiator = iota
	Server
)

// State tracks a stream's lifecycle. Bidirectional streams pass through
// both half-closed states independently before Closed; unidirectional
// streams (from the writer's perspective) go straight from Open to
// HalfClosedLocal once ended, and a Reset stream is terminal from
// either side.
type State int

const (
	StateOpen State = iota
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
	StateReset
)

var (
	// ErrStreamLimit is returned by Open* once the configured number of
	// locally opened streams for that direction has been reached.
	ErrStreamLimit = errors.New("streamtable: stream limit exhausted")
	// ErrUnknownStream is returned by operations addressing a stream ID
	// not present in the table.
	ErrUnknownStream = errors.New("streamtable: unknown stream id")
	// ErrStreamExists reports a stream ID that is already present. Admit
	// does not return it: for a known ID it returns the existing Stream.
	ErrStreamExists = errors.New("streamtable: stream already exists")
)

// Stream is a single multiplexed stream's bookkeeping: identity,
// lifecycle state, and the flow-control credit in each direction. It
// carries no data itself; the session's ChunkedSendBuffer instances
// hold bytes, this only holds offsets and limits.
type Stream struct {
	ID        uint64
	Dir       Direction
	Initiator Initiator
	State     State

	sendOffset  uint64 // bytes sent so far
	sendLimit   uint64 // peer-advertised MAX_STREAM_DATA for this stream
	recvOffset  uint64 // bytes received so far
	recvLimit   uint64 // our own advertised MAX_STREAM_DATA for this stream
	resetCode   uint64
	finalSize   uint64
	haveFinal   bool
}

// CanSend reports whether n more bytes fit under the current send
// credit.
func (s *Stream) CanSend(n uint64) bool {
	return s.sendOffset+n <= s.sendLimit
}

// RecordSend advances the send offset by n, which must not exceed the
// credit available per CanSend.
func (s *Stream) RecordSend(n uint64) {
	s.sendOffset += n
}

// SendCredit reports how many more bytes may be sent before the peer
// must extend the window.
func (s *Stream) SendCredit() uint64 {
	if s.sendLimit < s.sendOffset {
		return 0
	}
	return s.sendLimit - s.sendOffset
}

// ExtendSendLimit raises the peer-advertised send limit, as reported by
// a received MAX_STREAM_DATA frame. Limits never move backward.
func (s *Stream) ExtendSendLimit(newLimit uint64) {
	if newLimit > s.sendLimit {
		s.sendLimit = newLimit
	}
}

// CanReceive reports whether accepting n more bytes at the current
// receive offset stays within our own advertised limit.
func (s *Stream) CanReceive(n uint64) bool {
	return s.recvOffset+n <= s.recvLimit
}

// RecordReceive advances the receive offset by n.
func (s *Stream) RecordReceive(n uint64) {
	s.recvOffset += n
}

// RecvCredit reports how many more bytes the peer may send before we
// must extend the window via MAX_STREAM_DATA.
func (s *Stream) RecvCredit() uint64 {
	if s.recvLimit < s.recvOffset {
		return 0
	}
	return s.recvLimit - s.recvOffset
}

// ExtendRecvLimit raises our own advertised receive limit by delta,
// corresponding to the session issuing a MAX_STREAM_DATA frame.
func (s *Stream) ExtendRecvLimit(delta uint64) {
	s.recvLimit += delta
}

// SetFinalSize records the stream's final size on FIN or RESET_STREAM.
func (s *Stream) SetFinalSize(n uint64) {
	s.finalSize = n
	s.haveFinal = true
}

// FinalSize returns the stream's final size, if known.
func (s *Stream) FinalSize() (uint64, bool) { return s.finalSize, s.haveFinal }

// Limits configures per-direction caps on locally opened streams and the
// initial flow-control windows for newly admitted streams, mirroring
// the fields offered by transportconfig.Config.
type Limits struct {
	MaxStreamsBidi uint64
	MaxStreamsUni  uint64

	// InitialMaxStreamDataBidiLocal bounds streams this endpoint opens.
	InitialMaxStreamDataBidiLocal uint64
	// InitialMaxStreamDataBidiRemote bounds peer-initiated bidi streams.
	InitialMaxStreamDataBidiRemote uint64
	// InitialMaxStreamDataUni bounds peer-initiated uni streams (an
	// endpoint never receives on a stream it opened unidirectionally).
	InitialMaxStreamDataUni uint64
}

// Table owns every stream a session currently knows about, keyed by
// QUIC stream ID, plus counters of how many streams this endpoint has
// opened in each direction. The counters only grow: closing or
// resetting a stream does not lower them.
type Table struct {
	mu sync.RWMutex

	self   Initiator
	limits Limits

	streams map[uint64]*Stream

	nextBidi, nextUni uint64
	openBidi, openUni uint64
}

// New returns a Table for a session playing role self, enforcing
// limits on stream counts and flow-control windows.
func New(self Initiator, limits Limits) *Table {
	return &Table{
		self:     self,
		limits:   limits,
		streams:  make(map[uint64]*Stream),
		nextBidi: streamID(self, Bidirectional, 0),
		nextUni:  streamID(self, Unidirectional, 0),
	}
}

// streamID composes a QUIC stream ID from its initiator, direction and
// 0-based sequence number within that (initiator, direction) space, per
// RFC 9000 §2.1: bit 0 is the initiator, bit 1 is the direction.
func streamID(initiator Initiator, dir Direction, seq uint64) uint64 {
	id := seq << 2
	if initiator == Server {
		id |= 0x1
	}
	if dir == Unidirectional {
		id |= 0x2
	}
	return id
}

func decodeStreamID(id uint64) (Initiator, Direction) {
	initiator := Client
	if id&0x1 != 0 {
		initiator = Server
	}
	dir := Bidirectional
	if id&0x2 != 0 {
		dir = Unidirectional
	}
	return initiator, dir
}

// OpenBidirectional allocates and admits a new locally-initiated
// bidirectional stream, failing with ErrStreamLimit once MaxStreamsBidi
// local bidi streams have been opened over the table's lifetime.
func (t *Table) OpenBidirectional() (*Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openBidi >= t.limits.MaxStreamsBidi {
		return nil, ErrStreamLimit
	}
	s := &Stream{
		ID:        t.nextBidi,
		Dir:       Bidirectional,
		Initiator: t.self,
		sendLimit: t.limits.InitialMaxStreamDataBidiRemote,
		recvLimit: t.limits.InitialMaxStreamDataBidiLocal,
	}
	t.streams[s.ID] = s
	t.nextBidi += 4
	t.openBidi++
	return s, nil
}

// OpenUnidirectional allocates and admits a new locally-initiated
// unidirectional stream.
func (t *Table) OpenUnidirectional() (*Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openUni >= t.limits.MaxStreamsUni {
		return nil, ErrStreamLimit
	}
	s := &Stream{
		ID:        t.nextUni,
		Dir:       Unidirectional,
		Initiator: t.self,
		sendLimit: ^uint64(0), // writer side has no receive-style cap
	}
	t.streams[s.ID] = s
	t.nextUni += 4
	t.openUni++
	return s, nil
}

// Admit registers a peer-initiated stream the first time a frame
// references it, assigning the initial flow-control windows this
// endpoint advertises for that direction. It is a no-op, returning the
// existing Stream, if id is already known.
func (t *Table) Admit(id uint64) (*Stream, error) {
	initiator, dir := decodeStreamID(id)
	if initiator == t.self {
		return nil, errors.New("streamtable: cannot admit a locally-initiated id as peer-initiated")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.streams[id]; ok {
		return s, nil
	}
	s := &Stream{ID: id, Dir: dir, Initiator: initiator}
	switch dir {
	case Bidirectional:
		s.recvLimit = t.limits.InitialMaxStreamDataBidiRemote
		s.sendLimit = t.limits.InitialMaxStreamDataBidiLocal
	case Unidirectional:
		s.recvLimit = t.limits.InitialMaxStreamDataUni
	}
	t.streams[id] = s
	return s, nil
}

// Get returns the stream for id, or ErrUnknownStream.
func (t *Table) Get(id uint64) (*Stream, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.streams[id]
	if !ok {
		return nil, ErrUnknownStream
	}
	return s, nil
}

// Close marks id closed and, once both directions of a bidirectional
// stream (or the sole direction of a unidirectional one) have ended,
// removes it from the table. Removal does not give back a slot under
// MaxStreamsBidi/MaxStreamsUni. The session's transport layer (not this table)
// is the source of truth for when both directions have actually ended;
// callers pass the state they have already determined.
func (t *Table) Close(id uint64, state State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	if !ok {
		return ErrUnknownStream
	}
	s.State = state
	if state == StateClosed || state == StateReset {
		delete(t.streams, id)
	}
	return nil
}

// Reset marks id reset with the given application error code and final
// size, and removes it from the table.
func (t *Table) Reset(id uint64, code, finalSize uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	if !ok {
		return ErrUnknownStream
	}
	s.State = StateReset
	s.resetCode = code
	s.SetFinalSize(finalSize)
	delete(t.streams, id)
	return nil
}

// Len reports how many streams are currently tracked.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.streams)
}

// ForEach invokes fn for every tracked stream, in unspecified order. fn
// must not call back into the Table.
func (t *Table) ForEach(fn func(*Stream)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.streams {
		fn(s)
	}
}
