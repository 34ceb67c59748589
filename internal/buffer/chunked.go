// Package buffer implements a FIFO byte-chunk queue used to stage data
// moving between a QUIC session and its transport or TLS library: the
// outbound packet buffer, the outbound handshake-byte buffer, and (by
// the stream layer, independently of this module) per-stream send
// queues. It is deliberately ignorant of QUIC; it just tracks which
// bytes have been pushed, which have been made visible to a reader, and
// which have been permanently consumed.
package buffer

import (
	"errors"
	"sync"
)

// CompletionStatus is delivered to a push group's completion callback
// exactly once.
type CompletionStatus int

const (
	// StatusOK indicates every byte in the group was consumed.
	StatusOK CompletionStatus = iota
	// StatusCanceled indicates Cancel was called before the group finished
	// consuming. This mirrors UV_ECANCELED in the reference implementation.
	StatusCanceled
)

// PullStatus is passed to a Pull visitor.
type PullStatus int

const (
	// StatusContinue indicates more data may still be pushed.
	StatusContinue PullStatus = iota
	// StatusEnd indicates the buffer has been ended and the vectors handed
	// to the visitor are the last ones it will ever see.
	StatusEnd
)

// PullOption configures Pull's blocking and end-of-stream behavior.
type PullOption uint8

const (
	// OptSync requires the visitor to be invoked before Pull returns.
	OptSync PullOption = 1 << iota
	// OptEnd requires the status passed to the visitor to reflect
	// StatusEnd once the buffer has been ended and every byte has been
	// made visible.
	OptEnd
)

var (
	// ErrEnded is returned by Push after End has been called.
	ErrEnded = errors.New("buffer: push after end")
)

// DoneFunc is invoked by a Pull visitor to report how many bytes of the
// vectors it was handed have been handed off to its own consumer. It does
// not by itself consume or seek the buffer; the caller separately calls
// Seek/Consume once it knows how much it actually wrote out.
type DoneFunc func(n int64)

// Visitor receives a vectored, zero-copy view of the bytes currently
// visible (i.e. between the settled and read cursors).
type Visitor func(status PullStatus, vecs [][]byte, done DoneFunc)

type group struct {
	remaining int64
	done      func(CompletionStatus)
	fired     bool
}

func (g *group) fire(status CompletionStatus) {
	if g == nil || g.fired || g.done == nil {
		if g != nil {
			g.fired = true
		}
		return
	}
	g.fired = true
	g.done(status)
}

type entry struct {
	data  []byte // the full chunk as pushed
	off   int    // bytes already consumed from the front
	start int64  // absolute offset of data[0] in the buffer's byte numbering
	group *group
}

func (e *entry) end() int64 { return e.start + int64(len(e.data)) }
func (e *entry) unconsumed() []byte {
	return e.data[e.off:]
}

// Chunked is a FIFO queue of owned byte chunks with three monotonically
// advancing cursors: head, read and tail. tail marks the end of all
// pushed bytes; read marks bytes made visible to Pull via Seek (or by
// Pull itself); head marks bytes the caller has declared done with via
// Consume. head and read advance independently of one another — Consume
// is not capped by read — but a push group's completion only fires once
// both head and read have caught up to its end, matching the reference
// implementation's QuicBuffer::Simple test (consume before seek reports
// length 0 immediately, but the completion callback only fires once a
// subsequent Seek catches the read cursor up).
//
// A zero value Chunked is ready to use. Chunked is safe for concurrent
// use by multiple goroutines, since it may be shared between a session
// and an in-flight socket write (see the shared txbuf in package
// quicsession).
type Chunked struct {
	mu sync.Mutex

	entries []*entry
	groups  []*group

	head, read, tail int64
	settled          int64 // how far entries/groups have been physically finalized; settled <= min(head, read)
	ended            bool
	handedOff        int64
}

// Push appends one or more chunks as a single write group. onComplete, if
// non-nil, fires exactly once: with StatusOK after every byte of the
// group has been consumed, or StatusCanceled if Cancel runs first.
func (b *Chunked) Push(onComplete func(CompletionStatus), chunks ...[]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended {
		return ErrEnded
	}
	var total int64
	for _, c := range chunks {
		total += int64(len(c))
	}
	g := &group{remaining: total, done: onComplete}
	for _, c := range chunks {
		if len(c) == 0 {
			continue
		}
		e := &entry{data: c, start: b.tail, group: g}
		b.entries = append(b.entries, e)
		b.tail += int64(len(c))
	}
	if onComplete != nil {
		if total == 0 {
			g.fire(StatusOK)
		} else {
			b.groups = append(b.groups, g)
		}
	}
	return nil
}

// PushChunk appends a single chunk with no completion callback.
func (b *Chunked) PushChunk(chunk []byte) error {
	return b.Push(nil, chunk)
}

// End marks the buffer as ended: no further Push calls are permitted,
// and once every byte has been made visible, Pull with OptEnd reports
// StatusEnd.
func (b *Chunked) End() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = true
}

// Seek advances the read cursor by revealing up to n whole chunks that
// have not yet been revealed. It returns the number of chunks actually
// revealed, which may be less than n if fewer are pending. Revealing a
// chunk may itself finalize a push group's completion, if Consume has
// already advanced head past that chunk's end.
func (b *Chunked) Seek(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	revealed := 0
	for i := 0; i < len(b.entries) && revealed < n; i++ {
		e := b.entries[i]
		if e.start < b.read {
			// already (partially) visible
			continue
		}
		if e.start > b.read {
			// a gap shouldn't be possible, but never reveal out of order
			break
		}
		b.read = e.end()
		revealed++
	}
	b.settleLocked()
	return revealed
}

// Consume advances the head cursor by up to n bytes, capped at
// tail-head: unlike Seek, Consume is not gated on what has been
// revealed — a caller may declare bytes consumed before they have ever
// been made visible to Pull. Consuming across a chunk boundary
// decrements that chunk's group's outstanding byte count, but the
// group's completion only fires once the read cursor has also reached
// that chunk (see settleLocked): consuming unseen bytes drops Length()
// to zero immediately, while the completion callback waits for a
// subsequent Seek or Pull to catch read up.
func (b *Chunked) Consume(n int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 {
		return 0
	}
	available := b.tail - b.head
	if n > available {
		n = available
	}
	b.head += n
	b.settleLocked()
	return n
}

// settleLocked physically trims entries and fires group completions up
// to min(head, read), the only region that is both consumed and
// revealed. It must be called after any change to head or read.
func (b *Chunked) settleLocked() {
	target := b.head
	if b.read < target {
		target = b.read
	}
	amount := target - b.settled
	for amount > 0 && len(b.entries) > 0 {
		e := b.entries[0]
		left := int64(len(e.data) - e.off)
		take := amount
		if take > left {
			take = left
		}
		e.off += int(take)
		amount -= take
		b.settled += take
		if e.group != nil {
			e.group.remaining -= take
			if e.group.remaining <= 0 {
				e.group.fire(StatusOK)
			}
		}
		if e.off >= len(e.data) {
			b.entries = b.entries[1:]
		}
	}
}

// Cancel fires StatusCanceled for every group that has not yet fully
// completed and drops all buffered chunks.
func (b *Chunked) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[*group]bool)
	for _, e := range b.entries {
		if e.group == nil || seen[e.group] {
			continue
		}
		seen[e.group] = true
		e.group.fire(StatusCanceled)
	}
	for _, g := range b.groups {
		if !seen[g] {
			g.fire(StatusCanceled)
		}
	}
	b.entries = nil
	b.groups = nil
	b.head = b.tail
	b.read = b.tail
	b.settled = b.tail
}

// Length reports the total bytes pending: tail - head.
func (b *Chunked) Length() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tail - b.head
}

// Remaining reports bytes pushed but not yet made visible via Seek:
// tail - read.
func (b *Chunked) Remaining() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tail - b.read
}

// Visible reports bytes made visible via Seek or Pull but not yet
// physically finalized: read - settled. This is the amount a Pull call
// can actually vector out right now.
func (b *Chunked) Visible() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read - b.settled
}

// Pull invokes visit with a borrowed vectored view of up to maxVecs
// chunks starting at the oldest chunk not yet settled, so chunks
// already revealed but not consumed are included. Chunks past the read
// cursor are revealed (advancing read) as the view reaches them, rather
// than requiring a prior Seek call. OptSync requires the visitor to run before
// Pull returns, which it always does in this implementation (there is
// no asynchronous backing store). OptEnd requires the status to report
// StatusEnd once the buffer has ended and every pushed byte has been
// revealed.
func (b *Chunked) Pull(visit Visitor, opts PullOption, maxVecs int) {
	b.mu.Lock()
	var vecs [][]byte
	for _, e := range b.entries {
		if len(vecs) >= maxVecs {
			break
		}
		if e.start > b.read {
			// a gap shouldn't be possible, but never reveal out of order
			break
		}
		if e.start == b.read {
			// not yet revealed: Pull reveals it itself, as if by Seek.
			b.read = e.end()
		}
		data := e.unconsumed()
		if len(data) == 0 {
			continue
		}
		vecs = append(vecs, data)
	}
	b.settleLocked()
	status := StatusContinue
	if opts&OptEnd != 0 && b.ended && b.read >= b.tail {
		status = StatusEnd
	}
	b.mu.Unlock()

	if visit == nil {
		return
	}
	visit(status, vecs, func(n int64) {
		b.mu.Lock()
		b.handedOff += n
		b.mu.Unlock()
	})
}

// Reset discards all buffered state, as if the Chunked had just been
// constructed. It does not fire any pending completions; callers that
// need completion semantics on teardown should call Cancel first.
func (b *Chunked) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	b.groups = nil
	b.head, b.read, b.tail = 0, 0, 0
	b.settled = 0
	b.ended = false
	b.handedOff = 0
}

// Move transfers all chunks and cursors from src into b, leaving src
// empty and consistent (Length() == 0). It is the Go analogue of the
// reference implementation's move-constructor/assignment.
func (b *Chunked) Move(src *Chunked) {
	if b == src {
		return
	}
	src.mu.Lock()
	entries := src.entries
	groups := src.groups
	head, read, tail := src.head, src.read, src.tail
	settled := src.settled
	ended := src.ended
	src.entries = nil
	src.groups = nil
	src.head, src.read, src.tail = 0, 0, 0
	src.settled = 0
	src.ended = false
	src.handedOff = 0
	src.mu.Unlock()

	b.mu.Lock()
	b.entries = entries
	b.groups = groups
	b.head, b.read, b.tail = head, read, tail
	b.settled = settled
	b.ended = ended
	b.mu.Unlock()
}
