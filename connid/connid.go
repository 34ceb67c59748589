// Package connid tracks the set of connection IDs a session currently
// advertises to its peer (for NEW_CONNECTION_ID) and accepts from its
// peer as destination CIDs (for migration), generalizing the
// single-CID bookkeeping an older quic transport's Conn kept inline
// (scid/dcid/odcid/rscid fields) into a small set with sequence
// numbers and retirement.
package connid

import (
	"bytes"
	"errors"
	"sync"
)

// ErrUnknownSequence is returned by Retire when no active CID has the
// given sequence number.
var ErrUnknownSequence = errors.New("connid: unknown sequence number")

// ErrDuplicate is returned by Add when a CID with the given sequence
// number is already tracked.
var ErrDuplicate = errors.New("connid: sequence number already tracked")

// ID is one tracked connection ID: its wire bytes, its NEW_CONNECTION_ID
// sequence number, and the stateless reset token bound to it.
type ID struct {
	Bytes      []byte
	Sequence   uint64
	ResetToken [16]byte
}

// Set is the collection of connection IDs currently active for one
// session, in one direction (the IDs we issued to our peer as our
// SCIDs, or the IDs our peer issued to us as DCIDs — a session keeps
// one Set for each).
//
// Set is safe for concurrent use, since CID issuance may be driven
// from the packet-receive path while the count is read by an embedder
// query on another turn of the same single-threaded loop's exposed
// accessors.
type Set struct {
	mu sync.Mutex

	ids    []*ID
	active map[uint64]*ID

	retiredBelow uint64
}

// NewSet returns an empty Set, optionally seeded with an initial CID
// at sequence 0 (the CID carried in the transport parameters or the
// first Initial packet).
func NewSet(initial []byte) *Set {
	s := &Set{active: make(map[uint64]*ID)}
	if len(initial) > 0 {
		_ = s.Add(ID{Bytes: append([]byte(nil), initial...), Sequence: 0})
	}
	return s
}

// Add tracks a new connection ID. It fails with ErrDuplicate if the
// sequence number is already tracked.
func (s *Set) Add(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[id.Sequence]; ok {
		return ErrDuplicate
	}
	stored := &ID{Bytes: append([]byte(nil), id.Bytes...), Sequence: id.Sequence, ResetToken: id.ResetToken}
	s.active[id.Sequence] = stored
	s.ids = append(s.ids, stored)
	return nil
}

// Retire removes the CID at sequence, as required once a peer's
// RETIRE_CONNECTION_ID frame (or our own decision to retire ours) names
// it. Retiring a sequence number that is not active, including one
// already retired, returns ErrUnknownSequence every time.
func (s *Set) Retire(sequence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[sequence]
	if !ok {
		return ErrUnknownSequence
	}
	delete(s.active, sequence)
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
	if sequence >= s.retiredBelow {
		s.retiredBelow = sequence + 1
	}
	return nil
}

// RetireBelow retires every tracked CID with sequence < boundary, per
// a received RETIRE_PRIOR_TO in NEW_CONNECTION_ID. It returns the IDs
// actually retired, so the caller can in turn emit
// RETIRE_CONNECTION_ID frames and routing-table updates for them.
func (s *Set) RetireBelow(boundary uint64) []ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var retired []ID
	kept := s.ids[:0]
	for _, id := range s.ids {
		if id.Sequence < boundary {
			retired = append(retired, *id)
			delete(s.active, id.Sequence)
			continue
		}
		kept = append(kept, id)
	}
	s.ids = kept
	if boundary > s.retiredBelow {
		s.retiredBelow = boundary
	}
	return retired
}

// Lookup returns the CID tracked at sequence, if any.
func (s *Set) Lookup(sequence uint64) (ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.active[sequence]
	if !ok {
		return ID{}, false
	}
	return *id, true
}

// Contains reports whether raw bytes match any tracked CID, used to
// validate an incoming packet's destination CID against our issued
// SCIDs.
func (s *Set) Contains(raw []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.ids {
		if bytes.Equal(id.Bytes, raw) {
			return true
		}
	}
	return false
}

// Count reports the number of currently active connection IDs. The
// session reports this value to its embedder verbatim; a count greater
// than one is what permits the embedder to consider path migration.
func (s *Set) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// CanMigrate reports whether a spare (non-primary) connection ID is
// available to move to on path migration.
func (s *Set) CanMigrate() bool {
	return s.Count() > 1
}

// All returns a snapshot copy of every tracked ID, ordered by
// insertion.
func (s *Set) All() []ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ID, len(s.ids))
	for i, id := range s.ids {
		out[i] = ID{Bytes: append([]byte(nil), id.Bytes...), Sequence: id.Sequence, ResetToken: id.ResetToken}
	}
	return out
}
