package quicsession

import "net"

// Socket is the outer UDP dispatcher's contract toward a Session. The
// dispatcher itself — demultiplexing arriving datagrams to sessions by
// connection ID — is out of scope here; a Session only ever sees this
// narrow interface toward it.
type Socket interface {
	// Send transmits one datagram to remoteAddr as a gathered vector,
	// invoking onDone once the write completes or is superseded.
	Send(remoteAddr net.Addr, vec [][]byte, onDone func(error)) error
	// AssociateCID registers cid as routing to this session in the
	// dispatcher's table.
	AssociateCID(cid []byte) error
	// DisassociateCID removes a previously associated cid.
	DisassociateCID(cid []byte) error
	// RemoveSession deregisters the session entirely, called once at
	// destruction.
	RemoveSession()
}

// StreamSink is the application-facing stream object's contract toward
// a Session: the stream's own read/write API is out of scope, but a
// Session delivers data and lifecycle events to it through this
// interface.
type StreamSink interface {
	// OnData delivers newly-received, in-order bytes for a stream at
	// the given offset. fin indicates this is the stream's last chunk.
	OnData(streamID uint64, offset uint64, data []byte, fin bool)
	// OnReset notifies the stream it was abruptly reset by the peer.
	OnReset(streamID uint64, finalSize uint64, code uint64)
	// OnClose notifies the stream it is fully closed, locally or
	// remotely, with code 0 for a clean end.
	OnClose(streamID uint64, code uint64)
}

// Header is the already-parsed packet header the outer dispatcher
// hands to Receive, alongside the still-protected packet bytes.
type Header struct {
	DestinationCID []byte
	SourceCID      []byte
	PacketNumber   uint64
	IsLongHeader   bool
	IsInitial      bool
	IsRetry        bool
	Token          []byte
}

// ReceiveFlags modify how Receive interprets a datagram.
type ReceiveFlags uint8

const (
	// FlagECNMarked indicates the datagram arrived with an ECN
	// codepoint set, informing congestion feedback.
	FlagECNMarked ReceiveFlags = 1 << iota
)
