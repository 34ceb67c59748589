package quicsession

import (
	"net"
	"time"

	qcrypto "github.com/caddyserver/quictransport/internal/crypto"
)

// Transport is the packetization/congestion/loss-detection engine a
// Session drives. Implementing RFC 9000's packet number spaces, frame
// encoding, congestion control and loss recovery is explicitly out of
// scope for this module (the design assumes a library exposing an
// ngtcp2-style callback surface); Transport is that collaborator's
// contract. A Session only ever calls these methods from its own
// single-threaded event loop.
type Transport interface {
	// HandleTransportParameters ingests the peer's decoded transport
	// parameters, once available from the TLS layer.
	HandleTransportParameters(params []byte) error

	// ReceivePacket hands the transport a decrypted packet payload
	// (stream/ack/control frames, already AEAD-opened by the Session)
	// for parsing and frame dispatch, tagged with the packet-number
	// space it arrived in (Initial/Handshake CRYPTO frames belong to
	// independent spaces per RFC 9000 §12.3). Frame effects are
	// reported back through the TransportCallbacks supplied at
	// construction.
	ReceivePacket(level qcrypto.Epoch, payload []byte, recvTime time.Time) error

	// WritePacket asks the transport to encode its next pending
	// packet's plaintext frame payload (ack, control frames, and any
	// stream/crypto data the pacer currently allows) into buf,
	// returning the number of bytes written, the epoch whose tx keys
	// the Session must apply, the transport-assigned packet number for
	// that epoch's space (needed to derive the AEAD nonce), and
	// whether additional packets remain ready immediately.
	WritePacket(buf []byte, now time.Time) (n int, level qcrypto.Epoch, packetNumber uint64, hasMore bool, err error)

	// HasPendingData reports whether WritePacket would produce a
	// non-empty packet right now.
	HasPendingData() bool

	// QueueCryptoData hands the transport newly-produced outbound TLS
	// handshake bytes at the given epoch, to be framed into CRYPTO
	// frames and included in a future WritePacket call. The Session
	// stages these in its own `handshake` buffer only long enough to
	// hand them off here (spec.md §3's ChunkedSendBuffer is the
	// staging area, not where the bytes ultimately live).
	QueueCryptoData(level qcrypto.Epoch, data []byte)

	// QueueStreamData notifies the transport that more bytes are
	// available to send on streamID, e.g. after SendStreamData.
	QueueStreamData(streamID uint64)

	// QueueStreamShutdown notifies the transport to emit
	// STOP_SENDING (write=false, read-direction shutdown) or
	// RESET_STREAM (write=true, write-direction reset) for streamID.
	QueueStreamShutdown(streamID uint64, write bool, code uint64)

	// OnLossDetectionTimeout fires the transport's probe/retransmit
	// logic after the Session's retransmit timer expires.
	OnLossDetectionTimeout(now time.Time)

	// NextTimeout reports when the transport next wants
	// OnLossDetectionTimeout called, the zero Time if never.
	NextTimeout() time.Time

	// Close tells the transport the session is closing, with the local
	// error to encode into CONNECTION_CLOSE/APPLICATION_CLOSE.
	Close(err *SessionError)
}

// TransportCallbacks is the set of notifications a Transport delivers
// back to its owning Session as it parses incoming frames and reacts
// to loss/pacing events, mirroring ngtcp2_callbacks' recv_stream_data,
// stream_close, update_key, path_validation, and CID callbacks.
type TransportCallbacks interface {
	// OnCryptoData delivers reassembled CRYPTO-frame bytes at the given
	// epoch, in offset order, for the Session to feed into its TLS
	// handshake pump via its own peer-handshake staging cursor.
	OnCryptoData(level qcrypto.Epoch, data []byte)
	OnStreamData(streamID uint64, offset uint64, data []byte, fin bool)
	OnStreamReset(streamID uint64, finalSize uint64, code uint64)
	OnStreamStopSending(streamID uint64, code uint64)
	OnMaxStreamData(streamID uint64, limit uint64)
	OnKeyUpdateRequested()
	OnPathValidated(success bool, candidate net.Addr)
	// OnCongestionUpdate reports a fresh congestion-window/smoothed-RTT
	// sample, used to retune the packet-write loop's pacer.
	OnCongestionUpdate(congestionWindow int, smoothedRTT time.Duration)
	OnNewConnectionID(seq uint64, cid []byte, resetToken [16]byte, retirePriorTo uint64)
	OnRetireConnectionID(seq uint64)
	OnPeerClose(family ErrorFamily, code uint64, reason string)
}
