// Package quicsession implements the per-connection QUIC session state
// machine: the TLS 1.3 handshake pump, packet protection bookkeeping,
// stream multiplexing, loss-detection timers, connection-ID lifecycle,
// and graceful shutdown that sit between an outer UDP dispatcher and a
// QUIC transport/congestion engine. See Role, Server and Client for the
// two concrete specializations.
package quicsession

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/caddyserver/quictransport/connid"
	qcrypto "github.com/caddyserver/quictransport/internal/crypto"
	"github.com/caddyserver/quictransport/streamtable"
	"github.com/caddyserver/quictransport/transportconfig"

	"github.com/caddyserver/quictransport/internal/buffer"

	"go.uber.org/zap"
)

// Role is fixed for the lifetime of a Session.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// State is one of the six phases a Session moves through, strictly
// forward: CLOSING and DRAINING are both terminal-adjacent (DRAINING
// may follow CLOSING when the peer's own close arrives; only CLOSED
// follows DRAINING).
type State int

const (
	StateInitial State = iota
	StateHandshake
	StateEstablished
	StateClosing
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateHandshake:
		return "HANDSHAKE"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// peerHandshakeStage buffers reassembled CRYPTO-frame bytes per epoch,
// each with its own read cursor, so the TLS pump can consume exactly
// as much as the handshake library asks for and no more.
type peerHandshakeStage struct {
	buf [3][]byte
	off [3]int
}

func (p *peerHandshakeStage) append(e qcrypto.Epoch, data []byte) {
	p.buf[e] = append(p.buf[e], data...)
}

func (p *peerHandshakeStage) drain(e qcrypto.Epoch) []byte {
	out := p.buf[e][p.off[e]:]
	p.off[e] = len(p.buf[e])
	return out
}

// peek returns the bytes drain would return, without advancing the
// read cursor, so a server callout can inspect the staged ClientHello
// before committing it to the TLS library.
func (p *peerHandshakeStage) peek(e qcrypto.Epoch) []byte {
	return p.buf[e][p.off[e]:]
}

// Session is the core per-connection state machine. Exported methods
// are the only operations an embedder (socket dispatcher, stream
// object, or role specialization) may call; everything else is driven
// internally from those entry points. A Session is not safe for
// concurrent use: it is single-threaded cooperative, per spec — all
// calls must be serialized by the caller (e.g. one goroutine per
// connection, or an explicit per-session lock held by the dispatcher).
type Session struct {
	role Role
	state State

	log *zap.Logger

	socket      Socket
	remoteAddr  net.Addr
	transport   Transport
	tls         *tlsPump
	crypto      *qcrypto.Context
	streams     *streamtable.Table
	cids        *connid.Set
	cfg         transportconfig.Settings
	peerHS      peerHandshakeStage

	sendbuf    *buffer.Chunked
	handshake  *buffer.Chunked
	txbuf      *buffer.Chunked

	scid, dcid, odcid []byte

	alpn string

	lastErr *SessionError

	initial   bool
	closing   bool
	destroyed bool

	closeFrame []byte // cached CONNECTION_CLOSE/APPLICATION_CLOSE, replayed on further ingress

	idleDeadline       time.Time
	retransmitDeadline time.Time
	idleTimeout        time.Duration

	stats Statistics

	sinks map[uint64]StreamSink

	nowFn func() time.Time

	// inPump guards against re-entering pumpHandshake from within a
	// callback it invoked (e.g. a synchronous on_*_done call during a
	// server callout); a callback that returns synchronously lets this
	// frame finish driving the pump rather than recursing.
	inPump bool

	// diagnosticID is a non-wire correlation id bound into every log
	// line for this session, the way caddy's admin/event paths stamp a
	// request id onto a *zap.Logger.
	diagnosticID string

	signals  *Signals
	callouts Callouts

	handshakeState     HandshakeState
	pendingClientHello *ClientHelloInfo
	pendingCert        *ClientHelloInfo
	clientHelloCalled  bool
	certCalled         bool

	pacer *pacer

	// resumeGroup collapses concurrent OnClientHelloDone/OnCertDone
	// calls for this session into a single pump re-entry; see those
	// methods for why a second caller can legitimately race the first.
	resumeGroup singleflight.Group
}

// sessionConfig bundles the constructor parameters common to both role
// specializations.
type sessionConfig struct {
	role      Role
	socket    Socket
	transport Transport
	cfg       transportconfig.Settings
	scid      []byte
	dcid      []byte
	odcid     []byte
	alpn      string
	log       *zap.Logger
	nowFn     func() time.Time
}

func newSession(c sessionConfig) *Session {
	now := c.nowFn
	if now == nil {
		now = time.Now
	}
	log := c.log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		role:        c.role,
		state:       StateInitial,
		log:         log,
		socket:      c.socket,
		transport:   c.transport,
		crypto:      &qcrypto.Context{},
		cfg:         c.cfg,
		sendbuf:     &buffer.Chunked{},
		handshake:   &buffer.Chunked{},
		txbuf:       &buffer.Chunked{},
		scid:        c.scid,
		dcid:        c.dcid,
		odcid:       c.odcid,
		alpn:        c.alpn,
		initial:     true,
		idleTimeout: time.Duration(c.cfg.IdleTimeoutMS) * time.Millisecond,
		sinks:       make(map[uint64]StreamSink),
		nowFn:       now,
		signals:     &Signals{},
		pacer:       newPacer(),
		diagnosticID: uuid.NewString(),
	}
	s.cids = connid.NewSet(c.scid)
	s.signals.setConnectionIDCount(s.cids.Count())
	self := streamtable.Client
	if c.role == RoleServer {
		self = streamtable.Server
	}
	s.streams = streamtable.New(self, streamtable.Limits{
		MaxStreamsBidi:                 c.cfg.MaxStreamsBidi,
		MaxStreamsUni:                  c.cfg.MaxStreamsUni,
		InitialMaxStreamDataBidiLocal:  c.cfg.MaxStreamDataBidiLocal,
		InitialMaxStreamDataBidiRemote: c.cfg.MaxStreamDataBidiRemote,
		InitialMaxStreamDataUni:        c.cfg.MaxStreamDataUni,
	})
	s.stats.recordCreated(now().UnixNano())
	s.log = s.log.With(zap.String("session_id", s.diagnosticID), zap.String("role", c.role.String()))
	return s
}

// DiagnosticID returns the session's non-wire correlation id, stamped
// onto every log line this session emits.
func (s *Session) DiagnosticID() string { return s.diagnosticID }

// State reports the session's current lifecycle phase.
func (s *Session) State() State { return s.state }

// Role reports whether this session is playing the client or server
// role.
func (s *Session) Role() Role { return s.role }

// Stats returns a consistent snapshot of the session's counters.
func (s *Session) Stats() Snapshot { return s.stats.Snapshot() }

// ActiveCIDCount reports the size of this session's connection-ID set,
// the signal an embedder uses to decide whether path migration is
// currently possible.
func (s *Session) ActiveCIDCount() int { return s.cids.Count() }

func (s *Session) now() time.Time { return s.nowFn() }

// BindStream registers sink as the recipient of data/reset/close events
// for streamID, called by the stream object once it learns its ID (on
// open locally, or on first delivery for a peer-initiated stream).
func (s *Session) BindStream(streamID uint64, sink StreamSink) {
	s.sinks[streamID] = sink
}

func (s *Session) unbindStream(streamID uint64) {
	delete(s.sinks, streamID)
}

// OpenBidirectionalStream allocates a new locally-initiated
// bidirectional stream, failing with ErrNotReady before the handshake
// completes and ErrStreamLimit once MaxStreamsBidi streams have been
// opened locally (closed streams still count toward that cap).
func (s *Session) OpenBidirectionalStream() (uint64, error) {
	if s.state != StateEstablished {
		return 0, ErrNotReady
	}
	st, err := s.streams.OpenBidirectional()
	if err != nil {
		return 0, ErrStreamLimit
	}
	s.stats.recordStreamOpened(true, true)
	return st.ID, nil
}

// OpenUnidirectionalStream allocates a new locally-initiated
// unidirectional stream.
func (s *Session) OpenUnidirectionalStream() (uint64, error) {
	if s.state != StateEstablished {
		return 0, ErrNotReady
	}
	st, err := s.streams.OpenUnidirectional()
	if err != nil {
		return 0, ErrStreamLimit
	}
	s.stats.recordStreamOpened(false, true)
	return st.ID, nil
}

// SendStreamData schedules pending bytes on streamID for transmission,
// valid only once the handshake has completed.
func (s *Session) SendStreamData(streamID uint64) error {
	if s.closing {
		return ErrClosed
	}
	if s.state != StateEstablished {
		return ErrNotReady
	}
	if _, err := s.streams.Get(streamID); err != nil {
		return err
	}
	s.transport.QueueStreamData(streamID)
	return s.sendPendingData()
}

// SendStreamData0RTT schedules early stream data, valid only on a
// client session between INITIAL and ESTABLISHED once 1-RTT write keys
// are installed. It does not consult the resumption state staged via
// Client.SetSession/SetEarlyTransportParams.
func (s *Session) SendStreamData0RTT(streamID uint64) error {
	if s.role != RoleClient {
		return ErrNotReady
	}
	if s.state != StateInitial && s.state != StateHandshake {
		return ErrNotReady
	}
	if s.crypto.AppTX == nil {
		return ErrNotReady
	}
	if _, err := s.streams.Get(streamID); err != nil {
		return err
	}
	s.transport.QueueStreamData(streamID)
	return s.sendPendingData()
}

// ShutdownStreamRead sends STOP_SENDING for streamID with the given
// application error code.
func (s *Session) ShutdownStreamRead(streamID uint64, code uint64) error {
	if _, err := s.streams.Get(streamID); err != nil {
		return err
	}
	s.transport.QueueStreamShutdown(streamID, false, code)
	return s.sendPendingData()
}

// ShutdownStreamWrite sends RESET_STREAM for streamID with the given
// application error code.
func (s *Session) ShutdownStreamWrite(streamID uint64, code uint64) error {
	if _, err := s.streams.Get(streamID); err != nil {
		return err
	}
	s.transport.QueueStreamShutdown(streamID, true, code)
	return s.sendPendingData()
}

// ExtendStreamOffset raises the receive-side flow-control window for
// streamID by n bytes, to be announced via MAX_STREAM_DATA.
func (s *Session) ExtendStreamOffset(streamID uint64, n uint64) error {
	st, err := s.streams.Get(streamID)
	if err != nil {
		return err
	}
	st.ExtendRecvLimit(n)
	s.transport.QueueStreamData(streamID) // piggyback the MAX_STREAM_DATA on the next packet
	return nil
}

// Receive is the session's main ingress: the outer dispatcher routes a
// datagram here once it has parsed a header and identified the
// session. Receive decrypts, feeds crypto bytes to TLS, delivers
// stream payloads, updates flow-control/acks, arms timers, and
// flushes any newly pending outbound packets.
func (s *Session) Receive(hdr Header, protected []byte, srcAddr net.Addr, flags ReceiveFlags) error {
	if s.destroyed {
		return ErrClosed
	}
	now := s.now()
	s.stats.recordReceived(now.UnixNano(), len(protected))
	s.idleDeadline = now.Add(s.idleTimeout)

	if s.state == StateDraining {
		return nil // draining: no processing, no replies
	}
	if s.state == StateClosing {
		return s.replayCloseFrame(srcAddr)
	}

	epoch := epochForHeader(hdr)
	keys := s.rxKeysFor(epoch)
	if keys == nil {
		return s.fail(ErrorFamilySession, 1, "no receive keys for packet epoch")
	}
	plaintext, err := keys.Decrypt(nil, protected, hdr.PacketNumber, nil)
	if err != nil {
		return s.fail(ErrorFamilySession, 2, "packet decryption failed")
	}

	if s.state == StateInitial {
		s.state = StateHandshake
		s.stats.recordHandshakeStart(now.UnixNano())
	}

	if err := s.transport.ReceivePacket(epoch, plaintext, now); err != nil {
		return s.fail(ErrorFamilySession, 3, fmt.Sprintf("transport rejected packet: %v", err))
	}

	if err := s.pumpHandshake(); err != nil {
		return err
	}

	return s.sendPendingData()
}

func epochForHeader(hdr Header) qcrypto.Epoch {
	if hdr.IsInitial {
		return qcrypto.EpochInitial
	}
	if hdr.IsLongHeader {
		return qcrypto.EpochHandshake
	}
	return qcrypto.EpochAppData
}

func (s *Session) rxKeysFor(e qcrypto.Epoch) *qcrypto.Keys {
	switch e {
	case qcrypto.EpochInitial:
		return s.crypto.InitialRX
	case qcrypto.EpochHandshake:
		return s.crypto.HandshakeRX
	default:
		return s.crypto.AppRX
	}
}

func (s *Session) txKeysFor(e qcrypto.Epoch) *qcrypto.Keys {
	switch e {
	case qcrypto.EpochInitial:
		return s.crypto.InitialTX
	case qcrypto.EpochHandshake:
		return s.crypto.HandshakeTX
	default:
		return s.crypto.AppTX
	}
}

// OnCryptoData implements TransportCallbacks: the transport hands us
// reassembled CRYPTO-frame bytes in offset order, which we stage for
// the TLS pump.
func (s *Session) OnCryptoData(level qcrypto.Epoch, data []byte) {
	s.peerHS.append(level, data)
}

// OnStreamData implements TransportCallbacks.
func (s *Session) OnStreamData(streamID uint64, offset uint64, data []byte, fin bool) {
	st, err := s.streams.Admit(streamID)
	if err != nil {
		return
	}
	st.RecordReceive(uint64(len(data)))
	if fin {
		st.SetFinalSize(offset + uint64(len(data)))
	}
	if sink, ok := s.sinks[streamID]; ok {
		sink.OnData(streamID, offset, data, fin)
	}
}

// OnStreamReset implements TransportCallbacks.
func (s *Session) OnStreamReset(streamID uint64, finalSize uint64, code uint64) {
	_ = s.streams.Reset(streamID, code, finalSize)
	if sink, ok := s.sinks[streamID]; ok {
		sink.OnReset(streamID, finalSize, code)
	}
	s.unbindStream(streamID)
}

// OnStreamStopSending implements TransportCallbacks.
func (s *Session) OnStreamStopSending(streamID uint64, code uint64) {
	if sink, ok := s.sinks[streamID]; ok {
		sink.OnClose(streamID, code)
	}
}

// OnMaxStreamData implements TransportCallbacks.
func (s *Session) OnMaxStreamData(streamID uint64, limit uint64) {
	if st, err := s.streams.Get(streamID); err == nil {
		st.ExtendSendLimit(limit)
	}
}

// OnKeyUpdateRequested implements TransportCallbacks: derive new 1-RTT
// keys and bump the key-update counter.
func (s *Session) OnKeyUpdateRequested() {
	if err := s.crypto.UpdateAppKeys(16); err == nil {
		s.stats.recordKeyUpdate()
	}
}

// OnCongestionUpdate implements TransportCallbacks by retuning the
// packet-write loop's pacer from the transport's latest sample.
func (s *Session) OnCongestionUpdate(congestionWindow int, smoothedRTT time.Duration) {
	s.pacer.Update(congestionWindow, smoothedRTT)
}

// OnPathValidated implements TransportCallbacks: on success, the
// previously-candidate remote address becomes authoritative.
func (s *Session) OnPathValidated(success bool, candidate net.Addr) {
	if success && candidate != nil {
		s.remoteAddr = candidate
	}
}

// OnNewConnectionID implements TransportCallbacks.
func (s *Session) OnNewConnectionID(seq uint64, cid []byte, resetToken [16]byte, retirePriorTo uint64) {
	_ = s.cids.Add(connid.ID{Bytes: cid, Sequence: seq, ResetToken: resetToken})
	if retirePriorTo > 0 {
		for _, retired := range s.cids.RetireBelow(retirePriorTo) {
			_ = s.socket.DisassociateCID(retired.Bytes)
		}
	}
	_ = s.socket.AssociateCID(cid)
	s.signals.setConnectionIDCount(s.cids.Count())
}

// OnRetireConnectionID implements TransportCallbacks.
func (s *Session) OnRetireConnectionID(seq uint64) {
	if id, ok := s.cids.Lookup(seq); ok {
		_ = s.socket.DisassociateCID(id.Bytes)
	}
	_ = s.cids.Retire(seq)
	s.signals.setConnectionIDCount(s.cids.Count())
}

// OnPeerClose implements TransportCallbacks: the peer sent
// CONNECTION_CLOSE or APPLICATION_CLOSE; move to DRAINING.
func (s *Session) OnPeerClose(family ErrorFamily, code uint64, reason string) {
	if s.state == StateClosed || s.state == StateDraining {
		return
	}
	s.lastErr = &SessionError{Family: family, Code: code, Reason: reason}
	s.startDrainingPeriod()
}

// pumpHandshake alternates reading any newly-staged peer handshake
// bytes into the TLS engine with draining TLS's own output events,
// exactly the "handshake pump" described in the design: a
// synchronously-returning event does not re-enter the pump, but this
// call itself loops until TLS produces no more events for data already
// on hand.
func (s *Session) pumpHandshake() error {
	if s.inPump {
		return nil
	}
	s.inPump = true
	defer func() { s.inPump = false }()

	if s.handshakeState != HandshakeRunning {
		return nil // still suspended on a server callout; resumed explicitly via *Done
	}
	if s.role == RoleServer {
		if suspended, err := s.maybeSuspendForCallout(); suspended || err != nil {
			return err
		}
	}

	now := s.now()
	s.stats.recordHandshakeContinue(now.UnixNano())

	for _, level := range []qcrypto.Epoch{qcrypto.EpochInitial, qcrypto.EpochHandshake, qcrypto.EpochAppData} {
		data := s.peerHS.drain(level)
		if len(data) == 0 {
			continue
		}
		if err := s.tls.handleData(level, data); err != nil {
			return s.fail(ErrorFamilyCrypto, 0, err.Error())
		}
	}

	var pumpErr error
	s.tls.drain(func(ev handshakeEvent) {
		if pumpErr != nil {
			return
		}
		switch ev.kind {
		case eventWriteData:
			if err := s.handshake.PushChunk(ev.data); err != nil {
				pumpErr = err
				return
			}
			s.handshake.Seek(1)
			s.handshake.Consume(int64(len(ev.data)))
			s.transport.QueueCryptoData(ev.level, ev.data)
			s.stats.recordHandshakeSend(s.now().UnixNano())
		case eventSetReadSecret:
			pumpErr = s.installSecret(ev.level, ev.readSecret, nil)
		case eventSetWriteSecret:
			pumpErr = s.installSecret(ev.level, nil, ev.writeSecret)
		case eventTransportParameters:
			pumpErr = s.transport.HandleTransportParameters(ev.transportParams)
		case eventTransportParametersRequired:
			s.tls.setTransportParameters(s.localTransportParameters())
		case eventHandshakeDone:
			s.onHandshakeComplete()
		}
	})
	if pumpErr != nil {
		return s.fail(ErrorFamilyCrypto, 0, pumpErr.Error())
	}
	return nil
}

func (s *Session) installSecret(level qcrypto.Epoch, rxSecret, txSecret []byte) error {
	const aes128KeyLen = 16
	switch level {
	case qcrypto.EpochHandshake:
		if rxSecret != nil {
			keys, err := qcrypto.DeriveEpoch(qcrypto.SuiteAES128GCM, rxSecret, aes128KeyLen)
			if err != nil {
				return err
			}
			s.crypto.HandshakeRX = keys
		}
		if txSecret != nil {
			keys, err := qcrypto.DeriveEpoch(qcrypto.SuiteAES128GCM, txSecret, aes128KeyLen)
			if err != nil {
				return err
			}
			s.crypto.HandshakeTX = keys
		}
	case qcrypto.EpochAppData:
		if rxSecret != nil {
			keys, err := qcrypto.DeriveEpoch(qcrypto.SuiteAES128GCM, rxSecret, aes128KeyLen)
			if err != nil {
				return err
			}
			s.crypto.AppRX = keys
		}
		if txSecret != nil {
			keys, err := qcrypto.DeriveEpoch(qcrypto.SuiteAES128GCM, txSecret, aes128KeyLen)
			if err != nil {
				return err
			}
			s.crypto.AppTX = keys
		}
	}
	return nil
}

func (s *Session) onHandshakeComplete() {
	if s.state != StateEstablished {
		s.state = StateEstablished
		now := s.now()
		s.stats.recordHandshakeCompleted(now.UnixNano())
		s.idleDeadline = now.Add(s.idleTimeout)
		s.initial = false
	}
}

// sendPendingData is the packet-write loop (spec §4.4): while the
// transport reports bytes to send, write packets into sendbuf, flush
// to txbuf, and hand a vector view to the socket. It stops writing new
// packets when the transport produces an empty packet, the pacer
// blocks, or the session is CLOSING; bytes already in sendbuf (such as
// the cached close frame) are still flushed.
func (s *Session) sendPendingData() error {
	now := s.now()
	const maxPacketBatch = 16
	buf := make([]byte, int(s.cfg.MaxPacketSize))

	for i := 0; i < maxPacketBatch; i++ {
		if s.closing {
			break
		}
		if !s.transport.HasPendingData() && s.handshake.Length() == 0 {
			break
		}
		n, level, pn, hasMore, err := s.transport.WritePacket(buf, now)
		if err != nil {
			return s.fail(ErrorFamilySession, 4, fmt.Sprintf("packet write failed: %v", err))
		}
		if n == 0 {
			break
		}
		if !s.pacer.Allow(n) {
			break
		}
		txKeys := s.txKeysFor(level)
		protected, err := txKeys.Encrypt(nil, buf[:n], pn, nil)
		if err != nil {
			return s.fail(ErrorFamilySession, 5, fmt.Sprintf("packet encryption failed: %v", err))
		}
		if err := s.sendbuf.PushChunk(protected); err != nil {
			return err
		}
		if !hasMore {
			break
		}
	}

	if s.sendbuf.Length() == 0 {
		return nil
	}
	s.sendbuf.Seek(1 << 30)
	s.txbuf.Move(s.sendbuf)

	var vecs [][]byte
	s.txbuf.Pull(func(status buffer.PullStatus, v [][]byte, done buffer.DoneFunc) {
		vecs = v
		var n int64
		for _, vv := range v {
			n += int64(len(vv))
		}
		done(n)
	}, buffer.OptSync, 64)

	if len(vecs) == 0 {
		return nil
	}
	total := 0
	for _, v := range vecs {
		total += len(v)
	}
	s.stats.recordSent(now.UnixNano(), total)
	s.retransmitDeadline = now.Add(s.currentPTO())

	consumed := int64(total)
	return s.socket.Send(s.remoteAddr, vecs, func(err error) {
		s.txbuf.Consume(consumed)
	})
}

// currentPTO is a placeholder RTT-based PTO estimate; real pacing and
// RTT estimation live in the Transport collaborator. A fixed initial
// value keeps the retransmit timer well-defined before any RTT sample
// exists.
func (s *Session) currentPTO() time.Duration {
	return 333 * time.Millisecond
}

func (s *Session) fail(family ErrorFamily, code uint64, reason string) error {
	s.lastErr = &SessionError{Family: family, Code: code, Reason: reason}
	s.startClosingPeriod()
	return s.lastErr
}

// Close initiates a graceful close with the given application or
// session error, building and caching the close frame for replay.
func (s *Session) Close(errCode *SessionError) error {
	if s.closing || s.state == StateClosed {
		return ErrClosed
	}
	if errCode == nil {
		errCode = &SessionError{Family: ErrorFamilyApplication, Code: 0}
	}
	s.lastErr = errCode
	s.startClosingPeriod()
	return nil
}

func (s *Session) startClosingPeriod() {
	if s.closing {
		return
	}
	s.closing = true
	s.state = StateClosing
	s.stats.recordClosing(s.now().UnixNano())
	s.transport.Close(s.lastErr)
	s.closeFrame = encodeCloseFrame(s.lastErr)
	_ = s.sendbuf.PushChunk(s.closeFrame)
	s.sendbuf.Seek(1)
	_ = s.sendPendingData()
}

func (s *Session) startDrainingPeriod() {
	s.state = StateDraining
	s.sendbuf.Cancel()
	s.handshake.Cancel()
	s.retransmitDeadline = s.now().Add(3 * s.currentPTO())
}

func (s *Session) replayCloseFrame(addr net.Addr) error {
	if len(s.closeFrame) == 0 {
		return nil
	}
	return s.socket.Send(addr, [][]byte{s.closeFrame}, func(error) {})
}

func encodeCloseFrame(err *SessionError) []byte {
	if err == nil {
		return nil
	}
	return []byte(fmt.Sprintf("CLOSE family=%s code=%d reason=%s", err.Family, err.Code, err.Reason))
}

// Destroy transitions the session to CLOSED and tears down local
// resources immediately. It is idempotent.
func (s *Session) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.state = StateClosed

	var teardownErr error
	var streamIDs []uint64
	s.streams.ForEach(func(st *streamtable.Stream) {
		streamIDs = append(streamIDs, st.ID)
	})
	for _, id := range streamIDs {
		if err := s.streams.Close(id, streamtable.StateClosed); err != nil {
			teardownErr = multierr.Append(teardownErr, err)
		}
	}
	for _, id := range s.cids.All() {
		if err := s.socket.DisassociateCID(id.Bytes); err != nil {
			teardownErr = multierr.Append(teardownErr, err)
		}
	}
	if s.tls != nil {
		if err := s.tls.close(); err != nil {
			teardownErr = multierr.Append(teardownErr, err)
		}
	}
	s.socket.RemoveSession()
	if teardownErr != nil {
		s.log.Warn("session teardown encountered errors", zap.Error(teardownErr))
	}
}

// OnIdleTimeout is invoked by the embedder's timer loop once
// IdleDeadline has passed with no intervening send or receive.
func (s *Session) OnIdleTimeout() {
	if s.role == RoleClient {
		s.Destroy()
		return
	}
	s.startDrainingPeriod()
}

// OnRetransmitTimeout is invoked by the embedder's timer loop once
// RetransmitDeadline fires; it is a soft event that re-enters the send
// path after giving the transport a chance to mark packets lost.
func (s *Session) OnRetransmitTimeout() {
	now := s.now()
	s.transport.OnLossDetectionTimeout(now)
	_ = s.sendPendingData()
}

// IdleDeadline reports when OnIdleTimeout should next be invoked.
func (s *Session) IdleDeadline() time.Time { return s.idleDeadline }

// RetransmitDeadline reports when OnRetransmitTimeout should next be
// invoked, the zero Time if nothing is currently scheduled.
func (s *Session) RetransmitDeadline() time.Time { return s.retransmitDeadline }

// LastError returns the session's single last-error slot, nil if none
// has been recorded.
func (s *Session) LastError() *SessionError { return s.lastErr }

// SetSocket re-points the session at a different Socket, used by the
// client role's migration support.
func (s *Session) SetSocket(sock Socket) { s.socket = sock }
