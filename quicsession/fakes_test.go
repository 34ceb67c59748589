package quicsession

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	qcrypto "github.com/caddyserver/quictransport/internal/crypto"
)

// fakeFrame is the plaintext unit fakeTransport hands Session on
// WritePacket and expects back, verbatim, on ReceivePacket: this fake
// does no real RFC 9000 frame encoding (explicitly out of scope, per
// the Transport doc comment), it just carries exactly the bytes a real
// Transport would have framed as a single CRYPTO frame, so the session
// logic above it can be exercised end to end with a real TLS 1.3 QUIC
// handshake.
type fakeFrame struct {
	level qcrypto.Epoch
	data  []byte
}

// fakeTransport is a minimal stand-in for the ngtcp2-style engine
// Session drives: it has no congestion control or real frame codec,
// just a FIFO of queued crypto bytes and a packet-number counter per
// epoch, enough to carry a real crypto/tls QUIC handshake between two
// in-process Sessions. It delivers every received payload straight
// back to the Session via OnCryptoData, tagged with the epoch the
// Session itself decrypted it under.
type fakeTransport struct {
	cb TransportCallbacks

	queue []fakeFrame
	pn    map[qcrypto.Epoch]uint64

	lastLevel qcrypto.Epoch
	lastPN    uint64

	// written holds one header per packet WritePacket has handed out
	// and fakeSocket has not yet tagged a datagram with, in order.
	written []Header

	peerParams []byte
	closed     bool
	lossFired  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{pn: make(map[qcrypto.Epoch]uint64)}
}

// setCallbacks wires the owning Session back into the fake, mirroring
// how a real Transport implementation is handed its TransportCallbacks
// at construction; done as a post-construction setter here only
// because the Session doesn't exist yet when the test builds the pair.
func (t *fakeTransport) setCallbacks(cb TransportCallbacks) { t.cb = cb }

func (t *fakeTransport) HandleTransportParameters(params []byte) error {
	t.peerParams = params
	return nil
}

func (t *fakeTransport) ReceivePacket(level qcrypto.Epoch, payload []byte, now time.Time) error {
	if len(payload) == 0 {
		return nil
	}
	t.cb.OnCryptoData(level, payload)
	return nil
}

func (t *fakeTransport) WritePacket(buf []byte, now time.Time) (int, qcrypto.Epoch, uint64, bool, error) {
	if len(t.queue) == 0 {
		return 0, qcrypto.EpochInitial, 0, false, nil
	}
	f := t.queue[0]
	t.queue = t.queue[1:]
	n := copy(buf, f.data)
	pn := t.pn[f.level]
	t.pn[f.level] = pn + 1
	t.lastLevel, t.lastPN = f.level, pn
	t.written = append(t.written, Header{
		IsInitial:    f.level == qcrypto.EpochInitial,
		IsLongHeader: f.level != qcrypto.EpochAppData,
		PacketNumber: pn,
	})
	return n, f.level, pn, len(t.queue) > 0, nil
}

func (t *fakeTransport) HasPendingData() bool { return len(t.queue) > 0 }

func (t *fakeTransport) QueueCryptoData(level qcrypto.Epoch, data []byte) {
	t.queue = append(t.queue, fakeFrame{level: level, data: append([]byte(nil), data...)})
}

func (t *fakeTransport) QueueStreamData(streamID uint64) {}

func (t *fakeTransport) QueueStreamShutdown(streamID uint64, write bool, code uint64) {}

func (t *fakeTransport) OnLossDetectionTimeout(now time.Time) { t.lossFired++ }

func (t *fakeTransport) NextTimeout() time.Time { return time.Time{} }

func (t *fakeTransport) Close(err *SessionError) { t.closed = true }

// queuedDatagram is one chunk of a Send call's vector, already tagged
// with its packet's header, waiting for the test driver to deliver it
// as its own datagram.
type queuedDatagram struct {
	hdr  Header
	data []byte
}

// fakeSocket bridges two Sessions in-process without ever recursing
// into the peer's own Receive call from inside Send: Send only
// enqueues, and the test driver's pump loop drains both sides'
// outboxes in turn. A real dispatcher hands bytes to the kernel and
// only later, asynchronously, routes an arriving datagram back to
// Receive; queuing here preserves that same non-reentrant shape so
// constructing one session's first flight can never require the
// other session to already exist.
type fakeSocket struct {
	selfTr *fakeTransport
	peer   *Session
	addr   net.Addr

	outbox []queuedDatagram

	associated map[string]bool
	sendCount  int
	removed    bool
}

func newFakeSocket(addr net.Addr) *fakeSocket {
	return &fakeSocket{addr: addr, associated: make(map[string]bool)}
}

func (f *fakeSocket) Send(remoteAddr net.Addr, vec [][]byte, onDone func(error)) error {
	f.sendCount++
	for _, chunk := range vec {
		hdr := Header{
			IsInitial:    f.selfTr.lastLevel == qcrypto.EpochInitial,
			IsLongHeader: f.selfTr.lastLevel != qcrypto.EpochAppData,
			PacketNumber: f.selfTr.lastPN,
		}
		if len(f.selfTr.written) > 0 {
			hdr = f.selfTr.written[0]
			f.selfTr.written = f.selfTr.written[1:]
		}
		f.outbox = append(f.outbox, queuedDatagram{hdr: hdr, data: append([]byte(nil), chunk...)})
	}
	onDone(nil)
	return nil
}

// drain delivers every currently-queued datagram to the peer Session,
// returning how many were delivered.
func (f *fakeSocket) drain() (int, error) {
	delivered := 0
	for len(f.outbox) > 0 {
		dg := f.outbox[0]
		f.outbox = f.outbox[1:]
		if f.peer == nil {
			continue
		}
		if err := f.peer.Receive(dg.hdr, dg.data, f.addr, 0); err != nil {
			return delivered, err
		}
		delivered++
	}
	return delivered, nil
}

func (f *fakeSocket) AssociateCID(cid []byte) error {
	f.associated[string(cid)] = true
	return nil
}

func (f *fakeSocket) DisassociateCID(cid []byte) error {
	delete(f.associated, string(cid))
	return nil
}

func (f *fakeSocket) RemoveSession() { f.removed = true }

// fakeSink records every callback a Session delivers to a stream.
type fakeSink struct {
	data   [][]byte
	reset  bool
	closed bool
}

func (s *fakeSink) OnData(streamID uint64, offset uint64, data []byte, fin bool) {
	s.data = append(s.data, append([]byte(nil), data...))
}
func (s *fakeSink) OnReset(streamID uint64, finalSize uint64, code uint64) { s.reset = true }
func (s *fakeSink) OnClose(streamID uint64, code uint64)                  { s.closed = true }

// generateTestCert mints a throwaway self-signed ECDSA leaf, the same
// shape _examples/caddyserver-caddy/caddytls/crypto_test.go uses for
// its fast test certs (small/cheap key, no CA chain).
func generateTestCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating test key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "quicsession-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"example.test"},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating test cert: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}
