package quicsession

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/caddyserver/quictransport/transportconfig"
)

// sessionPair bundles everything needed to drive a real crypto/tls
// QUIC handshake between an in-process client and server Session, the
// way _examples/caddyserver-caddy's integration tests spin up a real
// net.Listener rather than mocking at the HTTP layer: here the two
// fakeTransport/fakeSocket pairs stand in for the listener, but the
// TLS stack underneath is the genuine standard library implementation.
type sessionPair struct {
	server     *Server
	client     *Client
	serverTr   *fakeTransport
	clientTr   *fakeTransport
	serverSock *fakeSocket
	clientSock *fakeSocket

	// cert is the server certificate the client's RootCAs trust.
	cert tls.Certificate
}

func newSessionPair(t *testing.T) *sessionPair {
	t.Helper()

	cert := generateTestCert(t)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	serverTLSConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"quicsession-test"},
		MinVersion:   tls.VersionTLS13,
	}
	clientTLSConfig := &tls.Config{
		RootCAs:    pool,
		ServerName: "example.test",
		NextProtos: []string{"quicsession-test"},
		MinVersion: tls.VersionTLS13,
	}

	dcid := []byte("initial-dcid-01")
	scidServer := []byte("server-scid-01")
	scidClient := []byte("client-scid-01")

	cfg := transportconfig.Defaults()
	settingsServer, err := cfg.ToSettings(scidServer, true)
	require.NoError(t, err)
	settingsClient, err := cfg.ToSettings(scidClient, true)
	require.NoError(t, err)

	addrServer := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4433}
	addrClient := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001}

	serverTr := newFakeTransport()
	clientTr := newFakeTransport()

	serverSock := newFakeSocket(addrClient)
	serverSock.selfTr = serverTr
	clientSock := newFakeSocket(addrServer)
	clientSock.selfTr = clientTr

	ctx := context.Background()

	srv, err := NewServer(ctx, ServerConfig{
		Socket:    serverSock,
		Transport: serverTr,
		Config:    settingsServer,
		TLSConfig: serverTLSConfig,
		SCID:      scidServer,
		DCID:      dcid,
		ODCID:     dcid,
		ALPN:      "quicsession-test",
		Log:       zap.NewNop(),
	})
	require.NoError(t, err)
	serverTr.setCallbacks(srv.Session)
	require.NoError(t, srv.ReceiveClientInitial(dcid))

	// The server can now accept a datagram, so hand the client's
	// socket its peer before the client's first flight goes out.
	clientSock.peer = srv.Session

	cli, err := NewClient(ctx, ClientConfig{
		Socket:     clientSock,
		Transport:  clientTr,
		Config:     settingsClient,
		TLSConfig:  clientTLSConfig,
		SCID:       scidClient,
		DCID:       dcid,
		ALPN:       "quicsession-test",
		RemoteAddr: addrServer,
		Log:        zap.NewNop(),
		DeferStart: true,
	})
	require.NoError(t, err)
	clientTr.setCallbacks(cli.Session)
	serverSock.peer = cli.Session
	require.NoError(t, cli.Start(ctx))

	return &sessionPair{
		server: srv, client: cli,
		serverTr: serverTr, clientTr: clientTr,
		serverSock: serverSock, clientSock: clientSock,
		cert: cert,
	}
}

// pump alternately drains both fake sockets' outboxes until neither
// has anything left to deliver, the way a real test harness pumps an
// in-memory network rather than relying on actual goroutine
// concurrency (the Session is explicitly not safe for concurrent use).
func (p *sessionPair) pump(t *testing.T) {
	t.Helper()
	for i := 0; i < 64; i++ {
		nc, err := p.clientSock.drain()
		require.NoError(t, err)
		ns, err := p.serverSock.drain()
		require.NoError(t, err)
		if nc == 0 && ns == 0 {
			return
		}
	}
	t.Fatal("network did not quiesce within 64 pump rounds")
}

func TestHandshakeEstablishesBothSessions(t *testing.T) {
	pair := newSessionPair(t)
	pair.pump(t)

	require.Equal(t, StateEstablished, pair.client.State())
	require.Equal(t, StateEstablished, pair.server.State())

	clientStats := pair.client.Stats()
	serverStats := pair.server.Stats()
	require.NotZero(t, clientStats.HandshakeCompletedAt)
	require.NotZero(t, serverStats.HandshakeCompletedAt)
	require.NotZero(t, clientStats.HandshakeStartAt)
	require.NotZero(t, serverStats.HandshakeStartAt)
}

func TestStreamOpenRequiresEstablishedSession(t *testing.T) {
	pair := newSessionPair(t)

	_, err := pair.client.OpenBidirectionalStream()
	require.ErrorIs(t, err, ErrNotReady)

	pair.pump(t)

	id, err := pair.client.OpenBidirectionalStream()
	require.NoError(t, err)

	sink := &fakeSink{}
	pair.client.BindStream(id, sink)
	require.NoError(t, pair.client.SendStreamData(id))
}

func TestSignalsTrackConnectionIDCount(t *testing.T) {
	pair := newSessionPair(t)
	require.Equal(t, 1, pair.client.Signals().ConnectionIDCount())

	var resetToken [16]byte
	resetToken[0] = 0xAB
	pair.client.OnNewConnectionID(1, []byte("second-client-cid"), resetToken, 0)
	require.Equal(t, 2, pair.client.Signals().ConnectionIDCount())
	require.Equal(t, 2, pair.client.ActiveCIDCount())

	pair.client.OnRetireConnectionID(1)
	require.Equal(t, 1, pair.client.Signals().ConnectionIDCount())
}

func TestDestroyIsIdempotentAndDisassociatesCIDs(t *testing.T) {
	pair := newSessionPair(t)
	pair.pump(t)

	pair.client.Destroy()
	require.True(t, pair.clientSock.removed)
	require.Empty(t, pair.clientSock.associated)

	require.NotPanics(t, func() { pair.client.Destroy() })
}

func TestCloseCachesCloseFrameForReplay(t *testing.T) {
	pair := newSessionPair(t)
	pair.pump(t)

	require.NoError(t, pair.client.Close(&SessionError{Family: ErrorFamilyApplication, Code: 42}))
	require.Equal(t, StateClosing, pair.client.State())
	require.Equal(t, encodeCloseFrame(&SessionError{Family: ErrorFamilyApplication, Code: 42}), pair.client.closeFrame)

	// A further Close attempt on an already-closing session is rejected.
	require.ErrorIs(t, pair.client.Close(nil), ErrClosed)
}

func TestIdleTimeoutBehaviorDiffersByRole(t *testing.T) {
	pair := newSessionPair(t)
	pair.pump(t)

	pair.server.OnIdleTimeout()
	require.Equal(t, StateDraining, pair.server.State())

	pair.client.OnIdleTimeout()
	require.Equal(t, StateClosed, pair.client.State())
}

func TestPacerGatesLargeWrites(t *testing.T) {
	p := newPacer()
	// A fresh pacer has no congestion-window sample yet, so it must not
	// throttle the handshake's first flight.
	require.True(t, p.Allow(1200))

	p.Update(1200, 100*time.Millisecond)
	require.False(t, p.Allow(1<<20))
}
