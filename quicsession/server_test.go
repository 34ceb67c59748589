package quicsession

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caddyserver/quictransport/retrytoken"
)

// recordingCallouts is a Callouts implementation that just remembers
// every ClientHello/Cert callout it was handed, for assertions.
type recordingCallouts struct {
	clientHello []ClientHelloInfo
	cert        []ClientHelloInfo
}

func (r *recordingCallouts) OnClientHello(info ClientHelloInfo) {
	r.clientHello = append(r.clientHello, info)
}

func (r *recordingCallouts) OnCert(info ClientHelloInfo) {
	r.cert = append(r.cert, info)
}

func TestServerSuspendsForClientHelloCallout(t *testing.T) {
	pair := newSessionPair(t)

	callouts := &recordingCallouts{}
	pair.server.SetCallouts(callouts)
	pair.server.Signals().SetClientHelloEnabled(true)

	_, err := pair.clientSock.drain()
	require.NoError(t, err)

	require.Equal(t, HandshakeAwaitingClientHello, pair.server.HandshakeState())
	require.Equal(t, StateHandshake, pair.server.State())
	require.Len(t, callouts.clientHello, 1)
	require.Equal(t, "example.test", callouts.clientHello[0].ServerName)
	require.Contains(t, callouts.clientHello[0].SupportedProto, "quicsession-test")
	require.Empty(t, callouts.cert)

	require.NoError(t, pair.server.OnClientHelloDone())
	require.Equal(t, HandshakeRunning, pair.server.HandshakeState())

	pair.pump(t)
	require.Equal(t, StateEstablished, pair.client.State())
	require.Equal(t, StateEstablished, pair.server.State())
}

func TestServerSuspendsForCertCallout(t *testing.T) {
	pair := newSessionPair(t)

	callouts := &recordingCallouts{}
	pair.server.SetCallouts(callouts)
	pair.server.Signals().SetCertEnabled(true)

	_, err := pair.clientSock.drain()
	require.NoError(t, err)

	require.Equal(t, HandshakeAwaitingCert, pair.server.HandshakeState())
	require.Len(t, callouts.cert, 1)
	require.Empty(t, callouts.clientHello)

	// The callout must resolve to a certificate the client trusts.
	resolved := pair.cert
	require.NoError(t, pair.server.OnCertDone(&resolved, []byte("ocsp-staple")))
	require.Equal(t, HandshakeRunning, pair.server.HandshakeState())

	pair.pump(t)
	require.Equal(t, StateEstablished, pair.client.State())
	require.Equal(t, StateEstablished, pair.server.State())
}

func TestServerClientHelloCalloutResolvesBeforeCert(t *testing.T) {
	pair := newSessionPair(t)

	callouts := &recordingCallouts{}
	pair.server.SetCallouts(callouts)
	pair.server.Signals().SetClientHelloEnabled(true)
	pair.server.Signals().SetCertEnabled(true)

	_, err := pair.clientSock.drain()
	require.NoError(t, err)
	require.Equal(t, HandshakeAwaitingClientHello, pair.server.HandshakeState())

	require.NoError(t, pair.server.OnClientHelloDone())
	require.Equal(t, HandshakeAwaitingCert, pair.server.HandshakeState())

	require.NoError(t, pair.server.OnCertDone(nil, nil))
	require.Equal(t, HandshakeRunning, pair.server.HandshakeState())

	pair.pump(t)
	require.Equal(t, StateEstablished, pair.server.State())
}

func TestServerIssueAndVerifyRetryToken(t *testing.T) {
	sealer, err := retrytoken.GenerateSealer(time.Minute)
	require.NoError(t, err)

	pair := newSessionPair(t)
	pair.server.SetSealer(sealer)

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001}
	odcid := []byte("initial-dcid-01")

	token, err := pair.server.IssueRetry(addr, odcid)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := pair.server.VerifyRetry(token, addr)
	require.NoError(t, err)
	require.Equal(t, odcid, got)

	wrongAddr := &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 1}
	_, err = pair.server.VerifyRetry(token, wrongAddr)
	require.ErrorIs(t, err, retrytoken.ErrBadTag)
}

func TestServerIssueRetryRequiresSealer(t *testing.T) {
	pair := newSessionPair(t)
	_, err := pair.server.IssueRetry(&net.UDPAddr{}, []byte("odcid"))
	require.Error(t, err)
	_, err = pair.server.VerifyRetry([]byte("token"), &net.UDPAddr{})
	require.Error(t, err)
}

func TestRetryTokenRejectsExpiredToken(t *testing.T) {
	sealer, err := retrytoken.GenerateSealer(time.Millisecond)
	require.NoError(t, err)

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001}
	token, err := sealer.Generate(addr, []byte("odcid"), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = sealer.Verify(token, addr, time.Now())
	require.ErrorIs(t, err, retrytoken.ErrExpired)
}

func TestServerClosingAndDrainingPeriods(t *testing.T) {
	pair := newSessionPair(t)
	pair.pump(t)

	pair.server.StartClosingPeriod(&SessionError{Family: ErrorFamilySession, Code: 7, Reason: "boom"})
	require.Equal(t, StateClosing, pair.server.State())
	require.Equal(t, uint64(7), pair.server.LastError().Code)

	pair.server.StartDrainingPeriod()
	require.Equal(t, StateDraining, pair.server.State())
}
