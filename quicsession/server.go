package quicsession

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/caddyserver/quictransport/retrytoken"
	"github.com/caddyserver/quictransport/transportconfig"

	"go.uber.org/zap"
)

// Server is the server-role specialization of Session (spec.md §4.5):
// it owns Retry-token issuance/verification and the ClientHello/
// Cert/OCSP callout surface, on top of the shared state machine.
// Prefer a thin wrapper plus a role enum over subclassing (design
// notes §9 "dual role without inheritance"): Server embeds *Session
// and adds only what differs.
type Server struct {
	*Session

	sealer *retrytoken.Sealer
}

// ServerConfig bundles what a listener needs to mint a new server-role
// Session once a ClientHello's Initial packet has been demultiplexed
// to it.
type ServerConfig struct {
	Socket    Socket
	Transport Transport
	Config    transportconfig.Settings
	TLSConfig *tls.Config
	SCID      []byte
	DCID      []byte
	ODCID     []byte
	ALPN      string
	Log       *zap.Logger
	Sealer    *retrytoken.Sealer
	NowFn     func() time.Time
}

// NewServer constructs a server-role Session and begins driving the
// TLS handshake (tls.QUICServer.Start), mirroring on_client_initial /
// setup_initial_crypto_context for the server side (spec.md §4.6
// describes the client analogue; the server performs the mirror image
// on receive_client_initial below, once the DCID to derive keys from
// is known).
func NewServer(ctx context.Context, c ServerConfig) (*Server, error) {
	s := newSession(sessionConfig{
		role:      RoleServer,
		socket:    c.Socket,
		transport: c.Transport,
		cfg:       c.Config,
		scid:      c.SCID,
		dcid:      c.DCID,
		odcid:     c.ODCID,
		alpn:      c.ALPN,
		log:       c.Log,
		nowFn:     c.NowFn,
	})
	s.tls = newServerTLSPump(c.TLSConfig)
	s.tls.setTransportParameters(s.localTransportParameters())
	srv := &Server{Session: s, sealer: c.Sealer}
	if err := s.tls.start(ctx); err != nil {
		return nil, fmt.Errorf("quicsession: starting server tls: %w", err)
	}
	return srv, nil
}

// SetCallouts registers the embedder's ClientHello/Cert callout
// handler. A nil c disables both callouts regardless of Signals.
func (srv *Server) SetCallouts(c Callouts) { srv.Session.callouts = c }

// ReceiveClientInitial installs the Initial-epoch keys derived from
// dcid (the client's chosen destination connection ID on its first
// Initial packet) and transitions the session into HANDSHAKE, per
// spec.md §4.5.
func (srv *Server) ReceiveClientInitial(dcid []byte) error {
	if err := srv.crypto.SetupInitial(dcid, true); err != nil {
		return fmt.Errorf("quicsession: deriving initial keys: %w", err)
	}
	if srv.state == StateInitial {
		srv.state = StateHandshake
		srv.stats.recordHandshakeStart(srv.now().UnixNano())
	}
	return nil
}

// IssueRetry seals a Retry token binding addr and originalDCID, for a
// server that wants address validation before committing per-connection
// state (spec.md §4.5, §4.7). It requires a Sealer to have been
// configured via ServerConfig.Sealer or SetSealer.
func (srv *Server) IssueRetry(addr net.Addr, originalDCID []byte) ([]byte, error) {
	if srv.sealer == nil {
		return nil, fmt.Errorf("quicsession: no retry sealer configured")
	}
	return srv.sealer.Generate(addr, originalDCID, srv.now())
}

// VerifyRetry checks a token presented on a subsequent Initial,
// returning the original DCID on success. Failures drop the packet
// per spec.md §4.5 ("failure drops the packet").
func (srv *Server) VerifyRetry(token []byte, addr net.Addr) ([]byte, error) {
	if srv.sealer == nil {
		return nil, fmt.Errorf("quicsession: no retry sealer configured")
	}
	return srv.sealer.Verify(token, addr, srv.now())
}

// SetSealer installs or replaces the Retry-token sealer, e.g. if the
// listener rotates its process-wide secret (design notes §9: the
// secret is process-wide with one-time init and explicit teardown).
func (srv *Server) SetSealer(sealer *retrytoken.Sealer) { srv.sealer = sealer }

// StartClosingPeriod builds and caches the CONNECTION_CLOSE/
// APPLICATION_CLOSE packet once, to be replayed on every further
// ingress during the closing period (spec.md §4.5). It is exported on
// Server because a listener enforcing its own idle sweep may need to
// drive it directly; Session.Close already calls it internally for
// the common local-error path.
func (srv *Server) StartClosingPeriod(err *SessionError) {
	srv.Session.lastErr = err
	srv.Session.startClosingPeriod()
}

// StartDrainingPeriod discards outbound bytes and arms the final
// timer, as the server does on receiving a peer CONNECTION_CLOSE
// (handled automatically via OnPeerClose) or on its own idle timeout.
func (srv *Server) StartDrainingPeriod() { srv.Session.startDrainingPeriod() }
