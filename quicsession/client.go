package quicsession

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/caddyserver/quictransport/transportconfig"

	"go.uber.org/zap"
)

// PreferredAddressPolicy controls whether a client honors a server's
// advertised preferred address (spec.md §4.4 "Preferred address
// (client)").
type PreferredAddressPolicy int

const (
	// PreferredAddressUse switches the session's remote path to the
	// server's advertised preferred address once available.
	PreferredAddressUse PreferredAddressPolicy = iota
	// PreferredAddressIgnore keeps the session on its original path.
	PreferredAddressIgnore
)

// Client is the client-role specialization of Session (spec.md §4.6):
// it issues the first Initial packet, optionally carries 0-RTT
// resumption state, and supports explicit socket migration.
type Client struct {
	*Session

	preferredAddrPolicy PreferredAddressPolicy
	preferredAddr       net.Addr

	resumptionTicket     []byte
	earlyTransportParams []byte
}

// ClientConfig bundles what a dialer needs to mint a new client-role
// Session and issue its first Initial packet.
type ClientConfig struct {
	Socket      Socket
	Transport   Transport
	Config      transportconfig.Settings
	TLSConfig   *tls.Config
	SCID        []byte
	DCID        []byte // server's chosen/advertised DCID, or a random guess for the first Initial
	ALPN        string
	RemoteAddr  net.Addr
	Log         *zap.Logger
	NowFn       func() time.Time
	PreferredAddressPolicy PreferredAddressPolicy

	// DeferStart, when true, skips the automatic Start call so the
	// caller can stage resumption state via SetSession/
	// SetEarlyTransportParams before calling Start itself.
	DeferStart bool
}

// NewClient constructs a client-role Session, derives its Initial keys
// from the chosen DCID, and starts the TLS handshake via Start unless
// c.DeferStart is set; deferring lets the caller stage resumption
// state via SetSession/SetEarlyTransportParams first (spec.md §4.6
// requires those land before the first flight is produced).
func NewClient(ctx context.Context, c ClientConfig) (*Client, error) {
	s := newSession(sessionConfig{
		role:      RoleClient,
		socket:    c.Socket,
		transport: c.Transport,
		cfg:       c.Config,
		scid:      c.SCID,
		dcid:      c.DCID,
		alpn:      c.ALPN,
		log:       c.Log,
		nowFn:     c.NowFn,
	})
	s.remoteAddr = c.RemoteAddr
	s.tls = newClientTLSPump(c.TLSConfig)
	s.tls.setTransportParameters(s.localTransportParameters())

	cl := &Client{Session: s, preferredAddrPolicy: c.PreferredAddressPolicy}

	if err := s.crypto.SetupInitial(c.DCID, false); err != nil {
		return nil, fmt.Errorf("quicsession: deriving initial keys: %w", err)
	}
	if !c.DeferStart {
		if err := cl.Start(ctx); err != nil {
			return nil, err
		}
	}
	return cl, nil
}

// Start begins driving the TLS handshake (tls.QUICClient.Start),
// making the first flight (ClientHello, and any 0-RTT data already
// queued via SetSession/SetEarlyTransportParams) available through
// sendPendingData. NewClient calls this automatically; it is exported
// so a caller that needs to configure resumption first can construct
// the Client, call SetSession/SetEarlyTransportParams, and then Start
// explicitly instead.
func (c *Client) Start(ctx context.Context) error {
	if err := c.tls.start(ctx); err != nil {
		return fmt.Errorf("quicsession: starting client tls: %w", err)
	}
	c.state = StateHandshake
	c.stats.recordHandshakeStart(c.now().UnixNano())
	if err := c.pumpHandshake(); err != nil {
		return err
	}
	return c.sendPendingData()
}

// SetSession ingests a resumption ticket opaque blob ahead of the
// handshake, enabling 0-RTT once paired with SetEarlyTransportParams.
// Must be called before the handshake begins producing its first
// flight; calling it afterward is a no-op.
func (c *Client) SetSession(ticket []byte) error {
	if c.state != StateInitial {
		return nil
	}
	if len(ticket) == 0 {
		return ErrInvalidTLSSessionTicket
	}
	c.resumptionTicket = append([]byte(nil), ticket...)
	return nil
}

// SetEarlyTransportParams stores the peer's previously-remembered
// transport parameters so 0-RTT stream data can be sent under the
// limits the server granted last time, before its current response
// arrives.
func (c *Client) SetEarlyTransportParams(blob []byte) error {
	if len(blob) == 0 {
		return ErrInvalidRemoteTransportParams
	}
	c.earlyTransportParams = append([]byte(nil), blob...)
	return nil
}

// HasResumption reports whether both a ticket and early transport
// parameters are staged. Session.SendStreamData0RTT does not consult
// it, and the staged ticket is not passed to the TLS handshake.
func (c *Client) HasResumption() bool {
	return len(c.resumptionTicket) > 0 && len(c.earlyTransportParams) > 0
}

// SetSocket migrates the client onto a different Socket, e.g. after a
// local interface change. natRebinding is not passed to the transport:
// when false, the pacer is replaced with a fresh one so the old path's
// pacing is not carried over; when true, the pacer is kept.
func (c *Client) SetSocket(newSocket Socket, natRebinding bool) {
	c.Session.SetSocket(newSocket)
	if !natRebinding {
		c.Session.pacer = newPacer() // full path validation ahead; don't carry over the old path's pacing
	}
}

// ApplyPreferredAddress switches the session's remote path to addr if
// the client's policy is PreferredAddressUse; otherwise it is a no-op
// that simply records the server's advertised address for inspection.
func (c *Client) ApplyPreferredAddress(addr net.Addr) {
	c.preferredAddr = addr
	if c.preferredAddrPolicy == PreferredAddressUse && addr != nil {
		c.Session.remoteAddr = addr
	}
}

// PreferredAddress returns the most recently advertised preferred
// address, nil if the server has not sent one.
func (c *Client) PreferredAddress() net.Addr { return c.preferredAddr }
