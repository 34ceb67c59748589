package quicsession

import (
	"context"
	"crypto/tls"
	"fmt"

	qcrypto "github.com/caddyserver/quictransport/internal/crypto"
)

// tlsLevel maps our epoch numbering onto crypto/tls's QUIC encryption
// levels.
func tlsLevel(e qcrypto.Epoch) tls.QUICEncryptionLevel {
	switch e {
	case qcrypto.EpochInitial:
		return tls.QUICEncryptionLevelInitial
	case qcrypto.EpochHandshake:
		return tls.QUICEncryptionLevelHandshake
	default:
		return tls.QUICEncryptionLevelApplication
	}
}

func epochFromTLSLevel(l tls.QUICEncryptionLevel) qcrypto.Epoch {
	switch l {
	case tls.QUICEncryptionLevelInitial:
		return qcrypto.EpochInitial
	case tls.QUICEncryptionLevelHandshake:
		return qcrypto.EpochHandshake
	default:
		return qcrypto.EpochAppData
	}
}

// handshakeEvent is the Session's own projection of a tls.QUICEvent,
// kept small and independent of crypto/tls's type so the pump logic in
// session.go doesn't need to import it directly.
type handshakeEvent struct {
	kind               handshakeEventKind
	level              qcrypto.Epoch
	data               []byte
	suite              uint16
	readSecret         []byte
	writeSecret        []byte
	transportParams    []byte
	alert              uint8
}

type handshakeEventKind int

const (
	eventNone handshakeEventKind = iota
	eventWriteData
	eventSetReadSecret
	eventSetWriteSecret
	eventTransportParameters
	eventTransportParametersRequired
	eventHandshakeDone
	eventRejectedEarlyData
)

// tlsPump adapts a *tls.QUICConn to the push/pull style the Session's
// handshake pump (spec §4.4) drives: feed incoming crypto bytes per
// level with HandleData, then drain every pending event with drain.
type tlsPump struct {
	conn         *tls.QUICConn
	resolvedCert *tls.Certificate
}

func newClientTLSPump(cfg *tls.Config) *tlsPump {
	return &tlsPump{conn: tls.QUICClient(&tls.QUICConfig{TLSConfig: cfg})}
}

// newServerTLSPump wraps cfg.GetCertificate so a suspended cert-
// selection callout (spec.md §4.5, §9) can override the certificate
// TLS will present, without the embedder needing to construct its own
// tls.Config plumbing.
func newServerTLSPump(cfg *tls.Config) *tlsPump {
	p := &tlsPump{}
	wrapped := *cfg
	original := cfg.GetCertificate
	wrapped.GetCertificate = func(info *tls.ClientHelloInfo) (*tls.Certificate, error) {
		if p.resolvedCert != nil {
			return p.resolvedCert, nil
		}
		if original != nil {
			return original(info)
		}
		// No override: let crypto/tls fall back to cfg.Certificates.
		return nil, nil
	}
	p.conn = tls.QUICServer(&tls.QUICConfig{TLSConfig: &wrapped})
	return p
}

// setResolvedCertificate records the certificate an embedder's cert
// callout chose, to be returned the next time TLS calls GetCertificate.
func (p *tlsPump) setResolvedCertificate(cert *tls.Certificate) {
	p.resolvedCert = cert
}

func (p *tlsPump) start(ctx context.Context) error {
	return p.conn.Start(ctx)
}

func (p *tlsPump) setTransportParameters(params []byte) {
	p.conn.SetTransportParameters(params)
}

func (p *tlsPump) handleData(level qcrypto.Epoch, data []byte) error {
	if err := p.conn.HandleData(tlsLevel(level), data); err != nil {
		return fmt.Errorf("quicsession: tls handshake data rejected: %w", err)
	}
	return nil
}

// drain pulls every currently-available event from the underlying
// tls.QUICConn, translating crypto/tls's event enum into our own, and
// invoking fn for each until QUICNoEvent.
func (p *tlsPump) drain(fn func(handshakeEvent)) {
	for {
		ev := p.conn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return
		case tls.QUICWriteData:
			fn(handshakeEvent{kind: eventWriteData, level: epochFromTLSLevel(ev.Level), data: ev.Data})
		case tls.QUICSetReadSecret:
			fn(handshakeEvent{kind: eventSetReadSecret, level: epochFromTLSLevel(ev.Level), readSecret: ev.Data, suite: ev.Suite})
		case tls.QUICSetWriteSecret:
			fn(handshakeEvent{kind: eventSetWriteSecret, level: epochFromTLSLevel(ev.Level), writeSecret: ev.Data, suite: ev.Suite})
		case tls.QUICTransportParameters:
			fn(handshakeEvent{kind: eventTransportParameters, transportParams: ev.Data})
		case tls.QUICTransportParametersRequired:
			fn(handshakeEvent{kind: eventTransportParametersRequired})
		case tls.QUICHandshakeDone:
			fn(handshakeEvent{kind: eventHandshakeDone})
		case tls.QUICRejectedEarlyData:
			fn(handshakeEvent{kind: eventRejectedEarlyData})
		default:
			// Unrecognized events (future crypto/tls additions) are
			// ignored rather than treated as fatal.
		}
	}
}

func (p *tlsPump) connectionState() tls.ConnectionState {
	return p.conn.ConnectionState()
}

func (p *tlsPump) close() error {
	return p.conn.Close()
}
