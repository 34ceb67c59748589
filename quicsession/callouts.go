package quicsession

import (
	"crypto/tls"

	qcrypto "github.com/caddyserver/quictransport/internal/crypto"
)

// HandshakeState tracks whether the server-side handshake pump is
// free-running or suspended waiting on an embedder callout, replacing
// the source's bespoke "monitor flag + scope guard" bit with an
// explicit state per the design notes (spec.md §9).
type HandshakeState int

const (
	// HandshakeRunning is the default: the pump drives TLS on every
	// Receive/resume call with nothing outstanding.
	HandshakeRunning HandshakeState = iota
	// HandshakeAwaitingClientHello is entered when Signals.ClientHelloEnabled
	// is set and a ClientHello has been staged but not yet released to
	// TLS; OnClientHelloDone resumes.
	HandshakeAwaitingClientHello
	// HandshakeAwaitingCert is entered when Signals.CertEnabled is set,
	// after the ClientHello stage (if any) has cleared, before TLS is
	// allowed to produce its certificate message; OnCertDone resumes.
	HandshakeAwaitingCert
)

// HandshakeState reports whether the server-side handshake pump is
// currently running or suspended awaiting a callout's *Done call.
func (s *Session) HandshakeState() HandshakeState { return s.handshakeState }

func (h HandshakeState) String() string {
	switch h {
	case HandshakeAwaitingClientHello:
		return "AWAITING_CLIENT_HELLO"
	case HandshakeAwaitingCert:
		return "AWAITING_CERT"
	default:
		return "RUNNING"
	}
}

// ClientHelloInfo is the subset of the peer's ClientHello a server
// embedder needs to make a certificate/ALPN decision, surfaced via
// Callouts.OnClientHello.
type ClientHelloInfo struct {
	ServerName     string
	SupportedProto []string
	CipherSuites   []uint16
}

// Callouts is implemented by a server embedder that wants to inspect
// or react to ClientHello and certificate-selection events (spec.md
// §4.5, §6). A nil Callouts on a Server means both signals are treated
// as disabled regardless of Signals' own flags.
type Callouts interface {
	// OnClientHello is invoked once per handshake when
	// Signals.ClientHelloEnabled is set, after the ClientHello has been
	// staged but before TLS processes it. The handshake is suspended
	// until the embedder calls Server.OnClientHelloDone.
	OnClientHello(info ClientHelloInfo)
	// OnCert is invoked once per handshake when Signals.CertEnabled is
	// set, after any ClientHello callout has cleared. The handshake is
	// suspended until the embedder calls Server.OnCertDone.
	OnCert(info ClientHelloInfo)
}

// certDecision is what an embedder supplies to resume a suspended
// cert-selection callout: the chosen certificate and an optional
// stapled OCSP response, mirroring on_cert_done(ctx, ocsp_response).
type certDecision struct {
	cert *tls.Certificate
	ocsp []byte
}

// maybeSuspendForCallout inspects the staged-but-not-yet-consumed
// Initial CRYPTO bytes for a ClientHello and, if either signal is
// enabled and its callout has not yet fired, raises the corresponding
// handshake suspension and notifies Callouts. It returns suspended=true
// when the pump must stop for this turn.
func (s *Session) maybeSuspendForCallout() (suspended bool, err error) {
	if s.callouts == nil {
		return false, nil
	}
	data := s.peerHS.peek(qcrypto.EpochInitial)
	if len(data) == 0 {
		return false, nil
	}
	info, ok := parseClientHelloInfo(data)
	if !ok {
		return false, nil
	}
	if s.signals.ClientHelloEnabled() && !s.clientHelloCalled {
		s.clientHelloCalled = true
		s.handshakeState = HandshakeAwaitingClientHello
		s.pendingClientHello = &info
		if s.callouts != nil {
			s.callouts.OnClientHello(info)
		}
		return true, nil
	}
	if s.signals.CertEnabled() && !s.certCalled {
		s.certCalled = true
		s.handshakeState = HandshakeAwaitingCert
		s.pendingCert = &info
		if s.callouts != nil {
			s.callouts.OnCert(info)
		}
		return true, nil
	}
	return false, nil
}

// OnClientHelloDone resumes a handshake suspended in
// HandshakeAwaitingClientHello, re-entering the pump and flushing any
// newly pending data exactly as spec.md §4.4 describes: "tls_handshake();
// send_pending_data()". An async embedder callout (e.g. a certificate
// lookup completing on its own goroutine) may race a second, redundant
// *Done call against the first; resumeGroup collapses concurrent calls
// for this session into a single resume so the pump is only re-entered
// once per suspension, per the design notes' reentrancy-protection
// guidance.
func (s *Session) OnClientHelloDone() error {
	_, err, _ := s.resumeGroup.Do("resume", func() (interface{}, error) {
		if s.handshakeState != HandshakeAwaitingClientHello {
			return nil, nil
		}
		s.handshakeState = HandshakeRunning
		s.pendingClientHello = nil
		if err := s.pumpHandshake(); err != nil {
			return nil, err
		}
		return nil, s.sendPendingData()
	})
	return err
}

// OnCertDone resumes a handshake suspended in HandshakeAwaitingCert.
// A non-nil cert gets ocspResponse as its OCSPStaple and is handed to
// the TLS pump, whose GetCertificate hook returns it for the remainder
// of the handshake; a nil cert leaves the configured certificates in
// effect. See OnClientHelloDone
// for why concurrent calls are collapsed via resumeGroup.
func (s *Session) OnCertDone(cert *tls.Certificate, ocspResponse []byte) error {
	_, err, _ := s.resumeGroup.Do("resume", func() (interface{}, error) {
		if s.handshakeState != HandshakeAwaitingCert {
			return nil, nil
		}
		if cert != nil && s.tls != nil {
			cert.OCSPStaple = ocspResponse
			s.tls.setResolvedCertificate(cert)
		}
		s.handshakeState = HandshakeRunning
		s.pendingCert = nil
		if err := s.pumpHandshake(); err != nil {
			return nil, err
		}
		return nil, s.sendPendingData()
	})
	return err
}

// parseClientHelloInfo best-effort extracts SNI, ALPN and cipher
// suites from a raw TLS 1.3 ClientHello handshake message, the same
// wire-sniffing technique SNI-routing reverse proxies use rather than
// a full TLS record parser (out of scope; the design assumes the TLS
// library owns real parsing).
func parseClientHelloInfo(data []byte) (ClientHelloInfo, bool) {
	var info ClientHelloInfo
	if len(data) < 4 || data[0] != 0x01 { // handshake type 1 = ClientHello
		return info, false
	}
	body := data[4:]
	if len(body) < 2+32+1 {
		return info, false
	}
	pos := 2 + 32 // legacy_version, random
	sessIDLen := int(body[pos])
	pos += 1 + sessIDLen
	if pos+2 > len(body) {
		return info, true
	}
	cipherLen := int(body[pos])<<8 | int(body[pos+1])
	pos += 2
	if pos+cipherLen > len(body) {
		return info, true
	}
	for i := 0; i+1 < cipherLen; i += 2 {
		info.CipherSuites = append(info.CipherSuites, uint16(body[pos+i])<<8|uint16(body[pos+i+1]))
	}
	pos += cipherLen
	if pos >= len(body) {
		return info, true
	}
	compLen := int(body[pos])
	pos += 1 + compLen
	if pos+2 > len(body) {
		return info, true
	}
	extTotal := int(body[pos])<<8 | int(body[pos+1])
	pos += 2
	end := pos + extTotal
	if end > len(body) {
		end = len(body)
	}
	for pos+4 <= end {
		extType := int(body[pos])<<8 | int(body[pos+1])
		extLen := int(body[pos+2])<<8 | int(body[pos+3])
		pos += 4
		if pos+extLen > end {
			break
		}
		ext := body[pos : pos+extLen]
		switch extType {
		case 0x0000: // server_name
			if sni, ok := parseSNIExtension(ext); ok {
				info.ServerName = sni
			}
		case 0x0010: // application_layer_protocol_negotiation
			info.SupportedProto = parseALPNExtension(ext)
		}
		pos += extLen
	}
	return info, true
}

func parseSNIExtension(ext []byte) (string, bool) {
	if len(ext) < 2 {
		return "", false
	}
	listLen := int(ext[0])<<8 | int(ext[1])
	body := ext[2:]
	if listLen > len(body) {
		listLen = len(body)
	}
	body = body[:listLen]
	for len(body) >= 3 {
		nameType := body[0]
		nameLen := int(body[1])<<8 | int(body[2])
		body = body[3:]
		if nameLen > len(body) {
			break
		}
		if nameType == 0 { // host_name
			return string(body[:nameLen]), true
		}
		body = body[nameLen:]
	}
	return "", false
}

func parseALPNExtension(ext []byte) []string {
	if len(ext) < 2 {
		return nil
	}
	listLen := int(ext[0])<<8 | int(ext[1])
	body := ext[2:]
	if listLen > len(body) {
		listLen = len(body)
	}
	body = body[:listLen]
	var protos []string
	for len(body) >= 1 {
		n := int(body[0])
		body = body[1:]
		if n > len(body) {
			break
		}
		protos = append(protos, string(body[:n]))
		body = body[n:]
	}
	return protos
}
