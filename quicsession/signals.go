package quicsession

import "sync/atomic"

// Signals is the shared state array (spec.md §6) a Session exposes
// toward its embedder: three flags the embedder sets to enable a
// feature and the session reads, plus CONNECTION_ID_COUNT, a value
// the session writes and the embedder only reads. Mirrors the
// teacher's pattern of a small struct of atomics shared between a
// long-lived object and whatever polls it (see caddy's admin metrics
// counters), rather than a callback registration system.
type Signals struct {
	connectionIDCount int32
	keylogEnabled     int32
	clientHelloEnabled int32
	certEnabled       int32
}

// ConnectionIDCount reports the number of connection IDs currently
// active for the owning session.
func (s *Signals) ConnectionIDCount() int { return int(atomic.LoadInt32(&s.connectionIDCount)) }

func (s *Signals) setConnectionIDCount(n int) { atomic.StoreInt32(&s.connectionIDCount, int32(n)) }

// KeylogEnabled reports the keylog flag last stored by
// SetKeylogEnabled. The session does not read this flag and emits no
// keylog events.
func (s *Signals) KeylogEnabled() bool { return atomic.LoadInt32(&s.keylogEnabled) != 0 }

// SetKeylogEnabled stores the keylog flag; see KeylogEnabled.
func (s *Signals) SetKeylogEnabled(v bool) { atomic.StoreInt32(&s.keylogEnabled, boolToInt32(v)) }

// ClientHelloEnabled reports whether a server session should suspend
// its handshake for a ClientHello callout.
func (s *Signals) ClientHelloEnabled() bool { return atomic.LoadInt32(&s.clientHelloEnabled) != 0 }

// SetClientHelloEnabled toggles the ClientHello callout.
func (s *Signals) SetClientHelloEnabled(v bool) {
	atomic.StoreInt32(&s.clientHelloEnabled, boolToInt32(v))
}

// CertEnabled reports whether a server session should suspend its
// handshake for a certificate/OCSP-selection callout.
func (s *Signals) CertEnabled() bool { return atomic.LoadInt32(&s.certEnabled) != 0 }

// SetCertEnabled toggles the cert-selection callout.
func (s *Signals) SetCertEnabled(v bool) { atomic.StoreInt32(&s.certEnabled, boolToInt32(v)) }

func boolToInt32(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

// Signals returns the shared counter block an embedder polls or
// configures. It is safe to read and write from any goroutine.
func (s *Session) Signals() *Signals { return s.signals }
