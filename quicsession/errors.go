package quicsession

import "fmt"

// ErrorFamily classifies a session-closing error into one of the three
// families tracked in a session's last-error slot.
type ErrorFamily int

const (
	// ErrorFamilySession covers transport-level failures: protocol
	// violations, AEAD/decryption failures, flow-control violations.
	ErrorFamilySession ErrorFamily = iota
	// ErrorFamilyApplication carries an opaque code supplied by the
	// layer above, via shutdown_stream_* or an application-level close.
	ErrorFamilyApplication
	// ErrorFamilyCrypto wraps a TLS alert; Code is the alert byte.
	ErrorFamilyCrypto
)

func (f ErrorFamily) String() string {
	switch f {
	case ErrorFamilySession:
		return "SESSION"
	case ErrorFamilyApplication:
		return "APPLICATION"
	case ErrorFamilyCrypto:
		return "CRYPTO"
	default:
		return "UNKNOWN"
	}
}

// SessionError is the value stored in a Session's single last-error
// slot, and the payload of the CONNECTION_CLOSE or APPLICATION_CLOSE
// frame emitted when entering CLOSING.
type SessionError struct {
	Family ErrorFamily
	Code   uint64
	Reason string
}

func (e *SessionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("quicsession: %s error %d: %s", e.Family, e.Code, e.Reason)
	}
	return fmt.Sprintf("quicsession: %s error %d", e.Family, e.Code)
}

// Sentinel setup/resumption conditions recognized before any state
// transition, carrying the codes used by the reference design.
var (
	// ErrInvalidRemoteTransportParams is returned by client setup when
	// the server's transport parameters fail validation.
	ErrInvalidRemoteTransportParams = &SessionError{Family: ErrorFamilySession, Code: ^uint64(0), Reason: "invalid remote transport parameters"}
	// ErrInvalidTLSSessionTicket is returned when ingesting a resumption
	// ticket that fails to parse or validate.
	ErrInvalidTLSSessionTicket = &SessionError{Family: ErrorFamilySession, Code: ^uint64(0) - 1, Reason: "invalid TLS session ticket"}
)

// Sentinel errors for public Session operations that are not
// necessarily fatal to the session.
var (
	// ErrNotReady is returned by operations that require the handshake
	// to have completed (1-RTT stream opens, most 0-RTT sends outside
	// their permitted window).
	ErrNotReady = fmt.Errorf("quicsession: not ready")
	// ErrStreamLimit mirrors streamtable.ErrStreamLimit at the Session
	// API boundary.
	ErrStreamLimit = fmt.Errorf("quicsession: stream limit exhausted")
	// ErrClosed is returned by operations attempted on a session that
	// has already entered CLOSING, DRAINING or CLOSED.
	ErrClosed = fmt.Errorf("quicsession: session closed")
)
