// Package retrytoken implements the server-side Retry token: an
// AEAD-sealed blob binding a client's remote address and original
// destination connection ID to a timestamp, so a later Initial can be
// verified as coming from a client that actually received the Retry,
// without the server keeping per-client state.
package retrytoken

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cloudflare/circl/hpke"
	"golang.org/x/crypto/chacha20poly1305"
)

// nonceSize is fixed by the ChaCha20-Poly1305 suite, shared by
// chacha20poly1305 and circl's hpke.AEAD_ChaCha20Poly1305.
const nonceSize = chacha20poly1305.NonceSize

// sealAEAD constructs the token's AEAD cipher through circl's hpke
// suite-ID plumbing rather than calling chacha20poly1305.New directly:
// the token secret is never used through a full HPKE context (there is
// no KEM keypair here, just a symmetric secret), but hpke.AEAD wraps the
// identical primitive behind the suite-selection API the teacher
// already pulls in for post-quantum TLS groups, so token sealing and a
// real TLS stack's AEAD selection share one construction path.
func sealAEAD(key []byte) (cipher.AEAD, error) {
	return hpke.AEAD_ChaCha20Poly1305.New(key)
}

var (
	// ErrMalformed is returned by Verify when the token is too short or
	// otherwise not shaped like one this package produced.
	ErrMalformed = errors.New("retrytoken: malformed token")
	// ErrBadTag is returned by Verify when AEAD authentication fails,
	// meaning the token was forged or sealed under a different secret.
	ErrBadTag = errors.New("retrytoken: authentication failed")
	// ErrExpired is returned by Verify when the token's age exceeds the
	// configured verification expiration.
	ErrExpired = errors.New("retrytoken: expired")
)

// Note: a presented remote address that does not match the one a token
// was sealed for is indistinguishable from a forged token, since the
// address is bound in as AEAD associated data; both surface as
// ErrBadTag rather than a separate address-mismatch error.

// Sealer mints and verifies Retry tokens under a single long-lived
// secret. One Sealer is shared by every session a listener creates.
type Sealer struct {
	secret [chacha20poly1305.KeySize]byte
	expiry time.Duration
}

// NewSealer returns a Sealer keyed by secret, which must be exactly
// chacha20poly1305.KeySize (32) bytes, verifying tokens valid for at
// most expiry.
func NewSealer(secret []byte, expiry time.Duration) (*Sealer, error) {
	if len(secret) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("retrytoken: secret must be %d bytes, got %d", chacha20poly1305.KeySize, len(secret))
	}
	s := &Sealer{expiry: expiry}
	copy(s.secret[:], secret)
	return s, nil
}

// GenerateSealer mints a fresh random secret, for a server that does
// not need tokens to survive a restart.
func GenerateSealer(expiry time.Duration) (*Sealer, error) {
	var secret [chacha20poly1305.KeySize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return nil, fmt.Errorf("retrytoken: generating secret: %w", err)
	}
	return NewSealer(secret[:], expiry)
}

func addrBytes(addr net.Addr) []byte {
	return []byte(addr.String())
}

// Generate seals a new Retry token for addr and originalDCID, stamped
// with now (the caller's monotonic-safe wall clock read).
func (s *Sealer) Generate(addr net.Addr, originalDCID []byte, now time.Time) ([]byte, error) {
	aead, err := sealAEAD(s.secret[:])
	if err != nil {
		return nil, fmt.Errorf("retrytoken: constructing aead: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("retrytoken: generating nonce: %w", err)
	}

	plaintext := make([]byte, 8+1+len(originalDCID))
	binary.BigEndian.PutUint64(plaintext[:8], uint64(now.UnixNano()))
	plaintext[8] = byte(len(originalDCID))
	copy(plaintext[9:], originalDCID)

	aad := addrBytes(addr)
	sealed := aead.Seal(nil, nonce, plaintext, aad)

	token := make([]byte, 0, nonceSize+len(sealed))
	token = append(token, nonce...)
	token = append(token, sealed...)
	return token, nil
}

// Verify opens token, checking it was sealed for addr and has not aged
// past the Sealer's expiry as of now, and returns the embedded original
// destination connection ID.
func (s *Sealer) Verify(token []byte, addr net.Addr, now time.Time) ([]byte, error) {
	if len(token) < nonceSize+chacha20poly1305.Overhead+9 {
		return nil, ErrMalformed
	}
	aead, err := sealAEAD(s.secret[:])
	if err != nil {
		return nil, fmt.Errorf("retrytoken: constructing aead: %w", err)
	}
	nonce, sealed := token[:nonceSize], token[nonceSize:]
	aad := addrBytes(addr)

	plaintext, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, ErrBadTag
	}
	if len(plaintext) < 9 {
		return nil, ErrMalformed
	}
	issuedAt := time.Unix(0, int64(binary.BigEndian.Uint64(plaintext[:8])))
	dcidLen := int(plaintext[8])
	if len(plaintext) != 9+dcidLen {
		return nil, ErrMalformed
	}
	if now.Sub(issuedAt) > s.expiry {
		return nil, ErrExpired
	}
	odcid := append([]byte(nil), plaintext[9:]...)
	return odcid, nil
}
