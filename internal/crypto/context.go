// Package crypto implements the per-epoch AEAD and header-protection
// state a QUIC session needs: keys and IVs for the Initial, Handshake
// and 1-RTT (rx/tx) epochs, derived via the RFC 9001 key schedule, plus
// the encrypt/decrypt/header-protection-mask operations the session's
// packet read/write path calls directly.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Epoch identifies one of the three packet-protection contexts a session
// maintains simultaneously during the handshake.
type Epoch int

const (
	EpochInitial Epoch = iota
	EpochHandshake
	EpochAppData
)

// Suite selects the AEAD used for an epoch's application-data keys.
// Initial and Handshake epochs always use AES-128-GCM per RFC 9001;
// AppData may additionally negotiate ChaCha20-Poly1305.
type Suite int

const (
	SuiteAES128GCM Suite = iota
	SuiteChaCha20Poly1305
)

// initialSalt is the version-1 Initial salt from RFC 9001 §5.2.
var initialSalt = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// Keys holds one direction's (rx or tx) key material for one epoch,
// plus the traffic secret it was derived from. The secret is retained
// (rather than discarded once Key/IV/HPKey are derived) because RFC
// 9001 §6 key updates are defined over the traffic secret, not over
// the derived packet-protection key.
type Keys struct {
	Suite  Suite
	Secret []byte
	Key    []byte
	IV     []byte
	HPKey  []byte
	aead   cipher.AEAD
	hpAEAD cipher.Block
}

func newAEAD(suite Suite, key []byte) (cipher.AEAD, error) {
	switch suite {
	case SuiteChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	}
}

func (k *Keys) prepare() error {
	aead, err := newAEAD(k.Suite, k.Key)
	if err != nil {
		return fmt.Errorf("crypto: constructing aead: %w", err)
	}
	k.aead = aead
	if k.Suite != SuiteChaCha20Poly1305 {
		block, err := aes.NewCipher(k.HPKey)
		if err != nil {
			return fmt.Errorf("crypto: constructing header protection cipher: %w", err)
		}
		k.hpAEAD = block
	}
	return nil
}

// hkdfExpandLabel implements RFC 8446 §7.1's HKDF-Expand-Label using the
// "tls13 " prefix, as required by RFC 9001 §5.1.
func hkdfExpandLabel(secret []byte, label string, length int) ([]byte, error) {
	var hkdfLabel []byte
	hkdfLabel = append(hkdfLabel, byte(length>>8), byte(length))
	full := "tls13 " + label
	hkdfLabel = append(hkdfLabel, byte(len(full)))
	hkdfLabel = append(hkdfLabel, full...)
	hkdfLabel = append(hkdfLabel, 0) // empty context
	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, hkdfLabel)
	if _, err := r.Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveInitialSecrets derives the client and server Initial secrets
// from the original destination connection ID, per RFC 9001 §5.2.
func DeriveInitialSecrets(odcid []byte) (clientSecret, serverSecret []byte, err error) {
	initialSecret := hkdf.Extract(sha256.New, odcid, initialSalt)
	clientSecret, err = hkdfExpandLabel(initialSecret, "client in", 32)
	if err != nil {
		return nil, nil, err
	}
	serverSecret, err = hkdfExpandLabel(initialSecret, "server in", 32)
	if err != nil {
		return nil, nil, err
	}
	return clientSecret, serverSecret, nil
}

// DeriveEpoch derives a direction's key, IV and header-protection key
// from a TLS exporter secret for the given suite and key length.
func DeriveEpoch(suite Suite, secret []byte, keyLen int) (*Keys, error) {
	key, err := hkdfExpandLabel(secret, "quic key", keyLen)
	if err != nil {
		return nil, err
	}
	iv, err := hkdfExpandLabel(secret, "quic iv", 12)
	if err != nil {
		return nil, err
	}
	hp, err := hkdfExpandLabel(secret, "quic hp", keyLen)
	if err != nil {
		return nil, err
	}
	secretCopy := append([]byte(nil), secret...)
	k := &Keys{Suite: suite, Secret: secretCopy, Key: key, IV: iv, HPKey: hp}
	if err := k.prepare(); err != nil {
		return nil, err
	}
	return k, nil
}

func nonce(iv []byte, packetNumber uint64) []byte {
	n := make([]byte, len(iv))
	copy(n, iv)
	for i := 0; i < 8; i++ {
		n[len(n)-1-i] ^= byte(packetNumber >> (8 * i))
	}
	return n
}

// ErrAEADFailure is returned by Encrypt/Decrypt/HPMask on any underlying
// AEAD or cipher failure; the session maps this to a connection-closing
// CRYPTO_ERROR rather than exposing library-specific error types.
var ErrAEADFailure = errors.New("crypto: aead operation failed")

// Encrypt seals plaintext with aad as associated data, appending the
// result to out.
func (k *Keys) Encrypt(out, plaintext []byte, packetNumber uint64, aad []byte) ([]byte, error) {
	if k == nil || k.aead == nil {
		return nil, ErrAEADFailure
	}
	n := nonce(k.IV, packetNumber)
	return k.aead.Seal(out, n, plaintext, aad), nil
}

// Decrypt opens ciphertext, appending the plaintext to out.
func (k *Keys) Decrypt(out, ciphertext []byte, packetNumber uint64, aad []byte) ([]byte, error) {
	if k == nil || k.aead == nil {
		return nil, ErrAEADFailure
	}
	n := nonce(k.IV, packetNumber)
	pt, err := k.aead.Open(out, n, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAEADFailure, err)
	}
	return pt, nil
}

// HPMask computes the 5-byte header-protection mask from a 16-byte
// ciphertext sample, per RFC 9001 §5.4.
func (k *Keys) HPMask(sample []byte) ([5]byte, error) {
	var mask [5]byte
	if k == nil {
		return mask, ErrAEADFailure
	}
	if k.Suite == SuiteChaCha20Poly1305 {
		return chachaHPMask(k.HPKey, sample)
	}
	if k.hpAEAD == nil || len(sample) < aes.BlockSize {
		return mask, ErrAEADFailure
	}
	var block [aes.BlockSize]byte
	k.hpAEAD.Encrypt(block[:], sample)
	copy(mask[:], block[:5])
	return mask, nil
}

// chachaHPMask computes the header-protection mask for the ChaCha20
// suite per RFC 9001 §5.4.4: the first four sample bytes are the block
// counter (little-endian) and the remaining twelve are the nonce, and
// the mask is the first five bytes of the resulting keystream block.
func chachaHPMask(key, sample []byte) ([5]byte, error) {
	var mask [5]byte
	if len(sample) < 16 {
		return mask, ErrAEADFailure
	}
	counter := uint32(sample[0]) | uint32(sample[1])<<8 | uint32(sample[2])<<16 | uint32(sample[3])<<24
	nonce := sample[4:16]
	cipher, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return mask, fmt.Errorf("%w: %v", ErrAEADFailure, err)
	}
	cipher.SetCounter(counter)
	zeros := make([]byte, 5)
	out := make([]byte, 5)
	cipher.XORKeyStream(out, zeros)
	copy(mask[:], out)
	return mask, nil
}

// Context bundles rx/tx keys for the three epochs a session may hold
// keys for: Initial and Handshake during the handshake, and the 1-RTT
// keys used afterward.
type Context struct {
	InitialRX, InitialTX     *Keys
	HandshakeRX, HandshakeTX *Keys
	AppRX, AppTX             *Keys

	keyUpdateCount uint64
	lastAlert      uint8
	haveAlert      bool
}

// SetupInitial installs the Initial-epoch keys for a given original
// destination connection ID and endpoint side (isServer flips which
// secret is rx vs tx).
func (c *Context) SetupInitial(odcid []byte, isServer bool) error {
	clientSecret, serverSecret, err := DeriveInitialSecrets(odcid)
	if err != nil {
		return err
	}
	rxSecret, txSecret := serverSecret, clientSecret
	if isServer {
		rxSecret, txSecret = clientSecret, serverSecret
	}
	rx, err := DeriveEpoch(SuiteAES128GCM, rxSecret, 16)
	if err != nil {
		return err
	}
	tx, err := DeriveEpoch(SuiteAES128GCM, txSecret, 16)
	if err != nil {
		return err
	}
	c.InitialRX, c.InitialTX = rx, tx
	return nil
}

// SetupHandshake installs the Handshake-epoch keys from the TLS
// stack's handshake traffic secrets, once ClientHello/ServerHello have
// been exchanged and the handshake keys are available.
func (c *Context) SetupHandshake(rxSecret, txSecret []byte, suite Suite, keyLen int) error {
	rx, err := DeriveEpoch(suite, rxSecret, keyLen)
	if err != nil {
		return err
	}
	tx, err := DeriveEpoch(suite, txSecret, keyLen)
	if err != nil {
		return err
	}
	c.HandshakeRX, c.HandshakeTX = rx, tx
	return nil
}

// SetupAppData installs the 1-RTT application-data keys from the TLS
// stack's application traffic secrets, once the handshake has
// completed (server) or the peer's Finished has been verified (client).
func (c *Context) SetupAppData(rxSecret, txSecret []byte, suite Suite, keyLen int) error {
	rx, err := DeriveEpoch(suite, rxSecret, keyLen)
	if err != nil {
		return err
	}
	tx, err := DeriveEpoch(suite, txSecret, keyLen)
	if err != nil {
		return err
	}
	c.AppRX, c.AppTX = rx, tx
	return nil
}

// UpdateAppKeys performs RFC 9001 §6's key update on the current 1-RTT
// rx/tx keys and bumps the key-update counter. Header protection keys
// are left untouched, per §6: "this process does not apply to the
// header protection key".
func (c *Context) UpdateAppKeys(keyLen int) error {
	if c.AppRX == nil || c.AppTX == nil {
		return errors.New("crypto: no 1-RTT keys to update")
	}
	newRX, err := updateKeyMaterial(c.AppRX, keyLen)
	if err != nil {
		return err
	}
	newTX, err := updateKeyMaterial(c.AppTX, keyLen)
	if err != nil {
		return err
	}
	c.AppRX, c.AppTX = newRX, newTX
	c.keyUpdateCount++
	return nil
}

// updateKeyMaterial implements RFC 9001 §6: next_secret =
// HKDF-Expand-Label(secret, "quic ku", "", Hash.length), then the next
// epoch's quic key/quic iv are derived from next_secret exactly as
// DeriveEpoch derives them from any other traffic secret. The header
// protection key carries over unchanged, since key updates never
// rotate it.
func updateKeyMaterial(k *Keys, keyLen int) (*Keys, error) {
	nextSecret, err := hkdfExpandLabel(k.Secret, "quic ku", len(k.Secret))
	if err != nil {
		return nil, err
	}
	key, err := hkdfExpandLabel(nextSecret, "quic key", keyLen)
	if err != nil {
		return nil, err
	}
	iv, err := hkdfExpandLabel(nextSecret, "quic iv", 12)
	if err != nil {
		return nil, err
	}
	nk := &Keys{Suite: k.Suite, Secret: nextSecret, Key: key, IV: iv, HPKey: k.HPKey}
	if err := nk.prepare(); err != nil {
		return nil, err
	}
	return nk, nil
}

// KeyUpdateCount reports how many times UpdateAppKeys has succeeded.
func (c *Context) KeyUpdateCount() uint64 { return c.keyUpdateCount }

// SetTLSAlert records the most recent TLS alert byte seen on this
// context, surfaced to the session as a QUIC_ERROR_CRYPTO.
func (c *Context) SetTLSAlert(alert uint8) {
	c.lastAlert = alert
	c.haveAlert = true
}

// LastAlert returns the most recently recorded TLS alert, if any.
func (c *Context) LastAlert() (alert uint8, ok bool) {
	return c.lastAlert, c.haveAlert
}
